package storetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

// MockRecordStore is a testify mock of store.RecordStore.
type MockRecordStore struct {
	mock.Mock
}

var _ store.RecordStore = (*MockRecordStore)(nil)

// Create is the mock implementation of the Create method.
func (m *MockRecordStore) Create(ctx context.Context, rec store.NewRecord) (store.Record, error) {
	args := m.Called(ctx, rec)
	out, _ := args.Get(0).(store.Record)
	return out, args.Error(1) //nolint:wrapcheck
}

// Get is the mock implementation of the Get method.
func (m *MockRecordStore) Get(ctx context.Context, id string) (store.Record, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).(store.Record)
	return out, args.Error(1) //nolint:wrapcheck
}

// Close is the mock implementation of the Close method.
func (m *MockRecordStore) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}
