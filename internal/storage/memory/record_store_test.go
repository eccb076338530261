package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
	"github.com/JakeFAU/realtime-csv-ingest/internal/store/storetest"
)

func TestRecordStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.RecordStore {
		return New(nil, nil)
	})
}

type constantIDs struct{}

func (constantIDs) NewID() (string, error) { return "fixed", nil }

func TestCreateRejectsReusedID(t *testing.T) {
	t.Parallel()

	s := New(constantIDs{}, nil)
	ctx := context.Background()
	_, err := s.Create(ctx, store.NewRecord{Rows: [][]string{{"a"}}})
	require.NoError(t, err)

	_, err = s.Create(ctx, store.NewRecord{Rows: [][]string{{"b"}}})
	require.Error(t, err)

	got, err := s.Get(ctx, "fixed")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}}, got.Rows)
	require.Equal(t, 1, s.Len())
}

func TestCreateCopiesInput(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	rows := [][]string{{"a"}}
	rec, err := s.Create(context.Background(), store.NewRecord{Rows: rows})
	require.NoError(t, err)

	rows[0][0] = "mutated"
	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, "a", got.Rows[0][0])
}
