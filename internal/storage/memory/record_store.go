// Package memory keeps records in process memory for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

// RecordStore provides an in-memory store.RecordStore. Contents are lost on
// restart.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]store.Record
	stamp   store.Stamper
}

// New constructs a RecordStore. Nil dependencies fall back to UUIDv7 ids and
// the system clock.
func New(ids store.IDGenerator, clock store.Clock) *RecordStore {
	return &RecordStore{
		records: make(map[string]store.Record),
		stamp:   store.NewStamper(ids, clock),
	}
}

// Create stores a copy of the rows under a fresh id.
func (s *RecordStore) Create(_ context.Context, rec store.NewRecord) (store.Record, error) {
	stored, err := s.stamp.Stamp(rec)
	if err != nil {
		return store.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[stored.ID]; exists {
		return store.Record{}, errors.New("record id already exists")
	}
	s.records[stored.ID] = stored
	return copyRecord(stored), nil
}

// Get returns a copy of the stored record.
func (s *RecordStore) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return store.Record{}, fmt.Errorf("get %q: %w", id, store.ErrNotFound)
	}
	return copyRecord(rec), nil
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements store.RecordStore; it performs no action.
func (s *RecordStore) Close() error {
	return nil
}

func copyRecord(rec store.Record) store.Record {
	rec.Rows = store.CloneRows(rec.Rows)
	return rec
}
