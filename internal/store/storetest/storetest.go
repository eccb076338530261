// Package storetest holds behavioral checks shared by every store.RecordStore
// backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the factory's concern.
type Factory func(t *testing.T) store.RecordStore

// Run exercises the RecordStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rows := [][]string{{"name", "age"}, {"alice", "30"}, {""}}

		rec, err := s.Create(ctx, store.NewRecord{Rows: rows, Checksum: "c0ffee", SizeBytes: 20})
		require.NoError(t, err)
		require.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rows, got.Rows)
		assert.Equal(t, "c0ffee", got.Checksum)
		assert.EqualValues(t, 20, got.SizeBytes)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", rec.CreatedAt, got.CreatedAt)
	})

	t.Run("PreservesShape", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rows := [][]string{{"a", "b", "c"}, {"d"}, {"", "", "e\r"}, {""}}

		rec, err := s.Create(ctx, store.NewRecord{Rows: rows})
		require.NoError(t, err)
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rows, got.Rows)
	})

	t.Run("EmptyRows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.Create(ctx, store.NewRecord{Rows: [][]string{}})
		require.NoError(t, err)
		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, [][]string{}, got.Rows)
	})

	t.Run("DistinctIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rows := [][]string{{"same"}}

		first, err := s.Create(ctx, store.NewRecord{Rows: rows})
		require.NoError(t, err)
		second, err := s.Create(ctx, store.NewRecord{Rows: rows})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("ConcurrentCreates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const n = 16
		ids := make(chan string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec, err := s.Create(ctx, store.NewRecord{Rows: [][]string{{"x"}}})
				if err != nil {
					t.Errorf("Create() error = %v", err)
					return
				}
				ids <- rec.ID
			}()
		}
		wg.Wait()
		close(ids)
		seen := make(map[string]struct{}, n)
		for id := range ids {
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %s", id)
			seen[id] = struct{}{}
			_, err := s.Get(ctx, id)
			require.NoError(t, err)
		}
		assert.Len(t, seen, n)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "nonexistent-id")
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	})

	t.Run("ReturnedRowsAreCopies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec, err := s.Create(ctx, store.NewRecord{Rows: [][]string{{"a"}}})
		require.NoError(t, err)

		got, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		got.Rows[0][0] = "mutated"

		again, err := s.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "a", again.Rows[0][0])
	})
}
