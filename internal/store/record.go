// Package store declares the append-only record repository.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound signals that no record exists for the requested identifier.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable signals that the backing storage medium cannot be reached.
	ErrUnavailable = errors.New("record storage unavailable")
)

// Record is an immutable row-set reachable by its generated identifier.
type Record struct {
	// ID is assigned by the store on Create and never reused.
	ID string `json:"id" msgpack:"id"`
	// Rows preserves the line and field order of the uploaded bytes.
	Rows [][]string `json:"rows" msgpack:"rows"`
	// Checksum is the hex SHA-256 digest of the uploaded bytes.
	Checksum string `json:"checksum,omitempty" msgpack:"checksum,omitempty"`
	// SizeBytes is the number of uploaded bytes that produced Rows.
	SizeBytes int64 `json:"size_bytes" msgpack:"size_bytes"`
	// CreatedAt is the UTC creation timestamp.
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// NewRecord carries the caller-supplied fields of a record to be created.
type NewRecord struct {
	Rows      [][]string
	Checksum  string
	SizeBytes int64
}

// RecordStore persists and retrieves records. There is no update or delete:
// records are immutable once Create returns.
type RecordStore interface {
	// Create persists a new record under a fresh identifier. It fails with an
	// error wrapping ErrUnavailable when the medium is unreachable.
	Create(ctx context.Context, rec NewRecord) (Record, error)
	// Get loads a record or returns an error wrapping ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// Close releases backend resources.
	Close() error
}

// IDGenerator produces record identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// CloneRows deep-copies a row-set so callers cannot mutate stored data.
func CloneRows(rows [][]string) [][]string {
	if rows == nil {
		return [][]string{}
	}
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
		if out[i] == nil {
			out[i] = []string{}
		}
	}
	return out
}
