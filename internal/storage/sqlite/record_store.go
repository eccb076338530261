// Package sqlite provides an embedded record store on modernc.org/sqlite.
// It needs no external service, which suits single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

// sqliteConstraint is the primary result code for constraint violations.
const sqliteConstraint = 19

// Config controls the database file used for records.
type Config struct {
	// Path is a file path or ":memory:".
	Path string
}

// RecordStore persists records in a local SQLite database.
type RecordStore struct {
	db    *sql.DB
	stamp store.Stamper
}

// Open opens (or creates) the database and ensures the schema exists.
func Open(ctx context.Context, cfg Config, ids store.IDGenerator, clock store.Clock) (*RecordStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	s := &RecordStore{db: db, stamp: store.NewStamper(ids, clock)}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RecordStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	rows_json TEXT NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}
	return nil
}

// Create inserts a new record row.
func (s *RecordStore) Create(ctx context.Context, rec store.NewRecord) (store.Record, error) {
	stored, err := s.stamp.Stamp(rec)
	if err != nil {
		return store.Record{}, err
	}
	rowsJSON, err := json.Marshal(stored.Rows)
	if err != nil {
		return store.Record{}, fmt.Errorf("marshal rows: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO records (id, rows_json, checksum, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)",
		stored.ID, string(rowsJSON), stored.Checksum, stored.SizeBytes, stored.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqliteConstraint {
			return store.Record{}, fmt.Errorf("record %q already exists: %w", stored.ID, err)
		}
		return store.Record{}, fmt.Errorf("insert record: %w: %w", store.ErrUnavailable, err)
	}
	return stored, nil
}

// Get loads a record row by id.
func (s *RecordStore) Get(ctx context.Context, id string) (store.Record, error) {
	var (
		rowsJSON  string
		createdAt string
		rec       = store.Record{ID: id}
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT rows_json, checksum, size_bytes, created_at FROM records WHERE id = ?", id,
	).Scan(&rowsJSON, &rec.Checksum, &rec.SizeBytes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, fmt.Errorf("get %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("select record: %w: %w", store.ErrUnavailable, err)
	}
	if err := json.Unmarshal([]byte(rowsJSON), &rec.Rows); err != nil {
		return store.Record{}, fmt.Errorf("decode rows for %q: %w", id, err)
	}
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return store.Record{}, fmt.Errorf("parse created_at for %q: %w", id, err)
	}
	rec.Rows = store.CloneRows(rec.Rows)
	return rec, nil
}

// Close closes the database handle.
func (s *RecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
