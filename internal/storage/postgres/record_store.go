// Package postgres provides a Postgres-backed record store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

const (
	defaultTable       = "csv_records"
	uniqueViolationSQL = "23505"
)

// SQLSTATE classes that reject the statement itself rather than signal an
// unreachable or unhealthy database.
const (
	dataExceptionClass      = "22"
	integrityViolationClass = "23"
	syntaxOrAccessRuleClass = "42"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore persists records in a single Postgres table. Rows are stored in a
// JSON column so cells containing NUL bytes keep their \u0000 escapes.
type RecordStore struct {
	pool  pool
	table string
	stamp store.Stamper
}

// NewRecordStore connects a pgx pool using the provided config.
func NewRecordStore(ctx context.Context, cfg Config, ids store.IDGenerator, clock store.Clock) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: p, table: table, stamp: store.NewStamper(ids, clock)}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string, ids store.IDGenerator, clock store.Clock) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: name, stamp: store.NewStamper(ids, clock)}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the records table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	rows_json JSON NOT NULL,
	checksum TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create records table: %w: %w", store.ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
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
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	rows_json,
	checksum,
	size_bytes,
	created_at
) VALUES (
	$1,$2,$3,$4,$5
)`, s.table)

	args := []any{
		stored.ID,
		rowsJSON,
		stored.Checksum,
		stored.SizeBytes,
		stored.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationSQL {
			return store.Record{}, fmt.Errorf("record %q already exists: %w", stored.ID, err)
		}
		return store.Record{}, classify("insert record", err)
	}
	return stored, nil
}

// classify wraps err with store.ErrUnavailable unless Postgres rejected the
// statement for its content.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) == 5 {
		switch pgErr.Code[:2] {
		case dataExceptionClass, integrityViolationClass, syntaxOrAccessRuleClass:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
}

// Get loads a record row by id.
func (s *RecordStore) Get(ctx context.Context, id string) (store.Record, error) {
	query := fmt.Sprintf(`
SELECT rows_json, checksum, size_bytes, created_at
FROM %s
WHERE id = $1`, s.table)

	var (
		rowsJSON []byte
		rec      = store.Record{ID: id}
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&rowsJSON, &rec.Checksum, &rec.SizeBytes, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, fmt.Errorf("get %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, classify("select record", err)
	}
	if err := json.Unmarshal(rowsJSON, &rec.Rows); err != nil {
		return store.Record{}, fmt.Errorf("decode rows for %q: %w", id, err)
	}
	rec.Rows = store.CloneRows(rec.Rows)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
