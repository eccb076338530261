// Package local implements a filesystem record store. Each record is one
// msgpack file named after its id.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

const fileExt = ".msgpack"

// Config captures the parameters for the local filesystem record store.
type Config struct {
	// BaseDir is the root directory where records will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// RecordStore writes records to the local filesystem.
type RecordStore struct {
	baseDir string
	stamp   store.Stamper
}

// New creates a filesystem-backed record store, creating BaseDir when needed
// and verifying it is writable.
func New(cfg Config, ids store.IDGenerator, clock store.Clock) (*RecordStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	check, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	name := check.Name()
	if err := check.Close(); err != nil {
		return nil, fmt.Errorf("close writability check file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("failed to clean up writability check file: %w", err)
	}

	return &RecordStore{
		baseDir: filepath.Clean(cfg.BaseDir),
		stamp:   store.NewStamper(ids, clock),
	}, nil
}

// Create encodes the record and moves it into place atomically.
func (s *RecordStore) Create(_ context.Context, rec store.NewRecord) (store.Record, error) {
	stored, err := s.stamp.Stamp(rec)
	if err != nil {
		return store.Record{}, err
	}
	fullPath, err := s.pathFor(stored.ID)
	if err != nil {
		return store.Record{}, err
	}
	if _, statErr := os.Stat(fullPath); statErr == nil {
		return store.Record{}, fmt.Errorf("record %q already exists", stored.ID)
	}

	data, err := msgpack.Marshal(&stored)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode record: %w", err)
	}
	if err := s.writeAtomic(fullPath, data); err != nil {
		return store.Record{}, fmt.Errorf("write record %q: %w: %w", stored.ID, store.ErrUnavailable, err)
	}
	return stored, nil
}

// Get reads and decodes the record file.
func (s *RecordStore) Get(_ context.Context, id string) (store.Record, error) {
	fullPath, err := s.pathFor(id)
	if err != nil {
		return store.Record{}, fmt.Errorf("get %q: %w", id, store.ErrNotFound)
	}
	// #nosec G304 -- fullPath is confined to baseDir by pathFor.
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return store.Record{}, fmt.Errorf("get %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("read record %q: %w: %w", id, store.ErrUnavailable, err)
	}
	var rec store.Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return store.Record{}, fmt.Errorf("decode record %q: %w", id, err)
	}
	rec.Rows = store.CloneRows(rec.Rows)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// Close implements store.RecordStore; it performs no action.
func (s *RecordStore) Close() error {
	return nil
}

func (s *RecordStore) pathFor(id string) (string, error) {
	if !store.ValidID(id) {
		return "", fmt.Errorf("invalid record id %q", id)
	}
	fullPath := filepath.Join(s.baseDir, id+fileExt)
	// Verify the path stays within baseDir to prevent path traversal.
	if !strings.HasPrefix(filepath.Clean(fullPath), s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func (s *RecordStore) writeAtomic(fullPath string, data []byte) error {
	tmp, err := os.CreateTemp(s.baseDir, ".record-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
