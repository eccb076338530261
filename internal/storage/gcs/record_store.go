// Package gcs provides a RecordStore backed by Google Cloud Storage. Each
// record is a JSON object under a configurable prefix.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// RecordStore writes records to a configured GCS bucket.
type RecordStore struct {
	client     *storage.Client
	bucket     string
	prefix     string
	stamp      store.Stamper
	ownsClient bool
}

// New creates a GCS-backed record store around an existing client. The caller
// keeps ownership of the client.
func New(client *storage.Client, cfg Config, ids store.IDGenerator, clock store.Clock) (*RecordStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &RecordStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		stamp:  store.NewStamper(ids, clock),
	}, nil
}

// Open dials GCS with Application Default Credentials and verifies the bucket
// is reachable. The returned store closes the client on Close.
func Open(ctx context.Context, cfg Config, ids store.IDGenerator, clock store.Clock) (*RecordStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	s, err := New(client, cfg, ids, clock)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// Create uploads the record. The object is written with a DoesNotExist
// precondition so an id is never overwritten.
func (s *RecordStore) Create(ctx context.Context, rec store.NewRecord) (store.Record, error) {
	stored, err := s.stamp.Stamp(rec)
	if err != nil {
		return store.Record{}, err
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode record: %w", err)
	}

	obj := s.client.Bucket(s.bucket).Object(s.objectName(stored.ID))
	writer := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"
	// Single-request upload; records are bounded by the upload limit.
	writer.ChunkSize = 0
	writer.Metadata = map[string]string{"checksum": stored.Checksum}

	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return store.Record{}, fmt.Errorf("write object: %w: %w (close writer: %v)", store.ErrUnavailable, err, closeErr)
		}
		return store.Record{}, fmt.Errorf("write object: %w: %w", store.ErrUnavailable, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return store.Record{}, fmt.Errorf("record %q already exists: %w", stored.ID, err)
		}
		return store.Record{}, fmt.Errorf("close writer: %w: %w", store.ErrUnavailable, err)
	}
	return stored, nil
}

// Get downloads and decodes the record object.
func (s *RecordStore) Get(ctx context.Context, id string) (store.Record, error) {
	if !store.ValidID(id) {
		return store.Record{}, fmt.Errorf("get %q: %w", id, store.ErrNotFound)
	}
	reader, err := s.client.Bucket(s.bucket).Object(s.objectName(id)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return store.Record{}, fmt.Errorf("get %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("open object: %w: %w", store.ErrUnavailable, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return store.Record{}, fmt.Errorf("read object: %w: %w", store.ErrUnavailable, err)
	}
	var rec store.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return store.Record{}, fmt.Errorf("decode record %q: %w", id, err)
	}
	rec.Rows = store.CloneRows(rec.Rows)
	return rec, nil
}

// Close releases the client when the store created it.
func (s *RecordStore) Close() error {
	if s == nil || !s.ownsClient {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func (s *RecordStore) objectName(id string) string {
	name := id + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
