package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-csv-ingest/internal/hash/sha256"
	"github.com/JakeFAU/realtime-csv-ingest/internal/logging"
	"github.com/JakeFAU/realtime-csv-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-csv-ingest/internal/rows"
	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

const (
	// DefaultMaxBytes is the largest accepted upload (5000 KiB).
	DefaultMaxBytes int64 = 5000 * 1024
	// DefaultContentType is the only accepted upload media type.
	DefaultContentType = "text/csv"
	// DefaultTopic names the notification published for every stored record.
	DefaultTopic = "record.created"
)

// Publisher emits notifications about stored records.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config tunes validation and notifications.
type Config struct {
	MaxBytes    int64
	ContentType string
	Topic       string
}

// Upload is one file received by the ingestion endpoint.
type Upload struct {
	// Body streams the file content.
	Body io.Reader
	// ContentType is the media type declared for the file part.
	ContentType string
	// Size is the declared length in bytes, or -1 when unknown.
	Size int64
}

// Result describes a stored upload.
type Result struct {
	ID        string
	Rows      int
	SizeBytes int64
	Checksum  string
}

// RecordCreated is the notification payload published after Create.
type RecordCreated struct {
	RequestID string    `json:"requestId"`
	Rows      int       `json:"rows"`
	SizeBytes int64     `json:"sizeBytes"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service validates, parses and stores uploads.
type Service struct {
	store     store.RecordStore
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
}

// NewService wires a Service. The publisher is optional.
func NewService(st store.RecordStore, pub Publisher, cfg Config, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("record store is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if strings.TrimSpace(cfg.ContentType) == "" {
		cfg.ContentType = DefaultContentType
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, publisher: pub, cfg: cfg, logger: logger}, nil
}

// Ingest validates up, parses it and stores exactly one record. Validation
// failures wrap ErrValidation; unreadable bodies wrap ErrAborted together with
// the underlying read error.
func (s *Service) Ingest(ctx context.Context, up Upload) (Result, error) {
	log := logging.FromContext(ctx, s.logger)

	if up.Size > s.cfg.MaxBytes {
		metrics.ObserveUpload(metrics.ResultTooLarge, up.Size, 0)
		return Result{}, ErrTooLarge
	}
	body := up.Body
	if body == nil {
		body = strings.NewReader("")
	}
	bounded := http.MaxBytesReader(nil, io.NopCloser(body), s.cfg.MaxBytes)

	if up.ContentType != s.cfg.ContentType {
		// Drain so that an oversize body is still reported as too large.
		n, err := io.Copy(io.Discard, bounded)
		if err := s.readFailure(err, n); err != nil {
			return Result{}, err
		}
		metrics.ObserveUpload(metrics.ResultInvalidFormat, n, 0)
		log.Debug("rejected upload content type", zap.String("content_type", up.ContentType))
		return Result{}, ErrInvalidFormat
	}

	digest := sha256.New()
	parsed, err := rows.ParseReader(io.TeeReader(bounded, digest))
	if err := s.readFailure(err, digest.Len()); err != nil {
		return Result{}, err
	}

	rec, err := s.store.Create(ctx, store.NewRecord{
		Rows:      parsed,
		Checksum:  digest.Hex(),
		SizeBytes: digest.Len(),
	})
	if err != nil {
		metrics.ObserveUpload(metrics.ResultStorageError, digest.Len(), 0)
		return Result{}, fmt.Errorf("store upload: %w", err)
	}
	metrics.ObserveUpload(metrics.ResultCreated, rec.SizeBytes, len(rec.Rows))
	log.Info("stored upload",
		zap.String("record_id", rec.ID),
		zap.Int("rows", len(rec.Rows)),
		zap.Int64("size_bytes", rec.SizeBytes),
	)
	s.notify(ctx, log, rec)

	return Result{
		ID:        rec.ID,
		Rows:      len(rec.Rows),
		SizeBytes: rec.SizeBytes,
		Checksum:  rec.Checksum,
	}, nil
}

// Retrieve returns the rows stored under id. A missing record yields an error
// wrapping store.ErrNotFound.
func (s *Service) Retrieve(ctx context.Context, id string) ([][]string, error) {
	rec, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.ObserveRetrieval("not_found")
		return nil, err
	case err != nil:
		metrics.ObserveRetrieval("error")
		return nil, fmt.Errorf("retrieve %q: %w", id, err)
	}
	metrics.ObserveRetrieval("found")
	return rec.Rows, nil
}

// readFailure classifies a body read error. It returns nil when err is nil.
func (s *Service) readFailure(err error, n int64) error {
	switch {
	case err == nil:
		return nil
	case isSizeExceeded(err):
		metrics.ObserveUpload(metrics.ResultTooLarge, n, 0)
		return ErrTooLarge
	default:
		metrics.ObserveUpload(metrics.ResultAborted, n, 0)
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
}

func isSizeExceeded(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (s *Service) notify(ctx context.Context, log *zap.Logger, rec store.Record) {
	if s.publisher == nil {
		return
	}
	msg := RecordCreated{
		RequestID: rec.ID,
		Rows:      len(rec.Rows),
		SizeBytes: rec.SizeBytes,
		Checksum:  rec.Checksum,
		CreatedAt: rec.CreatedAt,
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, msg); err != nil {
		log.Warn("publish record notification failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
}
