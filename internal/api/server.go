package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-csv-ingest/internal/ingest"
	"github.com/JakeFAU/realtime-csv-ingest/internal/logging"
	"github.com/JakeFAU/realtime-csv-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

// Client-facing error messages.
const (
	msgTooLarge      = "File is too large"
	msgInvalidFormat = "Invalid file format"
	msgNoFile        = "No file uploaded"
	msgTimedOut      = "Upload timed out"
	msgAborted       = "Upload aborted"
	msgTooMany       = "Too many requests"
	msgUnavailable   = "Storage unavailable"
	msgNotFound      = "CSV not found"
	msgInternal      = "internal server error"
)

// fileField is the multipart form field carrying the upload.
const fileField = "file"

// Ingester stores uploads and serves them back.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (ingest.Result, error)
	Retrieve(ctx context.Context, id string) ([][]string, error)
}

// Limiter decides whether a client may start another upload.
type Limiter interface {
	Allow(key string) bool
}

// Options configures NewServer.
type Options struct {
	Ingester Ingester
	// Progress serves WebSocket upgrades on / and /ws.
	Progress http.Handler
	// Limiter throttles POST /import per client address. Nil allows all.
	Limiter Limiter
	// RequestTimeout bounds non-streaming routes. Zero disables it.
	RequestTimeout time.Duration
	// UploadReadTimeout is the read deadline applied to upload bodies.
	UploadReadTimeout time.Duration
	// MaxBodyBytes caps the whole multipart body. Zero disables it.
	MaxBodyBytes   int64
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the ingest service and progress bus.
type Server struct {
	router   chi.Router
	ingester Ingester
	limiter  Limiter
	opts     Options
	logger   *zap.Logger
	draining atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Ingester == nil {
		return nil, errors.New("ingester is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("progress handler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		ingester: opts.Ingester,
		limiter:  opts.Limiter,
		opts:     opts,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// WebSocket and upload routes manage their own deadlines.
	r.Get("/", opts.Progress.ServeHTTP)
	r.Get("/ws", opts.Progress.ServeHTTP)
	r.Post("/import", s.importCSV)

	r.Group(func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
		}
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Get("/data/{requestId}", s.getData)
	})
	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Drain marks the server as shutting down so readiness probes fail.
func (s *Server) Drain() {
	s.draining.Store(true)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) importCSV(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), s.logger)
	if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, msgTooMany)
		return
	}
	if s.opts.UploadReadTimeout > 0 {
		rc := http.NewResponseController(w)
		if err := rc.SetReadDeadline(time.Now().Add(s.opts.UploadReadTimeout)); err != nil &&
			!errors.Is(err, http.ErrNotSupported) {
			log.Warn("set upload read deadline failed", zap.Error(err))
		}
	}
	if s.opts.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	}

	part, err := filePart(r)
	if err != nil {
		s.writeIngestError(w, log, err)
		return
	}
	defer part.Close() //nolint:errcheck // multipart parts hold no resources

	res, err := s.ingester.Ingest(r.Context(), ingest.Upload{
		Body:        part,
		ContentType: mediaType(part.Header.Get("Content-Type")),
		Size:        -1,
	})
	if err != nil {
		s.writeIngestError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"requestId": res.ID})
}

func (s *Server) getData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestId")
	rows, err := s.ingester.Retrieve(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, msgNotFound)
		case errors.Is(err, store.ErrUnavailable):
			logging.FromContext(r.Context(), s.logger).Error("retrieve failed",
				zap.String("record_id", id), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, msgUnavailable)
		default:
			logging.FromContext(r.Context(), s.logger).Error("retrieve failed",
				zap.String("record_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgInternal)
		}
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

var errNoFile = errors.New("no file part")

// filePart advances the multipart body to the first file in the "file" field.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			if isTimeout(err) || isBodyTooLarge(err) {
				return nil, fmt.Errorf("%w: %w", ingest.ErrAborted, err)
			}
			return nil, errNoFile
		}
		if part.FormName() == fileField && part.FileName() != "" {
			return part, nil
		}
		if _, err := io.Copy(io.Discard, part); err != nil {
			return nil, fmt.Errorf("%w: %w", ingest.ErrAborted, err)
		}
	}
}

// mediaType reduces a part Content-Type header to its lowercased type/subtype.
func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if mt == "" && err != nil {
		return strings.ToLower(strings.TrimSpace(header))
	}
	return mt
}

func (s *Server) writeIngestError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, errNoFile):
		writeError(w, http.StatusBadRequest, msgNoFile)
	case errors.Is(err, ingest.ErrTooLarge):
		writeError(w, http.StatusBadRequest, msgTooLarge)
	case errors.Is(err, ingest.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, msgInvalidFormat)
	case errors.Is(err, ingest.ErrAborted):
		switch {
		case isBodyTooLarge(err):
			writeError(w, http.StatusBadRequest, msgTooLarge)
		case isTimeout(err):
			log.Info("upload timed out", zap.Error(err))
			writeError(w, http.StatusRequestTimeout, msgTimedOut)
		default:
			log.Info("upload aborted", zap.Error(err))
			writeError(w, http.StatusBadRequest, msgAborted)
		}
	case errors.Is(err, store.ErrUnavailable):
		log.Error("store upload failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, msgUnavailable)
	default:
		log.Error("ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
