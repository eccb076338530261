// Package server wires configuration into the running upload service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-csv-ingest/internal/api"
	"github.com/JakeFAU/realtime-csv-ingest/internal/config"
	"github.com/JakeFAU/realtime-csv-ingest/internal/ingest"
	"github.com/JakeFAU/realtime-csv-ingest/internal/logging"
	"github.com/JakeFAU/realtime-csv-ingest/internal/progress"
	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

// multipartOverhead is the slack allowed on top of upload.max_bytes for
// multipart boundaries, part headers and extra form fields.
const multipartOverhead = 1 << 20

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	ownsLogger bool
	registerer prometheus.Registerer

	apiServer *api.Server
	bus       *progress.Bus
	hub       *progress.Hub
	records   store.RecordStore
	publisher interface{ Close() error }
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithRegisterer sets the registry for progress collectors. It defaults to
// prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) {
		a.registerer = reg
	}
}

// Build creates the application's dependencies. Anything opened before a
// failure is closed again.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
		app.ownsLogger = true
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if err := app.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	records, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	a.records = records

	pub, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}

	svc, err := ingest.NewService(records, pub, ingest.Config{
		MaxBytes:    a.cfg.Upload.MaxBytes,
		ContentType: a.cfg.Upload.ContentType,
		Topic:       a.cfg.Upload.Topic,
	}, a.logger.Named("ingest"))
	if err != nil {
		return fmt.Errorf("ingest service init failed: %w", err)
	}

	emitter, err := setupProgress(ctx, a)
	if err != nil {
		return err
	}
	a.bus = progress.NewBus(progress.BusConfig{
		SendBuffer:      a.cfg.Progress.SendBuffer,
		WriteTimeout:    a.cfg.Progress.WriteTimeout,
		PongTimeout:     a.cfg.Progress.PongTimeout,
		MaxMessageBytes: a.cfg.Progress.MaxMessageBytes,
		Logger:          a.logger.Named("progress"),
	}, emitter)

	a.apiServer, err = api.NewServer(api.Options{
		Ingester:          svc,
		Progress:          a.bus,
		Limiter:           setupLimiter(a),
		RequestTimeout:    a.cfg.Server.RequestTimeout,
		UploadReadTimeout: a.cfg.Upload.ReadTimeout,
		MaxBodyBytes:      a.cfg.Upload.MaxBytes + multipartOverhead,
		AllowedOrigins:    a.cfg.CORS.AllowedOrigins,
		Logger:            a.logger.Named("api"),
	})
	if err != nil {
		return fmt.Errorf("api server init failed: %w", err)
	}
	return nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is canceled, then shuts down
// gracefully and closes every dependency.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}
	a.logger.Info("shutdown initiated")
	a.apiServer.Drain()

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		return errors.Join(serveErr, err)
	}
	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// Close gracefully shuts down the application. WebSocket connections close
// first so their final deliveries reach the progress sinks.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress bus: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.records != nil {
		if err := a.records.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close record store: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	if a.ownsLogger {
		// Sync fails on stderr for some terminals; nothing useful to report.
		_ = a.logger.Sync() //nolint:errcheck // best-effort flush
	}
	return errors.Join(errs...)
}
