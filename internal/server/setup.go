package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-csv-ingest/internal/api"
	"github.com/JakeFAU/realtime-csv-ingest/internal/clock/system"
	"github.com/JakeFAU/realtime-csv-ingest/internal/config"
	"github.com/JakeFAU/realtime-csv-ingest/internal/id/uuid"
	"github.com/JakeFAU/realtime-csv-ingest/internal/ingest"
	"github.com/JakeFAU/realtime-csv-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-csv-ingest/internal/policy/simple"
	"github.com/JakeFAU/realtime-csv-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-csv-ingest/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/realtime-csv-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-csv-ingest/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/realtime-csv-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-csv-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-csv-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-csv-ingest/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/realtime-csv-ingest/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
)

func setupStorage(ctx context.Context, app *App) (store.RecordStore, error) {
	ids := uuid.New()
	clock := system.New()
	cfg := app.cfg

	switch cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend",
			zap.String("bucket", cfg.Storage.GCS.Bucket),
			zap.String("prefix", cfg.Storage.GCS.Prefix),
		)
		st, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: cfg.Storage.GCS.Bucket,
			Prefix: cfg.Storage.GCS.Prefix,
		}, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("gcs record store init failed: %w", err)
		}
		return st, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.Storage.Local.BaseDir))
		st, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.Local.BaseDir}, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("local record store init failed: %w", err)
		}
		return st, nil
	case config.BackendPostgres:
		st, err := pgstore.NewRecordStore(ctx, pgstore.Config{
			DSN:             cfg.Database.DSN,
			Table:           cfg.Database.Table,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		}, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		if cfg.Database.EnsureSchema {
			if err := st.EnsureSchema(ctx); err != nil {
				_ = st.Close() //nolint:errcheck // already failing
				return nil, fmt.Errorf("postgres schema init failed: %w", err)
			}
		}
		app.logger.Info("using postgres storage backend", zap.String("table", cfg.Database.Table))
		return st, nil
	case config.BackendSQLite:
		st, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.Database.SQLitePath}, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("sqlite record store init failed: %w", err)
		}
		app.logger.Info("using sqlite storage backend", zap.String("path", cfg.Database.SQLitePath))
		return st, nil
	case config.BackendMemory, "":
		app.logger.Info("using in-memory storage backend")
		return memorystorage.New(ids, clock), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func setupPublisher(ctx context.Context, app *App) (ingest.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		pub := memorypublisher.New()
		app.publisher = pub
		return pub, nil
	}
	pub, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// setupProgress builds the sink hub fed by the WebSocket bus. The returned
// emitter is nil when no sink is configured.
func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	var sinkList []progress.Sink
	if app.registerer != nil {
		promSink, err := progresssinks.NewPrometheusSink(app.registerer)
		if err != nil {
			return nil, fmt.Errorf("progress metrics init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	if len(sinkList) == 0 {
		app.logger.Info("no progress sinks configured")
		return nil, nil
	}
	app.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("progress_hub"),
	}, sinkList...)
	app.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return app.hub, nil
}

func setupLimiter(app *App) api.Limiter {
	if app.cfg.RateLimit.Enabled {
		app.logger.Info("upload rate limiter enabled",
			zap.Float64("rps", app.cfg.RateLimit.RPS),
			zap.Int("burst", app.cfg.RateLimit.Burst),
		)
		return ratelimit.New(ratelimit.Config{
			RPS:   app.cfg.RateLimit.RPS,
			Burst: app.cfg.RateLimit.Burst,
		})
	}
	app.logger.Info("rate limiter disabled, using simple policy")
	return simple.New()
}
