package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kirillkom/document-scanner/internal/config"
	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/notify"
	"github.com/kirillkom/document-scanner/internal/core/pipeline"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/core/progress"
	"github.com/kirillkom/document-scanner/internal/core/registry"
	"github.com/kirillkom/document-scanner/internal/core/usecase"
	"github.com/kirillkom/document-scanner/internal/infrastructure/analyzers"
	"github.com/kirillkom/document-scanner/internal/infrastructure/identity"
	natsqueue "github.com/kirillkom/document-scanner/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-scanner/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-scanner/internal/infrastructure/resilience"
	"github.com/kirillkom/document-scanner/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/document-scanner/internal/observability/metrics"
)

const eventPublishTimeout = 5 * time.Second

type App struct {
	Config config.Config
	Logger *slog.Logger

	Workspace *usecase.Workspace
	Storage   *localfs.Storage
	// Archive is nil when POSTGRES_DSN is empty.
	Archive *postgres.ExportArchive
	// NATS is nil when NATS_URL is empty.
	NATS *nats.Conn

	Metrics     *prometheus.Registry
	HTTPMetrics *metrics.HTTPServerMetrics

	closeFns []func()
}

// New wires one workspace with its optional archive and event stream.
// service names the process in metrics and logs.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	profile, err := config.LoadProfile(cfg.AnalyzerProfile)
	if err != nil {
		return nil, fmt.Errorf("load analyzer profile: %w", err)
	}
	stages, err := analyzers.Build(profile.Selection(), time.Now)
	if err != nil {
		return nil, fmt.Errorf("build analyzers: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	app.Storage = storage

	app.Metrics = prometheus.NewRegistry()
	app.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipelineMetrics(service, app.Metrics)
	app.HTTPMetrics = metrics.NewHTTPServerMetrics(service, app.Metrics)

	executor := resilience.NewExecutor(cfg.ResiliencePolicy(), logger)

	var archive ports.ExportArchive
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closeFns = append(app.closeFns, func() { _ = db.Close() })
		app.Archive = postgres.NewExportArchive(db, executor)
		if err := app.Archive.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		archive = app.Archive
	}

	bus := notify.NewBus(nil)
	reg := registry.New(bus)
	reporter := progress.NewReporter(cfg.AssumedDocCost(), bus)
	scheduler, err := pipeline.New(reg, reporter, storage, stages, pipelineMetrics, logger, pipeline.Config{
		BatchSize: profile.EffectiveBatchSize(cfg.BatchSize),
	})
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	ws, err := usecase.NewWorkspace(usecase.WorkspaceDeps{
		Registry:  reg,
		Reporter:  reporter,
		Scheduler: scheduler,
		Bus:       bus,
		Storage:   storage,
		IDs:       identity.NewULIDGenerator(),
		Archive:   archive,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}
	app.Workspace = ws
	app.closeFns = append(app.closeFns, ws.Close)

	unsubscribe := ws.Subscribe(pipelineMetrics.ObserveSnapshot)
	app.closeFns = append(app.closeFns, unsubscribe)

	if cfg.NATSURL != "" {
		conn, err := natsqueue.Connect(cfg.NATSURL, natsqueue.Options{Name: service}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		app.NATS = conn
		app.closeFns = append(app.closeFns, func() { _ = conn.Drain() })

		events := natsqueue.NewEventPublisher(conn, cfg.NATSEventsSubject, executor)
		unsubscribe := ws.Subscribe(func(s domain.Snapshot) {
			publishCtx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
			defer cancel()
			if err := events.PublishSnapshot(publishCtx, s); err != nil {
				logger.Warn("snapshot_publish_failed", "seq", s.Seq, "reason", s.Reason, "error", err)
			}
		})
		app.closeFns = append(app.closeFns, unsubscribe)
	}

	logger.Info("workspace_ready",
		"storage", cfg.StoragePath,
		"batch_size", profile.EffectiveBatchSize(cfg.BatchSize),
		"analyzers", len(stages),
		"archive", archive != nil,
		"nats", app.NATS != nil,
	)
	ok = true
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
