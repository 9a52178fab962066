package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/document-scanner/internal/adapters/http"
	"github.com/kirillkom/document-scanner/internal/bootstrap"
	"github.com/kirillkom/document-scanner/internal/config"
	"github.com/kirillkom/document-scanner/internal/observability/logging"
	"github.com/kirillkom/document-scanner/internal/observability/metrics"
)

const serviceName = "scanner-api"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	deps := httpadapter.RouterDeps{
		HTTPMetrics:    app.HTTPMetrics,
		MetricsHandler: metrics.Handler(app.Metrics),
		Logger:         logger,
	}
	if app.Archive != nil {
		deps.Catalog = app.Archive
	}
	router := httpadapter.NewRouter(cfg, app.Workspace, deps)

	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: /v1/events streams until the client leaves.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	server.RegisterOnShutdown(router.CloseStreams)

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}
