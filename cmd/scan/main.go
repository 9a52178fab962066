package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/document-scanner/internal/bootstrap"
	"github.com/kirillkom/document-scanner/internal/config"
	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/summary"
	"github.com/kirillkom/document-scanner/internal/infrastructure/export"
	"github.com/kirillkom/document-scanner/internal/observability/logging"
)

const serviceName = "scanner-cli"

func main() {
	var (
		dir      = flag.String("dir", "", "Directory to scan (required)")
		batch    = flag.Int("batch", 0, "Documents per batch (default BATCH_SIZE or the profile)")
		profile  = flag.String("profile", "", "Analyzer profile YAML")
		format   = flag.String("format", "csv", "Export format: csv, xlsx or json")
		view     = flag.String("view", "all", "Export view: all, keydata, metadata or classification")
		out      = flag.String("out", "", "Export file (default stdout)")
		logLevel = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	logger := logging.NewTextLogger(os.Stderr, *logLevel)
	fail := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "--dir required")
		flag.Usage()
		os.Exit(2)
	}
	exportFormat, err := export.ParseFormat(*format)
	if err != nil {
		fail("invalid_format", err)
	}
	exportView, err := summary.ParseView(*view)
	if err != nil {
		fail("invalid_view", err)
	}

	cfg := config.Load()
	cfg.StoragePath = *dir
	if *batch > 0 {
		cfg.BatchSize = *batch
	}
	if *profile != "" {
		cfg.AnalyzerProfile = *profile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		fail("bootstrap_failed", err)
	}
	defer app.Close()

	items, err := app.Storage.Walk(ctx)
	if err != nil {
		fail("walk_failed", err)
	}
	docs, err := app.Workspace.Ingest(ctx, items)
	if err != nil {
		fail("ingest_failed", err)
	}
	logger.Info("scan_queued", "dir", *dir, "documents", len(docs))

	unsubscribe := app.Workspace.Subscribe(progressLogger(logger))
	start := time.Now()
	if app.Workspace.StartProcessing(ctx) {
		done := make(chan struct{})
		go func() {
			app.Workspace.WaitForScan()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn("scan_interrupted")
			app.Workspace.ClearAll()
			unsubscribe()
			return
		}
	}
	unsubscribe()

	job := app.Workspace.Progress()
	logger.Info("scan_finished",
		"processed", job.TotalProcessed,
		"completed", job.Phases.Completed,
		"errors", job.Phases.Errored,
		"batches", job.Batches,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	rec, err := app.Workspace.ExportSummary(ctx, exportView)
	if err != nil {
		fail("export_failed", err)
	}
	if err := writeExport(*out, exportFormat, rec); err != nil {
		fail("write_export_failed", err)
	}
}

// progressLogger logs each change of the processed counter once.
func progressLogger(logger *slog.Logger) func(domain.Snapshot) {
	last := -1
	return func(s domain.Snapshot) {
		if !s.Job.IsRunning || s.Job.TotalProcessed == last {
			return
		}
		last = s.Job.TotalProcessed
		logger.Info("scan_progress",
			"processed", s.Job.TotalProcessed,
			"admitted", s.Job.TotalAdmitted,
			"remaining", s.Job.EstimatedRemaining.Round(time.Millisecond),
		)
	}
}

func writeExport(path string, format export.Format, rec domain.ExportRecord) (err error) {
	if path == "" {
		return export.Write(os.Stdout, format, rec)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return export.Write(f, format, rec)
}
