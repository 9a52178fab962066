// Package pipeline drives quick scans in bounded batches and runs on-demand
// analyzer stages against the registry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/core/progress"
	"github.com/kirillkom/document-scanner/internal/core/registry"
)

const DefaultBatchSize = 3

// QuickScanStage labels measurements of the combined quick scan.
const QuickScanStage domain.Stage = "quick-scan"

// quickStages run in this order on a working copy; the classifier sees the
// results of the first two.
var quickStages = []domain.Stage{
	domain.StageMetadataBasic,
	domain.StageKeyDataQuick,
	domain.StageClassifier,
}

type Config struct {
	BatchSize int
}

// RunStats summarizes one pass of the quick-scan loop.
type RunStats struct {
	Batches   []int
	Completed int
	Failed    int
	Discarded int
	Cancelled bool
}

type Scheduler struct {
	registry  *registry.Registry
	reporter  *progress.Reporter
	source    ports.ContentSource
	analyzers map[domain.Stage]ports.Analyzer
	observer  ports.PipelineObserver
	logger    *slog.Logger
	batchSize int
	now       func() time.Time

	base     context.Context
	stopBase context.CancelFunc

	mu      sync.Mutex
	running bool
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[inflightKey]chan struct{}
}

type inflightKey struct {
	documentID string
	stage      domain.Stage
}

func New(
	reg *registry.Registry,
	reporter *progress.Reporter,
	source ports.ContentSource,
	analyzers []ports.Analyzer,
	observer ports.PipelineObserver,
	logger *slog.Logger,
	cfg Config,
) (*Scheduler, error) {
	if reg == nil || reporter == nil || source == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new scheduler", errors.New("registry, reporter and content source are required"))
	}
	byStage := make(map[domain.Stage]ports.Analyzer, len(analyzers))
	for _, a := range analyzers {
		if a == nil {
			continue
		}
		if _, dup := byStage[a.Stage()]; dup {
			return nil, domain.WrapError(domain.ErrInvalidInput, "new scheduler", fmt.Errorf("stage %s registered twice", a.Stage()))
		}
		byStage[a.Stage()] = a
	}
	for _, stage := range quickStages {
		if _, ok := byStage[stage]; !ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "new scheduler", fmt.Errorf("quick stage %s has no analyzer", stage))
		}
	}
	if observer == nil {
		observer = ports.NopObserver()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		registry:  reg,
		reporter:  reporter,
		source:    source,
		analyzers: byStage,
		observer:  observer,
		logger:    logger,
		batchSize: cfg.BatchSize,
		now:       time.Now,
		base:      base,
		stopBase:  stop,
		inflight:  make(map[inflightKey]chan struct{}),
	}, nil
}

// Start launches the quick-scan loop in the background if it is idle and at
// least one document is queued. The loop outlives ctx cancellation; it stops
// when the queue drains, the registry is cleared or Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.claim() {
		return false
	}
	queued := s.registry.CountPhase(domain.PhaseQueued)
	if queued == 0 {
		s.release()
		return false
	}
	s.reporter.Begin(queued)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(s.base, cancel)
	go func() {
		defer s.release()
		defer cancel()
		defer stopAfter()

		stats, err := s.loop(runCtx)
		if err != nil {
			s.logger.Error("scan_run_failed", "error", err)
			return
		}
		s.logger.Info("scan_run_finished",
			"batches", len(stats.Batches),
			"completed", stats.Completed,
			"failed", stats.Failed,
			"discarded", stats.Discarded,
			"cancelled", stats.Cancelled,
		)
	}()
	return true
}

// Run executes the quick-scan loop synchronously. It fails with
// ErrStageInFlight when a run is already active.
func (s *Scheduler) Run(ctx context.Context) (RunStats, error) {
	if !s.claim() {
		return RunStats{}, domain.WrapError(domain.ErrStageInFlight, "scan run", errors.New("a scan is already running"))
	}
	defer s.release()

	queued := s.registry.CountPhase(domain.PhaseQueued)
	if queued == 0 {
		return RunStats{}, nil
	}
	s.reporter.Begin(queued)
	return s.loop(ctx)
}

// Wait blocks until the current background run, if any, has ended.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown cancels background work and waits for it to stop.
func (s *Scheduler) Shutdown() {
	s.stopBase()
	s.Wait()
}

func (s *Scheduler) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.done = make(chan struct{})
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.done != nil {
		close(s.done)
	}
}

func (s *Scheduler) loop(ctx context.Context) (RunStats, error) {
	finished := false
	defer func() {
		if !finished {
			s.reporter.Finish()
		}
	}()

	epoch, epochCtx := s.registry.Epoch()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(epochCtx, cancel)
	defer stopAfter()

	var stats RunStats
	for {
		if ctx.Err() != nil {
			stats.Cancelled = true
			return stats, nil
		}

		batch, err := s.registry.Admit(epoch, s.batchSize)
		if err != nil {
			if domain.IsKind(err, domain.ErrStaleResult) {
				stats.Cancelled = true
				return stats, nil
			}
			return stats, fmt.Errorf("admit batch: %w", err)
		}
		if len(batch) == 0 {
			// Ingestion admits into the job under the reporter lock, so a
			// document queued after this check is left for the next run.
			if s.reporter.FinishUnless(s.hasQueued) {
				finished = true
				return stats, nil
			}
			continue
		}

		s.observer.BatchAdmitted(len(batch))
		started := s.now()
		outcome := s.runBatch(ctx, epoch, batch)
		elapsed := s.now().Sub(started)

		settled := outcome.completed + outcome.failed
		s.reporter.BatchSettled(settled, elapsed)

		stats.Batches = append(stats.Batches, len(batch))
		stats.Completed += outcome.completed
		stats.Failed += outcome.failed
		stats.Discarded += outcome.discarded

		s.logger.Info("batch_settled",
			"epoch", epoch,
			"size", len(batch),
			"completed", outcome.completed,
			"failed", outcome.failed,
			"discarded", outcome.discarded,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}
}

type batchOutcome struct {
	completed int
	failed    int
	discarded int
}

func (s *Scheduler) runBatch(ctx context.Context, epoch uint64, batch []domain.Document) batchOutcome {
	var completed, failed, discarded atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.batchSize)
	for _, doc := range batch {
		admittedAt := s.now()
		g.Go(func() error {
			s.observer.QueueLag(s.now().Sub(admittedAt))
			switch s.quickScan(ctx, epoch, doc) {
			case quickCompleted:
				completed.Add(1)
			case quickFailed:
				failed.Add(1)
			default:
				discarded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return batchOutcome{
		completed: int(completed.Load()),
		failed:    int(failed.Load()),
		discarded: int(discarded.Load()),
	}
}

type quickResult int

const (
	quickCompleted quickResult = iota
	quickFailed
	quickDiscarded
)

func (s *Scheduler) quickScan(ctx context.Context, epoch uint64, doc domain.Document) quickResult {
	release, err := s.acquireQuickStages(ctx, doc.ID)
	if err != nil {
		s.logger.Debug("quick_scan_cancelled", "document_id", doc.ID, "error", err)
		return quickDiscarded
	}
	defer release()

	results, scanErr := s.quickStages(ctx, doc)
	if scanErr != nil && ctx.Err() != nil {
		// Cancelled work says nothing about the document.
		s.logger.Debug("quick_scan_cancelled", "document_id", doc.ID, "error", scanErr)
		return quickDiscarded
	}

	_, err = s.registry.UpdateInEpoch(epoch, doc.ID, func(d *domain.Document) error {
		if scanErr != nil {
			return d.Transition(domain.PhaseError, scanErr.Error())
		}
		for _, res := range results {
			res.ApplyTo(d)
		}
		return d.Transition(domain.PhaseCompleted, "")
	})
	switch {
	case err == nil && scanErr == nil:
		return quickCompleted
	case err == nil:
		s.logger.Warn("quick_scan_failed", "document_id", doc.ID, "file_name", doc.FileName, "error", scanErr)
		return quickFailed
	case domain.IsKind(err, domain.ErrStaleResult), domain.IsKind(err, domain.ErrDocumentNotFound):
		s.observer.StaleResultDiscarded(QuickScanStage)
		s.logger.Debug("stale_result_discarded", "document_id", doc.ID, "epoch", epoch)
		return quickDiscarded
	default:
		s.logger.Error("quick_scan_apply_failed", "document_id", doc.ID, "error", err)
		return quickDiscarded
	}
}

// quickStages validates the source and then runs the quick analyzers on a
// working copy, returning the results to apply atomically.
func (s *Scheduler) quickStages(ctx context.Context, doc domain.Document) ([]domain.StageResult, error) {
	if doc.Source == "" {
		return nil, domain.WrapError(domain.ErrInvalidSource, "quick scan", errors.New("document has no content source"))
	}
	if _, err := s.source.Stat(ctx, doc.Source); err != nil {
		if domain.IsKind(err, domain.ErrInvalidSource) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrInvalidSource, "quick scan", err)
	}

	working := doc.Clone()
	results := make([]domain.StageResult, 0, len(quickStages))
	for _, stage := range quickStages {
		analyzer := s.analyzers[stage]
		if !analyzer.AppliesTo(working) {
			continue
		}
		res, err := s.runAnalyzer(ctx, analyzer, working)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stage, err)
		}
		res.ApplyTo(&working)
		results = append(results, res)
	}
	return results, nil
}

// RunStage runs one stage for one document on demand.
func (s *Scheduler) RunStage(ctx context.Context, documentID string, stage domain.Stage) (domain.StageOutcome, error) {
	analyzer, ok := s.analyzers[stage]
	if !ok {
		return domain.StageOutcome{}, domain.WrapError(domain.ErrInvalidInput, "run stage", fmt.Errorf("no analyzer configured for stage %s", stage))
	}

	if !s.acquire(documentID, stage) {
		return domain.StageOutcome{}, domain.WrapError(domain.ErrStageInFlight, "run stage", fmt.Errorf("stage %s already running for %s", stage, documentID))
	}
	defer s.releaseStage(documentID, stage)

	epoch, epochCtx := s.registry.Epoch()
	doc, err := s.registry.Get(documentID)
	if err != nil {
		return domain.StageOutcome{}, err
	}
	if doc.Scan.Phase == domain.PhaseQuickScanning {
		return domain.StageOutcome{}, domain.WrapError(domain.ErrStageInFlight, "run stage", fmt.Errorf("document %s is being quick scanned", documentID))
	}

	if !analyzer.AppliesTo(doc) {
		return domain.StageOutcome{Stage: stage, Document: doc, Skipped: true}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(epochCtx, cancel)
	defer stopAfter()

	res, runErr := s.runAnalyzer(ctx, analyzer, doc)
	updated, err := s.registry.UpdateInEpoch(epoch, documentID, func(d *domain.Document) error {
		if runErr != nil {
			d.RecordStageFailure(stage, runErr)
			return nil
		}
		res.ApplyTo(d)
		return nil
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrStaleResult) || domain.IsKind(err, domain.ErrDocumentNotFound) {
			s.observer.StaleResultDiscarded(stage)
			s.logger.Debug("stale_result_discarded", "document_id", documentID, "stage", stage)
			return domain.StageOutcome{}, domain.WrapError(domain.ErrDocumentNotFound, "run stage", fmt.Errorf("document %s was removed while %s ran", documentID, stage))
		}
		return domain.StageOutcome{}, err
	}

	if runErr != nil {
		s.logger.Warn("stage_failed", "document_id", documentID, "stage", stage, "error", runErr)
		return domain.StageOutcome{Stage: stage, Document: updated, Failure: runErr.Error()}, nil
	}
	return domain.StageOutcome{Stage: stage, Document: updated, Applied: true}, nil
}

func (s *Scheduler) runAnalyzer(ctx context.Context, analyzer ports.Analyzer, doc domain.Document) (domain.StageResult, error) {
	stage := analyzer.Stage()
	s.observer.StageStarted(stage)
	started := s.now()

	res, err := analyzer.Run(ctx, doc, s.source)
	if err == nil {
		switch {
		case res == nil:
			err = domain.WrapError(domain.ErrInvalidInput, "run analyzer", fmt.Errorf("%s returned no result", stage))
		case res.Stage() != stage:
			err = domain.WrapError(domain.ErrInvalidInput, "run analyzer", fmt.Errorf("%s returned a %s result", stage, res.Stage()))
		}
	}
	s.observer.StageFinished(stage, s.now().Sub(started), err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Scheduler) hasQueued() bool {
	return s.registry.CountPhase(domain.PhaseQueued) > 0
}

func (s *Scheduler) acquire(documentID string, stage domain.Stage) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	key := inflightKey{documentID: documentID, stage: stage}
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = make(chan struct{})
	return true
}

// acquireWait takes the key, waiting for the current holder to release it.
func (s *Scheduler) acquireWait(ctx context.Context, documentID string, stage domain.Stage) error {
	key := inflightKey{documentID: documentID, stage: stage}
	for {
		s.inflightMu.Lock()
		held, busy := s.inflight[key]
		if !busy {
			s.inflight[key] = make(chan struct{})
			s.inflightMu.Unlock()
			return nil
		}
		s.inflightMu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) releaseStage(documentID string, stage domain.Stage) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	key := inflightKey{documentID: documentID, stage: stage}
	if held, ok := s.inflight[key]; ok {
		close(held)
		delete(s.inflight, key)
	}
}

// acquireQuickStages holds every quick stage key of a document, in stage
// order, so on-demand runs of those stages never overlap the quick scan.
func (s *Scheduler) acquireQuickStages(ctx context.Context, documentID string) (func(), error) {
	held := make([]domain.Stage, 0, len(quickStages))
	release := func() {
		for _, stage := range held {
			s.releaseStage(documentID, stage)
		}
	}
	for _, stage := range quickStages {
		if err := s.acquireWait(ctx, documentID, stage); err != nil {
			release()
			return nil, err
		}
		held = append(held, stage)
	}
	return release, nil
}

// Analyzer returns the analyzer configured for stage.
func (s *Scheduler) Analyzer(stage domain.Stage) (ports.Analyzer, bool) {
	a, ok := s.analyzers[stage]
	return a, ok
}
