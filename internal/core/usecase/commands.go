package usecase

import (
	"context"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

// StartProcessing begins quick scanning of queued documents. It returns false
// when a run is already active or nothing is queued.
func (w *Workspace) StartProcessing(ctx context.Context) bool {
	w.ingestMu.Lock()
	defer w.ingestMu.Unlock()

	started := w.scheduler.Start(ctx)
	if started {
		w.logger.Info("scan_started", "queued", w.registry.CountPhase(domain.PhaseQueued))
	}
	return started
}

// WaitForScan blocks until the active quick-scan run, if any, has ended.
func (w *Workspace) WaitForScan() {
	w.scheduler.Wait()
}

func (w *Workspace) RunStage(ctx context.Context, documentID string, stage domain.Stage) (domain.StageOutcome, error) {
	return w.scheduler.RunStage(ctx, documentID, stage)
}

func (w *Workspace) RunMetadataBasic(ctx context.Context, documentID string) (domain.StageOutcome, error) {
	return w.RunStage(ctx, documentID, domain.StageMetadataBasic)
}

func (w *Workspace) RunMetadataDeep(ctx context.Context, documentID string) (domain.StageOutcome, error) {
	return w.RunStage(ctx, documentID, domain.StageMetadataDeep)
}

func (w *Workspace) RunKeyDataQuick(ctx context.Context, documentID string) (domain.StageOutcome, error) {
	return w.RunStage(ctx, documentID, domain.StageKeyDataQuick)
}

func (w *Workspace) RunKeyDataFull(ctx context.Context, documentID string) (domain.StageOutcome, error) {
	return w.RunStage(ctx, documentID, domain.StageKeyDataFull)
}

func (w *Workspace) Reclassify(ctx context.Context, documentID string) (domain.StageOutcome, error) {
	return w.RunStage(ctx, documentID, domain.StageClassifier)
}

func (w *Workspace) RunOCR(ctx context.Context, documentID string) (domain.StageOutcome, error) {
	return w.RunStage(ctx, documentID, domain.StageOCR)
}

// ClearAll drops every document, cancels in-flight work and resets the job.
// Results of cancelled work are discarded.
func (w *Workspace) ClearAll() {
	w.ingestMu.Lock()
	w.registry.Clear()
	w.ingestMu.Unlock()

	w.scheduler.Wait()
	w.reporter.Reset()

	w.viewMu.Lock()
	w.selectedID = ""
	w.viewMu.Unlock()

	w.logger.Info("workspace_cleared")
}

// ResetScanJob zeroes the job counters. It is ignored while a run is active.
func (w *Workspace) ResetScanJob() {
	if w.scheduler.Running() {
		w.logger.Debug("scan_reset_ignored", "reason", "running")
		return
	}
	w.reporter.Reset()
}
