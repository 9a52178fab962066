package ports

import (
	"context"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/summary"
)

// IngestItem is one content reference supplied by a file-access collaborator.
type IngestItem struct {
	Name       string           `json:"name"`
	SizeBytes  int64            `json:"size_bytes"`
	ModifiedAt time.Time        `json:"modified_at"`
	Ref        domain.SourceRef `json:"ref"`
}

// DocumentIngestor is the inbound contract for appending documents to the registry.
type DocumentIngestor interface {
	Ingest(ctx context.Context, items []IngestItem) ([]domain.Document, error)
}

// PipelineController starts, resets and clears quick-scan processing.
type PipelineController interface {
	StartProcessing(ctx context.Context) bool
	ResetScanJob()
	ClearAll()
	Progress() domain.ScanJob
}

// StageRunner triggers on-demand analyzer stages for one document.
type StageRunner interface {
	RunStage(ctx context.Context, documentID string, stage domain.Stage) (domain.StageOutcome, error)
}

// DocumentBrowser is the read model plus view state (filter, selection).
type DocumentBrowser interface {
	GetByID(documentID string) (domain.Document, error)
	Query(filter domain.Filter) []domain.Document
	Filtered() []domain.Document
	SetFilter(filter domain.Filter) (domain.Filter, error)
	SelectDocument(documentID string) error
	Selected() (domain.Document, bool)
}

// SummaryExporter builds read-only aggregate views.
type SummaryExporter interface {
	Summary() summary.Summary
	ExportSummary(ctx context.Context, view summary.View) (domain.ExportRecord, error)
}

// SnapshotSubscriber registers observers of full state snapshots.
type SnapshotSubscriber interface {
	Subscribe(fn func(domain.Snapshot)) (unsubscribe func())
}

// Workspace is everything the UI layer can call.
type Workspace interface {
	DocumentIngestor
	PipelineController
	StageRunner
	DocumentBrowser
	SummaryExporter
	SnapshotSubscriber
}
