package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

// SourceInfo describes externally owned content behind a source reference.
type SourceInfo struct {
	Name       string
	SizeBytes  int64
	ModifiedAt time.Time
}

// ContentSource resolves source references to bytes. The pipeline never owns
// raw content; only analyzers read through this contract.
type ContentSource interface {
	Stat(ctx context.Context, ref domain.SourceRef) (SourceInfo, error)
	Open(ctx context.Context, ref domain.SourceRef) (io.ReadCloser, error)
}

// ObjectStorage stores uploaded content and hands back a reference to it.
type ObjectStorage interface {
	ContentSource
	Save(ctx context.Context, key string, data io.Reader) (domain.SourceRef, error)
}

// Analyzer is one pluggable stage processor.
type Analyzer interface {
	Stage() domain.Stage
	// AppliesTo is a cheap eligibility predicate; false means the stage is a no-op.
	AppliesTo(doc domain.Document) bool
	Run(ctx context.Context, doc domain.Document, src ContentSource) (domain.StageResult, error)
}

// IDGenerator produces collision-resistant document identities.
type IDGenerator interface {
	NewID(name string) string
}

// PipelineObserver receives scheduler measurements.
type PipelineObserver interface {
	BatchAdmitted(size int)
	StageStarted(stage domain.Stage)
	StageFinished(stage domain.Stage, duration time.Duration, err error)
	QueueLag(lag time.Duration)
	StaleResultDiscarded(stage domain.Stage)
}

// SnapshotPublisher forwards snapshots to an external transport.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot domain.Snapshot) error
}

// ExportArchive persists exported summary tables.
type ExportArchive interface {
	SaveExport(ctx context.Context, export domain.ExportRecord) error
}

type nopObserver struct{}

func (nopObserver) BatchAdmitted(int)                                {}
func (nopObserver) StageStarted(domain.Stage)                        {}
func (nopObserver) StageFinished(domain.Stage, time.Duration, error) {}
func (nopObserver) QueueLag(time.Duration)                           {}
func (nopObserver) StaleResultDiscarded(domain.Stage)                {}

// NopObserver discards all pipeline measurements.
func NopObserver() PipelineObserver { return nopObserver{} }

// ExportCatalog browses archived exports.
type ExportCatalog interface {
	ListExports(ctx context.Context, limit int) ([]domain.ExportHeader, error)
	GetExport(ctx context.Context, id string) (domain.ExportRecord, error)
}
