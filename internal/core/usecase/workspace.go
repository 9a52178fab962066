package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/notify"
	"github.com/kirillkom/document-scanner/internal/core/pipeline"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/core/progress"
	"github.com/kirillkom/document-scanner/internal/core/registry"
	"github.com/kirillkom/document-scanner/internal/core/summary"
)

const (
	reasonFilterChanged    = "filter_changed"
	reasonSelectionChanged = "selection_changed"
)

// Workspace owns the registry, scheduler, reporter and bus of one document set
// and exposes every command the UI layer can issue.
type Workspace struct {
	registry  *registry.Registry
	reporter  *progress.Reporter
	scheduler *pipeline.Scheduler
	bus       *notify.Bus
	storage   ports.ObjectStorage
	ids       ports.IDGenerator
	archive   ports.ExportArchive
	logger    *slog.Logger
	now       func() time.Time

	ingestMu sync.Mutex

	viewMu     sync.RWMutex
	filter     domain.Filter
	selectedID string
}

type WorkspaceDeps struct {
	Registry  *registry.Registry
	Reporter  *progress.Reporter
	Scheduler *pipeline.Scheduler
	Bus       *notify.Bus
	Storage   ports.ObjectStorage
	IDs       ports.IDGenerator
	// Archive is optional; nil disables export archiving.
	Archive ports.ExportArchive
	Logger  *slog.Logger
}

func NewWorkspace(deps WorkspaceDeps) (*Workspace, error) {
	if deps.Registry == nil || deps.Reporter == nil || deps.Scheduler == nil || deps.Bus == nil || deps.IDs == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new workspace", errors.New("registry, reporter, scheduler, bus and id generator are required"))
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Workspace{
		registry:  deps.Registry,
		reporter:  deps.Reporter,
		scheduler: deps.Scheduler,
		bus:       deps.Bus,
		storage:   deps.Storage,
		ids:       deps.IDs,
		archive:   deps.Archive,
		logger:    logger,
		now:       time.Now,
		filter:    domain.DefaultFilter(),
	}
	w.bus.SetSource(w.snapshot)
	return w, nil
}

var _ ports.Workspace = (*Workspace)(nil)

func (w *Workspace) snapshot() domain.Snapshot {
	docs, epoch := w.registry.Snapshot()
	job := w.reporter.Current()
	job.Phases = domain.CountPhases(docs)

	w.viewMu.RLock()
	filter := w.filter
	selected := w.selectedID
	w.viewMu.RUnlock()

	return domain.Snapshot{
		Epoch:      epoch,
		Documents:  docs,
		Job:        job,
		Filter:     filter,
		SelectedID: selected,
		TakenAt:    w.now().UTC(),
	}
}

// Current returns the latest state without notifying subscribers.
func (w *Workspace) Current() domain.Snapshot {
	return w.bus.Current()
}

func (w *Workspace) Subscribe(fn func(domain.Snapshot)) func() {
	return w.bus.Subscribe(fn)
}

func (w *Workspace) Progress() domain.ScanJob {
	job := w.reporter.Current()
	docs, _ := w.registry.Snapshot()
	job.Phases = domain.CountPhases(docs)
	return job
}

func (w *Workspace) GetByID(documentID string) (domain.Document, error) {
	return w.registry.Get(documentID)
}

func (w *Workspace) Query(filter domain.Filter) []domain.Document {
	return w.registry.Query(filter)
}

// Filtered returns the documents matching the active filter.
func (w *Workspace) Filtered() []domain.Document {
	w.viewMu.RLock()
	filter := w.filter
	w.viewMu.RUnlock()
	return w.registry.Query(filter)
}

func (w *Workspace) Filter() domain.Filter {
	w.viewMu.RLock()
	defer w.viewMu.RUnlock()
	return w.filter
}

func (w *Workspace) SetFilter(filter domain.Filter) (domain.Filter, error) {
	normalized, err := filter.Normalize()
	if err != nil {
		return domain.Filter{}, err
	}
	w.viewMu.Lock()
	w.filter = normalized
	w.viewMu.Unlock()

	w.bus.Publish(reasonFilterChanged)
	return normalized, nil
}

// SelectDocument marks one document as selected; an empty id clears the selection.
func (w *Workspace) SelectDocument(documentID string) error {
	if documentID != "" {
		if _, err := w.registry.Get(documentID); err != nil {
			return err
		}
	}
	w.viewMu.Lock()
	w.selectedID = documentID
	w.viewMu.Unlock()

	w.bus.Publish(reasonSelectionChanged)
	return nil
}

func (w *Workspace) Selected() (domain.Document, bool) {
	w.viewMu.RLock()
	id := w.selectedID
	w.viewMu.RUnlock()
	if id == "" {
		return domain.Document{}, false
	}
	doc, err := w.registry.Get(id)
	if err != nil {
		return domain.Document{}, false
	}
	return doc, true
}

func (w *Workspace) Summary() summary.Summary {
	docs, _ := w.registry.Snapshot()
	return summary.Build(docs)
}

// ExportSummary renders the flat table for view. When an archive is
// configured the export is stored there too; archive failures are logged and
// do not fail the export.
func (w *Workspace) ExportSummary(ctx context.Context, view summary.View) (domain.ExportRecord, error) {
	view, err := summary.ParseView(string(view))
	if err != nil {
		return domain.ExportRecord{}, err
	}
	docs, _ := w.registry.Snapshot()
	record := summary.Record(uuid.NewString(), view, summary.Rows(docs), w.now().UTC())

	if w.archive != nil {
		if err := w.archive.SaveExport(ctx, record); err != nil {
			w.logger.Warn("export_archive_failed", "export_id", record.ID, "view", record.View, "error", err)
		}
	}
	w.logger.Info("summary_exported", "export_id", record.ID, "view", record.View, "rows", len(record.Rows))
	return record, nil
}

// Close stops background scanning and detaches every subscriber.
func (w *Workspace) Close() {
	w.scheduler.Shutdown()
	w.bus.Close()
}
