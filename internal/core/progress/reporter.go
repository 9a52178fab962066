// Package progress derives the aggregate scan job view from batch outcomes.
package progress

import (
	"sync"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

const DefaultAssumedCost = 500 * time.Millisecond

const ReasonProgress = "progress_updated"

// Notifier is told whenever the job view changes.
type Notifier interface {
	Publish(reason string) uint64
}

// Reporter tracks one scan run. Its estimate is remaining documents times the
// observed per-document cost, and it never grows unless new documents were
// admitted since the previous estimate.
type Reporter struct {
	mu sync.Mutex

	assumed   time.Duration
	now       func() time.Time
	notifier  Notifier
	running   bool
	admitted  int
	processed int
	batches   int
	startedAt *time.Time
	observed  time.Duration
	estimate  time.Duration
}

func NewReporter(assumedCost time.Duration, notifier Notifier) *Reporter {
	if assumedCost <= 0 {
		assumedCost = DefaultAssumedCost
	}
	return &Reporter{
		assumed:  assumedCost,
		now:      time.Now,
		notifier: notifier,
	}
}

func (r *Reporter) SetNotifier(notifier Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = notifier
}

// Begin starts a run over admitted queued documents.
func (r *Reporter) Begin(admitted int) {
	if admitted < 0 {
		admitted = 0
	}
	r.mu.Lock()
	started := r.now().UTC()
	r.running = true
	r.admitted = admitted
	r.processed = 0
	r.batches = 0
	r.observed = 0
	r.startedAt = &started
	r.estimate = r.projectLocked()
	r.mu.Unlock()

	r.publish()
}

// Admit accounts for documents ingested while a run is in progress.
// It is a no-op when nothing is running.
func (r *Reporter) Admit(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.admitted += n
	r.estimate = r.projectLocked()
	r.mu.Unlock()

	r.publish()
}

// BatchSettled records that n documents reached a terminal phase in elapsed wall time.
func (r *Reporter) BatchSettled(n int, elapsed time.Duration) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.batches++
	if n > 0 {
		if r.processed+n > r.admitted {
			n = r.admitted - r.processed
		}
		r.processed += n
		if elapsed > 0 {
			r.observed += elapsed
		}
	}
	if next := r.projectLocked(); next < r.estimate {
		r.estimate = next
	}
	r.mu.Unlock()

	r.publish()
}

// Finish ends the run. Counters stay visible until Reset or the next Begin.
func (r *Reporter) Finish() {
	r.mu.Lock()
	r.running = false
	r.estimate = 0
	r.mu.Unlock()

	r.publish()
}

// FinishUnless ends the run unless pending reports more work. pending runs
// under the reporter lock, the same lock Admit takes, so a document admitted
// concurrently is either seen by pending or not counted in this run.
func (r *Reporter) FinishUnless(pending func() bool) bool {
	r.mu.Lock()
	if r.running && pending != nil && pending() {
		r.mu.Unlock()
		return false
	}
	r.running = false
	r.estimate = 0
	r.mu.Unlock()

	r.publish()
	return true
}

// Reset clears every counter.
func (r *Reporter) Reset() {
	r.mu.Lock()
	r.running = false
	r.admitted = 0
	r.processed = 0
	r.batches = 0
	r.observed = 0
	r.startedAt = nil
	r.estimate = 0
	r.mu.Unlock()

	r.publish()
}

// Current returns the job view without phase counts; callers add those from the registry.
func (r *Reporter) Current() domain.ScanJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := domain.ScanJob{
		IsRunning:          r.running,
		TotalAdmitted:      r.admitted,
		TotalProcessed:     r.processed,
		EstimatedRemaining: r.estimate,
		Batches:            r.batches,
	}
	if r.startedAt != nil {
		started := *r.startedAt
		job.StartedAt = &started
	}
	if !r.running {
		job.EstimatedRemaining = 0
	}
	return job
}

func (r *Reporter) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reporter) projectLocked() time.Duration {
	if !r.running {
		return 0
	}
	remaining := r.admitted - r.processed
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * r.perDocumentLocked()
}

func (r *Reporter) perDocumentLocked() time.Duration {
	if r.processed == 0 || r.observed <= 0 {
		return r.assumed
	}
	return r.observed / time.Duration(r.processed)
}

func (r *Reporter) publish() {
	r.mu.Lock()
	notifier := r.notifier
	r.mu.Unlock()
	if notifier != nil {
		notifier.Publish(ReasonProgress)
	}
}
