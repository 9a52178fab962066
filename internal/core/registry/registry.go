// Package registry owns the canonical, ordered collection of tracked documents.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

// Notifier is told about every successful mutation.
type Notifier interface {
	Publish(reason string) uint64
}

const (
	ReasonAdded    = "documents_added"
	ReasonUpdated  = "document_updated"
	ReasonAdmitted = "documents_admitted"
	ReasonCleared  = "registry_cleared"
)

// Registry is the single source of mutable truth. Readers always receive deep
// copies taken under the read lock, so they never observe a half-applied update.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	docs     map[string]*domain.Document
	epoch    uint64
	epochCtx context.Context
	cancel   context.CancelFunc

	notifier Notifier
}

func New(notifier Notifier) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		docs:     make(map[string]*domain.Document),
		epochCtx: ctx,
		cancel:   cancel,
		notifier: notifier,
	}
}

// SetNotifier attaches the change notifier after construction.
func (r *Registry) SetNotifier(notifier Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = notifier
}

// Add appends documents in order. It is all-or-nothing: an identity collision
// with an existing document or within the batch adds nothing.
func (r *Registry) Add(docs ...domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	r.mu.Lock()
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if doc.ID == "" {
			r.mu.Unlock()
			return domain.WrapError(domain.ErrInvalidInput, "registry add", fmt.Errorf("document %q has empty id", doc.FileName))
		}
		if doc.Scan.Phase != domain.PhaseQueued {
			r.mu.Unlock()
			return domain.WrapError(domain.ErrInvalidInput, "registry add", fmt.Errorf("document %s must start queued, got %s", doc.ID, doc.Scan.Phase))
		}
		if _, ok := r.docs[doc.ID]; ok {
			r.mu.Unlock()
			return domain.WrapError(domain.ErrDuplicateIdentity, "registry add", fmt.Errorf("id=%s", doc.ID))
		}
		if _, ok := seen[doc.ID]; ok {
			r.mu.Unlock()
			return domain.WrapError(domain.ErrDuplicateIdentity, "registry add", fmt.Errorf("id=%s repeated in batch", doc.ID))
		}
		seen[doc.ID] = struct{}{}
	}
	for _, doc := range docs {
		stored := doc.Clone()
		r.docs[doc.ID] = &stored
		r.order = append(r.order, doc.ID)
	}
	r.mu.Unlock()

	r.publish(ReasonAdded)
	return nil
}

func (r *Registry) Get(id string) (domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return domain.Document{}, notFound("registry get", id)
	}
	return doc.Clone(), nil
}

// Update applies mutate to a private copy and swaps it in only if mutate succeeds.
func (r *Registry) Update(id string, mutate func(*domain.Document) error) (domain.Document, error) {
	r.mu.Lock()
	updated, err := r.updateLocked(id, mutate)
	r.mu.Unlock()
	if err != nil {
		return domain.Document{}, err
	}
	r.publish(ReasonUpdated)
	return updated, nil
}

// UpdateInEpoch is Update guarded by the epoch the caller started in. If the
// registry was cleared since then, the mutation is refused with ErrStaleResult.
func (r *Registry) UpdateInEpoch(epoch uint64, id string, mutate func(*domain.Document) error) (domain.Document, error) {
	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return domain.Document{}, domain.WrapError(domain.ErrStaleResult, "registry update", fmt.Errorf("id=%s epoch=%d current=%d", id, epoch, r.epoch))
	}
	updated, err := r.updateLocked(id, mutate)
	r.mu.Unlock()
	if err != nil {
		return domain.Document{}, err
	}
	r.publish(ReasonUpdated)
	return updated, nil
}

func (r *Registry) updateLocked(id string, mutate func(*domain.Document) error) (domain.Document, error) {
	current, ok := r.docs[id]
	if !ok {
		return domain.Document{}, notFound("registry update", id)
	}

	working := current.Clone()
	if err := mutate(&working); err != nil {
		return domain.Document{}, err
	}
	if working.ID != id {
		return domain.Document{}, domain.WrapError(domain.ErrInvalidInput, "registry update", fmt.Errorf("identity of %s cannot change", id))
	}
	r.docs[id] = &working
	return working.Clone(), nil
}

// Admit moves up to limit queued documents, in insertion order, to quick-scanning.
// Selection and transition happen under one lock so no document is admitted twice.
func (r *Registry) Admit(epoch uint64, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	if r.epoch != epoch {
		r.mu.Unlock()
		return nil, domain.WrapError(domain.ErrStaleResult, "registry admit", fmt.Errorf("epoch=%d current=%d", epoch, r.epoch))
	}
	admitted := make([]domain.Document, 0, limit)
	for _, id := range r.order {
		if len(admitted) == limit {
			break
		}
		doc := r.docs[id]
		if doc.Scan.Phase != domain.PhaseQueued {
			continue
		}
		if err := doc.Transition(domain.PhaseQuickScanning, ""); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		admitted = append(admitted, doc.Clone())
	}
	r.mu.Unlock()

	if len(admitted) > 0 {
		r.publish(ReasonAdmitted)
	}
	return admitted, nil
}

// Query returns matching documents in insertion order from one consistent view.
func (r *Registry) Query(filter domain.Filter) []domain.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Document, 0, len(r.order))
	for _, id := range r.order {
		doc := r.docs[id]
		if filter.Matches(*doc) {
			out = append(out, doc.Clone())
		}
	}
	return out
}

// Snapshot returns every document plus the epoch they belong to.
func (r *Registry) Snapshot() ([]domain.Document, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Document, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.docs[id].Clone())
	}
	return out, r.epoch
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// CountPhase returns how many documents are currently in phase.
func (r *Registry) CountPhase(phase domain.ScanPhase) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, doc := range r.docs {
		if doc.Scan.Phase == phase {
			n++
		}
	}
	return n
}

// Epoch returns the current epoch and a context cancelled when it ends.
func (r *Registry) Epoch() (uint64, context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch, r.epochCtx
}

// Clear empties the registry, starts a new epoch and cancels work bound to the old one.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.order = nil
	r.docs = make(map[string]*domain.Document)
	r.epoch++
	r.cancel()
	r.epochCtx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	r.publish(ReasonCleared)
}

func (r *Registry) publish(reason string) {
	r.mu.RLock()
	notifier := r.notifier
	r.mu.RUnlock()
	if notifier != nil {
		notifier.Publish(reason)
	}
}

func notFound(op, id string) error {
	return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
}
