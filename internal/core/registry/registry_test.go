package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

type notifierFake struct {
	mu      sync.Mutex
	reasons []string
}

func (f *notifierFake) Publish(reason string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return uint64(len(f.reasons))
}

func (f *notifierFake) Reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

func queuedDoc(id string) domain.Document {
	return domain.NewDocument(id, id+".txt", 10, time.Time{}, domain.SourceRef(id), time.Unix(0, 0).UTC())
}

func TestAddGetAndNotify(t *testing.T) {
	notifier := &notifierFake{}
	reg := New(notifier)

	if err := reg.Add(queuedDoc("a"), queuedDoc("b")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	doc, err := reg.Get("a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.Scan.Phase != domain.PhaseQueued {
		t.Fatalf("expected queued, got %s", doc.Scan.Phase)
	}
	if got := notifier.Reasons(); len(got) != 1 || got[0] != ReasonAdded {
		t.Fatalf("expected one added notification, got %v", got)
	}
}

func TestAddRejectsDuplicateIdentity(t *testing.T) {
	reg := New(nil)
	if err := reg.Add(queuedDoc("a")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := reg.Add(queuedDoc("b"), queuedDoc("a"))
	if !domain.IsKind(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected all-or-nothing add, got %d docs", reg.Len())
	}

	err = reg.Add(queuedDoc("c"), queuedDoc("c"))
	if !domain.IsKind(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected in-batch duplicate rejected, got %v", err)
	}
}

func TestAddRejectsNonQueuedDocument(t *testing.T) {
	reg := New(nil)
	doc := queuedDoc("a")
	doc.Scan.Phase = domain.PhaseCompleted
	if err := reg.Add(doc); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	reg := New(nil)
	if _, err := reg.Get("missing"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	_, err := reg.Update("missing", func(*domain.Document) error { return nil })
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound on update, got %v", err)
	}
}

func TestUpdateIsAllOrNothing(t *testing.T) {
	reg := New(nil)
	_ = reg.Add(queuedDoc("a"))

	boom := errors.New("boom")
	_, err := reg.Update("a", func(d *domain.Document) error {
		d.Classification = domain.Classification{Kind: domain.KindInvoice, Confidence: 0.9}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	doc, _ := reg.Get("a")
	if doc.Classification.Kind != domain.KindUnknown {
		t.Fatalf("expected failed mutation discarded, got %+v", doc.Classification)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	reg := New(nil)
	_ = reg.Add(queuedDoc("a"))

	doc, _ := reg.Get("a")
	doc.KeyData.Names = append(doc.KeyData.Names, "Leaked Name")

	again, _ := reg.Get("a")
	if len(again.KeyData.Names) != 0 {
		t.Fatalf("expected registry state untouched, got %v", again.KeyData.Names)
	}
}

func TestAdmitIsFIFOAndBounded(t *testing.T) {
	reg := New(nil)
	for i := 0; i < 5; i++ {
		_ = reg.Add(queuedDoc(fmt.Sprintf("d%d", i)))
	}
	epoch, _ := reg.Epoch()

	first, err := reg.Admit(epoch, 3)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if len(first) != 3 || first[0].ID != "d0" || first[1].ID != "d1" || first[2].ID != "d2" {
		t.Fatalf("unexpected first batch %v", ids(first))
	}
	for _, doc := range first {
		if doc.Scan.Phase != domain.PhaseQuickScanning {
			t.Fatalf("expected quick-scanning, got %s", doc.Scan.Phase)
		}
	}

	second, _ := reg.Admit(epoch, 3)
	if len(second) != 2 || second[0].ID != "d3" || second[1].ID != "d4" {
		t.Fatalf("unexpected second batch %v", ids(second))
	}
	third, _ := reg.Admit(epoch, 3)
	if len(third) != 0 {
		t.Fatalf("expected nothing left to admit, got %v", ids(third))
	}
}

func TestClearInvalidatesEpoch(t *testing.T) {
	notifier := &notifierFake{}
	reg := New(notifier)
	_ = reg.Add(queuedDoc("a"))
	epoch, ctx := reg.Epoch()

	reg.Clear()

	if ctx.Err() == nil {
		t.Fatalf("expected epoch context cancelled")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
	_, err := reg.UpdateInEpoch(epoch, "a", func(*domain.Document) error { return nil })
	if !domain.IsKind(err, domain.ErrStaleResult) {
		t.Fatalf("expected ErrStaleResult, got %v", err)
	}
	if _, err := reg.Admit(epoch, 1); !domain.IsKind(err, domain.ErrStaleResult) {
		t.Fatalf("expected stale admit, got %v", err)
	}

	newEpoch, newCtx := reg.Epoch()
	if newEpoch == epoch || newCtx.Err() != nil {
		t.Fatalf("expected fresh epoch, got %d (ctx err %v)", newEpoch, newCtx.Err())
	}
	reasons := notifier.Reasons()
	if reasons[len(reasons)-1] != ReasonCleared {
		t.Fatalf("expected cleared notification last, got %v", reasons)
	}
}

func TestQueryFiltersInInsertionOrder(t *testing.T) {
	reg := New(nil)
	a := queuedDoc("a")
	b := domain.NewDocument("b", "factura-enero.pdf", 5*1024*1024, time.Time{}, "b", time.Unix(0, 0))
	c := queuedDoc("c")
	_ = reg.Add(a, b, c)

	all := reg.Query(domain.DefaultFilter())
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Fatalf("unexpected order %v", ids(all))
	}

	got := reg.Query(domain.Filter{Search: "FACTURA"})
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected search match on b, got %v", ids(got))
	}
	got = reg.Query(domain.Filter{SizeBucket: domain.SizeMedium})
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected medium bucket match on b, got %v", ids(got))
	}
}

func TestConcurrentReadersNeverSeeHalfAppliedUpdate(t *testing.T) {
	reg := New(nil)
	_ = reg.Add(queuedDoc("a"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	failures := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			doc, _ := reg.Get("a")
			if len(doc.KeyData.Names) != len(doc.KeyData.RFCs) {
				select {
				case failures <- fmt.Sprintf("names=%d rfcs=%d", len(doc.KeyData.Names), len(doc.KeyData.RFCs)):
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		_, _ = reg.Update("a", func(d *domain.Document) error {
			d.KeyData.Names = append(d.KeyData.Names, "N")
			d.KeyData.RFCs = append(d.KeyData.RFCs, "R")
			return nil
		})
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-failures:
		t.Fatalf("observed half-applied update: %s", msg)
	default:
	}
}

func ids(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
