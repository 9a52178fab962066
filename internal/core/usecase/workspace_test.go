package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/summary"
)

func TestStartProcessingCompletesQueuedDocuments(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	f.ingest(t, "factura-enero.txt", "notas.txt", "scan.png", "memo.docx")

	if !f.ws.StartProcessing(context.Background()) {
		t.Fatalf("expected processing to start")
	}
	f.ws.WaitForScan()

	job := f.ws.Progress()
	if job.IsRunning || job.EstimatedRemaining != 0 {
		t.Fatalf("expected finished job, got %+v", job)
	}
	if job.TotalAdmitted != 4 || job.TotalProcessed != 4 || job.Phases.Completed != 4 {
		t.Fatalf("unexpected job counters %+v", job)
	}
	if job.Batches != 2 {
		t.Fatalf("expected 2 batches for 4 docs at size 3, got %d", job.Batches)
	}

	invoice := f.ws.Query(domain.Filter{Search: "factura"})
	if len(invoice) != 1 || invoice[0].Classification.Kind != domain.KindInvoice {
		t.Fatalf("expected invoice classification, got %+v", invoice)
	}
}

func TestStartProcessingWithNothingQueued(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	if f.ws.StartProcessing(context.Background()) {
		t.Fatalf("expected no run without queued documents")
	}
}

func TestRunOCRIsNoOpForDocx(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	docs := f.ingest(t, "scan.png", "memo.docx")
	f.ws.StartProcessing(context.Background())
	f.ws.WaitForScan()

	out, err := f.ws.RunOCR(context.Background(), docs[1].ID)
	if err != nil {
		t.Fatalf("RunOCR() error = %v", err)
	}
	if !out.Skipped || out.Document.OCR != nil {
		t.Fatalf("expected docx OCR no-op, got %+v", out)
	}

	out, err = f.ws.RunOCR(context.Background(), docs[0].ID)
	if err != nil || !out.Applied || out.Document.OCR == nil {
		t.Fatalf("expected png OCR applied, got %+v, %v", out, err)
	}
}

func TestReclassifyUnknownDocument(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	if _, err := f.ws.Reclassify(context.Background(), "nope"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestRunKeyDataFullWithoutAnalyzerIsInvalid(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	docs := f.ingest(t, "a.txt")
	if _, err := f.ws.RunKeyDataFull(context.Background(), docs[0].ID); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unconfigured stage, got %v", err)
	}
}

func TestClearAllResetsEverything(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	docs := f.ingest(t, "a.txt", "b.txt")
	f.ws.StartProcessing(context.Background())
	f.ws.WaitForScan()
	if err := f.ws.SelectDocument(docs[0].ID); err != nil {
		t.Fatalf("SelectDocument() error = %v", err)
	}

	f.ws.ClearAll()

	if got := len(f.ws.Filtered()); got != 0 {
		t.Fatalf("expected empty registry, got %d", got)
	}
	if _, ok := f.ws.Selected(); ok {
		t.Fatalf("expected selection cleared")
	}
	job := f.ws.Progress()
	if job.TotalAdmitted != 0 || job.TotalProcessed != 0 || job.StartedAt != nil {
		t.Fatalf("expected reset job, got %+v", job)
	}
	if s := f.ws.Summary(); s.TotalDocs != 0 || len(s.DistributionByKind) != 0 {
		t.Fatalf("expected empty summary, got %+v", s)
	}
}

func TestResetScanJobClearsCounters(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	f.ingest(t, "a.txt")
	f.ws.StartProcessing(context.Background())
	f.ws.WaitForScan()

	f.ws.ResetScanJob()
	if job := f.ws.Progress(); job.TotalProcessed != 0 || job.Phases.Completed != 1 {
		t.Fatalf("expected counters reset but phases kept, got %+v", job)
	}
}

func TestSetFilterValidatesAndApplies(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	f.ingest(t, "factura.txt", "notas.txt")

	if _, err := f.ws.SetFilter(domain.Filter{SizeBucket: "huge"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	applied, err := f.ws.SetFilter(domain.Filter{Search: "  FACTURA "})
	if err != nil {
		t.Fatalf("SetFilter() error = %v", err)
	}
	if applied.Search != "FACTURA" || applied.Kind != domain.KindAll {
		t.Fatalf("expected normalized filter, got %+v", applied)
	}
	got := f.ws.Filtered()
	if len(got) != 1 || got[0].FileName != "factura.txt" {
		t.Fatalf("expected filtered result, got %+v", got)
	}
	if snap := f.ws.Current(); snap.Filter.Search != "FACTURA" {
		t.Fatalf("expected snapshot to carry filter, got %+v", snap.Filter)
	}
}

func TestSelectDocument(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	docs := f.ingest(t, "a.txt")

	if err := f.ws.SelectDocument("missing"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := f.ws.SelectDocument(docs[0].ID); err != nil {
		t.Fatalf("SelectDocument() error = %v", err)
	}
	selected, ok := f.ws.Selected()
	if !ok || selected.ID != docs[0].ID {
		t.Fatalf("expected selected doc, got %+v %v", selected, ok)
	}
	if err := f.ws.SelectDocument(""); err != nil {
		t.Fatalf("clearing selection error = %v", err)
	}
	if _, ok := f.ws.Selected(); ok {
		t.Fatalf("expected no selection")
	}
}

func TestSubscribersSeeOrderedSnapshots(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})

	var mu sync.Mutex
	var seqs []uint64
	var last domain.Snapshot
	unsubscribe := f.ws.Subscribe(func(s domain.Snapshot) {
		mu.Lock()
		seqs = append(seqs, s.Seq)
		last = s
		mu.Unlock()
	})
	defer unsubscribe()

	f.ingest(t, "a.txt", "b.txt")
	f.ws.StartProcessing(context.Background())
	f.ws.WaitForScan()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := last.Job.Phases.Completed == 2 && !last.Job.IsRunning
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never observed the completed state, last = %+v", last.Job)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("snapshots out of order: %v", seqs)
		}
	}
	for _, doc := range last.Documents {
		if doc.Scan.Phase != domain.PhaseCompleted {
			t.Fatalf("expected consistent final snapshot, got %+v", doc.Scan)
		}
	}
}

func TestExportSummaryArchivesRecord(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	f.ingest(t, "factura.txt", "notas.txt")
	f.ws.StartProcessing(context.Background())
	f.ws.WaitForScan()

	rec, err := f.ws.ExportSummary(context.Background(), summary.ViewClassification)
	if err != nil {
		t.Fatalf("ExportSummary() error = %v", err)
	}
	if rec.ID == "" || rec.View != string(summary.ViewClassification) || len(rec.Rows) != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(f.archive.saved) != 1 || f.archive.saved[0].ID != rec.ID {
		t.Fatalf("expected record archived, got %+v", f.archive.saved)
	}
}

func TestExportSummarySurvivesArchiveFailure(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	f.archive.saveErr = errors.New("db down")
	if _, err := f.ws.ExportSummary(context.Background(), summary.ViewAll); err != nil {
		t.Fatalf("expected export despite archive failure, got %v", err)
	}
}

func TestExportSummaryRejectsUnknownView(t *testing.T) {
	f := newFixture(t, &sequentialIDs{})
	if _, err := f.ws.ExportSummary(context.Background(), summary.View("bogus")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
