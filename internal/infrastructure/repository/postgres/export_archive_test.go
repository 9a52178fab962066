package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/infrastructure/resilience"
)

func newArchiveWithMock(t *testing.T, executor *resilience.Executor) (*ExportArchive, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewExportArchive(db, executor), mock, func() { _ = db.Close() }
}

func record() domain.ExportRecord {
	return domain.ExportRecord{
		ID:        "exp-1",
		View:      "classification",
		CreatedAt: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
		Columns:   []string{"file_name", "kind"},
		Rows:      [][]string{{"a.pdf", "invoice"}, {"b.xlsx", "tabular_data"}},
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	archive, mock, done := newArchiveWithMock(t, nil)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS summary_exports").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := archive.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveExportWritesHeaderAndRowsInOneTx(t *testing.T) {
	archive, mock, done := newArchiveWithMock(t, nil)
	defer done()

	rec := record()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO summary_exports").
		WithArgs("exp-1", "classification", []byte(`["file_name","kind"]`), 2, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO summary_export_rows")
	prep.ExpectExec().WithArgs("exp-1", 0, []byte(`["a.pdf","invoice"]`)).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("exp-1", 1, []byte(`["b.xlsx","tabular_data"]`)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := archive.SaveExport(context.Background(), rec); err != nil {
		t.Fatalf("SaveExport() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveExportRollsBackOnRowFailure(t *testing.T) {
	archive, mock, done := newArchiveWithMock(t, nil)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO summary_exports").WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO summary_export_rows")
	prep.ExpectExec().WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	if err := archive.SaveExport(context.Background(), record()); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveExportRetriesFailedBegin(t *testing.T) {
	exec := resilience.NewExecutor(resilience.Policy{Attempts: 2, InitialBackoff: time.Millisecond}, nil)
	archive, mock, done := newArchiveWithMock(t, exec)
	defer done()

	rec := record()
	rec.Rows = nil
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO summary_exports").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare("INSERT INTO summary_export_rows")
	mock.ExpectCommit()

	if err := archive.SaveExport(context.Background(), rec); err != nil {
		t.Fatalf("SaveExport() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveExportRejectsEmptyID(t *testing.T) {
	archive, _, done := newArchiveWithMock(t, nil)
	defer done()

	if err := archive.SaveExport(context.Background(), domain.ExportRecord{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetExportReturnsNotFound(t *testing.T) {
	archive, mock, done := newArchiveWithMock(t, nil)
	defer done()

	mock.ExpectQuery("SELECT id, view, columns, row_count, created_at FROM summary_exports").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := archive.GetExport(context.Background(), "missing"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetExportLoadsRowsInOrder(t *testing.T) {
	archive, mock, done := newArchiveWithMock(t, nil)
	defer done()

	created := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectQuery("SELECT id, view, columns, row_count, created_at FROM summary_exports").
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "view", "columns", "row_count", "created_at"}).
			AddRow("exp-1", "all", []byte(`["file_name"]`), 2, created))
	mock.ExpectQuery("SELECT cells FROM summary_export_rows").
		WithArgs("exp-1").
		WillReturnRows(sqlmock.NewRows([]string{"cells"}).
			AddRow([]byte(`["a.pdf"]`)).
			AddRow([]byte(`["b.pdf"]`)))

	rec, err := archive.GetExport(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("GetExport() error = %v", err)
	}
	if rec.View != "all" || len(rec.Rows) != 2 || rec.Rows[1][0] != "b.pdf" || rec.Columns[0] != "file_name" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestListExportsClampsLimit(t *testing.T) {
	archive, mock, done := newArchiveWithMock(t, nil)
	defer done()

	mock.ExpectQuery("SELECT id, view, columns, row_count, created_at").
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "view", "columns", "row_count", "created_at"}).
			AddRow("exp-2", "keydata", []byte(`["a","b"]`), 4, time.Now()))

	got, err := archive.ListExports(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListExports() error = %v", err)
	}
	if len(got) != 1 || got[0].RowCount != 4 || len(got[0].Columns) != 2 {
		t.Fatalf("unexpected headers %+v", got)
	}
}
