// Package postgres archives exported summary tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/infrastructure/resilience"
)

const schemaLockKey int64 = 2026101601

var _ ports.ExportArchive = (*ExportArchive)(nil)

type ExportArchive struct {
	db       *sql.DB
	executor *resilience.Executor
}

// NewExportArchive wraps db. A nil executor runs every statement once.
func NewExportArchive(db *sql.DB, executor *resilience.Executor) *ExportArchive {
	return &ExportArchive{db: db, executor: executor}
}

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.WrapError(domain.ErrTemporary, "db ping", err)
	}
	return db, nil
}

func (a *ExportArchive) EnsureSchema(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// api and worker may start together
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS summary_exports (
	id TEXT PRIMARY KEY,
	view TEXT NOT NULL,
	columns JSONB NOT NULL,
	row_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_export_rows (
	export_id TEXT NOT NULL REFERENCES summary_exports(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	cells JSONB NOT NULL,
	PRIMARY KEY (export_id, position)
);

CREATE INDEX IF NOT EXISTS idx_summary_exports_created_at ON summary_exports(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveExport stores the header and every row in one transaction.
func (a *ExportArchive) SaveExport(ctx context.Context, export domain.ExportRecord) error {
	if export.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save export", errors.New("export id is empty"))
	}
	columns, err := json.Marshal(export.Columns)
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}
	rows := make([][]byte, 0, len(export.Rows))
	for i, row := range export.Rows {
		cells, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal row %d: %w", i, err)
		}
		rows = append(rows, cells)
	}

	return a.run(ctx, "postgres.save_export", func(ctx context.Context) error {
		return a.saveTx(ctx, export, columns, rows)
	})
}

func (a *ExportArchive) saveTx(ctx context.Context, export domain.ExportRecord, columns []byte, rows [][]byte) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return resilience.Temporary("begin export tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertHeader = `
INSERT INTO summary_exports (id, view, columns, row_count, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, insertHeader, export.ID, export.View, columns, len(rows), export.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert export: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO summary_export_rows (export_id, position, cells) VALUES ($1, $2, $3)`)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()
	for i, cells := range rows {
		if _, err := stmt.ExecContext(ctx, export.ID, i, cells); err != nil {
			return fmt.Errorf("insert export row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return resilience.Temporary("commit export tx", err)
	}
	return nil
}

// ListExports returns the newest exports first.
func (a *ExportArchive) ListExports(ctx context.Context, limit int) ([]domain.ExportHeader, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	const query = `
SELECT id, view, columns, row_count, created_at
FROM summary_exports
ORDER BY created_at DESC
LIMIT $1`
	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ExportHeader, 0)
	for rows.Next() {
		var (
			h       domain.ExportHeader
			columns []byte
		)
		if err := rows.Scan(&h.ID, &h.View, &columns, &h.RowCount, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		if err := json.Unmarshal(columns, &h.Columns); err != nil {
			return nil, fmt.Errorf("decode export columns: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}
	return out, nil
}

// GetExport loads one archived export with its rows in order.
func (a *ExportArchive) GetExport(ctx context.Context, id string) (domain.ExportRecord, error) {
	var (
		rec     domain.ExportRecord
		columns []byte
		count   int
	)
	err := a.db.QueryRowContext(ctx, `SELECT id, view, columns, row_count, created_at FROM summary_exports WHERE id = $1`, id).
		Scan(&rec.ID, &rec.View, &columns, &count, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ExportRecord{}, domain.WrapError(domain.ErrDocumentNotFound, "get export", fmt.Errorf("id=%s", id))
		}
		return domain.ExportRecord{}, fmt.Errorf("query export: %w", err)
	}
	if err := json.Unmarshal(columns, &rec.Columns); err != nil {
		return domain.ExportRecord{}, fmt.Errorf("decode export columns: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `SELECT cells FROM summary_export_rows WHERE export_id = $1 ORDER BY position`, id)
	if err != nil {
		return domain.ExportRecord{}, fmt.Errorf("query export rows: %w", err)
	}
	defer rows.Close()

	rec.Rows = make([][]string, 0, count)
	for rows.Next() {
		var (
			raw   []byte
			cells []string
		)
		if err := rows.Scan(&raw); err != nil {
			return domain.ExportRecord{}, fmt.Errorf("scan export row: %w", err)
		}
		if err := json.Unmarshal(raw, &cells); err != nil {
			return domain.ExportRecord{}, fmt.Errorf("decode export row: %w", err)
		}
		rec.Rows = append(rec.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return domain.ExportRecord{}, fmt.Errorf("iterate export rows: %w", err)
	}
	return rec, nil
}

func (a *ExportArchive) run(ctx context.Context, op string, fn func(context.Context) error) error {
	if a.executor == nil {
		return fn(ctx)
	}
	return a.executor.Do(ctx, op, resilience.TemporaryOnly, fn)
}
