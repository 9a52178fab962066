package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

// Ingest appends one document per item, in order. Zero-size items are
// skipped. A duplicate identity is a contract violation and adds nothing.
func (w *Workspace) Ingest(ctx context.Context, items []ports.IngestItem) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	docs := make([]domain.Document, 0, len(items))
	for i, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("item %d has no name", i))
		}
		if item.Ref == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("item %q has no content reference", name))
		}
		if item.SizeBytes <= 0 {
			w.logger.Debug("ingest_skipped_empty", "file_name", name)
			continue
		}
		docs = append(docs, domain.NewDocument(w.ids.NewID(name), name, item.SizeBytes, item.ModifiedAt, item.Ref, now))
	}
	if len(docs) == 0 {
		return []domain.Document{}, nil
	}

	w.ingestMu.Lock()
	err := w.registry.Add(docs...)
	if err == nil {
		w.reporter.Admit(len(docs))
	}
	w.ingestMu.Unlock()

	if err != nil {
		if domain.IsKind(err, domain.ErrDuplicateIdentity) {
			w.logger.Error("ingest_duplicate_identity", "error", err)
		}
		return nil, fmt.Errorf("add documents: %w", err)
	}
	w.logger.Info("documents_ingested", "count", len(docs), "skipped", len(items)-len(docs))
	return docs, nil
}

// Upload stores body in object storage and ingests it as one document.
func (w *Workspace) Upload(ctx context.Context, filename string, body io.Reader) (domain.Document, error) {
	if w.storage == nil {
		return domain.Document{}, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("object storage is not configured"))
	}
	storageKey := fmt.Sprintf("%s_%s", w.ids.NewID(filename), sanitizeFilename(filename))

	ref, err := w.storage.Save(ctx, storageKey, body)
	if err != nil {
		return domain.Document{}, fmt.Errorf("save to object storage: %w", err)
	}
	info, err := w.storage.Stat(ctx, ref)
	if err != nil {
		return domain.Document{}, fmt.Errorf("stat stored object: %w", err)
	}
	if info.SizeBytes <= 0 {
		return domain.Document{}, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("file %q is empty", filename))
	}

	docs, err := w.Ingest(ctx, []ports.IngestItem{{
		Name:       filepath.Base(filename),
		SizeBytes:  info.SizeBytes,
		ModifiedAt: info.ModifiedAt,
		Ref:        ref,
	}})
	if err != nil {
		return domain.Document{}, err
	}
	return docs[0], nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
