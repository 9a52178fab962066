package httpadapter

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/summary"
	"github.com/kirillkom/document-scanner/internal/infrastructure/export"
)

func (rt *Router) summary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.ws.Summary())
}

// exportSummary renders the flat table for ?view= in ?format= (csv, xlsx or json).
func (rt *Router) exportSummary(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	view, err := summary.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	rec, err := rt.ws.ExportSummary(r.Context(), view)
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordExport(string(format), string(view))
	}
	rt.writeExport(w, r, format, rec)
}

func (rt *Router) listExports(w http.ResponseWriter, r *http.Request) {
	if rt.catalog == nil {
		writeError(w, r, rt.logger, errArchiveDisabled)
		return
	}
	headers, err := rt.catalog.ListExports(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": headers})
}

func (rt *Router) getExport(w http.ResponseWriter, r *http.Request) {
	if rt.catalog == nil {
		writeError(w, r, rt.logger, errArchiveDisabled)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	rec, err := rt.catalog.GetExport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	rt.writeExport(w, r, format, rec)
}

var errArchiveDisabled = domain.WrapError(domain.ErrDocumentNotFound, "export archive", errors.New("archive is not configured"))

// writeExport buffers the rendered file so encoder failures still map to a
// JSON error instead of a truncated download.
func (rt *Router) writeExport(w http.ResponseWriter, r *http.Request, format export.Format, rec domain.ExportRecord) {
	var buf bytes.Buffer
	if err := export.Write(&buf, format, rec); err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.FileName(rec)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		rt.logger.Warn("export_write_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}
