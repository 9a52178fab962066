package httpadapter

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

const multipartMemory = 8 << 20

type uploadResponse struct {
	Documents []domain.Document `json:"documents"`
	Started   bool              `json:"started"`
}

// uploadDocuments stores every multipart "file" part and ingests it.
// ?start=true kicks off quick scanning once all parts are ingested.
func (rt *Router) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadMB > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(rt.cfg.MaxUploadMB)<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error":      fmt.Sprintf("upload exceeds %d MB", rt.cfg.MaxUploadMB),
				"request_id": requestIDFromContext(r.Context()),
			})
			return
		}
		writeError(w, r, rt.logger, domain.WrapError(domain.ErrInvalidInput, "parse multipart form", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["file"]
	if len(parts) == 0 {
		writeError(w, r, rt.logger, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("multipart field 'file' is required")))
		return
	}

	docs := make([]domain.Document, 0, len(parts))
	for _, part := range parts {
		doc, err := rt.uploadPart(r, part)
		if err != nil {
			writeError(w, r, rt.logger, err)
			return
		}
		docs = append(docs, doc)
	}

	started := false
	if start, _ := strconv.ParseBool(r.URL.Query().Get("start")); start {
		started = rt.ws.StartProcessing(r.Context())
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{Documents: docs, Started: started})
}

func (rt *Router) uploadPart(r *http.Request, part *multipart.FileHeader) (domain.Document, error) {
	file, err := part.Open()
	if err != nil {
		return domain.Document{}, fmt.Errorf("open multipart file: %w", err)
	}
	defer file.Close()

	doc, err := rt.ws.Upload(r.Context(), part.Filename, file)
	if err != nil {
		return domain.Document{}, err
	}
	if rt.httpMetrics != nil {
		rt.httpMetrics.RecordUpload(part.Size)
	}
	return doc, nil
}

// listDocuments returns the active view. Any filter query parameter switches
// to an ad-hoc query that leaves the stored filter untouched.
func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("search") && !q.Has("kind") && !q.Has("has_metadata") && !q.Has("size_bucket") {
		writeJSON(w, http.StatusOK, map[string]any{"documents": rt.ws.Filtered()})
		return
	}
	filter, err := domain.Filter{
		Search:      q.Get("search"),
		Kind:        domain.DocumentKind(q.Get("kind")),
		HasMetadata: domain.MetadataPresence(q.Get("has_metadata")),
		SizeBucket:  domain.SizeBucket(q.Get("size_bucket")),
	}.Normalize()
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": rt.ws.Query(filter)})
}

func (rt *Router) clearDocuments(w http.ResponseWriter, _ *http.Request) {
	rt.ws.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.ws.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) runStage(w http.ResponseWriter, r *http.Request) {
	stage, err := domain.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	outcome, err := rt.ws.RunStage(r.Context(), chi.URLParam(r, "id"), stage)
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
