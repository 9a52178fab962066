package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/kirillkom/document-scanner/internal/config"
	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/observability/metrics"
)

// Workspace is the document workspace as seen by the HTTP layer.
type Workspace interface {
	ports.Workspace
	Upload(ctx context.Context, filename string, body io.Reader) (domain.Document, error)
	Current() domain.Snapshot
	Filter() domain.Filter
}

// RouterDeps carries the optional collaborators of the router.
type RouterDeps struct {
	// Catalog enables /v1/exports; nil responds 404 there.
	Catalog        ports.ExportCatalog
	HTTPMetrics    *metrics.HTTPServerMetrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

type Router struct {
	cfg            config.Config
	ws             Workspace
	catalog        ports.ExportCatalog
	httpMetrics    *metrics.HTTPServerMetrics
	metricsHandler http.Handler
	logger         *slog.Logger

	closeOnce sync.Once
	streams   chan struct{}
}

func NewRouter(cfg config.Config, ws Workspace, deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:            cfg,
		ws:             ws,
		catalog:        deps.Catalog,
		httpMetrics:    deps.HTTPMetrics,
		metricsHandler: deps.MetricsHandler,
		logger:         logger,
		streams:        make(chan struct{}),
	}
}

// CloseStreams ends every open event stream. Server shutdown does not
// cancel request contexts, so long-lived streams need this signal.
func (rt *Router) CloseStreams() {
	rt.closeOnce.Do(func() { close(rt.streams) })
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(rt.logger))
	r.Use(accessLogMiddleware(rt.logger))
	if rt.httpMetrics != nil {
		r.Use(rt.httpMetrics.Middleware)
	}

	r.Get("/healthz", rt.healthz)
	if rt.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", rt.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(rt.limiter()))

		// Long-lived streams stay outside the in-flight gate.
		r.Get("/events", rt.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait)
			})

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", rt.uploadDocuments)
				r.Get("/", rt.listDocuments)
				r.Delete("/", rt.clearDocuments)
				r.Get("/{id}", rt.getDocumentByID)
				r.Post("/{id}/stages/{stage}", rt.runStage)
			})

			r.Get("/filter", rt.getFilter)
			r.Put("/filter", rt.setFilter)
			r.Get("/selection", rt.getSelection)
			r.Put("/selection", rt.setSelection)

			r.Route("/pipeline", func(r chi.Router) {
				r.Post("/start", rt.startPipeline)
				r.Post("/reset", rt.resetPipeline)
				r.Get("/progress", rt.progress)
			})

			r.Get("/summary", rt.summary)
			r.Get("/summary/export", rt.exportSummary)

			r.Route("/exports", func(r chi.Router) {
				r.Get("/", rt.listExports)
				r.Get("/{id}", rt.getExport)
			})
		})
	})
	return r
}

func (rt *Router) limiter() *rate.Limiter {
	if rt.cfg.APIRateLimitRPS <= 0 {
		return nil
	}
	burst := rt.cfg.APIRateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rt.cfg.APIRateLimitRPS), burst)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) getFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.ws.Filter())
}

func (rt *Router) setFilter(w http.ResponseWriter, r *http.Request) {
	var filter domain.Filter
	if err := decodeJSON(r, &filter); err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	normalized, err := rt.ws.SetFilter(filter)
	if err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, normalized)
}

type selectionRequest struct {
	DocumentID string `json:"document_id"`
}

type selectionResponse struct {
	DocumentID string           `json:"document_id"`
	Document   *domain.Document `json:"document,omitempty"`
}

func (rt *Router) getSelection(w http.ResponseWriter, _ *http.Request) {
	doc, ok := rt.ws.Selected()
	if !ok {
		writeJSON(w, http.StatusOK, selectionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, selectionResponse{DocumentID: doc.ID, Document: &doc})
}

func (rt *Router) setSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	if err := rt.ws.SelectDocument(req.DocumentID); err != nil {
		writeError(w, r, rt.logger, err)
		return
	}
	rt.getSelection(w, r)
}

func (rt *Router) startPipeline(w http.ResponseWriter, r *http.Request) {
	started := rt.ws.StartProcessing(r.Context())
	status := http.StatusAccepted
	if !started {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"started": started,
		"job":     rt.ws.Progress(),
	})
}

func (rt *Router) resetPipeline(w http.ResponseWriter, _ *http.Request) {
	rt.ws.ResetScanJob()
	writeJSON(w, http.StatusOK, rt.ws.Progress())
}

func (rt *Router) progress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.ws.Progress())
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}
