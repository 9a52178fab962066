package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kirillkom/document-scanner/internal/core/domain"
)

const (
	sseKeepAlive   = 15 * time.Second
	sseEventBuffer = 16
)

// streamEvents sends the current snapshot, then every published snapshot,
// as server-sent events until the client disconnects.
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	updates := make(chan domain.Snapshot, sseEventBuffer)
	done := make(chan struct{})
	unsubscribe := rt.ws.Subscribe(func(s domain.Snapshot) {
		select {
		case updates <- s:
		case <-done:
		}
	})
	defer unsubscribe()
	defer close(done)

	if err := writeSnapshotEvent(w, rc, rt.ws.Current()); err != nil {
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.streams:
			return
		case s := <-updates:
			if err := writeSnapshotEvent(w, rc, s); err != nil {
				rt.logger.Debug("sse_client_gone", "request_id", requestIDFromContext(ctx), "error", err)
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeSnapshotEvent(w http.ResponseWriter, rc *http.ResponseController, s domain.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", s.Seq, payload); err != nil {
		return err
	}
	return rc.Flush()
}
