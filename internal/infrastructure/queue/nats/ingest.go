package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/nats-io/nats.go"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

// IngestRequest is the body of an ingest message, either bare JSON or the
// data of a CloudEvent of type IngestEventType.
type IngestRequest struct {
	Items []ports.IngestItem `json:"items"`
	// Start kicks off quick scanning after the items are added.
	Start bool `json:"start"`
}

type IngestReply struct {
	DocumentIDs []string `json:"document_ids"`
	Started     bool     `json:"started"`
	Error       string   `json:"error,omitempty"`
}

// Ingestor is the workspace surface the subscriber drives.
type Ingestor interface {
	Ingest(ctx context.Context, items []ports.IngestItem) ([]domain.Document, error)
	StartProcessing(ctx context.Context) bool
}

type IngestSubscriber struct {
	conn    *nats.Conn
	subject string
	queue   string
	target  Ingestor
	logger  *slog.Logger
}

func NewIngestSubscriber(conn *nats.Conn, subject string, target Ingestor, logger *slog.Logger) *IngestSubscriber {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IngestSubscriber{conn: conn, subject: subject, queue: "scanners", target: target, logger: logger}
}

// Run consumes ingest requests until ctx is done, then drains the subscription.
func (s *IngestSubscriber) Run(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		reply := s.Handle(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		raw, err := json.Marshal(reply)
		if err != nil {
			s.logger.Error("ingest_reply_encode_failed", "error", err)
			return
		}
		if err := msg.Respond(raw); err != nil {
			s.logger.Warn("ingest_reply_failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := s.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	s.logger.Info("ingest_subscriber_started", "subject", s.subject, "queue", s.queue)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := s.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// Handle processes one raw message. Failures are reported in the reply and
// logged; they never stop the subscriber.
func (s *IngestSubscriber) Handle(ctx context.Context, data []byte) IngestReply {
	req, err := DecodeIngestRequest(data)
	if err != nil {
		s.logger.Warn("ingest_message_rejected", "error", err)
		return IngestReply{Error: err.Error()}
	}

	docs, err := s.target.Ingest(ctx, req.Items)
	if err != nil {
		s.logger.Error("ingest_message_failed", "items", len(req.Items), "error", err)
		return IngestReply{Error: err.Error()}
	}
	reply := IngestReply{DocumentIDs: make([]string, 0, len(docs))}
	for _, doc := range docs {
		reply.DocumentIDs = append(reply.DocumentIDs, doc.ID)
	}
	if req.Start {
		reply.Started = s.target.StartProcessing(ctx)
	}
	s.logger.Info("ingest_message_handled", "documents", len(docs), "started", reply.Started)
	return reply
}

// DecodeIngestRequest accepts a structured-mode CloudEvent or bare JSON.
func DecodeIngestRequest(data []byte) (IngestRequest, error) {
	var probe struct {
		SpecVersion string `json:"specversion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode ingest message", err)
	}

	payload := data
	if probe.SpecVersion != "" {
		event := cloudevents.NewEvent()
		if err := json.Unmarshal(data, &event); err != nil {
			return IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode ingest event", err)
		}
		if event.Type() != IngestEventType {
			return IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode ingest event", fmt.Errorf("unexpected event type %q", event.Type()))
		}
		payload = event.Data()
	}

	var req IngestRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode ingest request", err)
	}
	if len(req.Items) == 0 {
		return IngestRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode ingest request", errors.New("no items"))
	}
	return req, nil
}
