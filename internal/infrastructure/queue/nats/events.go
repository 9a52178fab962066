package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
	"github.com/kirillkom/document-scanner/internal/infrastructure/resilience"
)

const (
	EventSource       = "document-scanner"
	SnapshotEventType = "scanner.snapshot.published"
	IngestEventType   = "scanner.ingest.requested"
)

var _ ports.SnapshotPublisher = (*EventPublisher)(nil)

// publisher is the part of *nats.Conn the event publisher needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// SnapshotEvent is the event payload. It carries the job counters and the
// documents in the error phase instead of every document.
type SnapshotEvent struct {
	Seq       uint64             `json:"seq"`
	Reason    string             `json:"reason"`
	Epoch     uint64             `json:"epoch"`
	Job       domain.ScanJob     `json:"job"`
	Documents int                `json:"documents"`
	Errors    []DocumentErrorRef `json:"errors,omitempty"`
	TakenAt   time.Time          `json:"taken_at"`
}

type DocumentErrorRef struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Message  string `json:"message"`
}

// EventPublisher publishes every snapshot as a structured-mode CloudEvent.
type EventPublisher struct {
	conn     publisher
	subject  string
	executor *resilience.Executor
}

func NewEventPublisher(conn publisher, subject string, executor *resilience.Executor) *EventPublisher {
	return &EventPublisher{conn: conn, subject: subject, executor: executor}
}

func (p *EventPublisher) PublishSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	payload, err := EncodeSnapshotEvent(snapshot)
	if err != nil {
		return err
	}
	call := func(context.Context) error {
		return p.conn.Publish(p.subject, payload)
	}
	if p.executor != nil {
		err = p.executor.Do(ctx, "nats.publish_snapshot", classify, call)
	} else {
		err = call(ctx)
	}
	return publishError(err)
}

func EncodeSnapshotEvent(snapshot domain.Snapshot) ([]byte, error) {
	data := SnapshotEvent{
		Seq:       snapshot.Seq,
		Reason:    snapshot.Reason,
		Epoch:     snapshot.Epoch,
		Job:       snapshot.Job,
		Documents: len(snapshot.Documents),
		TakenAt:   snapshot.TakenAt,
	}
	for _, doc := range snapshot.Documents {
		if doc.Scan.Phase == domain.PhaseError {
			data.Errors = append(data.Errors, DocumentErrorRef{ID: doc.ID, FileName: doc.FileName, Message: doc.Scan.ErrorMessage})
		}
	}

	event := cloudevents.NewEvent()
	event.SetID(strconv.FormatUint(snapshot.Epoch, 10) + "-" + strconv.FormatUint(snapshot.Seq, 10))
	event.SetSource(EventSource)
	event.SetType(SnapshotEventType)
	event.SetTime(snapshot.TakenAt)
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return nil, fmt.Errorf("encode snapshot event data: %w", err)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot event: %w", err)
	}
	return raw, nil
}
