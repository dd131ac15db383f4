// Package publisher announces persisted summary documents to downstream
// consumers.
package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/summary-ingestor/internal/hash/sha256"
	"github.com/JakeFAU/summary-ingestor/internal/ingest"
)

// EventSummaryCreated is the event_type attribute of published events.
const EventSummaryCreated = "summary.created"

// Publisher sends a payload to a topic and returns the broker message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TextHasher digests document text so consumers can detect unchanged content.
type TextHasher interface {
	HashText(text string) string
}

// SummaryEvent is published once per persisted document.
type SummaryEvent struct {
	ID        string                `json:"id"`
	Status    ingest.DocumentStatus `json:"status"`
	Source    ingest.Source         `json:"source"`
	ErrorType ingest.ErrorType      `json:"errorType,omitempty"`
	Chars     int                   `json:"chars"`
	TextHash  string                `json:"textSha256,omitempty"`
}

// Attributes returns the Pub/Sub message attributes for the event.
func (e SummaryEvent) Attributes() map[string]string {
	return map[string]string{
		"event_type": EventSummaryCreated,
		"status":     string(e.Status),
	}
}

// NotifyingWriter decorates a DocumentWriter and publishes a SummaryEvent
// after each successful write. Publish failures are logged and never fail
// the write.
type NotifyingWriter struct {
	next   ingest.DocumentWriter
	pub    Publisher
	topic  string
	hasher TextHasher
	logger *zap.Logger
}

// NewNotifyingWriter wraps next. A nil publisher disables notifications.
func NewNotifyingWriter(next ingest.DocumentWriter, pub Publisher, topic string, logger *zap.Logger) *NotifyingWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyingWriter{next: next, pub: pub, topic: topic, hasher: sha256.New(), logger: logger}
}

// WriteSummary implements ingest.DocumentWriter.
func (w *NotifyingWriter) WriteSummary(ctx context.Context, doc ingest.SummaryDocument) (string, error) {
	id, err := w.next.WriteSummary(ctx, doc)
	if err != nil || w.pub == nil {
		return id, err
	}
	event := SummaryEvent{
		ID:        id,
		Status:    doc.Status,
		Source:    doc.Source,
		ErrorType: doc.ErrorType,
		Chars:     ingest.ToListItem(id, doc).Chars,
		TextHash:  w.hasher.HashText(doc.Text),
	}
	msgID, pubErr := w.pub.Publish(ctx, w.topic, event)
	if pubErr != nil {
		w.logger.Warn("publish summary event failed",
			zap.String("id", id),
			zap.String("topic", w.topic),
			zap.Error(pubErr),
		)
		return id, nil
	}
	w.logger.Debug("summary event published",
		zap.String("id", id),
		zap.String("message_id", msgID),
	)
	return id, nil
}
