package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/observach/apiserver/internal/metrics"
)

// Submission event types.
const (
	EventObservationSubmitted = "observation.submitted"
	EventCommentSubmitted     = "comment.submitted"
)

// EventPublisher hands a payload to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// SubmissionEvent announces new work for moderators. It is emitted after the
// row is committed and never carries a moderation decision.
type SubmissionEvent struct {
	Type          string    `json:"type"`
	ObservationID string    `json:"observationId"`
	CommentID     string    `json:"commentId,omitempty"`
	AuthorID      string    `json:"userId"`
	CreatedAt     time.Time `json:"createdAt"`
}

type eventSink struct {
	publisher EventPublisher
	channel   string
	logger    *slog.Logger
}

// emit publishes best-effort. The write it describes has already succeeded,
// so a broker failure is logged and counted, not returned.
func (e *eventSink) emit(ctx context.Context, event SubmissionEvent) {
	if e == nil || e.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		e.logger.ErrorContext(ctx, "encode submission event", "type", event.Type, "error", err)
		return
	}
	id, err := e.publisher.Publish(ctx, e.channel, data, map[string]string{"type": event.Type})
	if err != nil {
		metrics.EventPublishFailures.Inc()
		e.logger.WarnContext(ctx, "publish submission event",
			"type", event.Type,
			"observation_id", event.ObservationID,
			"error", err,
		)
		return
	}
	e.logger.DebugContext(ctx, "submission event published", "type", event.Type, "message_id", id)
}
