package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/SAP-F-2025/exam-session-service/internal/config"
	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

const (
	EventSessionStarted  = "session.started"
	EventSessionFinished = "session.finished"
)

// SessionEvent is the payload published on session lifecycle transitions
type SessionEvent struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	SessionID  uint                 `json:"session_id"`
	UserID     string               `json:"user_id"`
	CourseID   string               `json:"course_id"`
	ModuleID   string               `json:"module_id"`
	Status     models.SessionStatus `json:"status"`
	Score      *int                 `json:"score,omitempty"`
	EndReason  *string              `json:"end_reason,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Publisher emits session lifecycle events to downstream consumers
// (progress tracking, dashboards). Best-effort: callers log failures and
// move on, events never block the exam flow.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
	Close() error
}

// WatermillPublisher publishes session events through any watermill backend
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher wraps an existing watermill publisher, used directly
// in tests with the gochannel pub/sub
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     topic,
	}
}

// NewKafkaPublisher creates a Kafka-backed session event publisher
func NewKafkaPublisher(cfg config.KafkaConfig, logger *slog.Logger) (*WatermillPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   cfg.Brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return NewWatermillPublisher(publisher, cfg.Topic), nil
}

func (p *WatermillPublisher) PublishSessionEvent(ctx context.Context, event SessionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", event.Type)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	return nil
}

func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// NoopPublisher drops all events, used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) PublishSessionEvent(ctx context.Context, event SessionEvent) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
