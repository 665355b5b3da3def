// Package events publishes account lifecycle events for downstream
// consumers (feeds, analytics, audit).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeSignedUp         = "account.signed_up"
	TypeStatusChanged    = "account.status_changed"
	TypeLoggedIn         = "account.logged_in"
	TypePasswordReset    = "account.password_reset"
	TypeRefreshRevoked   = "account.refresh_revoked"
	TypeVerificationSent = "account.verification_sent"
)

// Event is a single lifecycle fact about a user.
type Event struct {
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Sink receives events. Publish errors are never fatal to the caller.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to the structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, event Event) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Info("account event",
		slog.String("type", event.Type),
		slog.String("user_id", event.UserID),
		slog.Any("data", event.Data),
	)
	return nil
}

// KafkaSink publishes events to a Kafka topic keyed by user id, so events of
// one user stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.UserID), Value: value, Time: event.OccurredAt}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

// Emit publishes through sink and logs a failure instead of returning it.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, event Event) {
	if sink == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Publish(ctx, event); err != nil && logger != nil {
		logger.Warn("publish account event", slog.String("type", event.Type), slog.Any("error", err))
	}
}
