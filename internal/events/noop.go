package events

import (
	"context"
	"log/slog"
)

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// LogPublisher writes events to the structured logger instead of a broker.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a logging publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event any) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event", "topic", topic, "event", event)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
