// Package events publishes stream lifecycle events to downstream consumers.
// Events are persisted by the store first; publishing is best effort.
package events

import (
	"context"

	"github.com/congo-pay/streampay/internal/model"
)

const topicPrefix = "streampay.stream."

// Topic constants, one per stream event type.
const (
	TopicStreamCreated       = topicPrefix + string(model.StreamEventCreated)
	TopicStreamFunded        = topicPrefix + string(model.StreamEventFunded)
	TopicStreamPaused        = topicPrefix + string(model.StreamEventPaused)
	TopicStreamResumed       = topicPrefix + string(model.StreamEventResumed)
	TopicStreamCancelled     = topicPrefix + string(model.StreamEventCancelled)
	TopicStreamWithdrawn     = topicPrefix + string(model.StreamEventWithdrawn)
	TopicStreamToppedUp      = topicPrefix + string(model.StreamEventToppedUp)
	TopicStreamHealthChanged = topicPrefix + string(model.StreamEventHealthChanged)

	// TopicAllStreams matches every stream topic.
	TopicAllStreams = topicPrefix + ">"
)

// TopicFor returns the subject a stream event is published on.
func TopicFor(t model.StreamEventType) string {
	return topicPrefix + string(t)
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// PublishStreamEvents publishes each event on its topic and returns the first
// error encountered.
func PublishStreamEvents(ctx context.Context, pub Publisher, evs ...model.StreamEvent) error {
	var firstErr error
	for _, ev := range evs {
		if err := pub.Publish(ctx, TopicFor(ev.Type), ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
