package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StreamEventType names an entry in a stream's audit trail.
type StreamEventType string

const (
	StreamEventCreated       StreamEventType = "created"
	StreamEventFunded        StreamEventType = "funded"
	StreamEventPaused        StreamEventType = "paused"
	StreamEventResumed       StreamEventType = "resumed"
	StreamEventCancelled     StreamEventType = "cancelled"
	StreamEventWithdrawn     StreamEventType = "withdrawn"
	StreamEventToppedUp      StreamEventType = "topped_up"
	StreamEventHealthChanged StreamEventType = "health_changed"
)

// StreamSnapshot captures the numeric state of a stream when an event fired.
type StreamSnapshot struct {
	FlowRatePerSecond decimal.Decimal `json:"flow_rate_per_second"`
	Wrapped           decimal.Decimal `json:"wrapped"`
	Buffer            decimal.Decimal `json:"buffer"`
	Streamed          decimal.Decimal `json:"streamed"`
	Withdrawn         decimal.Decimal `json:"withdrawn"`
	Amount            decimal.Decimal `json:"amount"`
	RunwaySeconds     int64           `json:"runway_seconds"`
	Health            Health          `json:"health"`
	PreviousHealth    Health          `json:"previous_health,omitempty"`
}

// StreamEvent is a write-only audit record.
type StreamEvent struct {
	ID        string          `json:"id"`
	StreamID  string          `json:"stream_id"`
	TenantID  string          `json:"tenant_id"`
	Type      StreamEventType `json:"type"`
	ActorID   string          `json:"actor_id"`
	ActorType string          `json:"actor_type"`
	Snapshot  StreamSnapshot  `json:"snapshot"`
	CreatedAt time.Time       `json:"created_at"`
}
