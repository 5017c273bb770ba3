package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StreamStatus is the lifecycle state of a stream.
type StreamStatus string

const (
	StreamActive    StreamStatus = "active"
	StreamPaused    StreamStatus = "paused"
	StreamCancelled StreamStatus = "cancelled"
)

// Health classifies a stream's runway.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// Funding tracks what the sender committed to the stream.
type Funding struct {
	Wrapped decimal.Decimal
	Buffer  decimal.Decimal
}

// Stream is a continuous per-second payment between two accounts.
// TotalStreamed is a cache refreshed on pause, cancel and withdraw; the
// authoritative value is always computed by the runway calculator.
type Stream struct {
	ID                 string
	TenantID           string
	SenderID           string
	ReceiverID         string
	ManagedBy          string
	Description        string
	FlowRatePerMonth   decimal.Decimal
	FlowRatePerSecond  decimal.Decimal
	Funding            Funding
	TotalStreamed      decimal.Decimal
	TotalWithdrawn     decimal.Decimal
	TotalPausedSeconds int64
	Status             StreamStatus
	StartedAt          time.Time
	PausedAt           *time.Time
	ResumedAt          *time.Time
	CancelledAt        *time.Time
	Health             Health
	RunwaySeconds      int64
	HealthCheckedAt    time.Time
	CreatedBy          string
	UpdatedAt          time.Time
}

// HeldBuffer is the part of the sender's inStreams.buffer attributable to
// this stream. It never exceeds what is still held for the stream and drops
// to zero once the stream is cancelled.
func (s Stream) HeldBuffer() decimal.Decimal {
	if s.Status == StreamCancelled {
		return decimal.Zero
	}
	held := s.Funding.Wrapped.Sub(s.TotalWithdrawn)
	if held.LessThan(s.Funding.Buffer) {
		if held.IsNegative() {
			return decimal.Zero
		}
		return held
	}
	return s.Funding.Buffer
}
