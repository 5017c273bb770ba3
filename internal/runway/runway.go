// Package runway derives a stream's streamed amount, withdrawable balance,
// runway and health from its stored state and a point in time. It has no side
// effects.
package runway

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

const (
	SecondsPerMonth   = 30 * 24 * 3600
	BufferSeconds     = 4 * 3600
	MinRunwaySeconds  = 7 * 24 * 3600
	HealthyAbove      = 7 * 24 * 3600
	WarningAbove      = 24 * 3600
	streamedPrecision = 8
	fundingPrecision  = 2
)

var secondsPerMonth = decimal.NewFromInt(SecondsPerMonth)

// Terms are the funding requirements for a given monthly flow rate.
type Terms struct {
	PerSecond  decimal.Decimal
	Buffer     decimal.Decimal
	MinFunding decimal.Decimal
}

// PerSecond converts a monthly flow rate into a per-second rate.
func PerSecond(perMonth decimal.Decimal) decimal.Decimal {
	return perMonth.DivRound(secondsPerMonth, 18)
}

// TermsFor returns the per-second rate, the 4 hour buffer and the minimum
// funding. The minimum is buffer plus 7 days of flow, rounded up to the cent.
func TermsFor(perMonth decimal.Decimal) Terms {
	rate := PerSecond(perMonth)
	buffer := rate.Mul(decimal.NewFromInt(BufferSeconds))
	minimum := buffer.Add(rate.Mul(decimal.NewFromInt(MinRunwaySeconds)))
	return Terms{
		PerSecond:  rate,
		Buffer:     buffer.Round(streamedPrecision),
		MinFunding: minimum.RoundUp(fundingPrecision),
	}
}

// Snapshot is the calculator output for one stream at one instant.
type Snapshot struct {
	Streamed      decimal.Decimal
	Available     decimal.Decimal
	RunwaySeconds int64
	Health        model.Health
	At            time.Time
}

// ActiveSeconds is the whole number of seconds the stream has been flowing.
func ActiveSeconds(s model.Stream, now time.Time) int64 {
	elapsed := int64(now.Sub(s.StartedAt) / time.Second)
	active := elapsed - s.TotalPausedSeconds
	if active < 0 {
		return 0
	}
	return active
}

// Streamed returns the amount that has flowed to the receiver as of now.
// Paused and cancelled streams report the value frozen at transition time.
func Streamed(s model.Stream, now time.Time) decimal.Decimal {
	if s.Status != model.StreamActive {
		return s.TotalStreamed
	}
	streamed := s.FlowRatePerSecond.Mul(decimal.NewFromInt(ActiveSeconds(s, now))).Truncate(streamedPrecision)
	if streamed.GreaterThan(s.Funding.Wrapped) {
		streamed = s.Funding.Wrapped
	}
	// never report less than what was already recorded
	if streamed.LessThan(s.TotalStreamed) {
		streamed = s.TotalStreamed
	}
	return streamed
}

// Compute evaluates the stream at now.
func Compute(s model.Stream, now time.Time) Snapshot {
	streamed := Streamed(s, now)
	available := streamed.Sub(s.TotalWithdrawn)
	if available.IsNegative() {
		available = decimal.Zero
	}
	runway := Runway(s.Funding.Wrapped, streamed, s.FlowRatePerSecond)
	return Snapshot{
		Streamed:      streamed,
		Available:     available,
		RunwaySeconds: runway,
		Health:        Classify(runway),
		At:            now,
	}
}

// Runway is floor((wrapped - streamed) / rate) in seconds.
func Runway(wrapped, streamed, rate decimal.Decimal) int64 {
	if !rate.IsPositive() {
		return 0
	}
	remaining := wrapped.Sub(streamed)
	if !remaining.IsPositive() {
		return 0
	}
	return remaining.Div(rate).Floor().IntPart()
}

// Classify maps a runway to a health level.
func Classify(runwaySeconds int64) model.Health {
	switch {
	case runwaySeconds > HealthyAbove:
		return model.HealthHealthy
	case runwaySeconds > WarningAbove:
		return model.HealthWarning
	default:
		return model.HealthCritical
	}
}
