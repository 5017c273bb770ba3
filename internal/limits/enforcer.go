package limits

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

// Enforcer checks agent operations against their effective limits. Human
// actors are not policy constrained.
type Enforcer struct {
	tiers TierTable
	usage UsageCounter
	now   func() time.Time
}

// NewEnforcer builds an enforcer over an injected tier table.
func NewEnforcer(tiers TierTable, usage UsageCounter) *Enforcer {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Enforcer{tiers: tiers, usage: usage, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time used to pick usage buckets.
func (e *Enforcer) SetClock(now func() time.Time) { e.now = now }

// EffectiveFor resolves the limits that apply to actor acting on an account
// of the given tier.
func (e *Enforcer) EffectiveFor(actor model.Actor, accountTier string) model.Limits {
	return Effective(actor.Limits, e.tiers.Lookup(accountTier))
}

// CheckTransaction validates a discrete spend. vendor may be empty when the
// payee is not a vendor.
func (e *Enforcer) CheckTransaction(ctx context.Context, actor model.Actor, accountTier string, amount decimal.Decimal, vendor string) error {
	if !actor.IsAgent() {
		return nil
	}
	if vendor != "" && len(actor.ApprovedVendors) > 0 && !slices.Contains(actor.ApprovedVendors, vendor) {
		return violation(ReasonVendorNotApproved, decimal.Zero, decimal.Zero, amount)
	}

	eff := e.EffectiveFor(actor, accountTier)
	if eff.PerTransaction.IsPositive() && amount.GreaterThan(eff.PerTransaction) {
		return violation(ReasonPerTransaction, eff.PerTransaction, decimal.Zero, amount)
	}
	if !eff.Daily.IsPositive() && !eff.Monthly.IsPositive() {
		return nil
	}

	used, err := e.usage.Usage(ctx, actor.ID, e.now())
	if err != nil {
		return err
	}
	if eff.Daily.IsPositive() && used.Daily.Add(amount).GreaterThan(eff.Daily) {
		return violation(ReasonDailyLimit, eff.Daily, used.Daily, amount)
	}
	if eff.Monthly.IsPositive() && used.Monthly.Add(amount).GreaterThan(eff.Monthly) {
		return violation(ReasonMonthlyLimit, eff.Monthly, used.Monthly, amount)
	}
	return nil
}

// CheckStream validates opening a new stream of flowRatePerMonth given the
// sender's current open streams.
func (e *Enforcer) CheckStream(actor model.Actor, accountTier string, flowRatePerMonth decimal.Decimal, current store.Outflow) error {
	if !actor.IsAgent() {
		return nil
	}
	eff := e.EffectiveFor(actor, accountTier)

	if eff.MaxActiveStreams > 0 && current.ActiveStreams >= eff.MaxActiveStreams {
		return violation(ReasonMaxStreams, decimal.NewFromInt(int64(eff.MaxActiveStreams)),
			decimal.NewFromInt(int64(current.ActiveStreams)), decimal.NewFromInt(1))
	}
	if eff.MaxFlowRatePerStream.IsPositive() && flowRatePerMonth.GreaterThan(eff.MaxFlowRatePerStream) {
		return violation(ReasonMaxFlowRate, eff.MaxFlowRatePerStream, decimal.Zero, flowRatePerMonth)
	}
	if eff.MaxTotalOutflow.IsPositive() && current.TotalPerMonth.Add(flowRatePerMonth).GreaterThan(eff.MaxTotalOutflow) {
		return violation(ReasonMaxTotalOutflow, eff.MaxTotalOutflow, current.TotalPerMonth, flowRatePerMonth)
	}
	return nil
}

// RecordSpend adds a committed spend to the agent's usage counters.
func (e *Enforcer) RecordSpend(ctx context.Context, actor model.Actor, amount decimal.Decimal) error {
	if !actor.IsAgent() {
		return nil
	}
	return e.usage.Add(ctx, actor.ID, amount, e.now())
}
