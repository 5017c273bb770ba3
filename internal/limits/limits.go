// Package limits evaluates agent spending policy. Evaluation is stateless
// apart from the usage counters, which may lag one in-flight operation
// behind; the ledger still enforces the authoritative balance check.
package limits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

// Reason names the limit that rejected an operation.
type Reason string

const (
	ReasonVendorNotApproved Reason = "vendor-not-approved"
	ReasonDailyLimit        Reason = "daily-limit"
	ReasonMonthlyLimit      Reason = "monthly-limit"
	ReasonPerTransaction    Reason = "per-transaction-limit"
	ReasonMaxStreams        Reason = "max-streams"
	ReasonMaxFlowRate       Reason = "max-flow-rate"
	ReasonMaxTotalOutflow   Reason = "max-total-outflow"
)

// ErrPolicyViolation matches every *PolicyViolation.
var ErrPolicyViolation = errors.New("policy violation")

// PolicyViolation carries the ceiling, the usage so far and the requested
// value so callers can explain the rejection.
type PolicyViolation struct {
	Reason    Reason          `json:"reason"`
	Limit     decimal.Decimal `json:"limit"`
	Used      decimal.Decimal `json:"used"`
	Requested decimal.Decimal `json:"requested"`
}

func (v *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation: %s (limit %s, used %s, requested %s)", v.Reason, v.Limit, v.Used, v.Requested)
}

// Is lets errors.Is(err, ErrPolicyViolation) match.
func (v *PolicyViolation) Is(target error) bool { return target == ErrPolicyViolation }

func violation(reason Reason, limit, used, requested decimal.Decimal) *PolicyViolation {
	return &PolicyViolation{Reason: reason, Limit: limit, Used: used, Requested: requested}
}

// TierTable maps a KYA tier name to the ceilings of accounts in that tier.
type TierTable map[string]model.Limits

// DefaultTier is used for accounts whose tier is missing from the table.
const DefaultTier = "tier0"

// DefaultTiers is the built-in tier table used when no file is configured.
func DefaultTiers() TierTable {
	d := decimal.RequireFromString
	return TierTable{
		"tier0": {
			PerTransaction: d("100"), Daily: d("500"), Monthly: d("2000"),
			MaxActiveStreams: 1, MaxFlowRatePerStream: d("1000"), MaxTotalOutflow: d("1000"),
		},
		"tier1": {
			PerTransaction: d("1000"), Daily: d("5000"), Monthly: d("20000"),
			MaxActiveStreams: 5, MaxFlowRatePerStream: d("5000"), MaxTotalOutflow: d("10000"),
		},
		"tier2": {
			PerTransaction: d("10000"), Daily: d("50000"), Monthly: d("200000"),
			MaxActiveStreams: 25, MaxFlowRatePerStream: d("50000"), MaxTotalOutflow: d("100000"),
		},
		"tier3": {
			PerTransaction: d("100000"), Daily: d("500000"), Monthly: d("2000000"),
			MaxActiveStreams: 100, MaxFlowRatePerStream: d("500000"), MaxTotalOutflow: d("1000000"),
		},
	}
}

// Lookup returns the tier's limits, falling back to DefaultTier.
func (t TierTable) Lookup(tier string) model.Limits {
	if l, ok := t[tier]; ok {
		return l
	}
	return t[DefaultTier]
}

// Effective combines an agent's own limits with its parent account's tier
// limits. For each category the smaller configured value applies; zero means
// the category is not configured at that level.
func Effective(agent, tier model.Limits) model.Limits {
	return model.Limits{
		PerTransaction:       minConfigured(agent.PerTransaction, tier.PerTransaction),
		Daily:                minConfigured(agent.Daily, tier.Daily),
		Monthly:              minConfigured(agent.Monthly, tier.Monthly),
		MaxActiveStreams:     minCount(agent.MaxActiveStreams, tier.MaxActiveStreams),
		MaxFlowRatePerStream: minConfigured(agent.MaxFlowRatePerStream, tier.MaxFlowRatePerStream),
		MaxTotalOutflow:      minConfigured(agent.MaxTotalOutflow, tier.MaxTotalOutflow),
	}
}

func minConfigured(a, b decimal.Decimal) decimal.Decimal {
	switch {
	case !a.IsPositive():
		return b
	case !b.IsPositive():
		return a
	default:
		return decimal.Min(a, b)
	}
}

func minCount(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}
