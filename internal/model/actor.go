package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ActorHuman  = "human"
	ActorAgent  = "agent"
	ActorSystem = "system"
)

// Limits are spending ceilings. A zero value means the ceiling is not
// configured at that level.
type Limits struct {
	PerTransaction       decimal.Decimal `toml:"per_transaction" json:"per_transaction"`
	Daily                decimal.Decimal `toml:"daily" json:"daily"`
	Monthly              decimal.Decimal `toml:"monthly" json:"monthly"`
	MaxActiveStreams     int             `toml:"max_active_streams" json:"max_active_streams"`
	MaxFlowRatePerStream decimal.Decimal `toml:"max_flow_rate_per_stream" json:"max_flow_rate_per_stream"`
	MaxTotalOutflow      decimal.Decimal `toml:"max_total_outflow" json:"max_total_outflow"`
}

// Actor is anyone allowed to initiate operations: a person or an AI agent
// acting on behalf of a parent account.
type Actor struct {
	ID               string
	TenantID         string
	Kind             string
	AccountID        string
	Name             string
	KYATier          string
	Limits           Limits
	ApprovedVendors  []string
	CanManageStreams bool
	CreatedAt        time.Time
}

// IsAgent reports whether the actor is policy constrained.
func (a Actor) IsAgent() bool { return a.Kind == ActorAgent }
