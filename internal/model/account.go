package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive = "active"
	AccountStatusClosed = "closed"
)

// Account is a tenant-scoped balance holder. Balance fields are only mutated
// through the ledger service.
type Account struct {
	ID              string
	TenantID        string
	OwnerID         string
	Tier            string
	Currency        string
	Status          string
	Frozen          bool
	Total           decimal.Decimal
	Available       decimal.Decimal
	InStreamsTotal  decimal.Decimal
	InStreamsBuffer decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Balanced reports whether available + inStreams.total == total.
func (a Account) Balanced() bool {
	return a.Available.Add(a.InStreamsTotal).Equal(a.Total)
}

// Balance returns the read-only balance view of the account.
func (a Account) Balance() Balance {
	return Balance{
		AccountID: a.ID,
		Currency:  a.Currency,
		Total:     a.Total,
		Available: a.Available,
		InStreams: InStreams{
			Total:     a.InStreamsTotal,
			Buffer:    a.InStreamsBuffer,
			Streaming: a.InStreamsTotal.Sub(a.InStreamsBuffer),
		},
	}
}

// Balance is the getBalance contract.
type Balance struct {
	AccountID string          `json:"account_id"`
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	InStreams InStreams       `json:"in_streams"`
	AsOf      time.Time       `json:"as_of"`
}

// InStreams breaks down funds committed to outgoing streams. Streaming is
// always derived as Total - Buffer.
type InStreams struct {
	Total     decimal.Decimal `json:"total"`
	Buffer    decimal.Decimal `json:"buffer"`
	Streaming decimal.Decimal `json:"streaming"`
}
