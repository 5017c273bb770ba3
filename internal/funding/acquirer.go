package funding

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Acquirer is the connector to the external money rail.
type Acquirer interface {
	AuthorizeDeposit(ctx context.Context, input Authorization) (AuthorizationDecision, error)
	AuthorizePayout(ctx context.Context, input Authorization) (AuthorizationDecision, error)
}

// Authorization describes an external movement of funds.
type Authorization struct {
	AccountID  string
	Instrument string
	Amount     decimal.Decimal
	Currency   string
}

// AuthorizationDecision captures the rail's response.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// StaticAcquirer approves every request with a synthetic reference.
type StaticAcquirer struct{}

// AuthorizeDeposit approves the deposit.
func (StaticAcquirer) AuthorizeDeposit(_ context.Context, _ Authorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: StatusApproved}, nil
}

// AuthorizePayout approves the payout.
func (StaticAcquirer) AuthorizePayout(_ context.Context, _ Authorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: StatusApproved}, nil
}
