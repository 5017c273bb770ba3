// Package ledger is the only component allowed to change account balances.
// Every change appends an immutable entry and keeps
// available + inStreams.total == total.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

var (
	// ErrInsufficientAvailableBalance occurs when a debit or hold exceeds the
	// account's available balance.
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")

	// ErrInsufficientHeldBalance occurs when a release exceeds inStreams.total.
	ErrInsufficientHeldBalance = errors.New("insufficient held balance")

	// ErrInvalidAmount is returned for zero or negative posting amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidBuffer is returned when a posting would move inStreams.buffer
	// outside [0, inStreams.total].
	ErrInvalidBuffer = errors.New("buffer out of range")

	// ErrAccountFrozen is returned for any mutation on a frozen account.
	ErrAccountFrozen = errors.New("account frozen")

	// ErrAccountClosed is returned for any mutation on a closed account.
	ErrAccountClosed = errors.New("account closed")

	// ErrReconciliation matches every *ReconciliationError.
	ErrReconciliation = errors.New("ledger reconciliation failed")
)

// ReconciliationError reports that an account's ledger history disagrees
// with its stored balance. The account is frozen when this is raised.
type ReconciliationError struct {
	AccountID string
	Field     string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("ledger reconciliation failed for %s: %s expected %s, ledger shows %s",
		e.AccountID, e.Field, e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrReconciliation) match.
func (e *ReconciliationError) Is(target error) bool { return target == ErrReconciliation }

// Posting describes one balance change on one account.
type Posting struct {
	AccountID string
	Type      model.EntryType
	// Amount is the positive magnitude of the change.
	Amount decimal.Decimal
	// BufferDelta is the signed change to inStreams.buffer; only valid on
	// hold and release postings.
	BufferDelta decimal.Decimal
	// ReturnToAvailable sends released funds back to available instead of
	// removing them from the account.
	ReturnToAvailable bool
	Reference         string
	Description       string
}
