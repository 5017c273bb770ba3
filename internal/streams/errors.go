package streams

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidStateTransition is returned for transitions the lifecycle
	// does not allow, including any transition out of cancelled.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrUnauthorizedManager is returned when the actor is neither a party to
	// the stream nor its designated managing agent.
	ErrUnauthorizedManager = errors.New("actor is not allowed to manage this stream")

	// ErrInvalidFlowRate is returned for a missing or non-positive flow rate.
	ErrInvalidFlowRate = errors.New("flow rate must be positive")

	// ErrSameAccount is returned when sender and receiver are the same account.
	ErrSameAccount = errors.New("sender and receiver must differ")

	// ErrTenantMismatch is returned when the two accounts belong to different tenants.
	ErrTenantMismatch = errors.New("accounts belong to different tenants")

	// ErrFundingBelowMinimum matches every *FundingBelowMinimumError.
	ErrFundingBelowMinimum = errors.New("funding below minimum")

	// ErrExceedsAvailable matches every *ExceedsAvailableError.
	ErrExceedsAvailable = errors.New("withdrawal exceeds available amount")
)

// FundingBelowMinimumError reports the minimum funding for the requested rate.
type FundingBelowMinimumError struct {
	Minimum   decimal.Decimal `json:"minimum"`
	Requested decimal.Decimal `json:"requested"`
}

func (e *FundingBelowMinimumError) Error() string {
	return fmt.Sprintf("funding %s is below the minimum of %s", e.Requested, e.Minimum)
}

func (e *FundingBelowMinimumError) Is(target error) bool { return target == ErrFundingBelowMinimum }

// ExceedsAvailableError reports how much the receiver could have withdrawn.
type ExceedsAvailableError struct {
	Available decimal.Decimal `json:"available"`
	Requested decimal.Decimal `json:"requested"`
}

func (e *ExceedsAvailableError) Error() string {
	return fmt.Sprintf("requested %s exceeds available %s", e.Requested, e.Available)
}

func (e *ExceedsAvailableError) Is(target error) bool { return target == ErrExceedsAvailable }
