// Package accounts opens and closes tenant accounts and exposes their balance
// views. Balances themselves only change through the ledger service.
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

const defaultCurrency = "USD"

var (
	// ErrTenantRequired is returned when opening an account without a tenant.
	ErrTenantRequired = errors.New("tenant id is required")

	// ErrNonZeroBalance is returned when closing an account that still holds funds.
	ErrNonZeroBalance = errors.New("account balance must be zero to close")

	// ErrOpenStreams is returned when closing an account with streams that are not cancelled.
	ErrOpenStreams = errors.New("account has open streams")

	// ErrUnsettledStreams is returned when closing an account that is still owed
	// accrued funds by a cancelled stream.
	ErrUnsettledStreams = errors.New("account has unwithdrawn stream funds")
)

// Service exposes account operations.
type Service struct {
	store  store.Store
	ledger *ledger.Service
	now    func() time.Time
}

// NewService builds an account service.
func NewService(st store.Store, led *ledger.Service) *Service {
	return &Service{store: st, ledger: led, now: func() time.Time { return time.Now().UTC() }}
}

// OpenInput captures data required to open an account.
type OpenInput struct {
	TenantID string
	OwnerID  string
	Tier     string
	Currency string
}

// Open creates an empty active account.
func (s *Service) Open(ctx context.Context, input OpenInput) (model.Account, error) {
	if input.TenantID == "" {
		return model.Account{}, ErrTenantRequired
	}
	tier := input.Tier
	if tier == "" {
		tier = limits.DefaultTier
	}
	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	now := s.now()
	account := model.Account{
		ID:        uuid.NewString(),
		TenantID:  input.TenantID,
		OwnerID:   input.OwnerID,
		Tier:      tier,
		Currency:  currency,
		Status:    model.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return model.Account{}, err
	}
	return account, nil
}

// Get returns account metadata and stored balances.
func (s *Service) Get(ctx context.Context, id string) (model.Account, error) {
	return s.store.Account(ctx, id)
}

// Balance returns the total / available / in-streams view.
func (s *Service) Balance(ctx context.Context, id string) (model.Balance, error) {
	return s.ledger.Balance(ctx, id)
}

// Entries returns the account's ledger history.
func (s *Service) Entries(ctx context.Context, id string) ([]model.LedgerEntry, error) {
	return s.ledger.Entries(ctx, id)
}

// Close marks an account closed. Accounts are never deleted. The stream checks
// run under the account lock, which every stream operation on this account
// also takes.
func (s *Service) Close(ctx context.Context, id string) (model.Account, error) {
	var closed model.Account
	err := s.store.Atomic(ctx, []string{id}, func(tx store.Tx) error {
		account, err := tx.Account(ctx, id)
		if err != nil {
			return err
		}
		if account.Status == model.AccountStatusClosed {
			closed = account
			return nil
		}
		if err := checkStreams(ctx, tx, id); err != nil {
			return err
		}
		if !account.Total.IsZero() {
			return ErrNonZeroBalance
		}
		account.Status = model.AccountStatusClosed
		account.UpdatedAt = s.now()
		closed = account
		return tx.PutAccount(ctx, account)
	})
	if err != nil {
		return model.Account{}, err
	}
	return closed, nil
}

func checkStreams(ctx context.Context, tx store.Tx, id string) error {
	for _, filter := range []store.StreamFilter{{SenderID: id}, {ReceiverID: id}} {
		list, err := tx.ListStreams(ctx, filter)
		if err != nil {
			return err
		}
		for _, st := range list {
			if st.Status != model.StreamCancelled {
				return ErrOpenStreams
			}
			if st.TotalStreamed.GreaterThan(st.TotalWithdrawn) {
				return ErrUnsettledStreams
			}
		}
	}
	return nil
}
