package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

// Service applies postings to accounts through the store's unit of work.
type Service struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewService constructs a ledger service.
func NewService(st store.Store, log *slog.Logger) *Service {
	return &Service{store: st, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source used for entry timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Atomic runs fn inside a store transaction holding the given accounts. When
// fn fails with a reconciliation error the offending account is frozen after
// the transaction has rolled back.
func (s *Service) Atomic(ctx context.Context, accountIDs []string, fn func(tx store.Tx) error) error {
	err := s.store.Atomic(ctx, accountIDs, fn)
	var recErr *ReconciliationError
	if errors.As(err, &recErr) {
		if freezeErr := s.freeze(ctx, recErr.AccountID); freezeErr != nil {
			s.log.Error("freeze account failed", "account_id", recErr.AccountID, "error", freezeErr)
		}
	}
	return err
}

// Credit adds funds to available.
func (s *Service) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference, description string) (model.LedgerEntry, error) {
	return s.post(ctx, Posting{AccountID: accountID, Type: model.EntryCredit, Amount: amount, Reference: reference, Description: description})
}

// Debit removes funds from available.
func (s *Service) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reference, description string) (model.LedgerEntry, error) {
	return s.post(ctx, Posting{AccountID: accountID, Type: model.EntryDebit, Amount: amount, Reference: reference, Description: description})
}

// Hold moves funds from available into inStreams.total.
func (s *Service) Hold(ctx context.Context, accountID string, amount, buffer decimal.Decimal, reference, description string) (model.LedgerEntry, error) {
	return s.post(ctx, Posting{AccountID: accountID, Type: model.EntryHold, Amount: amount, BufferDelta: buffer, Reference: reference, Description: description})
}

// Release moves funds out of inStreams.total, either back into available or
// out of the account.
func (s *Service) Release(ctx context.Context, accountID string, amount, bufferDelta decimal.Decimal, returnToAvailable bool, reference, description string) (model.LedgerEntry, error) {
	return s.post(ctx, Posting{
		AccountID: accountID, Type: model.EntryRelease, Amount: amount, BufferDelta: bufferDelta,
		ReturnToAvailable: returnToAvailable, Reference: reference, Description: description,
	})
}

func (s *Service) post(ctx context.Context, p Posting) (model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := s.Atomic(ctx, []string{p.AccountID}, func(tx store.Tx) error {
		var err error
		entry, err = s.Apply(ctx, tx, p)
		return err
	})
	return entry, err
}

// Apply stages a posting inside an open transaction. The account must be one
// of the accounts locked by the transaction. A zero amount is accepted only
// on a hold or release that adjusts the buffer.
func (s *Service) Apply(ctx context.Context, tx store.Tx, p Posting) (model.LedgerEntry, error) {
	if p.Amount.IsNegative() || (p.Amount.IsZero() && p.BufferDelta.IsZero()) {
		return model.LedgerEntry{}, ErrInvalidAmount
	}
	account, err := tx.Account(ctx, p.AccountID)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("account %s: %w", p.AccountID, err)
	}
	if account.Status == model.AccountStatusClosed {
		return model.LedgerEntry{}, ErrAccountClosed
	}
	if account.Frozen {
		return model.LedgerEntry{}, ErrAccountFrozen
	}

	last, hasLast, err := tx.LastEntry(ctx, p.AccountID)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	recorded := decimal.Zero
	if hasLast {
		recorded = last.BalanceAfter
	}
	if !recorded.Equal(account.Total) {
		return model.LedgerEntry{}, &ReconciliationError{AccountID: account.ID, Field: "total", Expected: account.Total, Actual: recorded}
	}

	entry := model.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   account.ID,
		Sequence:    last.Sequence + 1,
		Type:        p.Type,
		Amount:      decimal.Zero,
		HeldDelta:   decimal.Zero,
		BufferDelta: decimal.Zero,
		Reference:   p.Reference,
		Description: p.Description,
		CreatedAt:   s.now(),
	}

	switch p.Type {
	case model.EntryCredit:
		account.Total = account.Total.Add(p.Amount)
		account.Available = account.Available.Add(p.Amount)
		entry.Amount = p.Amount
	case model.EntryDebit:
		if p.Amount.GreaterThan(account.Available) {
			return model.LedgerEntry{}, ErrInsufficientAvailableBalance
		}
		account.Total = account.Total.Sub(p.Amount)
		account.Available = account.Available.Sub(p.Amount)
		entry.Amount = p.Amount.Neg()
	case model.EntryHold:
		if p.Amount.GreaterThan(account.Available) {
			return model.LedgerEntry{}, ErrInsufficientAvailableBalance
		}
		account.Available = account.Available.Sub(p.Amount)
		account.InStreamsTotal = account.InStreamsTotal.Add(p.Amount)
		entry.HeldDelta = p.Amount
	case model.EntryRelease:
		if p.Amount.GreaterThan(account.InStreamsTotal) {
			return model.LedgerEntry{}, ErrInsufficientHeldBalance
		}
		account.InStreamsTotal = account.InStreamsTotal.Sub(p.Amount)
		if p.ReturnToAvailable {
			account.Available = account.Available.Add(p.Amount)
		} else {
			account.Total = account.Total.Sub(p.Amount)
			entry.Amount = p.Amount.Neg()
		}
		entry.HeldDelta = p.Amount.Neg()
	default:
		return model.LedgerEntry{}, fmt.Errorf("unknown entry type %q", p.Type)
	}

	if !p.BufferDelta.IsZero() {
		if p.Type != model.EntryHold && p.Type != model.EntryRelease {
			return model.LedgerEntry{}, ErrInvalidBuffer
		}
		account.InStreamsBuffer = account.InStreamsBuffer.Add(p.BufferDelta)
		entry.BufferDelta = p.BufferDelta
	}
	if account.InStreamsBuffer.IsNegative() || account.InStreamsBuffer.GreaterThan(account.InStreamsTotal) {
		return model.LedgerEntry{}, ErrInvalidBuffer
	}
	if !account.Balanced() {
		return model.LedgerEntry{}, &ReconciliationError{
			AccountID: account.ID, Field: "available+inStreams", Expected: account.Total,
			Actual: account.Available.Add(account.InStreamsTotal),
		}
	}

	account.UpdatedAt = entry.CreatedAt
	entry.BalanceAfter = account.Total
	entry.AvailableAfter = account.Available

	if err := tx.PutAccount(ctx, account); err != nil {
		return model.LedgerEntry{}, err
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

// Balance returns the balance view of an account.
func (s *Service) Balance(ctx context.Context, accountID string) (model.Balance, error) {
	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		return model.Balance{}, err
	}
	b := account.Balance()
	b.AsOf = s.now()
	return b, nil
}

// Entries lists an account's ledger history in sequence order.
func (s *Service) Entries(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	if _, err := s.store.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, accountID)
}

// Reconcile replays the account's entries and compares the sums with the
// stored balance. A mismatch freezes the account.
func (s *Service) Reconcile(ctx context.Context, accountID string) error {
	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		return err
	}
	entries, err := s.store.Entries(ctx, accountID)
	if err != nil {
		return err
	}

	total, held, buffer := decimal.Zero, decimal.Zero, decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
		held = held.Add(e.HeldDelta)
		buffer = buffer.Add(e.BufferDelta)
	}

	var recErr *ReconciliationError
	switch {
	case !total.Equal(account.Total):
		recErr = &ReconciliationError{AccountID: accountID, Field: "total", Expected: account.Total, Actual: total}
	case !held.Equal(account.InStreamsTotal):
		recErr = &ReconciliationError{AccountID: accountID, Field: "inStreams.total", Expected: account.InStreamsTotal, Actual: held}
	case !buffer.Equal(account.InStreamsBuffer):
		recErr = &ReconciliationError{AccountID: accountID, Field: "inStreams.buffer", Expected: account.InStreamsBuffer, Actual: buffer}
	case !account.Balanced():
		recErr = &ReconciliationError{AccountID: accountID, Field: "available+inStreams", Expected: account.Total, Actual: account.Available.Add(account.InStreamsTotal)}
	}
	if recErr == nil {
		return nil
	}
	if err := s.freeze(ctx, accountID); err != nil {
		s.log.Error("freeze account failed", "account_id", accountID, "error", err)
	}
	return recErr
}

func (s *Service) freeze(ctx context.Context, accountID string) error {
	s.log.Error("freezing account after reconciliation failure", "account_id", accountID)
	return s.store.Atomic(ctx, []string{accountID}, func(tx store.Tx) error {
		account, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Frozen {
			return nil
		}
		account.Frozen = true
		account.UpdatedAt = s.now()
		return tx.PutAccount(ctx, account)
	})
}
