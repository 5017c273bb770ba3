// Package payments moves discrete amounts between accounts of one tenant.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

var (
	// ErrNotOwner indicates the actor is not bound to the source account.
	ErrNotOwner = errors.New("actor does not own the source account")

	// ErrSameAccount is returned for a transfer to the source account.
	ErrSameAccount = errors.New("source and destination must differ")

	// ErrTenantMismatch is returned when the accounts belong to different tenants.
	ErrTenantMismatch = errors.New("accounts belong to different tenants")
)

// ActorLookup resolves actors and their policy.
type ActorLookup interface {
	Get(ctx context.Context, id string) (model.Actor, error)
}

// Service posts P2P transfers through the ledger.
type Service struct {
	store  store.Store
	ledger *ledger.Service
	limits *limits.Enforcer
	actors ActorLookup
	log    *slog.Logger
	now    func() time.Time
}

// NewService constructs a payment service.
func NewService(st store.Store, led *ledger.Service, enforcer *limits.Enforcer, actors ActorLookup, log *slog.Logger) *Service {
	return &Service{
		store:  st,
		ledger: led,
		limits: enforcer,
		actors: actors,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// TransferInput captures the data needed to move funds between accounts.
// Vendor identifies the payee for agent vendor approval.
type TransferInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	ClientTxID    string
	ActorID       string
	Vendor        string
	Description   string
}

// TransferResult describes the ledger outcome of a transfer.
type TransferResult struct {
	Transfer      model.Transfer
	FromAvailable decimal.Decimal
	ToAvailable   decimal.Decimal
}

// Transfer debits the source and credits the destination in one unit of work.
// Agent actors are checked against their effective limits first and their
// usage is recorded once the transfer committed.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if !input.Amount.IsPositive() {
		return TransferResult{}, ledger.ErrInvalidAmount
	}
	if input.FromAccountID == input.ToAccountID {
		return TransferResult{}, ErrSameAccount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	from, err := s.store.Account(ctx, input.FromAccountID)
	if err != nil {
		return TransferResult{}, fmt.Errorf("source account: %w", err)
	}

	var actor model.Actor
	if input.ActorID != "" {
		actor, err = s.actors.Get(ctx, input.ActorID)
		if err != nil {
			return TransferResult{}, err
		}
		if actor.AccountID != from.ID || actor.TenantID != from.TenantID {
			return TransferResult{}, ErrNotOwner
		}
		if actor.IsAgent() {
			if err := s.limits.CheckTransaction(ctx, actor, from.Tier, input.Amount, input.Vendor); err != nil {
				return TransferResult{}, err
			}
		}
	}

	var res TransferResult
	err = s.ledger.Atomic(ctx, []string{input.FromAccountID, input.ToAccountID}, func(tx store.Tx) error {
		if _, err := tx.TransferByClientTxID(ctx, model.TransferKindP2P, input.ClientTxID); err == nil {
			return store.ErrDuplicateTransaction
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		to, err := tx.Account(ctx, input.ToAccountID)
		if err != nil {
			return fmt.Errorf("destination account: %w", err)
		}
		if to.TenantID != from.TenantID {
			return ErrTenantMismatch
		}

		transfer := model.Transfer{
			ID:         uuid.NewString(),
			Kind:       model.TransferKindP2P,
			FromID:     input.FromAccountID,
			ToID:       input.ToAccountID,
			Amount:     input.Amount,
			Reference:  input.Vendor,
			ClientTxID: input.ClientTxID,
			ActorID:    input.ActorID,
			CreatedAt:  s.now(),
		}
		debit, err := s.ledger.Apply(ctx, tx, ledger.Posting{
			AccountID: input.FromAccountID, Type: model.EntryDebit, Amount: input.Amount,
			Reference: transfer.ID, Description: input.Description,
		})
		if err != nil {
			return err
		}
		credit, err := s.ledger.Apply(ctx, tx, ledger.Posting{
			AccountID: input.ToAccountID, Type: model.EntryCredit, Amount: input.Amount,
			Reference: transfer.ID, Description: input.Description,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}
		res = TransferResult{Transfer: transfer, FromAvailable: debit.AvailableAfter, ToAvailable: credit.AvailableAfter}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	if actor.IsAgent() {
		if err := s.limits.RecordSpend(ctx, actor, input.Amount); err != nil {
			s.log.Warn("record agent spend failed", "actor_id", actor.ID, "transfer_id", res.Transfer.ID, "error", err)
		}
	}
	s.log.Info("transfer completed", "transfer_id", res.Transfer.ID, "from", input.FromAccountID,
		"to", input.ToAccountID, "amount", input.Amount.String(), "actor_id", input.ActorID)
	return res, nil
}
