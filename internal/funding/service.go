// Package funding moves money between accounts and external rails: deposits
// credit an account, payouts debit it.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

const (
	StatusApproved = "approved"
	StatusDeclined = "declined"
	StatusPosted   = "posted"

	// externalParty stands in for the rail side of a transfer record.
	externalParty = "external"
)

var (
	// ErrInvalidInstrument is returned for an empty or malformed instrument reference.
	ErrInvalidInstrument = errors.New("instrument reference is required")

	// ErrDeclined is returned when the rail refuses the movement.
	ErrDeclined = errors.New("declined by acquirer")
)

// Service coordinates external funding through the ledger and the acquirer.
type Service struct {
	store    store.Store
	ledger   *ledger.Service
	acquirer Acquirer
	log      *slog.Logger
	now      func() time.Time
}

// NewService prepares a funding service. A nil acquirer approves everything.
func NewService(st store.Store, led *ledger.Service, acquirer Acquirer, log *slog.Logger) *Service {
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	return &Service{store: st, ledger: led, acquirer: acquirer, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Input captures a deposit or payout request.
type Input struct {
	AccountID  string
	Amount     decimal.Decimal
	ClientTxID string
	Instrument string
}

// Result represents the outcome of a funding operation.
type Result struct {
	TransactionID     string
	Status            string
	Available         decimal.Decimal
	AcquirerReference string
	CompletedAt       time.Time
}

// Deposit authorizes and credits an external deposit.
func (s *Service) Deposit(ctx context.Context, input Input) (Result, error) {
	return s.move(ctx, input, model.TransferKindDeposit)
}

// Payout authorizes and debits an external payout.
func (s *Service) Payout(ctx context.Context, input Input) (Result, error) {
	return s.move(ctx, input, model.TransferKindPayout)
}

// move replays a known client tx id as ErrDuplicateTransaction together with
// the original result, without calling the acquirer again.
func (s *Service) move(ctx context.Context, input Input, kind string) (Result, error) {
	if err := validateInstrument(input.Instrument); err != nil {
		return Result{}, err
	}
	if !input.Amount.IsPositive() {
		return Result{}, ledger.ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	account, err := s.store.Account(ctx, input.AccountID)
	if err != nil {
		return Result{}, err
	}
	if prior, err := s.store.TransferByClientTxID(ctx, kind, input.ClientTxID); err == nil {
		return s.replay(ctx, prior)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}
	if kind == model.TransferKindPayout && input.Amount.GreaterThan(account.Available) {
		return Result{}, ledger.ErrInsufficientAvailableBalance
	}

	auth := Authorization{AccountID: account.ID, Instrument: input.Instrument, Amount: input.Amount, Currency: account.Currency}
	var decision AuthorizationDecision
	if kind == model.TransferKindDeposit {
		decision, err = s.acquirer.AuthorizeDeposit(ctx, auth)
	} else {
		decision, err = s.acquirer.AuthorizePayout(ctx, auth)
	}
	if err != nil {
		return Result{}, fmt.Errorf("authorize %s: %w", kind, err)
	}
	if decision.Status != StatusApproved {
		return Result{AcquirerReference: decision.Reference, Status: decision.Status}, ErrDeclined
	}

	transfer := model.Transfer{
		ID:         uuid.NewString(),
		Kind:       kind,
		FromID:     externalParty,
		ToID:       account.ID,
		Amount:     input.Amount,
		Reference:  decision.Reference,
		ClientTxID: input.ClientTxID,
		CreatedAt:  s.now(),
	}
	posting := ledger.Posting{AccountID: account.ID, Type: model.EntryCredit, Amount: input.Amount, Reference: transfer.ID, Description: kind}
	if kind == model.TransferKindPayout {
		transfer.FromID, transfer.ToID = account.ID, externalParty
		posting.Type = model.EntryDebit
	}

	var entry model.LedgerEntry
	err = s.ledger.Atomic(ctx, []string{account.ID}, func(tx store.Tx) error {
		var err error
		if entry, err = s.ledger.Apply(ctx, tx, posting); err != nil {
			return err
		}
		return tx.InsertTransfer(ctx, transfer)
	})
	if errors.Is(err, store.ErrDuplicateTransaction) {
		prior, lookupErr := s.store.TransferByClientTxID(ctx, kind, input.ClientTxID)
		if lookupErr != nil {
			return Result{}, err
		}
		return s.replay(ctx, prior)
	}
	if err != nil {
		s.log.Error("funding posting failed after authorization", "kind", kind, "account_id", account.ID,
			"acquirer_reference", decision.Reference, "error", err)
		return Result{}, err
	}

	s.log.Info("funding posted", "kind", kind, "account_id", account.ID, "transfer_id", transfer.ID, "amount", input.Amount.String())
	return Result{
		TransactionID:     transfer.ID,
		Status:            StatusPosted,
		Available:         entry.AvailableAfter,
		AcquirerReference: decision.Reference,
		CompletedAt:       transfer.CreatedAt,
	}, nil
}

func (s *Service) replay(ctx context.Context, prior model.Transfer) (Result, error) {
	accountID := prior.ToID
	if prior.Kind == model.TransferKindPayout {
		accountID = prior.FromID
	}
	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		TransactionID:     prior.ID,
		Status:            StatusPosted,
		Available:         account.Available,
		AcquirerReference: prior.Reference,
		CompletedAt:       prior.CreatedAt,
	}, store.ErrDuplicateTransaction
}

func validateInstrument(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" || len(ref) > 64 {
		return ErrInvalidInstrument
	}
	return nil
}
