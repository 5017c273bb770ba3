// Package actors registers the humans and AI agents allowed to initiate
// operations and resolves their policy.
package actors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/streampay/internal/model"
)

var (
	// ErrInvalidKind is returned for actor kinds other than human and agent.
	ErrInvalidKind = errors.New("actor kind must be human or agent")

	// ErrTenantMismatch is returned when the account belongs to another tenant.
	ErrTenantMismatch = errors.New("account belongs to another tenant")
)

// AccountLookup resolves the account an actor is bound to.
type AccountLookup interface {
	Account(ctx context.Context, id string) (model.Account, error)
}

// Service exposes actor registration and lookup.
type Service struct {
	repo     Repository
	accounts AccountLookup
}

// NewService builds an actor service.
func NewService(repo Repository, accounts AccountLookup) *Service {
	return &Service{repo: repo, accounts: accounts}
}

// RegisterInput captures data required to register an actor. For humans
// AccountID is the owned account; for agents it is the parent account.
type RegisterInput struct {
	TenantID         string
	Kind             string
	AccountID        string
	Name             string
	KYATier          string
	Limits           model.Limits
	ApprovedVendors  []string
	CanManageStreams bool
}

// Register validates and stores a new actor.
func (s *Service) Register(ctx context.Context, input RegisterInput) (model.Actor, error) {
	if input.Kind != model.ActorHuman && input.Kind != model.ActorAgent {
		return model.Actor{}, ErrInvalidKind
	}
	account, err := s.accounts.Account(ctx, input.AccountID)
	if err != nil {
		return model.Actor{}, fmt.Errorf("account %s: %w", input.AccountID, err)
	}
	if input.TenantID == "" {
		input.TenantID = account.TenantID
	}
	if account.TenantID != input.TenantID {
		return model.Actor{}, ErrTenantMismatch
	}

	actor := model.Actor{
		ID:               uuid.NewString(),
		TenantID:         input.TenantID,
		Kind:             input.Kind,
		AccountID:        input.AccountID,
		Name:             input.Name,
		KYATier:          input.KYATier,
		Limits:           input.Limits,
		ApprovedVendors:  input.ApprovedVendors,
		CanManageStreams: input.CanManageStreams,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, actor); err != nil {
		return model.Actor{}, err
	}
	return actor, nil
}

// Get retrieves an actor with its policy.
func (s *Service) Get(ctx context.Context, id string) (model.Actor, error) {
	return s.repo.Get(ctx, id)
}

// ListByAccount lists actors bound to an account.
func (s *Service) ListByAccount(ctx context.Context, accountID string) ([]model.Actor, error) {
	return s.repo.ListByAccount(ctx, accountID)
}
