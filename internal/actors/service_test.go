package actors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st := store.NewMemory()
	now := time.Now().UTC()
	if err := st.CreateAccount(context.Background(), model.Account{
		ID: "acc-1", TenantID: "t1", Currency: "USD", Status: model.AccountStatusActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return NewService(NewMemoryRepository(), st)
}

func TestRegisterAgent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	actor, err := svc.Register(ctx, RegisterInput{
		Kind: model.ActorAgent, AccountID: "acc-1", Name: "procurement-bot",
		Limits: model.Limits{Daily: decimal.NewFromInt(100)}, ApprovedVendors: []string{"acme"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if actor.TenantID != "t1" || !actor.IsAgent() {
		t.Fatalf("unexpected actor %+v", actor)
	}

	got, err := svc.Get(ctx, actor.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Limits.Daily.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("limits not persisted: %+v", got.Limits)
	}

	list, _ := svc.ListByAccount(ctx, "acc-1")
	if len(list) != 1 || list[0].ID != actor.ID {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Kind: "robot", AccountID: "acc-1"}); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Kind: model.ActorHuman, AccountID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Kind: model.ActorHuman, AccountID: "acc-1", TenantID: "t2"}); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
	if _, err := svc.Get(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected actor not found, got %v", err)
	}
}
