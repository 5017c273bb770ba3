package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/actors"
	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/logging"
	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	usage  limits.UsageCounter
}

func newFixture(t *testing.T, seed string) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	for _, a := range []model.Account{
		{ID: "from", TenantID: "t1", Tier: "tier1", Status: model.AccountStatusActive},
		{ID: "to", TenantID: "t1", Tier: "tier1", Status: model.AccountStatusActive},
		{ID: "foreign", TenantID: "t2", Tier: "tier1", Status: model.AccountStatusActive},
	} {
		if err := st.CreateAccount(ctx, a); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}
	led := ledger.NewService(st, logging.Discard())
	if _, err := led.Credit(ctx, "from", dec(seed), "seed", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	repo := actors.NewMemoryRepository()
	repo.Create(ctx, model.Actor{ID: "alice", TenantID: "t1", Kind: model.ActorHuman, AccountID: "from"})
	repo.Create(ctx, model.Actor{ID: "bob", TenantID: "t1", Kind: model.ActorHuman, AccountID: "to"})
	repo.Create(ctx, model.Actor{
		ID: "buyer-bot", TenantID: "t1", Kind: model.ActorAgent, AccountID: "from",
		Limits: model.Limits{Daily: dec("100")}, ApprovedVendors: []string{"acme"},
	})

	usage := limits.NewMemoryUsage()
	enforcer := limits.NewEnforcer(limits.TierTable{}, usage)
	noon := func() time.Time { return time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC) }
	enforcer.SetClock(noon)
	svc := NewService(st, led, enforcer, repo, logging.Discard())
	svc.SetClock(noon)
	return &fixture{svc: svc, ledger: led, usage: usage}
}

func TestTransferSuccess(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()

	res, err := f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "to", Amount: dec("2000"), ClientTxID: "abc", ActorID: "alice"})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !res.FromAvailable.Equal(dec("8000")) || !res.ToAvailable.Equal(dec("2000")) {
		t.Fatalf("unexpected balances: %+v", res)
	}
	if res.Transfer.Kind != model.TransferKindP2P || res.Transfer.ClientTxID != "abc" {
		t.Fatalf("unexpected transfer %+v", res.Transfer)
	}

	_, err = f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "to", Amount: dec("2000"), ClientTxID: "abc"})
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if b, _ := f.ledger.Balance(ctx, "from"); !b.Total.Equal(dec("8000")) {
		t.Fatalf("duplicate moved funds: %+v", b)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	f := newFixture(t, "500")
	ctx := context.Background()

	_, err := f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "to", Amount: dec("1000")})
	if !errors.Is(err, ledger.ErrInsufficientAvailableBalance) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if b, _ := f.ledger.Balance(ctx, "to"); !b.Total.IsZero() {
		t.Fatalf("destination credited on failure: %+v", b)
	}
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t, "500")
	ctx := context.Background()

	if _, err := f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "to", Amount: dec("1"), ActorID: "bob"}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "foreign", Amount: dec("1")}); !errors.Is(err, ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "from", Amount: dec("1")}); !errors.Is(err, ErrSameAccount) {
		t.Fatalf("expected same account, got %v", err)
	}
}

func TestAgentDailyLimit(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	if _, err := f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "to", Amount: dec("95"), ActorID: "buyer-bot", Vendor: "acme"}); err != nil {
		t.Fatalf("first purchase: %v", err)
	}

	_, err := f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "to", Amount: dec("10"), ActorID: "buyer-bot", Vendor: "acme"})
	var pv *limits.PolicyViolation
	if !errors.As(err, &pv) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if pv.Reason != limits.ReasonDailyLimit || !pv.Limit.Equal(dec("100")) || !pv.Used.Equal(dec("95")) || !pv.Requested.Equal(dec("10")) {
		t.Fatalf("unexpected violation %+v", pv)
	}
	if b, _ := f.ledger.Balance(ctx, "from"); !b.Available.Equal(dec("905")) {
		t.Fatalf("rejected transfer moved funds: %+v", b)
	}

	_, err = f.svc.Transfer(ctx, TransferInput{FromAccountID: "from", ToAccountID: "to", Amount: dec("1"), ActorID: "buyer-bot", Vendor: "globex"})
	if !errors.As(err, &pv) || pv.Reason != limits.ReasonVendorNotApproved {
		t.Fatalf("expected vendor rejection, got %v", err)
	}
}
