package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/actors"
	"github.com/congo-pay/streampay/internal/events"
	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/logging"
	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
	"github.com/congo-pay/streampay/internal/streams"
)

func newService() (*Service, *ledger.Service, store.Store) {
	st := store.NewMemory()
	led := ledger.NewService(st, logging.Discard())
	return NewService(st, led), led, st
}

func TestOpenAndBalance(t *testing.T) {
	svc, led, _ := newService()
	ctx := context.Background()

	account, err := svc.Open(ctx, OpenInput{TenantID: "t1", OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if account.Tier != "tier0" || account.Currency != "USD" || account.Status != model.AccountStatusActive {
		t.Fatalf("unexpected defaults %+v", account)
	}

	if _, err := led.Credit(ctx, account.ID, decimal.NewFromInt(2500), "dep-1", "deposit"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := svc.Balance(ctx, account.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Total.Equal(decimal.NewFromInt(2500)) || !balance.Available.Equal(balance.Total) || !balance.InStreams.Total.IsZero() {
		t.Fatalf("unexpected balance %+v", balance)
	}
	if balance.AsOf.IsZero() {
		t.Fatalf("expected as-of timestamp")
	}

	entries, err := svc.Entries(ctx, account.ID)
	if err != nil || len(entries) != 1 || entries[0].Reference != "dep-1" {
		t.Fatalf("unexpected entries %+v, %v", entries, err)
	}
}

func TestOpenRequiresTenant(t *testing.T) {
	svc, _, _ := newService()
	if _, err := svc.Open(context.Background(), OpenInput{}); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected tenant required, got %v", err)
	}
}

func TestBalanceUnknownAccount(t *testing.T) {
	svc, _, _ := newService()
	if _, err := svc.Balance(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClose(t *testing.T) {
	svc, led, st := newService()
	ctx := context.Background()
	account, _ := svc.Open(ctx, OpenInput{TenantID: "t1"})
	other, _ := svc.Open(ctx, OpenInput{TenantID: "t1"})
	locks := []string{account.ID, other.ID}
	led.Credit(ctx, account.ID, decimal.NewFromInt(10), "dep", "")

	if _, err := svc.Close(ctx, account.ID); !errors.Is(err, ErrNonZeroBalance) {
		t.Fatalf("expected non-zero balance, got %v", err)
	}

	led.Debit(ctx, account.ID, decimal.NewFromInt(10), "out", "")
	err := st.Atomic(ctx, locks, func(tx store.Tx) error {
		return tx.PutStream(ctx, model.Stream{ID: "s-1", TenantID: "t1", SenderID: other.ID, ReceiverID: account.ID, Status: model.StreamPaused})
	})
	if err != nil {
		t.Fatalf("put stream: %v", err)
	}
	if _, err := svc.Close(ctx, account.ID); !errors.Is(err, ErrOpenStreams) {
		t.Fatalf("expected open streams, got %v", err)
	}

	st.Atomic(ctx, locks, func(tx store.Tx) error {
		return tx.PutStream(ctx, model.Stream{ID: "s-1", TenantID: "t1", SenderID: other.ID, ReceiverID: account.ID, Status: model.StreamCancelled})
	})
	closed, err := svc.Close(ctx, account.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != model.AccountStatusClosed {
		t.Fatalf("expected closed, got %s", closed.Status)
	}
	if _, err := led.Credit(ctx, account.ID, decimal.NewFromInt(1), "late", ""); !errors.Is(err, ledger.ErrAccountClosed) {
		t.Fatalf("expected closed account to reject credits, got %v", err)
	}
}

func TestCloseWaitsForCancelledStreamSettlement(t *testing.T) {
	svc, led, st := newService()
	ctx := context.Background()
	sender, _ := svc.Open(ctx, OpenInput{TenantID: "t1", Tier: "tier1"})
	receiver, _ := svc.Open(ctx, OpenInput{TenantID: "t1", Tier: "tier1"})
	if _, err := led.Credit(ctx, sender.ID, decimal.NewFromInt(1000), "dep", ""); err != nil {
		t.Fatalf("credit: %v", err)
	}

	repo := actors.NewMemoryRepository()
	repo.Create(ctx, model.Actor{ID: "alice", TenantID: "t1", Kind: model.ActorHuman, AccountID: sender.ID})
	logger := logging.Discard()
	mgr := streams.NewManager(st, led, limits.NewEnforcer(limits.DefaultTiers(), limits.NewMemoryUsage()),
		repo, events.NewLogPublisher(logger), logger)
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	mgr.SetClock(func() time.Time { return now })

	// 2592 per month is exactly 0.001 per second.
	stream, err := mgr.Create(ctx, streams.CreateInput{
		SenderID: sender.ID, ReceiverID: receiver.ID, FlowRatePerMonth: decimal.NewFromInt(2592), ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now = now.Add(24 * time.Hour)
	if _, err := mgr.Cancel(ctx, stream.ID, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.Close(ctx, receiver.ID); !errors.Is(err, ErrUnsettledStreams) {
		t.Fatalf("expected unsettled streams, got %v", err)
	}
	if _, err := svc.Close(ctx, sender.ID); !errors.Is(err, ErrUnsettledStreams) {
		t.Fatalf("expected unsettled streams for sender, got %v", err)
	}
	got, _ := svc.Get(ctx, receiver.ID)
	if got.Status != model.AccountStatusActive {
		t.Fatalf("receiver should stay open, got %s", got.Status)
	}

	transfer, err := mgr.Withdraw(ctx, streams.WithdrawInput{StreamID: stream.ID})
	if err != nil {
		t.Fatalf("withdraw after cancel: %v", err)
	}
	if !transfer.Amount.Equal(decimal.RequireFromString("86.4")) {
		t.Fatalf("expected 86.4 withdrawn, got %s", transfer.Amount)
	}
	bal, _ := svc.Balance(ctx, sender.ID)
	if !bal.InStreams.Total.IsZero() {
		t.Fatalf("sender still holds %s in streams", bal.InStreams.Total)
	}

	if _, err := svc.Close(ctx, receiver.ID); !errors.Is(err, ErrNonZeroBalance) {
		t.Fatalf("expected non-zero balance, got %v", err)
	}
	if _, err := led.Debit(ctx, receiver.ID, transfer.Amount, "payout", ""); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := svc.Close(ctx, receiver.ID); err != nil {
		t.Fatalf("close settled receiver: %v", err)
	}
}

func TestCloseSeesStreamsStagedInSameUnitOfWork(t *testing.T) {
	_, _, st := newService()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		st.CreateAccount(ctx, model.Account{ID: id, TenantID: "t1", Status: model.AccountStatusActive})
	}
	err := st.Atomic(ctx, []string{"a", "b"}, func(tx store.Tx) error {
		if err := tx.PutStream(ctx, model.Stream{ID: "s-1", TenantID: "t1", SenderID: "a", ReceiverID: "b", Status: model.StreamActive}); err != nil {
			return err
		}
		return checkStreams(ctx, tx, "b")
	})
	if !errors.Is(err, ErrOpenStreams) {
		t.Fatalf("expected staged stream to block close, got %v", err)
	}
	if list, _ := st.ListStreams(ctx, store.StreamFilter{ReceiverID: "b"}); len(list) != 0 {
		t.Fatalf("rolled back stream leaked: %+v", list)
	}
}
