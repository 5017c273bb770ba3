package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/model"
)

func seedAccount(t *testing.T, s Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	if err := s.CreateAccount(context.Background(), model.Account{
		ID: id, TenantID: "t1", Currency: "USD", Status: model.AccountStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create account %s: %v", id, err)
	}
}

func TestLockOrder(t *testing.T) {
	got := LockOrder([]string{"b", "a", "", "b", "c"})
	want := []string{"a", "b", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMemoryStore_CreateAccountTwice(t *testing.T) {
	s := NewMemory()
	seedAccount(t, s, "a")
	err := s.CreateAccount(context.Background(), model.Account{ID: "a"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestMemoryStore_AtomicRollsBackOnError(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedAccount(t, s, "a")

	boom := errors.New("boom")
	err := s.Atomic(ctx, []string{"a"}, func(tx Tx) error {
		acc, err := tx.Account(ctx, "a")
		if err != nil {
			return err
		}
		acc.Total = decimal.NewFromInt(10)
		acc.Available = decimal.NewFromInt(10)
		if err := tx.PutAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, model.LedgerEntry{ID: "e1", AccountID: "a", Sequence: 1}); err != nil {
			return err
		}
		staged, _ := tx.Account(ctx, "a")
		if !staged.Total.Equal(decimal.NewFromInt(10)) {
			t.Errorf("expected staged read to see pending write")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	acc, _ := s.Account(ctx, "a")
	if !acc.Total.IsZero() {
		t.Fatalf("expected rollback, total=%s", acc.Total)
	}
	if _, ok, _ := s.LastEntry(ctx, "a"); ok {
		t.Fatalf("expected no committed entries")
	}
}

func TestMemoryStore_AtomicUnknownAccount(t *testing.T) {
	s := NewMemory()
	err := s.Atomic(context.Background(), []string{"missing"}, func(Tx) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_WritesRequireLock(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedAccount(t, s, "a")
	seedAccount(t, s, "b")

	err := s.Atomic(ctx, []string{"a"}, func(tx Tx) error {
		return tx.PutStream(ctx, model.Stream{ID: "s1", SenderID: "a", ReceiverID: "b"})
	})
	if !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
}

func TestMemoryStore_DuplicateTransfer(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedAccount(t, s, "a")

	insert := func(id string) error {
		return s.Atomic(ctx, []string{"a"}, func(tx Tx) error {
			return tx.InsertTransfer(ctx, model.Transfer{ID: id, Kind: model.TransferKindP2P, ClientTxID: "dup"})
		})
	}
	if err := insert("t1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert("t2"); !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	tr, err := s.TransferByClientTxID(ctx, model.TransferKindP2P, "dup")
	if err != nil || tr.ID != "t1" {
		t.Fatalf("expected t1, got %+v err=%v", tr, err)
	}
}

func TestMemoryStore_ConcurrentAtomicSerializesPerAccount(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedAccount(t, s, "a")
	seedAccount(t, s, "b")

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []string{"a", "b"}
			if i%2 == 0 {
				ids = []string{"b", "a"}
			}
			err := s.Atomic(ctx, ids, func(tx Tx) error {
				acc, err := tx.Account(ctx, "a")
				if err != nil {
					return err
				}
				acc.Total = acc.Total.Add(decimal.NewFromInt(1))
				acc.Available = acc.Available.Add(decimal.NewFromInt(1))
				return tx.PutAccount(ctx, acc)
			})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	acc, _ := s.Account(ctx, "a")
	if !acc.Total.Equal(decimal.NewFromInt(workers)) {
		t.Fatalf("expected %d, got %s", workers, acc.Total)
	}
}

func TestMemoryStore_SenderOutflowSkipsCancelled(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedAccount(t, s, "a")
	seedAccount(t, s, "b")

	err := s.Atomic(ctx, []string{"a", "b"}, func(tx Tx) error {
		for i, status := range []model.StreamStatus{model.StreamActive, model.StreamPaused, model.StreamCancelled} {
			if err := tx.PutStream(ctx, model.Stream{
				ID: fmt.Sprintf("s%d", i), TenantID: "t1", SenderID: "a", ReceiverID: "b",
				FlowRatePerMonth: decimal.NewFromInt(100), Status: status,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed streams: %v", err)
	}

	out, err := s.SenderOutflow(ctx, "a")
	if err != nil {
		t.Fatalf("outflow: %v", err)
	}
	if out.ActiveStreams != 2 || !out.TotalPerMonth.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected outflow %+v", out)
	}

	active, _ := s.ListStreams(ctx, StreamFilter{TenantID: "t1", Statuses: []model.StreamStatus{model.StreamActive}})
	if len(active) != 1 || active[0].ID != "s0" {
		t.Fatalf("unexpected filtered streams %+v", active)
	}
}
