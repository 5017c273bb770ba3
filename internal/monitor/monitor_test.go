package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/streampay/internal/actors"
	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/logging"
	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
	"github.com/congo-pay/streampay/internal/streams"
)

type staticLister []model.Stream

func (l staticLister) ListStreams(_ context.Context, filter store.StreamFilter) ([]model.Stream, error) {
	var out []model.Stream
	for _, s := range l {
		for _, st := range filter.Statuses {
			if s.Status == st {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

type recordingRefresher struct {
	mu      sync.Mutex
	seen    map[string]int
	failFor string
}

func (r *recordingRefresher) RefreshHealth(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]int)
	}
	r.seen[id]++
	if id == r.failFor {
		return false, errors.New("boom")
	}
	return true, nil
}

func TestScheduleBatchesPerTenant(t *testing.T) {
	var list staticLister
	for i := 0; i < 5; i++ {
		list = append(list, model.Stream{ID: fmt.Sprintf("a-%d", i), TenantID: "tenant-a", Status: model.StreamActive})
	}
	list = append(list,
		model.Stream{ID: "b-0", TenantID: "tenant-b", Status: model.StreamActive},
		model.Stream{ID: "b-1", TenantID: "tenant-b", Status: model.StreamPaused},
		model.Stream{ID: "b-2", TenantID: "tenant-b", Status: model.StreamCancelled},
	)

	m := New(list, &recordingRefresher{}, Config{BatchSize: 2}, logging.Discard())
	batches, err := m.Schedule(context.Background())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches, got %d: %+v", len(batches), batches)
	}
	for i, want := range []struct {
		tenant string
		size   int
	}{{"tenant-a", 2}, {"tenant-a", 2}, {"tenant-a", 1}, {"tenant-b", 1}} {
		if batches[i].TenantID != want.tenant || len(batches[i].StreamIDs) != want.size {
			t.Fatalf("batch %d: got %+v", i, batches[i])
		}
	}
}

func TestRunOnceVisitsEveryActiveStreamOnce(t *testing.T) {
	var list staticLister
	for i := 0; i < 37; i++ {
		list = append(list, model.Stream{ID: fmt.Sprintf("s-%d", i), TenantID: fmt.Sprintf("t-%d", i%3), Status: model.StreamActive})
	}
	ref := &recordingRefresher{failFor: "s-7"}
	m := New(list, ref, Config{Workers: 5, BatchSize: 4}, logging.Discard())

	res, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Checked != 37 || res.Changed != 36 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, s := range list {
		if ref.seen[s.ID] != 1 {
			t.Fatalf("stream %s refreshed %d times", s.ID, ref.seen[s.ID])
		}
	}
}

func TestStartStop(t *testing.T) {
	ref := &recordingRefresher{}
	m := New(staticLister{{ID: "s-1", TenantID: "t", Status: model.StreamActive}}, ref, Config{Interval: time.Hour}, logging.Discard())
	m.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ref.mu.Lock()
		n := ref.seen["s-1"]
		ref.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial pass did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	m.Stop()
}

func TestPassAfterTopUpEmitsOneHealthChange(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	st := store.NewMemory()
	for _, id := range []string{"sender", "receiver"} {
		if err := st.CreateAccount(ctx, model.Account{ID: id, TenantID: "t1", Tier: "tier1", Currency: "USD", Status: model.AccountStatusActive}); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}
	led := ledger.NewService(st, logging.Discard())
	led.SetClock(clock)
	if _, err := led.Credit(ctx, "sender", decimal.NewFromInt(5000), "seed", ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mgr := streams.NewManager(st, led, limits.NewEnforcer(limits.TierTable{}, limits.NewMemoryUsage()),
		actors.NewMemoryRepository(), nil, logging.Discard())
	mgr.SetClock(clock)

	// 0.001 per second
	s, err := mgr.Create(ctx, streams.CreateInput{
		SenderID: "sender", ReceiverID: "receiver",
		FlowRatePerMonth: decimal.NewFromInt(2592), InitialFunding: decimal.NewNullDecimal(decimal.NewFromInt(1000)),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m := New(st, mgr, Config{Workers: 2}, logging.Discard())
	now = now.Add(996400 * time.Second)
	if res, _ := m.RunOnce(ctx); res.Changed != 1 {
		t.Fatalf("expected stream to turn critical, got %+v", res)
	}

	if _, err := mgr.TopUp(ctx, s.ID, decimal.RequireFromString("860.4"), ""); err != nil {
		t.Fatalf("top-up: %v", err)
	}
	if res, _ := m.RunOnce(ctx); res.Changed != 1 {
		t.Fatalf("expected one health change after top-up, got %+v", res)
	}
	if res, _ := m.RunOnce(ctx); res.Changed != 0 || res.Checked != 1 {
		t.Fatalf("expected idle pass, got %+v", res)
	}

	evs, _ := mgr.Events(ctx, s.ID)
	var changes []model.Health
	for _, ev := range evs {
		if ev.Type == model.StreamEventHealthChanged {
			changes = append(changes, ev.Snapshot.Health)
		}
	}
	if len(changes) != 2 || changes[0] != model.HealthCritical || changes[1] != model.HealthHealthy {
		t.Fatalf("unexpected health changes %v", changes)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m := New(staticLister{}, &recordingRefresher{}, Config{}, logging.Discard())
	if m.cfg.Interval != DefaultInterval || m.cfg.Interval != 5*time.Minute || m.cfg.Workers != 4 || m.cfg.BatchSize != 100 {
		t.Fatalf("unexpected defaults %+v", m.cfg)
	}
}
