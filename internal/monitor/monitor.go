// Package monitor periodically re-evaluates the runway of every active stream.
// A scheduler splits active streams into per-tenant batches and hands them to
// a pool of workers over a channel. Workers only call RefreshHealth, which is
// idempotent, so a failed batch is simply picked up again on the next tick.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/congo-pay/streampay/internal/model"
	"github.com/congo-pay/streampay/internal/store"
)

// Refresher recomputes and persists a stream's health classification.
type Refresher interface {
	RefreshHealth(ctx context.Context, streamID string) (bool, error)
}

// DefaultInterval is the pass interval used when none is configured.
const DefaultInterval = 5 * time.Minute

// Config controls the pass interval and the worker pool.
type Config struct {
	Interval  time.Duration
	Workers   int
	BatchSize int
}

// Batch is one unit of work: active streams of a single tenant.
type Batch struct {
	TenantID  string
	StreamIDs []string
}

// Result summarizes one pass.
type Result struct {
	Checked int
	Changed int
	Failed  int
}

// Monitor runs health passes on a ticker.
type Monitor struct {
	lister    Lister
	refresher Refresher
	cfg       Config
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Lister is the part of the store the scheduler reads.
type Lister interface {
	ListStreams(ctx context.Context, filter store.StreamFilter) ([]model.Stream, error)
}

// New builds a monitor. Zero config values fall back to DefaultInterval, four
// workers and batches of 100 streams.
func New(st Lister, refresher Refresher, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Monitor{lister: st, refresher: refresher, cfg: cfg, logger: logger}
}

// Start runs a pass immediately and then on every tick until Stop.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the current pass to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.pass(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pass(ctx)
		}
	}
}

func (m *Monitor) pass(ctx context.Context) {
	start := time.Now()
	res, err := m.RunOnce(ctx)
	if err != nil {
		m.logger.Error("health pass failed", "error", err)
		return
	}
	m.logger.Info("health pass completed",
		"checked", res.Checked, "changed", res.Changed, "failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds())
}

// RunOnce performs a single pass over all active streams.
func (m *Monitor) RunOnce(ctx context.Context) (Result, error) {
	batches, err := m.Schedule(ctx)
	if err != nil {
		return Result{}, err
	}

	tasks := make(chan Batch)
	var checked, changed, failed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range tasks {
				c, f := m.process(ctx, b)
				checked.Add(int64(len(b.StreamIDs)))
				changed.Add(int64(c))
				failed.Add(int64(f))
			}
		}()
	}

send:
	for _, b := range batches {
		select {
		case <-ctx.Done():
			break send
		case tasks <- b:
		}
	}
	close(tasks)
	wg.Wait()

	return Result{Checked: int(checked.Load()), Changed: int(changed.Load()), Failed: int(failed.Load())}, ctx.Err()
}

// Schedule lists active streams and splits them into per-tenant batches of
// at most BatchSize streams. Tenants are ordered by id.
func (m *Monitor) Schedule(ctx context.Context) ([]Batch, error) {
	streams, err := m.lister.ListStreams(ctx, store.StreamFilter{Statuses: []model.StreamStatus{model.StreamActive}})
	if err != nil {
		return nil, err
	}
	byTenant := make(map[string][]string)
	for _, s := range streams {
		byTenant[s.TenantID] = append(byTenant[s.TenantID], s.ID)
	}
	tenants := make([]string, 0, len(byTenant))
	for t := range byTenant {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	var batches []Batch
	for _, t := range tenants {
		ids := byTenant[t]
		for len(ids) > 0 {
			n := min(len(ids), m.cfg.BatchSize)
			batches = append(batches, Batch{TenantID: t, StreamIDs: ids[:n:n]})
			ids = ids[n:]
		}
	}
	return batches, nil
}

func (m *Monitor) process(ctx context.Context, b Batch) (changed, failed int) {
	for _, id := range b.StreamIDs {
		if ctx.Err() != nil {
			return changed, failed + 1
		}
		ok, err := m.refresher.RefreshHealth(ctx, id)
		if err != nil {
			failed++
			m.logger.Warn("refresh stream health failed", "tenant_id", b.TenantID, "stream_id", id, "error", err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, failed
}
