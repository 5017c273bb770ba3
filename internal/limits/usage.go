package limits

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Usage is what an actor has spent in the current daily and monthly buckets.
type Usage struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

// UsageCounter tracks spend keyed by (actor, period bucket). Daily buckets
// roll over at 00:00 UTC, monthly buckets on the 1st at 00:00 UTC.
type UsageCounter interface {
	Usage(ctx context.Context, actorID string, at time.Time) (Usage, error)
	Add(ctx context.Context, actorID string, amount decimal.Decimal, at time.Time) error
}

// DailyBucket names the daily period containing t.
func DailyBucket(t time.Time) string { return t.UTC().Format("2006-01-02") }

// MonthlyBucket names the monthly period containing t.
func MonthlyBucket(t time.Time) string { return t.UTC().Format("2006-01") }

type memoryUsage struct {
	mu      sync.Mutex
	buckets map[string]decimal.Decimal
}

// NewMemoryUsage returns an in-process usage counter.
func NewMemoryUsage() UsageCounter {
	return &memoryUsage{buckets: make(map[string]decimal.Decimal)}
}

func (m *memoryUsage) Usage(_ context.Context, actorID string, at time.Time) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Usage{
		Daily:   m.buckets[actorID+":d:"+DailyBucket(at)],
		Monthly: m.buckets[actorID+":m:"+MonthlyBucket(at)],
	}, nil
}

func (m *memoryUsage) Add(_ context.Context, actorID string, amount decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range []string{actorID + ":d:" + DailyBucket(at), actorID + ":m:" + MonthlyBucket(at)} {
		m.buckets[key] = m.buckets[key].Add(amount)
	}
	return nil
}

const (
	usagePrefix = "usage:v1:"
	// counters are stored as integer micro-units
	usageScale = 6
	dailyTTL   = 48 * time.Hour
	monthlyTTL = 32 * 24 * time.Hour
)

// RedisUsage keeps usage counters in Redis so every API instance shares them.
type RedisUsage struct {
	cache *redis.Client
}

// NewRedisUsage constructs a Redis-backed usage counter.
func NewRedisUsage(cache *redis.Client) *RedisUsage {
	return &RedisUsage{cache: cache}
}

func dailyKey(actorID string, at time.Time) string {
	return usagePrefix + actorID + ":d:" + DailyBucket(at)
}

func monthlyKey(actorID string, at time.Time) string {
	return usagePrefix + actorID + ":m:" + MonthlyBucket(at)
}

// Usage reads both buckets in one round trip. Missing keys count as zero.
func (r *RedisUsage) Usage(ctx context.Context, actorID string, at time.Time) (Usage, error) {
	vals, err := r.cache.MGet(ctx, dailyKey(actorID, at), monthlyKey(actorID, at)).Result()
	if err != nil {
		return Usage{}, err
	}
	daily, err := fromMicros(vals[0])
	if err != nil {
		return Usage{}, err
	}
	monthly, err := fromMicros(vals[1])
	if err != nil {
		return Usage{}, err
	}
	return Usage{Daily: daily, Monthly: monthly}, nil
}

// Add increments both buckets and refreshes their expiry atomically.
func (r *RedisUsage) Add(ctx context.Context, actorID string, amount decimal.Decimal, at time.Time) error {
	micros := amount.Shift(usageScale).IntPart()
	_, err := r.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		dk, mk := dailyKey(actorID, at), monthlyKey(actorID, at)
		pipe.IncrBy(ctx, dk, micros)
		pipe.Expire(ctx, dk, dailyTTL)
		pipe.IncrBy(ctx, mk, micros)
		pipe.Expire(ctx, mk, monthlyTTL)
		return nil
	})
	return err
}

func fromMicros(v any) (decimal.Decimal, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-usageScale), nil
}
