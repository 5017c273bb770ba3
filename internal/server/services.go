package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/streampay/internal/accounts"
	"github.com/congo-pay/streampay/internal/actors"
	"github.com/congo-pay/streampay/internal/config"
	"github.com/congo-pay/streampay/internal/events"
	"github.com/congo-pay/streampay/internal/funding"
	"github.com/congo-pay/streampay/internal/infra"
	"github.com/congo-pay/streampay/internal/ledger"
	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/monitor"
	"github.com/congo-pay/streampay/internal/payments"
	"github.com/congo-pay/streampay/internal/store"
	"github.com/congo-pay/streampay/internal/streams"
)

// Backends are the external connections behind the services. DB and Cache
// are nil when not configured.
type Backends struct {
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Store  store.Store
	Actors actors.Repository
	Events events.Publisher
}

// Open connects the backends selected by cfg and returns a closer that
// releases them.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Backends, func(), error) {
	var b Backends
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			return Backends{}, nil, err
		}
		closers = append(closers, db.Close)
		if err := store.Migrate(db); err != nil {
			closeAll()
			return Backends{}, nil, err
		}
		b.DB = db
		b.Store = store.NewPostgres(db)
		b.Actors = actors.NewPostgresRepository(db)
	default:
		b.Store = store.NewMemory()
		b.Actors = actors.NewMemoryRepository()
	}

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		closeAll()
		return Backends{}, nil, err
	}
	if cache != nil {
		closers = append(closers, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		})
		b.Cache = cache
	}

	pub, err := infra.NewEventPublisher(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		closeAll()
		return Backends{}, nil, err
	}
	closers = append(closers, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close event publisher", "error", err)
		}
	})
	b.Events = pub

	return b, closeAll, nil
}

// Services is the wired domain layer shared by the HTTP server and the CLI.
type Services struct {
	Store    store.Store
	Ledger   *ledger.Service
	Limits   *limits.Enforcer
	Accounts *accounts.Service
	Actors   *actors.Service
	Streams  *streams.Manager
	Payments *payments.Service
	Funding  *funding.Service
	Monitor  *monitor.Monitor
}

// NewServices builds the domain services on top of b.
func NewServices(cfg config.Config, b Backends, logger *slog.Logger) (Services, error) {
	tiers, err := config.LoadTiers(cfg.TierLimitsFile)
	if err != nil {
		return Services{}, err
	}

	var usage limits.UsageCounter = limits.NewMemoryUsage()
	if b.Cache != nil {
		usage = limits.NewRedisUsage(b.Cache)
	}
	if b.Store == nil || b.Actors == nil {
		return Services{}, fmt.Errorf("store and actor repository are required")
	}

	led := ledger.NewService(b.Store, logger.With("component", "ledger"))
	enforcer := limits.NewEnforcer(tiers, usage)
	manager := streams.NewManager(b.Store, led, enforcer, b.Actors, b.Events, logger.With("component", "streams"))

	return Services{
		Store:    b.Store,
		Ledger:   led,
		Limits:   enforcer,
		Accounts: accounts.NewService(b.Store, led),
		Actors:   actors.NewService(b.Actors, b.Store),
		Streams:  manager,
		Payments: payments.NewService(b.Store, led, enforcer, b.Actors, logger.With("component", "payments")),
		Funding:  funding.NewService(b.Store, led, nil, logger.With("component", "funding")),
		Monitor: monitor.New(b.Store, manager, monitor.Config{
			Interval:  cfg.HealthInterval,
			Workers:   cfg.HealthWorkers,
			BatchSize: cfg.HealthBatchSize,
		}, logger.With("component", "monitor")),
	}, nil
}
