// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/congo-pay/streampay/internal/limits"
	"github.com/congo-pay/streampay/internal/model"
)

const (
	defaultAppName        = "streampay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultStoreDriver    = "postgres"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultHealthInterval = 5 * time.Minute
	defaultHealthWorkers  = 4
	defaultHealthBatch    = 100
	defaultRateLimit      = 120

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config captures application runtime configuration.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	StoreDriver string
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	RateLimitPerMin int

	HealthInterval  time.Duration
	HealthWorkers   int
	HealthBatchSize int

	TierLimitsFile string
	RequireActor   bool
}

// Load reads configuration values from the environment. Durations accept
// either FOO_SECONDS as an integer or FOO as a Go duration.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", defaultStoreDriver)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		NATSURL:        os.Getenv("NATS_URL"),
		TierLimitsFile: os.Getenv("TIER_LIMITS_FILE"),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.HealthInterval, err = durationEnv("HEALTH_INTERVAL", defaultHealthInterval); err != nil {
		return Config{}, err
	}
	if cfg.HealthWorkers, err = intEnv("HEALTH_WORKERS", defaultHealthWorkers); err != nil {
		return Config{}, err
	}
	if cfg.HealthBatchSize, err = intEnv("HEALTH_BATCH_SIZE", defaultHealthBatch); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMin, err = intEnv("RATE_LIMIT_PER_MINUTE", defaultRateLimit); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("REQUIRE_ACTOR"); v != "" {
		if cfg.RequireActor, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid REQUIRE_ACTOR: %w", err)
		}
	}

	switch cfg.StoreDriver {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

type tierFile struct {
	Tiers map[string]model.Limits `toml:"tiers"`
}

// LoadTiers returns the built-in tier table, overlaid with the tiers defined
// in path when it is set. Amounts are quoted decimal strings:
//
//	[tiers.tier1]
//	per_transaction = "1000"
//	max_active_streams = 5
func LoadTiers(path string) (limits.TierTable, error) {
	table := limits.DefaultTiers()
	if path == "" {
		return table, nil
	}
	var f tierFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("load tier limits %s: %w", path, err)
	}
	for name, l := range f.Tiers {
		table[name] = l
	}
	return table, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(name + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", name, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
