package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HealthInterval != 5*time.Minute || cfg.HealthWorkers != 4 || cfg.HealthBatchSize != 100 {
		t.Fatalf("unexpected monitor defaults %+v", cfg)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HEALTH_INTERVAL_SECONDS", "30")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HealthInterval != 30*time.Second || cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("unexpected durations %+v", cfg)
	}

	t.Setenv("HEALTH_INTERVAL", "soon")
	t.Setenv("HEALTH_INTERVAL_SECONDS", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid duration error")
	}
}

func TestLoadRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing DATABASE_URL error")
	}
	t.Setenv("STORE_DRIVER", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid driver error")
	}
}

func TestLoadTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.toml")
	content := `
[tiers.tier1]
per_transaction = "250"
daily = "1000"
max_active_streams = 2

[tiers.enterprise]
monthly = "1000000"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := LoadTiers(path)
	if err != nil {
		t.Fatalf("load tiers: %v", err)
	}
	if !table["tier1"].PerTransaction.Equal(decimal.NewFromInt(250)) || table["tier1"].MaxActiveStreams != 2 {
		t.Fatalf("tier1 not overridden: %+v", table["tier1"])
	}
	if !table["enterprise"].Monthly.Equal(decimal.NewFromInt(1000000)) {
		t.Fatalf("enterprise tier missing: %+v", table["enterprise"])
	}
	if !table["tier0"].PerTransaction.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("defaults lost: %+v", table["tier0"])
	}

	if _, err := LoadTiers(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
