package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
	if cfg.Ledger.MaxQuantity != 10_000 {
		t.Errorf("MaxQuantity = %d, want 10000", cfg.Ledger.MaxQuantity)
	}
	if got := cfg.Ledger.StartingBalanceDecimal().String(); got != "10000" {
		t.Errorf("StartingBalanceDecimal = %s, want 10000", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "worker"
storage = "memory"

[sync]
interval = "30s"
sources = ["kalshi", "polymarket"]

[ledger]
max_quantity = 500
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PREDICTSIM_LOG_LEVEL", "debug")
	t.Setenv("PREDICTSIM_SYNC_SCOPE", "catalog")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "worker" {
		t.Errorf("Mode = %q, want worker", cfg.Mode)
	}
	if cfg.Sync.Interval.Duration != 30*time.Second {
		t.Errorf("Sync.Interval = %v, want 30s", cfg.Sync.Interval.Duration)
	}
	if len(cfg.Sync.Sources) != 2 {
		t.Errorf("Sync.Sources = %v, want 2 entries", cfg.Sync.Sources)
	}
	if cfg.Ledger.MaxQuantity != 500 {
		t.Errorf("MaxQuantity = %d, want 500", cfg.Ledger.MaxQuantity)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Sync.Scope != "catalog" {
		t.Errorf("Sync.Scope = %q, want catalog", cfg.Sync.Scope)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage = "sqlite"
	cfg.Ledger.StartingBalance = "-5"
	cfg.Sync.Sources = []string{"manifold"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"unknown mode", "unknown storage", "starting_balance", "unknown source"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "hunter2"
	cfg.Server.ApiKey = "k"
	cfg.Sync.Sources = []string{"kalshi"}

	out := RedactedConfig(&cfg)
	if out.Supabase.Password != redacted || out.Server.ApiKey != redacted {
		t.Errorf("secrets not redacted: %+v", out.Supabase)
	}
	if cfg.Supabase.Password != "hunter2" {
		t.Error("original config mutated")
	}
	out.Sync.Sources[0] = "polymarket"
	if cfg.Sync.Sources[0] != "kalshi" {
		t.Error("redacted copy shares Sources slice")
	}
}
