package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/predictsim/internal/config"
	"github.com/alanyoungcy/predictsim/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage = "memory"
	cfg.Redis.Enabled = false
	cfg.Polymarket.Enabled = true
	return &cfg
}

func TestWireMemoryFallbacks(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.Catalog.(*memory.CatalogStore); !ok {
		t.Errorf("Catalog = %T, want memory store", deps.Catalog)
	}
	if deps.MarketCache != nil {
		t.Errorf("MarketCache = %T, want nil without redis", deps.MarketCache)
	}
	if deps.Bus == nil || deps.Locks == nil || deps.RateLimiter == nil {
		t.Error("local fallbacks not wired")
	}
	if deps.Archiver != nil {
		t.Error("archiver wired with s3 disabled")
	}
	if len(deps.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(deps.Sources))
	}
}

func TestWireRequiresASource(t *testing.T) {
	cfg := memoryConfig()
	cfg.Kalshi.Enabled = false
	cfg.Polymarket.Enabled = false
	if _, _, err := Wire(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("Wire succeeded with no sources")
	}
}

func TestSyncSources(t *testing.T) {
	cfg := memoryConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	tests := []struct {
		name       string
		configured []string
		want       []string
	}{
		{"defaults to wired", nil, []string{"kalshi", "polymarket"}},
		{"keeps configured order", []string{"polymarket", "kalshi"}, []string{"polymarket", "kalshi"}},
		{"drops unwired", []string{"kalshi", "manifold"}, []string{"kalshi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.Sync.Sources = tt.configured
			got := syncSources(cfg, deps.Sources)
			if len(got) != len(tt.want) {
				t.Fatalf("syncSources = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("syncSources = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
