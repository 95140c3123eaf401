package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	s3blob "github.com/alanyoungcy/predictsim/internal/blob/s3"
	"github.com/alanyoungcy/predictsim/internal/cache/local"
	"github.com/alanyoungcy/predictsim/internal/cache/redis"
	"github.com/alanyoungcy/predictsim/internal/config"
	"github.com/alanyoungcy/predictsim/internal/domain"
	"github.com/alanyoungcy/predictsim/internal/notify"
	"github.com/alanyoungcy/predictsim/internal/platform/kalshi"
	"github.com/alanyoungcy/predictsim/internal/platform/polymarket"
	"github.com/alanyoungcy/predictsim/internal/server/handler"
	"github.com/alanyoungcy/predictsim/internal/store/memory"
	"github.com/alanyoungcy/predictsim/internal/store/postgres"
)

// Dependencies bundles the concrete implementations the modes run on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Catalog domain.CatalogStore
	History domain.HistoryStore
	Ledger  domain.LedgerStore
	Audit   domain.AuditStore

	// Caches and coordination; MarketCache is nil without Redis.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Archiver is nil unless archival is enabled.
	Archiver domain.HistoryArchiver

	Sources  []domain.QuoteSource
	Notifier *notify.Notifier

	// Health checks reported by GET /api/health.
	Health map[string]handler.HealthCheck
}

// Wire constructs every dependency from cfg and returns them with a cleanup
// function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- Stores ---
	switch cfg.Storage {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Catalog = postgres.NewCatalogStore(pool)
		deps.History = postgres.NewHistoryStore(pool)
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Healthy
	default:
		logger.WarnContext(ctx, "wire: using in-memory storage; data is lost on exit")
		catalog := memory.NewCatalogStore()
		deps.Catalog = catalog
		deps.History = memory.NewHistoryStore()
		deps.Ledger = memory.NewLedgerStore(catalog)
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis, with in-process fallbacks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = local.NewRateLimiter()
		deps.Locks = local.NewLockManager()
		deps.Bus = local.NewSignalBus()
	}

	// --- S3 history archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = s3Client.Health
		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewHistoryArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				deps.History,
				deps.Audit,
				logger,
			)
		}
	}

	// --- Quote sources ---
	sources, err := buildSources(cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.Sources = sources

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func buildSources(cfg *config.Config, logger *slog.Logger) ([]domain.QuoteSource, error) {
	var sources []domain.QuoteSource

	if cfg.Kalshi.Enabled {
		client := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKey)
		if path := strings.TrimSpace(cfg.Kalshi.RsaPrivateKeyPath); path != "" {
			pemBytes, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("wire: kalshi private key: %w", err)
			}
			if err := client.SetRSAPrivateKey(pemBytes); err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
		}
		sources = append(sources, kalshi.NewSource(client, kalshi.SourceOptions{
			PageLimit: cfg.Kalshi.PageLimit,
			MaxPages:  cfg.Kalshi.MaxPages,
		}, logger.With(slog.String("source", kalshi.SourceName))))
	}

	if cfg.Polymarket.Enabled {
		sources = append(sources, polymarket.NewSource(
			polymarket.NewGammaClient(cfg.Polymarket.GammaHost),
			polymarket.SourceOptions{
				PageLimit: cfg.Polymarket.PageLimit,
				MaxPages:  cfg.Polymarket.MaxPages,
			},
			logger.With(slog.String("source", polymarket.SourceName)),
		))
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("wire: no quote source enabled")
	}
	return sources, nil
}

// syncSources returns the configured sync sources that are actually wired,
// or every wired source when none are configured.
func syncSources(cfg *config.Config, wired []domain.QuoteSource) []string {
	have := make(map[string]bool, len(wired))
	var all []string
	for _, s := range wired {
		have[s.Name()] = true
		all = append(all, s.Name())
	}
	if len(cfg.Sync.Sources) == 0 {
		return all
	}
	var out []string
	for _, s := range cfg.Sync.Sources {
		if have[s] {
			out = append(out, s)
		}
	}
	return out
}
