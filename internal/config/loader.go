package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when empty), merges
// it on top of the built-in defaults, applies PREDICTSIM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setBool(&cfg.Kalshi.Enabled, "PREDICTSIM_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.ApiKey, "PREDICTSIM_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "PREDICTSIM_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "PREDICTSIM_KALSHI_BASE_URL")
	setInt(&cfg.Kalshi.PageLimit, "PREDICTSIM_KALSHI_PAGE_LIMIT")
	setInt(&cfg.Kalshi.MaxPages, "PREDICTSIM_KALSHI_MAX_PAGES")

	// ── Polymarket ──
	setBool(&cfg.Polymarket.Enabled, "PREDICTSIM_POLYMARKET_ENABLED")
	setStr(&cfg.Polymarket.GammaHost, "PREDICTSIM_POLYMARKET_GAMMA_HOST")
	setInt(&cfg.Polymarket.PageLimit, "PREDICTSIM_POLYMARKET_PAGE_LIMIT")
	setInt(&cfg.Polymarket.MaxPages, "PREDICTSIM_POLYMARKET_MAX_PAGES")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "PREDICTSIM_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "PREDICTSIM_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PREDICTSIM_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PREDICTSIM_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PREDICTSIM_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PREDICTSIM_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PREDICTSIM_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "PREDICTSIM_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "PREDICTSIM_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "PREDICTSIM_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTSIM_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarketTTL, "PREDICTSIM_REDIS_MARKET_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTSIM_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setBool(&cfg.Sync.Enabled, "PREDICTSIM_SYNC_ENABLED")
	setDuration(&cfg.Sync.Interval, "PREDICTSIM_SYNC_INTERVAL")
	setStringSlice(&cfg.Sync.Sources, "PREDICTSIM_SYNC_SOURCES")
	setStr(&cfg.Sync.Scope, "PREDICTSIM_SYNC_SCOPE")
	setDuration(&cfg.Sync.LockTTL, "PREDICTSIM_SYNC_LOCK_TTL")

	// ── Ledger ──
	setInt64(&cfg.Ledger.MaxQuantity, "PREDICTSIM_LEDGER_MAX_QUANTITY")
	setStr(&cfg.Ledger.StartingBalance, "PREDICTSIM_LEDGER_STARTING_BALANCE")
	setInt(&cfg.Ledger.MaxRetries, "PREDICTSIM_LEDGER_MAX_RETRIES")
	setDuration(&cfg.Ledger.RetryBackoff, "PREDICTSIM_LEDGER_RETRY_BACKOFF")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PREDICTSIM_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PREDICTSIM_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "PREDICTSIM_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDICTSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDICTSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "PREDICTSIM_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "PREDICTSIM_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Storage, "PREDICTSIM_STORAGE")
	setStr(&cfg.Mode, "PREDICTSIM_MODE")
	setStr(&cfg.LogLevel, "PREDICTSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
