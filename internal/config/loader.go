package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SETTLER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SETTLER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── VALR ──
	setStr(&cfg.Valr.ApiKey, "SETTLER_VALR_API_KEY")
	setStr(&cfg.Valr.ApiSecret, "SETTLER_VALR_API_SECRET")
	setStr(&cfg.Valr.BaseURL, "SETTLER_VALR_BASE_URL")
	setStr(&cfg.Valr.Pair, "SETTLER_VALR_PAIR")
	setStr(&cfg.Valr.Asset, "SETTLER_VALR_ASSET")
	setStr(&cfg.Valr.Chain, "SETTLER_VALR_CHAIN")
	setStr(&cfg.Valr.CustodyAddress, "SETTLER_VALR_CUSTODY_ADDRESS")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SETTLER_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "SETTLER_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SETTLER_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SETTLER_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SETTLER_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SETTLER_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SETTLER_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SETTLER_SUPABASE_SSLMODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SETTLER_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SETTLER_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SETTLER_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SETTLER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SETTLER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLER_S3_FORCE_PATH_STYLE")

	// ── Settlement ──
	setStr(&cfg.Settlement.Tolerance, "SETTLER_SETTLEMENT_TOLERANCE")
	setDuration(&cfg.Settlement.ExpiryWindow, "SETTLER_SETTLEMENT_EXPIRY_WINDOW")
	setDuration(&cfg.Settlement.ExpiryInterval, "SETTLER_SETTLEMENT_EXPIRY_INTERVAL")
	setBool(&cfg.Settlement.ArchiveEnabled, "SETTLER_SETTLEMENT_ARCHIVE_ENABLED")
	setDuration(&cfg.Settlement.ArchiveAfter, "SETTLER_SETTLEMENT_ARCHIVE_AFTER")
	setDuration(&cfg.Settlement.ArchiveInterval, "SETTLER_SETTLEMENT_ARCHIVE_INTERVAL")
	setInt(&cfg.Settlement.WebhookRateLimit, "SETTLER_SETTLEMENT_WEBHOOK_RATE_LIMIT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SETTLER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SETTLER_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "SETTLER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLER_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SETTLER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SETTLER_MODE")
	setStr(&cfg.LogLevel, "SETTLER_LOG_LEVEL")
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
