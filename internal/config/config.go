// Package config defines the top-level configuration for the settlement
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SETTLER_* environment variables.
type Config struct {
	Valr       ValrConfig       `toml:"valr"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Settlement SettlementConfig `toml:"settlement"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ValrConfig holds VALR exchange API credentials and the settlement leg
// parameters: which pair fiat credits are converted through and where the
// resulting crypto goes.
type ValrConfig struct {
	ApiKey         string `toml:"api_key"`
	ApiSecret      string `toml:"api_secret"`
	BaseURL        string `toml:"base_url"`
	Pair           string `toml:"pair"`
	Asset          string `toml:"asset"`
	Chain          string `toml:"chain"`
	CustodyAddress string `toml:"custody_address"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SettlementConfig holds the matching and lifecycle parameters.
type SettlementConfig struct {
	// Tolerance is the absolute amount band within which a fiat credit is
	// considered to belong to a deposit, expressed in the deposit currency.
	Tolerance string `toml:"tolerance"`
	// ExpiryWindow is how long a deposit may wait for its credit before it
	// is marked expired.
	ExpiryWindow duration `toml:"expiry_window"`
	// ExpiryInterval is how often the expiry sweep runs.
	ExpiryInterval duration `toml:"expiry_interval"`
	// ArchiveEnabled turns on the monthly cold archive of audit events and
	// completed transfers to object storage.
	ArchiveEnabled bool `toml:"archive_enabled"`
	// ArchiveAfter is the minimum age of a row before it is archived.
	ArchiveAfter duration `toml:"archive_after"`
	// ArchiveInterval is how often the archiver wakes up.
	ArchiveInterval duration `toml:"archive_interval"`
	// WebhookRateLimit caps webhook deliveries per source IP per minute.
	// Zero disables the limiter.
	WebhookRateLimit int `toml:"webhook_rate_limit"`
}

// ToleranceDecimal parses the configured tolerance. Validate guarantees the
// string is well-formed, so errors here only occur on unvalidated configs.
func (s SettlementConfig) ToleranceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(s.Tolerance)
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	ApiKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Valr: ValrConfig{
			BaseURL: "https://api.valr.com",
			Pair:    "USDTZAR",
			Asset:   "USDT",
			Chain:   "TRC20",
		},
		Supabase: SupabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settler-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Settlement: SettlementConfig{
			Tolerance:        "5.00",
			ExpiryWindow:     duration{24 * time.Hour},
			ExpiryInterval:   duration{5 * time.Minute},
			ArchiveEnabled:   false,
			ArchiveAfter:     duration{90 * 24 * time.Hour},
			ArchiveInterval:  duration{24 * time.Hour},
			WebhookRateLimit: 120,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"credit.unmatched", "deposit.expired", "transfer.failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// VALR credentials are only required when the daemon actually trades.
	if c.Mode == "full" {
		if c.Valr.ApiKey == "" || c.Valr.ApiSecret == "" {
			errs = append(errs, "valr: api_key and api_secret are required for mode full")
		}
		if c.Valr.CustodyAddress == "" {
			errs = append(errs, "valr: custody_address is required for mode full")
		}
	}
	if c.Valr.BaseURL == "" {
		errs = append(errs, "valr: base_url must not be empty")
	}
	if c.Valr.Pair == "" {
		errs = append(errs, "valr: pair must not be empty")
	}
	if c.Valr.Asset == "" {
		errs = append(errs, "valr: asset must not be empty")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 settings are only needed when archiving is on.
	if c.Settlement.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	// Settlement
	if tol, err := decimal.NewFromString(c.Settlement.Tolerance); err != nil {
		errs = append(errs, fmt.Sprintf("settlement: tolerance %q is not a valid amount", c.Settlement.Tolerance))
	} else if tol.IsNegative() {
		errs = append(errs, "settlement: tolerance must be >= 0")
	}
	if c.Settlement.ExpiryWindow.Duration <= 0 {
		errs = append(errs, "settlement: expiry_window must be > 0")
	}
	if c.Settlement.ExpiryInterval.Duration <= 0 {
		errs = append(errs, "settlement: expiry_interval must be > 0")
	}
	if c.Settlement.ArchiveEnabled {
		if c.Settlement.ArchiveAfter.Duration <= 0 {
			errs = append(errs, "settlement: archive_after must be > 0 when archiving is enabled")
		}
		if c.Settlement.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "settlement: archive_interval must be > 0 when archiving is enabled")
		}
	}
	if c.Settlement.WebhookRateLimit < 0 {
		errs = append(errs, "settlement: webhook_rate_limit must be >= 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
