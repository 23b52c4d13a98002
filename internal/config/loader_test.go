package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
mode = "serve"
log_level = "debug"

[valr]
pair = "BTCZAR"

[settlement]
tolerance = "2.50"
expiry_window = "12h"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "BTCZAR", cfg.Valr.Pair)
	assert.Equal(t, "2.50", cfg.Settlement.Tolerance)
	assert.Equal(t, 12*time.Hour, cfg.Settlement.ExpiryWindow.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://api.valr.com", cfg.Valr.BaseURL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Settlement.ExpiryInterval.Duration)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := writeTempConfig(t, `
[valr]
pair = "BTCZAR"
`)

	t.Setenv("SETTLER_VALR_PAIR", "ETHZAR")
	t.Setenv("SETTLER_SETTLEMENT_TOLERANCE", "1.00")
	t.Setenv("SETTLER_SETTLEMENT_EXPIRY_WINDOW", "6h")
	t.Setenv("SETTLER_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHZAR", cfg.Valr.Pair)
	assert.Equal(t, "1.00", cfg.Settlement.Tolerance)
	assert.Equal(t, 6*time.Hour, cfg.Settlement.ExpiryWindow.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Settlement.Tolerance = "lots"
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "tolerance")
	assert.Contains(t, err.Error(), "port")
}

func TestValidateFullModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), "custody_address")

	cfg.Valr.ApiKey = "k"
	cfg.Valr.ApiSecret = "s"
	cfg.Valr.CustodyAddress = "TCustody123"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Valr.ApiKey = "key"
	cfg.Valr.ApiSecret = "secret"
	cfg.Supabase.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Valr.ApiKey)
	assert.Equal(t, "***", red.Valr.ApiSecret)
	assert.Equal(t, "***", red.Supabase.Password)

	// The original is untouched.
	assert.Equal(t, "key", cfg.Valr.ApiKey)
}
