package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"zero concurrency", func(c *Config) { c.Engine.MaxConcurrentExecutions = 0 }, "max_concurrent_executions"},
		{"unknown strategy", func(c *Config) { c.Engine.DefaultStrategy = "yolo" }, "default_strategy"},
		{"splitting without size", func(c *Config) { c.Engine.OrderSplitting = true; c.Engine.MaxOrderSize = 0 }, "max_order_size"},
		{"stop loss out of range", func(c *Config) { c.Risk.StopLossPct = 1.5 }, "stop_loss_pct"},
		{"thresholds not increasing", func(c *Config) { c.Risk.MediumThreshold = 0.1 }, "strictly increasing"},
		{"pair ceiling over total", func(c *Config) { c.Global.MaxPairExposure = 500_000 }, "max_pair_exposure"},
		{"decay out of range", func(c *Config) { c.Global.CorrelationDecay = 1.0 }, "correlation_decay"},
		{"unknown adapter", func(c *Config) { c.Exchange.Adapter = "ftx" }, "unknown adapter"},
		{"http without urls", func(c *Config) { c.Exchange.Adapter = "http" }, "base_urls"},
		{"feed enabled without url", func(c *Config) { c.Feed.Enabled = true; c.Feed.URL = "" }, "feed: url"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true; c.S3.Bucket = "" }, "bucket"},
		{"bad server port", func(c *Config) { c.Server.Port = 70_000 }, "server: port"},
		{"unknown severity", func(c *Config) { c.Notify.MinSeverity = "mild" }, "min_severity"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Redis.Addr = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidatePostgresDSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	cfg.Postgres.DSN = "postgres://user:pass@db:5432/arbrisk"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[engine]
default_strategy = "twap"
execution_timeout = "45s"

[global]
max_total_exposure = 500000.0

[feed]
enabled = true
url = "wss://feed.example.com/ws"
pairs = ["BTC/USDT", "ETH/USDT"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "twap", cfg.Engine.DefaultStrategy)
	assert.Equal(t, 45*time.Second, cfg.Engine.ExecutionTimeout.Duration)
	assert.Equal(t, 500_000.0, cfg.Global.MaxTotalExposure)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Feed.Pairs)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Engine.MaxConcurrentExecutions)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"engine\"\n"), 0o600))

	t.Setenv("ARBRISK_MODE", "server")
	t.Setenv("ARBRISK_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ARBRISK_RISK_STOP_LOSS_PCT", "0.08")
	t.Setenv("ARBRISK_ENGINE_EXECUTION_TIMEOUT", "90s")
	t.Setenv("ARBRISK_FEED_PAIRS", "SOL/USDT, ADA/USDT")
	t.Setenv("ARBRISK_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.InDelta(t, 0.08, cfg.Risk.StopLossPct, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Engine.ExecutionTimeout.Duration)
	assert.Equal(t, []string{"SOL/USDT", "ADA/USDT"}, cfg.Feed.Pairs)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadMalformedEnvValueIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	t.Setenv("ARBRISK_ENGINE_MAX_CONCURRENT_EXECUTIONS", "lots")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxConcurrentExecutions, "unparseable override keeps the default")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.APISecret = "hunter2"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "serverkey"
	cfg.Notify.TelegramToken = "tgtoken"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Exchange.APISecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// The source config is untouched and non-secret fields pass through.
	assert.Equal(t, "hunter2", cfg.Exchange.APISecret)
	assert.Equal(t, cfg.Mode, red.Mode)
	assert.Equal(t, cfg.Redis.Addr, red.Redis.Addr)
}
