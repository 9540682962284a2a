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
// built-in defaults, applies ARBRISK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ARBRISK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.DefaultStrategy, "ARBRISK_ENGINE_DEFAULT_STRATEGY")
	setInt(&cfg.Engine.MaxConcurrentExecutions, "ARBRISK_ENGINE_MAX_CONCURRENT_EXECUTIONS")
	setDuration(&cfg.Engine.ExecutionTimeout, "ARBRISK_ENGINE_EXECUTION_TIMEOUT")
	setDuration(&cfg.Engine.OrderTimeout, "ARBRISK_ENGINE_ORDER_TIMEOUT")
	setDuration(&cfg.Engine.InterOrderDelay, "ARBRISK_ENGINE_INTER_ORDER_DELAY")
	setFloat64(&cfg.Engine.MaxSlippage, "ARBRISK_ENGINE_MAX_SLIPPAGE")
	setFloat64(&cfg.Engine.MaxOrderSize, "ARBRISK_ENGINE_MAX_ORDER_SIZE")
	setBool(&cfg.Engine.SmartRouting, "ARBRISK_ENGINE_SMART_ROUTING")
	setBool(&cfg.Engine.OrderSplitting, "ARBRISK_ENGINE_ORDER_SPLITTING")
	setBool(&cfg.Engine.TimingOptimization, "ARBRISK_ENGINE_TIMING_OPTIMIZATION")
	setDuration(&cfg.Engine.MonitoringInterval, "ARBRISK_ENGINE_MONITORING_INTERVAL")

	// ── Risk controller ──
	setInt(&cfg.Risk.MaxPositions, "ARBRISK_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.MaxSinglePosition, "ARBRISK_RISK_MAX_SINGLE_POSITION")
	setBool(&cfg.Risk.EnableStopLoss, "ARBRISK_RISK_ENABLE_STOP_LOSS")
	setFloat64(&cfg.Risk.StopLossPct, "ARBRISK_RISK_STOP_LOSS_PCT")
	setDuration(&cfg.Risk.MonitoringInterval, "ARBRISK_RISK_MONITORING_INTERVAL")
	setFloat64(&cfg.Risk.MaxDailyLoss, "ARBRISK_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxDrawdown, "ARBRISK_RISK_MAX_DRAWDOWN")

	// ── Global aggregator ──
	setFloat64(&cfg.Global.MaxTotalExposure, "ARBRISK_GLOBAL_MAX_TOTAL_EXPOSURE")
	setFloat64(&cfg.Global.MaxPairExposure, "ARBRISK_GLOBAL_MAX_PAIR_EXPOSURE")
	setFloat64(&cfg.Global.MaxStrategyExposure, "ARBRISK_GLOBAL_MAX_STRATEGY_EXPOSURE")
	setFloat64(&cfg.Global.MaxConcentration, "ARBRISK_GLOBAL_MAX_CONCENTRATION")
	setFloat64(&cfg.Global.MaxCorrelation, "ARBRISK_GLOBAL_MAX_CORRELATION")
	setFloat64(&cfg.Global.VaR95Limit, "ARBRISK_GLOBAL_VAR_95_LIMIT")
	setFloat64(&cfg.Global.CorrelationDecay, "ARBRISK_GLOBAL_CORRELATION_DECAY")

	// ── Exchange ──
	setStr(&cfg.Exchange.Adapter, "ARBRISK_EXCHANGE_ADAPTER")
	setStr(&cfg.Exchange.APIKey, "ARBRISK_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "ARBRISK_EXCHANGE_API_SECRET")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "ARBRISK_FEED_ENABLED")
	setStr(&cfg.Feed.URL, "ARBRISK_FEED_URL")
	setStringSlice(&cfg.Feed.Pairs, "ARBRISK_FEED_PAIRS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBRISK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBRISK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBRISK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBRISK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBRISK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBRISK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBRISK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBRISK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBRISK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBRISK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBRISK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBRISK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBRISK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBRISK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBRISK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBRISK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBRISK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBRISK_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBRISK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBRISK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBRISK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBRISK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBRISK_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBRISK_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ARBRISK_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "ARBRISK_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBRISK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBRISK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBRISK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBRISK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARBRISK_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBRISK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBRISK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBRISK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.MinSeverity, "ARBRISK_NOTIFY_MIN_SEVERITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBRISK_MODE")
	setStr(&cfg.LogLevel, "ARBRISK_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
