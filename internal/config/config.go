// Package config defines the top-level configuration for the arbitrage risk
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBRISK_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Risk     RiskConfig     `toml:"risk"`
	Global   GlobalConfig   `toml:"global"`
	Exchange ExchangeConfig `toml:"exchange"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds execution engine parameters.
type EngineConfig struct {
	DefaultStrategy         string   `toml:"default_strategy"`
	MaxConcurrentExecutions int      `toml:"max_concurrent_executions"`
	ExecutionTimeout        duration `toml:"execution_timeout"`
	OrderTimeout            duration `toml:"order_timeout"`
	InterOrderDelay         duration `toml:"inter_order_delay"`
	MaxSlippage             float64  `toml:"max_slippage"`
	MaxOrderSize            float64  `toml:"max_order_size"`
	SmartRouting            bool     `toml:"smart_routing"`
	OrderSplitting          bool     `toml:"order_splitting"`
	TimingOptimization      bool     `toml:"timing_optimization"`
	MonitoringInterval      duration `toml:"monitoring_interval"`
	HistoryLimit            int      `toml:"history_limit"`
}

// RiskConfig holds per-position risk controller parameters.
type RiskConfig struct {
	MaxPositions       int      `toml:"max_positions"`
	MaxSinglePosition  float64  `toml:"max_single_position"`
	EnableStopLoss     bool     `toml:"enable_stop_loss"`
	StopLossPct        float64  `toml:"stop_loss_pct"`
	MonitoringInterval duration `toml:"monitoring_interval"`

	// Level thresholds; a total score is classified as the lowest level whose
	// threshold covers it.
	LowThreshold       float64 `toml:"low_threshold"`
	MediumThreshold    float64 `toml:"medium_threshold"`
	HighThreshold      float64 `toml:"high_threshold"`
	CriticalThreshold  float64 `toml:"critical_threshold"`
	EmergencyThreshold float64 `toml:"emergency_threshold"`

	// Alert thresholds checked on every position update.
	AlertPositionRisk float64 `toml:"alert_position_risk"`
	MaxDailyLoss      float64 `toml:"max_daily_loss"`
	MaxDrawdown       float64 `toml:"max_drawdown"`
}

// GlobalConfig holds global risk aggregator parameters.
type GlobalConfig struct {
	MaxTotalExposure    float64 `toml:"max_total_exposure"`
	MaxPairExposure     float64 `toml:"max_pair_exposure"`
	MaxStrategyExposure float64 `toml:"max_strategy_exposure"`
	MaxConcentration    float64 `toml:"max_concentration"`
	MaxCorrelation      float64 `toml:"max_correlation"`
	VaR95Limit          float64 `toml:"var_95_limit"`

	// EWMA decay factor for the correlation estimator.
	CorrelationDecay float64 `toml:"correlation_decay"`
	// Volatility assumed for pairs with no observed returns yet.
	DefaultVolatility float64 `toml:"default_volatility"`

	// Exposure utilization tiers that raise warning / critical alerts.
	UtilizationWarning  float64 `toml:"utilization_warning"`
	UtilizationCritical float64 `toml:"utilization_critical"`
	AlertExpiry         duration `toml:"alert_expiry"`

	CheckInterval       duration `toml:"check_interval"`
	CorrelationInterval duration `toml:"correlation_interval"`
	MetricsInterval     duration `toml:"metrics_interval"`
}

// ExchangeConfig selects and configures the exchange adapter.
type ExchangeConfig struct {
	// Adapter is "sim" or "http".
	Adapter   string             `toml:"adapter"`
	BaseURLs  map[string]string  `toml:"base_urls"` // venue name -> REST base URL
	APIKey    string             `toml:"api_key"`
	APISecret string             `toml:"api_secret"`
	FeeRates  map[string]float64 `toml:"fee_rates"` // venue name -> fractional taker fee
}

// FeedConfig holds market data feed parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     string   `toml:"url"`
	Pairs   []string `toml:"pairs"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// ArchiveConfig holds history archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per minute per client, 0 disables
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// MinSeverity filters dispatched alerts: "info", "warning", "critical",
	// "emergency". Empty means everything.
	MinSeverity string `toml:"min_severity"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			DefaultStrategy:         "adaptive",
			MaxConcurrentExecutions: 5,
			ExecutionTimeout:        duration{30 * time.Second},
			OrderTimeout:            duration{10 * time.Second},
			InterOrderDelay:         duration{100 * time.Millisecond},
			MaxSlippage:             0.005,
			MaxOrderSize:            10_000,
			SmartRouting:            true,
			OrderSplitting:          false,
			TimingOptimization:      false,
			MonitoringInterval:      duration{500 * time.Millisecond},
			HistoryLimit:            1000,
		},
		Risk: RiskConfig{
			MaxPositions:       10,
			MaxSinglePosition:  50_000,
			EnableStopLoss:     true,
			StopLossPct:        0.05,
			MonitoringInterval: duration{1 * time.Second},
			LowThreshold:       0.2,
			MediumThreshold:    0.4,
			HighThreshold:      0.6,
			CriticalThreshold:  0.8,
			EmergencyThreshold: 1.0,
			AlertPositionRisk:  0.7,
			MaxDailyLoss:       10_000,
			MaxDrawdown:        0.15,
		},
		Global: GlobalConfig{
			MaxTotalExposure:    200_000,
			MaxPairExposure:     50_000,
			MaxStrategyExposure: 100_000,
			MaxConcentration:    0.4,
			MaxCorrelation:      0.8,
			VaR95Limit:          25_000,
			CorrelationDecay:    0.94,
			DefaultVolatility:   0.05,
			UtilizationWarning:  0.7,
			UtilizationCritical: 0.9,
			AlertExpiry:         duration{1 * time.Hour},
			CheckInterval:       duration{5 * time.Second},
			CorrelationInterval: duration{60 * time.Second},
			MetricsInterval:     duration{10 * time.Second},
		},
		Exchange: ExchangeConfig{
			Adapter:  "sim",
			BaseURLs: map[string]string{},
			FeeRates: map[string]float64{},
		},
		Feed: FeedConfig{
			Enabled: false,
			URL:     "wss://stream.example.com/ws/market",
			Pairs:   []string{},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbrisk",
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
			Bucket:         "arbrisk-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{1 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
		},
		Notify: NotifyConfig{
			MinSeverity: "warning",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validAdapters = map[string]bool{
	"sim":  true,
	"http": true,
}

var validSeverities = map[string]bool{
	"":          true,
	"info":      true,
	"warning":   true,
	"critical":  true,
	"emergency": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Negative or zero risk
// ceilings are rejected here so they can never reach the aggregator.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, monitor, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.MaxConcurrentExecutions < 1 {
		errs = append(errs, "engine: max_concurrent_executions must be >= 1")
	}
	if c.Engine.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "engine: execution_timeout must be positive")
	}
	if c.Engine.OrderTimeout.Duration <= 0 {
		errs = append(errs, "engine: order_timeout must be positive")
	}
	if c.Engine.InterOrderDelay.Duration < 0 {
		errs = append(errs, "engine: inter_order_delay must not be negative")
	}
	if c.Engine.MaxSlippage < 0 {
		errs = append(errs, "engine: max_slippage must not be negative")
	}
	if c.Engine.OrderSplitting && c.Engine.MaxOrderSize <= 0 {
		errs = append(errs, "engine: max_order_size must be > 0 when order_splitting is enabled")
	}
	if c.Engine.HistoryLimit < 1 {
		errs = append(errs, "engine: history_limit must be >= 1")
	}
	switch c.Engine.DefaultStrategy {
	case "aggressive", "conservative", "adaptive", "twap", "vwap":
	default:
		errs = append(errs, fmt.Sprintf("engine: unknown default_strategy %q", c.Engine.DefaultStrategy))
	}

	// Risk controller
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.MaxSinglePosition <= 0 {
		errs = append(errs, "risk: max_single_position must be > 0")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		errs = append(errs, fmt.Sprintf("risk: stop_loss_pct must be in (0,1), got %v", c.Risk.StopLossPct))
	}
	if !(c.Risk.LowThreshold < c.Risk.MediumThreshold &&
		c.Risk.MediumThreshold < c.Risk.HighThreshold &&
		c.Risk.HighThreshold < c.Risk.CriticalThreshold &&
		c.Risk.CriticalThreshold <= c.Risk.EmergencyThreshold) {
		errs = append(errs, "risk: level thresholds must be strictly increasing")
	}

	// Global aggregator
	if c.Global.MaxTotalExposure <= 0 {
		errs = append(errs, "global: max_total_exposure must be > 0")
	}
	if c.Global.MaxPairExposure <= 0 {
		errs = append(errs, "global: max_pair_exposure must be > 0")
	}
	if c.Global.MaxStrategyExposure <= 0 {
		errs = append(errs, "global: max_strategy_exposure must be > 0")
	}
	if c.Global.MaxPairExposure > c.Global.MaxTotalExposure {
		errs = append(errs, "global: max_pair_exposure must not exceed max_total_exposure")
	}
	if c.Global.CorrelationDecay <= 0 || c.Global.CorrelationDecay >= 1 {
		errs = append(errs, fmt.Sprintf("global: correlation_decay must be in (0,1), got %v", c.Global.CorrelationDecay))
	}
	if c.Global.MaxConcentration <= 0 || c.Global.MaxConcentration > 1 {
		errs = append(errs, "global: max_concentration must be in (0,1]")
	}

	// Exchange
	if !validAdapters[c.Exchange.Adapter] {
		errs = append(errs, fmt.Sprintf("exchange: unknown adapter %q (valid: sim, http)", c.Exchange.Adapter))
	}
	if c.Exchange.Adapter == "http" && len(c.Exchange.BaseURLs) == 0 {
		errs = append(errs, "exchange: base_urls must be set for the http adapter")
	}

	// Feed
	if c.Feed.Enabled && c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty when enabled")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 / archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
	}

	// Notify
	if !validSeverities[strings.ToLower(c.Notify.MinSeverity)] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_severity %q", c.Notify.MinSeverity))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
