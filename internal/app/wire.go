package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/arbor-trading/arbrisk/internal/blob/s3"
	"github.com/arbor-trading/arbrisk/internal/cache/redis"
	"github.com/arbor-trading/arbrisk/internal/config"
	"github.com/arbor-trading/arbrisk/internal/domain"
	"github.com/arbor-trading/arbrisk/internal/engine"
	"github.com/arbor-trading/arbrisk/internal/exchange"
	"github.com/arbor-trading/arbrisk/internal/notify"
	"github.com/arbor-trading/arbrisk/internal/risk"
	"github.com/arbor-trading/arbrisk/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence (nil unless the mode needs it)
	PGClient       *postgres.Client
	ExecutionStore domain.ExecutionStore
	PositionStore  domain.PositionStore
	RiskEventStore domain.RiskEventStore

	// Redis-backed infrastructure
	RedisClient *redis.Client
	MarketCache domain.MarketCache
	AlertBus    domain.AlertBus
	RateLimiter *redis.RateLimiter

	// Blob storage (nil unless archiving is on)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Risk and execution core
	Estimator  *risk.CorrelationEstimator
	Alerter    *risk.Alerter
	Aggregator *risk.Aggregator
	Controller *risk.Controller
	Registry   *exchange.Registry
	Engine     *engine.Engine
}

// needsPostgres returns true for modes that persist closed positions,
// finished executions, and the risk event log.
func needsPostgres(mode string) bool {
	switch mode {
	case "engine", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true when the archive sweep can run at all.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled && needsPostgres(cfg.Mode)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PGClient = pgClient
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.RiskEventStore = postgres.NewRiskEventStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RedisClient = redisClient
	deps.MarketCache = redis.NewConditionCache(redisClient)
	deps.AlertBus = redis.NewAlertBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3 blob storage (archive sweep only) ---
	if needsS3(cfg) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.ExecutionStore,
			deps.PositionStore,
			deps.RiskEventStore,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	minSeverity := domain.AlertSeverity(strings.ToLower(cfg.Notify.MinSeverity))
	deps.Notifier = notify.NewNotifier(senders, minSeverity, logger)

	// --- Risk core ---
	deps.Estimator = risk.NewCorrelationEstimator(cfg.Global.CorrelationDecay, cfg.Global.DefaultVolatility)
	deps.Alerter = risk.NewAlerter(
		cfg.Global.AlertExpiry.Duration,
		deps.Notifier,
		deps.AlertBus,
		deps.RiskEventStore,
		logger,
	)
	deps.Aggregator = risk.NewAggregator(risk.AggregatorConfig{
		MaxTotalExposure:    cfg.Global.MaxTotalExposure,
		MaxPairExposure:     cfg.Global.MaxPairExposure,
		MaxStrategyExposure: cfg.Global.MaxStrategyExposure,
		MaxConcentration:    cfg.Global.MaxConcentration,
		MaxCorrelation:      cfg.Global.MaxCorrelation,
		VaR95Limit:          cfg.Global.VaR95Limit,
		UtilizationWarning:  cfg.Global.UtilizationWarning,
		UtilizationCritical: cfg.Global.UtilizationCritical,
		CheckInterval:       cfg.Global.CheckInterval.Duration,
		CorrelationInterval: cfg.Global.CorrelationInterval.Duration,
		MetricsInterval:     cfg.Global.MetricsInterval.Duration,
	}, deps.Estimator, deps.Alerter, deps.RiskEventStore, logger)
	deps.Controller = risk.NewController(risk.ControllerConfig{
		MaxPositions:       cfg.Risk.MaxPositions,
		MaxSinglePosition:  cfg.Risk.MaxSinglePosition,
		GlobalCeiling:      cfg.Global.MaxTotalExposure,
		EnableStopLoss:     cfg.Risk.EnableStopLoss,
		StopLossPct:        cfg.Risk.StopLossPct,
		Thresholds:         thresholdsFrom(cfg.Risk),
		AlertPositionRisk:  cfg.Risk.AlertPositionRisk,
		MaxDailyLoss:       cfg.Risk.MaxDailyLoss,
		MaxDrawdown:        cfg.Risk.MaxDrawdown,
		MonitoringInterval: cfg.Risk.MonitoringInterval.Duration,
	}, deps.Aggregator, deps.Estimator, deps.Alerter, deps.PositionStore, deps.RiskEventStore, deps.MarketCache, logger)

	// --- Exchange adapters and execution engine ---
	deps.Registry = buildRegistry(cfg.Exchange)
	eng, err := engine.New(engine.Config{
		DefaultStrategy:         domain.ExecutionStrategy(cfg.Engine.DefaultStrategy),
		MaxConcurrentExecutions: cfg.Engine.MaxConcurrentExecutions,
		ExecutionTimeout:        cfg.Engine.ExecutionTimeout.Duration,
		OrderTimeout:            cfg.Engine.OrderTimeout.Duration,
		InterOrderDelay:         cfg.Engine.InterOrderDelay.Duration,
		MonitoringInterval:      cfg.Engine.MonitoringInterval.Duration,
		MaxSlippage:             cfg.Engine.MaxSlippage,
		MaxOrderSize:            cfg.Engine.MaxOrderSize,
		OrderSplitting:          cfg.Engine.OrderSplitting,
		HistoryLimit:            cfg.Engine.HistoryLimit,
	}, deps.Registry, deps.Controller, deps.ExecutionStore, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: engine: %w", err)
	}
	deps.Engine = eng

	return deps, cleanup, nil
}

// thresholdsFrom maps the flat config fields onto the domain thresholds.
func thresholdsFrom(cfg config.RiskConfig) domain.RiskThresholds {
	t := domain.DefaultThresholds()
	if cfg.LowThreshold > 0 {
		t = domain.RiskThresholds{
			Low:       cfg.LowThreshold,
			Medium:    cfg.MediumThreshold,
			High:      cfg.HighThreshold,
			Critical:  cfg.CriticalThreshold,
			Emergency: cfg.EmergencyThreshold,
		}
	}
	return t
}

// simLatency is the synthetic fill latency of the simulated venue adapters.
const simLatency = 10 * time.Millisecond

// buildRegistry constructs one adapter per configured venue. The sim adapter
// backs tests and dry runs; the http adapter talks to real venue gateways.
func buildRegistry(cfg config.ExchangeConfig) *exchange.Registry {
	var adapters []exchange.Adapter
	switch cfg.Adapter {
	case "http":
		for venue, baseURL := range cfg.BaseURLs {
			adapters = append(adapters, exchange.NewRESTAdapter(venue, baseURL, cfg.APIKey, cfg.APISecret))
		}
	default:
		if len(cfg.FeeRates) == 0 {
			adapters = append(adapters, exchange.NewSimulator("sim", 0.001, simLatency))
		}
		for venue, fee := range cfg.FeeRates {
			adapters = append(adapters, exchange.NewSimulator(venue, fee, simLatency))
		}
	}
	return exchange.NewRegistry(adapters...)
}
