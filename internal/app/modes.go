package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbor-trading/arbrisk/internal/feed"
	"github.com/arbor-trading/arbrisk/internal/pipeline"
	"github.com/arbor-trading/arbrisk/internal/server"
	"github.com/arbor-trading/arbrisk/internal/server/handler"
	"github.com/arbor-trading/arbrisk/internal/server/ws"
)

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// EngineMode runs the execution engine and the risk core with the market data
// feed but without the HTTP API. Persistence is on, so finished executions
// and closed positions reach the database.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startFeed(ctx, g, deps)
	return g.Wait()
}

// MonitorMode runs the risk core, the feed, and the HTTP API for dashboards.
// The execution engine's background reaper is not started; submissions still
// work through the API but nothing is persisted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Aggregator.Run(ctx) })
	g.Go(func() error { return deps.Controller.Run(ctx) })
	a.startFeed(ctx, g, deps)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// ServerMode runs the execution and risk core behind the HTTP API, without
// the market data feed and without persistence.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: risk core, execution engine, feed, HTTP API, and
// the archive sweep when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startFeed(ctx, g, deps)
	a.startServer(ctx, g, deps)

	if deps.Archiver != nil {
		sweep := pipeline.NewArchiver(
			deps.Archiver,
			deps.ExecutionStore,
			deps.PositionStore,
			deps.RiskEventStore,
			a.cfg.Archive.RetentionDays,
			a.logger,
		)
		g.Go(func() error {
			return sweep.RunInterval(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	return g.Wait()
}

// startCore starts the risk loops and the engine's stale-execution reaper.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.Aggregator.Run(ctx) })
	g.Go(func() error { return deps.Controller.Run(ctx) })
	g.Go(func() error { return deps.Engine.Run(ctx) })
}

// startFeed starts the websocket market data feed when configured. Ticker
// updates flow into the controller's market snapshots and the aggregator's
// correlation estimator.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Feed.Enabled {
		return
	}
	marketFeed := feed.NewMarketFeed(
		a.cfg.Feed.URL,
		a.cfg.Feed.Pairs,
		deps.Controller,
		deps.Aggregator,
		deps.MarketCache,
		a.logger,
	)
	g.Go(func() error {
		defer marketFeed.Close()
		return marketFeed.Run(ctx)
	})
}

// startServer starts the HTTP API plus the websocket alert hub and wires a
// graceful shutdown on context cancellation.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	checks := map[string]handler.Pinger{
		"redis": deps.RedisClient,
	}
	if deps.PGClient != nil {
		checks["postgres"] = deps.PGClient
	}

	hub := ws.NewHub(deps.AlertBus, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(checks),
		Executions: handler.NewExecutionHandler(deps.Engine, a.logger),
		Risk:       handler.NewRiskHandler(deps.Controller, a.logger),
		Global:     handler.NewGlobalHandler(deps.Aggregator, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
