package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

func newTestController(t *testing.T, cfg ControllerConfig) (*Controller, *Aggregator) {
	t.Helper()
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 10
	}
	if cfg.MaxSinglePosition == 0 {
		cfg.MaxSinglePosition = 50_000
	}
	if cfg.GlobalCeiling == 0 {
		cfg.GlobalCeiling = 200_000
	}
	if cfg.Thresholds == (domain.RiskThresholds{}) {
		cfg.Thresholds = domain.DefaultThresholds()
	}

	corr := NewCorrelationEstimator(0.94, 0.05)
	alerter := NewAlerter(time.Hour, nil, nil, nil, testLogger())
	agg := NewAggregator(AggregatorConfig{
		MaxTotalExposure:    200_000,
		MaxPairExposure:     50_000,
		MaxStrategyExposure: 100_000,
	}, corr, alerter, nil, testLogger())

	return NewController(cfg, agg, corr, alerter, nil, nil, nil, testLogger()), agg
}

func simpleOpportunity(capital float64) domain.Opportunity {
	return domain.Opportunity{
		ID:              "opp-1",
		Strategy:        "spread",
		Pairs:           []string{"BTC/USDT"},
		Exchanges:       []string{"binance"},
		RequiredCapital: capital,
		ExpectedProfit:  capital * 0.01,
		Path: []domain.PathStep{
			{Action: domain.ActionBuy, Exchange: "binance", Pair: "BTC/USDT", Price: 100, Volume: capital / 100},
		},
		DetectedAt: time.Now(),
	}
}

func TestRegisterPositionSetsStopLoss(t *testing.T) {
	ctx := context.Background()
	c, agg := newTestController(t, ControllerConfig{EnableStopLoss: true, StopLossPct: 0.05})

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(30_000))
	require.NoError(t, err)
	require.Nil(t, denial)
	require.NotNil(t, pos)

	assert.Equal(t, 28_500.0, pos.StopLossPrice, "stop at capital x (1 - 0.05)")
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, 30_000.0, agg.TotalExposure(), "exposure registered on admission")
}

func TestStopLossTriggersOnUpdate(t *testing.T) {
	ctx := context.Background()
	c, agg := newTestController(t, ControllerConfig{EnableStopLoss: true, StopLossPct: 0.05})

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(30_000))
	require.NoError(t, err)
	require.Nil(t, denial)

	// Value above the stop keeps the position alive.
	assert.True(t, c.UpdatePosition(ctx, pos.ID, 29_000, -1_000))

	// Dropping through the stop closes it; the realized loss is the
	// stop-loss amount, not the marked value.
	assert.False(t, c.UpdatePosition(ctx, pos.ID, 27_000, -3_000))

	_, open := c.GetPosition(pos.ID)
	assert.False(t, open)
	assert.Zero(t, agg.TotalExposure(), "exposure released on stop-out")

	history := c.History(10)
	require.Len(t, history, 1)
	assert.Equal(t, domain.PositionFailed, history[0].Status)
	assert.InDelta(t, -1_500.0, history[0].RealizedPnL, 1e-9)
}

func TestUpdatePositionConcurrent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, ControllerConfig{EnableStopLoss: false})

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(30_000))
	require.NoError(t, err)
	require.Nil(t, denial)

	// Concurrent valuations on one position must not trip the race detector:
	// scoring works on a snapshot while other updates rewrite the live entry.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.UpdatePosition(ctx, pos.ID, 30_000+float64((g*500+i)%100), -float64(g))
			}
		}(g)
	}
	wg.Wait()

	got, open := c.GetPosition(pos.ID)
	require.True(t, open)
	assert.GreaterOrEqual(t, got.CurrentValue, 30_000.0)
}

func TestStopLossDisabled(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, ControllerConfig{EnableStopLoss: false, StopLossPct: 0.05})

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(30_000))
	require.NoError(t, err)
	require.Nil(t, denial)

	assert.True(t, c.UpdatePosition(ctx, pos.ID, 20_000, -10_000), "no stop-out when disabled")
	_, open := c.GetPosition(pos.ID)
	assert.True(t, open)
}

func TestClosePositionIdempotent(t *testing.T) {
	ctx := context.Background()
	c, agg := newTestController(t, ControllerConfig{EnableStopLoss: true})

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(10_000))
	require.NoError(t, err)
	require.Nil(t, denial)

	assert.True(t, c.ClosePosition(ctx, pos.ID, 250, domain.PositionClosed))
	assert.Zero(t, agg.TotalExposure())

	// A second close neither errors nor double-releases.
	assert.False(t, c.ClosePosition(ctx, pos.ID, 250, domain.PositionClosed))
	assert.Zero(t, agg.TotalExposure())
	assert.Len(t, c.History(10), 1)
}

func TestClosePositionNonTerminalStatusCoerced(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, ControllerConfig{})

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(10_000))
	require.NoError(t, err)
	require.Nil(t, denial)

	require.True(t, c.ClosePosition(ctx, pos.ID, 0, domain.PositionOpen))
	history := c.History(1)
	require.Len(t, history, 1)
	assert.Equal(t, domain.PositionClosed, history[0].Status)
}

func TestRegisterPositionDeniedByRiskScore(t *testing.T) {
	ctx := context.Background()
	c, agg := newTestController(t, ControllerConfig{EnableStopLoss: true})

	// Stack every component: capital over the single ceiling, hostile
	// market data, heavy volume usage, many venues, imminent expiry, and
	// a seeded high correlation.
	expires := time.Now().Add(5 * time.Second)
	opp := domain.Opportunity{
		ID:              "opp-risky",
		Strategy:        "triangular",
		Pairs:           []string{"BTC/USDT", "ETH/USDT"},
		Exchanges:       []string{"binance", "kraken", "okx"},
		RequiredCapital: 60_000,
		Path: []domain.PathStep{
			{Action: domain.ActionBuy, Exchange: "binance", Pair: "BTC/USDT", Price: 100, Volume: 80},
			{Action: domain.ActionSell, Exchange: "kraken", Pair: "ETH/USDT", Price: 50, Volume: 80},
			{Action: domain.ActionSell, Exchange: "okx", Pair: "BTC/USDT", Price: 101, Volume: 80},
		},
		ExpiresAt:  &expires,
		DetectedAt: time.Now(),
	}
	c.UpdateMarketCondition(domain.MarketCondition{Pair: "BTC/USDT", Volatility: 0.2, Liquidity: 0.1, Spread: 0.02, Volume: 100})
	c.UpdateMarketCondition(domain.MarketCondition{Pair: "ETH/USDT", Volatility: 0.2, Liquidity: 0.1, Spread: 0.02, Volume: 100})
	metrics := c.EvaluateOpportunity(ctx, opp)
	require.GreaterOrEqual(t, metrics.TotalScore, 0.6, "constructed opportunity must score high")

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", opp)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Nil(t, pos)
	assert.Equal(t, domain.DenyRiskStop, denial.Code)
	require.NotNil(t, denial.Metrics)
	assert.Contains(t, []domain.RiskAction{domain.ActionStop, domain.ActionEmergencyExit}, denial.Metrics.Action)

	assert.Zero(t, agg.TotalExposure(), "denied admissions register nothing")
	assert.Empty(t, c.ActivePositions())
}

func TestRegisterPositionDeniedByAggregator(t *testing.T) {
	ctx := context.Background()
	c, agg := newTestController(t, ControllerConfig{})

	// Fill the pair ceiling so admission passes scoring but the global
	// aggregator denies.
	_, err := agg.RegisterExposure(ctx, "pre", "BTC/USDT", "other", 45_000, 0.2)
	require.NoError(t, err)

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(10_000))
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Nil(t, pos)
	assert.Equal(t, domain.DenyLimitExceeded, denial.Code)
	assert.Empty(t, c.ActivePositions(), "no position persists after an aggregator denial")
	assert.Equal(t, 45_000.0, agg.TotalExposure())
}

func TestRegisterPositionDeniedWhenExpired(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, ControllerConfig{})

	opp := simpleOpportunity(10_000)
	expired := time.Now().Add(-time.Second)
	opp.ExpiresAt = &expired

	pos, denial, err := c.RegisterPosition(ctx, "exec-1", opp)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Nil(t, pos)
	assert.Equal(t, domain.DenyExpired, denial.Code)
}

func TestRegisterPositionMaxPositions(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, ControllerConfig{MaxPositions: 1})

	_, denial, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(5_000))
	require.NoError(t, err)
	require.Nil(t, denial)

	opp := simpleOpportunity(5_000)
	opp.ID = "opp-2"
	opp.Pairs = []string{"ETH/USDT"}
	opp.Path[0].Pair = "ETH/USDT"
	_, denial, err = c.RegisterPosition(ctx, "exec-2", opp)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenyLimitExceeded, denial.Code)
}

func TestEmergencyStopAll(t *testing.T) {
	ctx := context.Background()
	c, agg := newTestController(t, ControllerConfig{})

	opp1 := simpleOpportunity(10_000)
	opp2 := simpleOpportunity(10_000)
	opp2.ID = "opp-2"
	opp2.Pairs = []string{"ETH/USDT"}
	opp2.Path[0].Pair = "ETH/USDT"

	pos1, _, err := c.RegisterPosition(ctx, "exec-1", opp1)
	require.NoError(t, err)
	_, _, err = c.RegisterPosition(ctx, "exec-2", opp2)
	require.NoError(t, err)

	require.True(t, c.UpdatePosition(ctx, pos1.ID, 9_900, -100))

	closed := c.EmergencyStopAll(ctx, "manual stop")
	assert.Equal(t, 2, closed)
	assert.True(t, c.IsHalted())
	assert.Empty(t, c.ActivePositions())
	assert.Zero(t, agg.TotalExposure())

	for _, p := range c.History(10) {
		assert.Equal(t, domain.PositionEmergency, p.Status)
	}

	// Admissions stay blocked until Resume.
	opp3 := simpleOpportunity(1_000)
	opp3.ID = "opp-3"
	_, denial, err := c.RegisterPosition(ctx, "exec-3", opp3)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenyHalted, denial.Code)

	c.Resume()
	_, denial, err = c.RegisterPosition(ctx, "exec-4", opp3)
	require.NoError(t, err)
	assert.Nil(t, denial)
}

func TestControllerStatus(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, ControllerConfig{EnableStopLoss: true})

	pos, _, err := c.RegisterPosition(ctx, "exec-1", simpleOpportunity(10_000))
	require.NoError(t, err)

	st := c.Status()
	assert.Equal(t, 1, st.OpenPositions)
	assert.Equal(t, 10_000.0, st.CommittedCapital)
	assert.True(t, st.StopLossEnabled)

	require.True(t, c.ClosePosition(ctx, pos.ID, 500, domain.PositionClosed))
	st = c.Status()
	assert.Equal(t, 0, st.OpenPositions)
	assert.InDelta(t, 500.0, st.DailyPnL, 1e-9)
	assert.Equal(t, 1, st.ClosedToday)
}
