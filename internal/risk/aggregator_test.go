package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestAggregator(t *testing.T, cfg AggregatorConfig) (*Aggregator, *CorrelationEstimator) {
	t.Helper()
	if cfg.MaxTotalExposure == 0 {
		cfg.MaxTotalExposure = 200_000
	}
	if cfg.MaxPairExposure == 0 {
		cfg.MaxPairExposure = 50_000
	}
	if cfg.MaxStrategyExposure == 0 {
		cfg.MaxStrategyExposure = 100_000
	}
	corr := NewCorrelationEstimator(0.94, 0.05)
	alerter := NewAlerter(time.Hour, nil, nil, nil, testLogger())
	return NewAggregator(cfg, corr, alerter, nil, testLogger()), corr
}

func TestRegisterExposureCeilings(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, AggregatorConfig{})

	// 60k against the 50k pair ceiling is denied without mutation.
	denial, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 60_000, 0.3)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenyLimitExceeded, denial.Code)
	assert.Equal(t, "pair_exposure:BTC/USDT", denial.Details["limit"])
	assert.Zero(t, agg.TotalExposure())
	assert.Empty(t, agg.Exposures())

	// 40k fits.
	denial, err = agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 40_000, 0.3)
	require.NoError(t, err)
	assert.Nil(t, denial)
	assert.Equal(t, 40_000.0, agg.TotalExposure())
}

func TestRegisterExposureCeilingOrder(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, AggregatorConfig{
		MaxTotalExposure:    100_000,
		MaxPairExposure:     100_000,
		MaxStrategyExposure: 100_000,
	})

	_, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 90_000, 0.3)
	require.NoError(t, err)

	// Both the total and the pair ceiling would be breached; the total
	// ceiling is named because it is checked first.
	denial, err := agg.RegisterExposure(ctx, "e2", "BTC/USDT", "spread", 20_000, 0.3)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, "total_exposure", denial.Details["limit"])
}

func TestRegisterExposureContractViolations(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, AggregatorConfig{})

	_, err := agg.RegisterExposure(ctx, "", "BTC/USDT", "spread", 1_000, 0.1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", -5, 0.1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 1_000, 0.1)
	require.NoError(t, err)
	_, err = agg.RegisterExposure(ctx, "e1", "ETH/USDT", "spread", 1_000, 0.1)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestUpdateAndRemoveExposure(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, AggregatorConfig{})

	_, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 10_000, 0.2)
	require.NoError(t, err)

	assert.True(t, agg.UpdateExposure(ctx, "e1", 15_000))
	assert.Equal(t, 15_000.0, agg.TotalExposure())

	assert.False(t, agg.UpdateExposure(ctx, "missing", 1), "unknown id")
	assert.False(t, agg.UpdateExposure(ctx, "e1", -1), "negative amount")

	assert.True(t, agg.RemoveExposure(ctx, "e1"))
	assert.Zero(t, agg.TotalExposure())
	assert.False(t, agg.RemoveExposure(ctx, "e1"), "second removal is a no-op")
}

func TestPortfolioMetricsVaR(t *testing.T) {
	ctx := context.Background()
	agg, corr := newTestAggregator(t, AggregatorConfig{})
	corr.SeedVolatility("BTC/USDT", 0.05)

	_, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 40_000, 0.2)
	require.NoError(t, err)

	m := agg.Metrics()
	assert.Equal(t, 40_000.0, m.TotalExposure)
	assert.InDelta(t, 0.2, m.Utilization, 1e-9)
	assert.InDelta(t, 1.0, m.Concentration, 1e-9, "single pair is fully concentrated")

	// Single pair: portfolio vol equals the pair vol.
	assert.InDelta(t, 0.05, m.PortfolioVolatility, 1e-9)
	assert.InDelta(t, 1.645*0.05*40_000, m.VaR95, 1e-6)
	assert.InDelta(t, 2.326*0.05*40_000, m.VaR99, 1e-6)
	assert.InDelta(t, m.VaR99*1.25, m.ExpectedShortfall, 1e-6)
	assert.InDelta(t, 1.0, m.DiversificationRatio, 1e-9)
}

func TestDiversificationWithHighCorrelation(t *testing.T) {
	ctx := context.Background()
	agg, corr := newTestAggregator(t, AggregatorConfig{})
	corr.SeedVolatility("BTC/USDT", 0.05)
	corr.SeedVolatility("ETH/USDT", 0.05)
	corr.Seed("BTC/USDT", "ETH/USDT", 0.8)

	_, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 20_000, 0.2)
	require.NoError(t, err)
	_, err = agg.RegisterExposure(ctx, "e2", "ETH/USDT", "spread", 20_000, 0.2)
	require.NoError(t, err)

	m := agg.Metrics()
	// Equal weights, equal vols, rho 0.8:
	// variance = v^2 (0.25 + 0.25 + 2*0.25*0.8) = 0.9 v^2
	assert.InDelta(t, 0.05*0.9486833, m.PortfolioVolatility, 1e-6)
	assert.Less(t, m.DiversificationRatio, 1.5, "highly correlated pairs diversify little")
	assert.Greater(t, m.DiversificationRatio, 1.0)
}

func TestEmergencyRiskShutdown(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, AggregatorConfig{})

	_, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 10_000, 0.2)
	require.NoError(t, err)
	_, err = agg.RegisterExposure(ctx, "e2", "ETH/USDT", "spread", 10_000, 0.2)
	require.NoError(t, err)

	assert.True(t, agg.EmergencyRiskShutdown(ctx, "test"))
	assert.True(t, agg.Halted())
	assert.Zero(t, agg.TotalExposure())
	assert.Empty(t, agg.Exposures())

	// Registrations are denied while halted.
	denial, err := agg.RegisterExposure(ctx, "e3", "BTC/USDT", "spread", 1_000, 0.1)
	require.NoError(t, err)
	require.NotNil(t, denial)
	assert.Equal(t, domain.DenyHalted, denial.Code)

	// A repeated shutdown with nothing left reports no action.
	assert.False(t, agg.EmergencyRiskShutdown(ctx, "again"))

	agg.Resume()
	denial, err = agg.RegisterExposure(ctx, "e3", "BTC/USDT", "spread", 1_000, 0.1)
	require.NoError(t, err)
	assert.Nil(t, denial)
}

func TestCheckLimitsRaisesUtilizationAlert(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, AggregatorConfig{
		MaxTotalExposure:    100_000,
		MaxPairExposure:     100_000,
		MaxStrategyExposure: 100_000,
		UtilizationWarning:  0.7,
		UtilizationCritical: 0.9,
		MaxConcentration:    1.0,
	})

	_, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 95_000, 0.2)
	require.NoError(t, err)

	agg.CheckLimits(ctx)
	alerts := agg.ActiveAlerts()
	require.NotEmpty(t, alerts)

	var found bool
	for _, a := range alerts {
		if a.Key == "utilization:critical" {
			found = true
			assert.Equal(t, domain.AlertCritical, a.Severity)
		}
	}
	assert.True(t, found, "critical utilization alert expected")

	// Deduplicated while active.
	before := len(agg.ActiveAlerts())
	agg.CheckLimits(ctx)
	assert.Len(t, agg.ActiveAlerts(), before)
}

func TestCheckLimitsCorrelationAlertResolves(t *testing.T) {
	ctx := context.Background()
	agg, corr := newTestAggregator(t, AggregatorConfig{MaxCorrelation: 0.8})
	corr.Seed("BTC/USDT", "ETH/USDT", 0.95)

	_, err := agg.RegisterExposure(ctx, "e1", "BTC/USDT", "spread", 10_000, 0.2)
	require.NoError(t, err)
	_, err = agg.RegisterExposure(ctx, "e2", "ETH/USDT", "spread", 10_000, 0.2)
	require.NoError(t, err)

	agg.CheckLimits(ctx)
	assert.True(t, hasAlert(agg.ActiveAlerts(), "correlation"))

	// Once the estimate falls back under the limit the alert clears on the
	// next sweep instead of lingering until expiry.
	corr.Seed("BTC/USDT", "ETH/USDT", 0.3)
	agg.CheckLimits(ctx)
	assert.False(t, hasAlert(agg.ActiveAlerts(), "correlation"))
}

func hasAlert(alerts []domain.RiskAlert, key string) bool {
	for _, a := range alerts {
		if a.Key == key {
			return true
		}
	}
	return false
}
