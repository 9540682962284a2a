package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationEstimatorSeed(t *testing.T) {
	e := NewCorrelationEstimator(0.94, 0.05)

	_, ok := e.Correlation("BTC/USDT", "ETH/USDT")
	assert.False(t, ok, "no estimate before seeding")

	e.Seed("BTC/USDT", "ETH/USDT", 0.8)

	corr, ok := e.Correlation("BTC/USDT", "ETH/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.8, corr, 1e-9)

	// symmetric lookup
	corr, ok = e.Correlation("ETH/USDT", "BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, 0.8, corr, 1e-9)
}

func TestCorrelationEstimatorIdentity(t *testing.T) {
	e := NewCorrelationEstimator(0.94, 0.05)
	corr, ok := e.Correlation("BTC/USDT", "BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, corr)
}

func TestCorrelationEstimatorObserveReturns(t *testing.T) {
	e := NewCorrelationEstimator(0.9, 0.05)

	// Co-moving returns drive the estimate strongly positive. The cross-lag
	// covariance terms keep it short of 1 over a short window.
	returns := []float64{0.01, -0.02, 0.015, 0.005, -0.01, 0.02}
	for _, r := range returns {
		e.ObserveReturn("A", r)
		e.ObserveReturn("B", r)
	}

	corr, ok := e.Correlation("A", "B")
	require.True(t, ok)
	assert.Greater(t, corr, 0.5)
	assert.LessOrEqual(t, corr, 1.0)

	// Opposite returns drive it strongly negative.
	for _, r := range returns {
		e.ObserveReturn("C", r)
		e.ObserveReturn("D", -r)
	}
	corr, ok = e.Correlation("C", "D")
	require.True(t, ok)
	assert.Less(t, corr, -0.5)
	assert.GreaterOrEqual(t, corr, -1.0)
}

func TestCorrelationEstimatorVolatility(t *testing.T) {
	e := NewCorrelationEstimator(0.94, 0.05)

	assert.Equal(t, 0.05, e.Volatility("unseen"), "default for unseen pairs")

	e.SeedVolatility("BTC/USDT", 0.12)
	assert.InDelta(t, 0.12, e.Volatility("BTC/USDT"), 1e-9)
}

func TestCorrelationEstimatorMatrix(t *testing.T) {
	e := NewCorrelationEstimator(0.94, 0.05)
	e.Seed("A", "B", 0.5)
	e.SeedVolatility("C", 0.1)

	m := e.Matrix()
	require.Len(t, m, 3)
	assert.Equal(t, 1.0, m["A"]["A"])
	assert.InDelta(t, 0.5, m["A"]["B"], 1e-9)
	assert.InDelta(t, 0.5, m["B"]["A"], 1e-9)
	assert.Equal(t, 0.0, m["A"]["C"], "no estimate renders as zero")
}

func TestCorrelationEstimatorPrune(t *testing.T) {
	e := NewCorrelationEstimator(0.94, 0.05)
	e.Seed("A", "B", 0.5)

	assert.Equal(t, 0, e.Prune(time.Hour), "fresh pairs survive")
	assert.Equal(t, 2, e.Prune(0), "everything older than now is dropped")
	assert.Empty(t, e.Pairs())

	_, ok := e.Correlation("A", "B")
	assert.False(t, ok, "covariances are dropped with their pairs")
}

func TestCorrelationEstimatorBadLambdaFallsBack(t *testing.T) {
	e := NewCorrelationEstimator(1.5, -1)
	e.Seed("A", "B", 0.3)
	corr, ok := e.Correlation("A", "B")
	require.True(t, ok)
	assert.InDelta(t, 0.3, corr, 1e-9)
}
