package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

func TestSimulatorLimitFillsAtLimitPrice(t *testing.T) {
	sim := NewSimulator("sim", 0.001, 0)
	sim.SetCondition(domain.MarketCondition{Pair: "BTC/USDT", LastPrice: 101, Spread: 0.01})

	limit := 100.0
	result, err := sim.PlaceOrder(context.Background(), domain.OrderRequest{
		Exchange:   "sim",
		Pair:       "BTC/USDT",
		Action:     domain.ActionBuy,
		Type:       domain.OrderTypeLimit,
		Quantity:   2,
		LimitPrice: &limit,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderCompleted, result.Status)
	assert.Equal(t, 100.0, result.ExecutedPrice, "limit orders never pay the spread")
	assert.Equal(t, 200.0, result.ExecutedValue)
	assert.InDelta(t, 0.2, result.Fees, 1e-9)
	assert.Zero(t, result.Slippage)
}

func TestSimulatorMarketCrossesHalfSpread(t *testing.T) {
	sim := NewSimulator("sim", 0, 0)
	sim.SetCondition(domain.MarketCondition{Pair: "BTC/USDT", LastPrice: 100, Spread: 0.01})

	buy, err := sim.PlaceOrder(context.Background(), domain.OrderRequest{
		Exchange: "sim", Pair: "BTC/USDT", Action: domain.ActionBuy,
		Type: domain.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.5, buy.ExecutedPrice, 1e-9)

	sell, err := sim.PlaceOrder(context.Background(), domain.OrderRequest{
		Exchange: "sim", Pair: "BTC/USDT", Action: domain.ActionSell,
		Type: domain.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	assert.InDelta(t, 99.5, sell.ExecutedPrice, 1e-9)
}

func TestSimulatorSlippageLimit(t *testing.T) {
	sim := NewSimulator("sim", 0, 0)
	sim.SetCondition(domain.MarketCondition{Pair: "BTC/USDT", LastPrice: 100, Spread: 0.02})

	result, err := sim.PlaceOrder(context.Background(), domain.OrderRequest{
		Exchange: "sim", Pair: "BTC/USDT", Action: domain.ActionBuy,
		Type: domain.OrderTypeMarket, Quantity: 1, MaxSlippage: 0.005,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, result.Status)
	assert.Contains(t, result.Error, "slippage")
}

func TestSimulatorNoMarketPrice(t *testing.T) {
	sim := NewSimulator("sim", 0, 0)

	result, err := sim.PlaceOrder(context.Background(), domain.OrderRequest{
		Exchange: "sim", Pair: "UNKNOWN/USDT", Action: domain.ActionBuy,
		Type: domain.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, result.Status)
	assert.Contains(t, result.Error, "no market price")

	_, err = sim.GetMarketCondition(context.Background(), "UNKNOWN/USDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimulatorFailPairAfter(t *testing.T) {
	sim := NewSimulator("sim", 0, 0)
	sim.SetCondition(domain.MarketCondition{Pair: "BTC/USDT", LastPrice: 100})
	sim.FailPairAfter("BTC/USDT", 2, "venue down")

	req := domain.OrderRequest{
		Exchange: "sim", Pair: "BTC/USDT", Action: domain.ActionBuy,
		Type: domain.OrderTypeMarket, Quantity: 1,
	}

	for i := 0; i < 2; i++ {
		result, err := sim.PlaceOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderCompleted, result.Status)
	}

	result, err := sim.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, result.Status)
	assert.Equal(t, "venue down", result.Error)

	sim.ClearFailures()
	result, err = sim.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, result.Status)

	assert.Len(t, sim.PlacedOrders(), 4, "every request is recorded, filled or not")
}

func TestRegistryLookup(t *testing.T) {
	alpha := NewSimulator("alpha", 0, 0)
	reg := NewRegistry(alpha)

	got, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name())

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
