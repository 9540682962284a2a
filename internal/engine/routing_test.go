package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

func TestOrderTypeFor(t *testing.T) {
	calm := &domain.MarketCondition{Pair: "A", Volatility: 0.01}
	choppy := &domain.MarketCondition{Pair: "A", Volatility: 0.05}

	assert.Equal(t, domain.OrderTypeMarket, OrderTypeFor(domain.StrategyAggressive, choppy))
	assert.Equal(t, domain.OrderTypeLimit, OrderTypeFor(domain.StrategyConservative, calm))
	assert.Equal(t, domain.OrderTypeLimit, OrderTypeFor(domain.StrategyTWAP, nil))
	assert.Equal(t, domain.OrderTypeLimit, OrderTypeFor(domain.StrategyVWAP, nil))

	assert.Equal(t, domain.OrderTypeMarket, OrderTypeFor(domain.StrategyAdaptive, calm))
	assert.Equal(t, domain.OrderTypeLimit, OrderTypeFor(domain.StrategyAdaptive, choppy))
	assert.Equal(t, domain.OrderTypeMarket, OrderTypeFor(domain.StrategyAdaptive, nil), "no snapshot falls back to market")
}

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:              "opp-1",
		Strategy:        "spread",
		Pairs:           []string{"BTC/USDT", "ETH/USDT"},
		Exchanges:       []string{"binance", "kraken"},
		RequiredCapital: 10_000,
		Path: []domain.PathStep{
			{Action: domain.ActionBuy, Exchange: "binance", Pair: "BTC/USDT", Price: 100, Volume: 100},
			{Action: domain.ActionSell, Exchange: "kraken", Pair: "ETH/USDT", Price: 51, Volume: 200},
		},
		DetectedAt: time.Now(),
	}
}

func TestBuildPlanLimitPrices(t *testing.T) {
	opp := testOpportunity()
	plan := buildPlan(opp, domain.StrategyConservative, nil, 0, 0.005, 5*time.Second, false)

	require.Len(t, plan.legs, 2)
	require.Len(t, plan.legs[0], 1)

	first := plan.legs[0][0]
	assert.Equal(t, domain.OrderTypeLimit, first.Type)
	require.NotNil(t, first.LimitPrice)
	assert.Equal(t, 100.0, *first.LimitPrice)
	assert.Equal(t, 0.005, first.MaxSlippage)
	assert.Equal(t, 5*time.Second, first.Timeout)

	second := plan.legs[1][0]
	assert.Equal(t, domain.ActionSell, second.Action)
	require.NotNil(t, second.LimitPrice)
	assert.Equal(t, 51.0, *second.LimitPrice)
}

func TestBuildPlanMarketOrdersCarryNoLimit(t *testing.T) {
	plan := buildPlan(testOpportunity(), domain.StrategyAggressive, nil, 0, 0, time.Second, false)
	for _, leg := range plan.legs {
		for _, req := range leg {
			assert.Equal(t, domain.OrderTypeMarket, req.Type)
			assert.Nil(t, req.LimitPrice)
		}
	}
}

func TestSplitLegTWAP(t *testing.T) {
	base := domain.OrderRequest{Exchange: "x", Pair: "A", Action: domain.ActionBuy, Quantity: 100}

	slices := splitLeg(base, domain.StrategyTWAP, nil, 0, true)
	require.Len(t, slices, 4)
	var total float64
	for _, s := range slices {
		assert.Equal(t, 25.0, s.Quantity)
		total += s.Quantity
	}
	assert.Equal(t, 100.0, total)
}

func TestSplitLegVWAP(t *testing.T) {
	base := domain.OrderRequest{Exchange: "x", Pair: "A", Action: domain.ActionBuy, Quantity: 100}
	cond := &domain.MarketCondition{Pair: "A", Volume: 300}

	// slice = 10% of market volume = 30
	slices := splitLeg(base, domain.StrategyVWAP, cond, 0, true)
	require.Len(t, slices, 4)
	assert.Equal(t, 30.0, slices[0].Quantity)
	assert.Equal(t, 10.0, slices[3].Quantity, "remainder slice")
}

func TestSplitLegMaxOrderSize(t *testing.T) {
	base := domain.OrderRequest{Exchange: "x", Pair: "A", Action: domain.ActionBuy, Quantity: 100}

	slices := splitLeg(base, domain.StrategyAggressive, nil, 40, true)
	require.Len(t, slices, 3)
	assert.Equal(t, []float64{40, 40, 20}, []float64{slices[0].Quantity, slices[1].Quantity, slices[2].Quantity})
}

func TestSplitLegDisabled(t *testing.T) {
	base := domain.OrderRequest{Exchange: "x", Pair: "A", Action: domain.ActionBuy, Quantity: 100}
	slices := splitLeg(base, domain.StrategyTWAP, nil, 0, false)
	require.Len(t, slices, 1)
	assert.Equal(t, base, slices[0])
}

func TestReversalFor(t *testing.T) {
	filled := domain.OrderResult{
		OrderID:     "o1",
		Exchange:    "binance",
		Pair:        "BTC/USDT",
		Action:      domain.ActionBuy,
		ExecutedQty: 42,
		Status:      domain.OrderCompleted,
	}

	rev := reversalFor(filled, 0.01, 3*time.Second)
	assert.Equal(t, domain.ActionSell, rev.Action, "buys unwind with sells")
	assert.Equal(t, domain.OrderTypeMarket, rev.Type, "reversals always go out as market orders")
	assert.Equal(t, 42.0, rev.Quantity, "executed quantity, not requested")
	assert.Equal(t, "binance", rev.Exchange)
	assert.Equal(t, 3*time.Second, rev.Timeout)

	filled.Action = domain.ActionSell
	assert.Equal(t, domain.ActionBuy, reversalFor(filled, 0, 0).Action)
}
