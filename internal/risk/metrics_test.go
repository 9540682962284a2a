package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

func TestPositionRisk(t *testing.T) {
	t.Run("over single ceiling is maximal", func(t *testing.T) {
		assert.Equal(t, 1.0, PositionRisk(60_000, 0, 10, 50_000, 200_000))
	})

	t.Run("capital utilization dominates", func(t *testing.T) {
		// 40k of 200k ceiling = 0.2, slots 1/10 = 0.1
		assert.InDelta(t, 0.2, PositionRisk(40_000, 1, 10, 50_000, 200_000), 1e-9)
	})

	t.Run("slot utilization dominates", func(t *testing.T) {
		// 10k of 200k = 0.05, slots 8/10 = 0.8
		assert.InDelta(t, 0.8, PositionRisk(10_000, 8, 10, 50_000, 200_000), 1e-9)
	})

	t.Run("zero ceilings do not divide", func(t *testing.T) {
		assert.Equal(t, 0.0, PositionRisk(10_000, 0, 0, 0, 0))
	})
}

func TestMarketRisk(t *testing.T) {
	path := []domain.PathStep{
		{Action: domain.ActionBuy, Exchange: "a", Pair: "BTC/USDT", Volume: 1},
		{Action: domain.ActionSell, Exchange: "b", Pair: "ETH/USDT", Volume: 1},
	}

	t.Run("no data yields the default", func(t *testing.T) {
		assert.Equal(t, 0.3, MarketRisk(path, nil))
	})

	t.Run("per leg average of vol liquidity spread", func(t *testing.T) {
		conditions := map[string]domain.MarketCondition{
			// vol 0.05/0.10 = 0.5, 1-liquidity = 0.4, spread 0.005/0.01 = 0.5
			"BTC/USDT": {Pair: "BTC/USDT", Volatility: 0.05, Liquidity: 0.6, Spread: 0.005},
		}
		// only the BTC leg has data: (0.5 + 0.4 + 0.5) / 3
		assert.InDelta(t, 0.4667, MarketRisk(path, conditions), 1e-3)
	})

	t.Run("components clamp at one", func(t *testing.T) {
		conditions := map[string]domain.MarketCondition{
			"BTC/USDT": {Pair: "BTC/USDT", Volatility: 0.5, Liquidity: 0, Spread: 0.1},
			"ETH/USDT": {Pair: "ETH/USDT", Volatility: 0.5, Liquidity: 0, Spread: 0.1},
		}
		assert.Equal(t, 1.0, MarketRisk(path, conditions))
	})
}

func TestLiquidityRisk(t *testing.T) {
	step := func(pair string, vol float64) domain.PathStep {
		return domain.PathStep{Action: domain.ActionBuy, Exchange: "x", Pair: pair, Volume: vol}
	}
	conditions := map[string]domain.MarketCondition{
		"A": {Pair: "A", Volume: 100},
		"B": {Pair: "B", Volume: 100},
	}

	t.Run("tiers", func(t *testing.T) {
		assert.Equal(t, 0.2, LiquidityRisk([]domain.PathStep{step("A", 10)}, conditions))  // 10%
		assert.Equal(t, 0.5, LiquidityRisk([]domain.PathStep{step("A", 30)}, conditions))  // 30%
		assert.Equal(t, 0.8, LiquidityRisk([]domain.PathStep{step("A", 60)}, conditions))  // 60%
	})

	t.Run("worst leg dominates", func(t *testing.T) {
		path := []domain.PathStep{step("A", 10), step("B", 60)}
		assert.Equal(t, 0.8, LiquidityRisk(path, conditions))
	})

	t.Run("no volume data is the floor", func(t *testing.T) {
		assert.Equal(t, 0.2, LiquidityRisk([]domain.PathStep{step("C", 60)}, conditions))
	})
}

func TestExecutionRisk(t *testing.T) {
	now := time.Now()
	twoLeg := domain.Opportunity{
		ID:              "opp",
		RequiredCapital: 1,
		Path: []domain.PathStep{
			{Action: domain.ActionBuy, Exchange: "a", Pair: "A", Volume: 1},
			{Action: domain.ActionSell, Exchange: "b", Pair: "B", Volume: 1},
		},
	}

	t.Run("no expiry uses the fixed time risk", func(t *testing.T) {
		// steps (2-1)/5 = 0.2, exchanges (2-1)/3 = 0.333, time 0.3
		got := ExecutionRisk(twoLeg, now)
		assert.InDelta(t, (0.2+1.0/3+0.3)/3, got, 1e-9)
	})

	t.Run("imminent expiry ramps time risk", func(t *testing.T) {
		opp := twoLeg
		expires := now.Add(15 * time.Second)
		opp.ExpiresAt = &expires
		// time risk = 1 - 15/60 = 0.75
		got := ExecutionRisk(opp, now)
		assert.InDelta(t, (0.2+1.0/3+0.75)/3, got, 1e-9)
	})

	t.Run("distant expiry has no time risk", func(t *testing.T) {
		opp := twoLeg
		expires := now.Add(10 * time.Minute)
		opp.ExpiresAt = &expires
		got := ExecutionRisk(opp, now)
		assert.InDelta(t, (0.2+1.0/3)/3, got, 1e-9)
	})
}

func TestCorrelationRisk(t *testing.T) {
	lookup := func(a, b string) (float64, bool) {
		if a == "A" && b == "B" || a == "B" && b == "A" {
			return -0.9, true
		}
		return 0, false
	}

	assert.Equal(t, 0.1, CorrelationRisk([]string{"A"}, lookup), "single pair floor")
	assert.Equal(t, 0.1, CorrelationRisk([]string{"A", "C"}, lookup), "unknown pairs floor")
	assert.InDelta(t, 0.9, CorrelationRisk([]string{"A", "B"}, lookup), 1e-9, "absolute value of negative correlation")
}

func TestScoreWeightsAndClassification(t *testing.T) {
	now := time.Now()
	opp := domain.Opportunity{
		ID:              "opp-1",
		Strategy:        "spread",
		Pairs:           []string{"BTC/USDT"},
		RequiredCapital: 30_000,
		Path: []domain.PathStep{
			{Action: domain.ActionBuy, Exchange: "binance", Pair: "BTC/USDT", Price: 100, Volume: 300},
		},
		DetectedAt: now,
	}

	m := Score(ScoreInputs{
		Opportunity:   opp,
		OpenPositions: 0,
		MaxPositions:  10,
		SingleCeiling: 50_000,
		GlobalCeiling: 200_000,
		Now:           now,
	}, domain.DefaultThresholds())

	// position 0.15, market 0.3 (no data), liquidity 0.2,
	// execution (0 + 0 + 0.3)/3 = 0.1, correlation 0.1
	assert.InDelta(t, 0.15, m.PositionRisk, 1e-9)
	assert.InDelta(t, 0.3, m.MarketRisk, 1e-9)
	assert.InDelta(t, 0.2, m.LiquidityRisk, 1e-9)
	assert.InDelta(t, 0.1, m.ExecutionRisk, 1e-9)
	assert.InDelta(t, 0.1, m.CorrelationRisk, 1e-9)

	want := 0.25*0.15 + 0.25*0.3 + 0.20*0.2 + 0.20*0.1 + 0.10*0.1
	assert.InDelta(t, want, m.TotalScore, 1e-9)
	assert.Equal(t, domain.RiskLow, m.Level)
	assert.Equal(t, domain.ActionAllow, m.Action)
}

func TestLevelBoundaries(t *testing.T) {
	th := domain.DefaultThresholds()

	cases := []struct {
		score  float64
		level  domain.RiskLevel
		action domain.RiskAction
	}{
		{0.10, domain.RiskLow, domain.ActionAllow},
		{0.20, domain.RiskLow, domain.ActionAllow},
		{0.35, domain.RiskMedium, domain.ActionAllow},
		{0.55, domain.RiskHigh, domain.ActionLimit},
		{0.75, domain.RiskCritical, domain.ActionStop},
		{0.85, domain.RiskEmergency, domain.ActionEmergencyExit},
		{1.00, domain.RiskEmergency, domain.ActionEmergencyExit},
	}
	for _, tc := range cases {
		level := th.LevelFor(tc.score)
		assert.Equal(t, tc.level, level, "score %v", tc.score)
		assert.Equal(t, tc.action, domain.ActionFor(level), "score %v", tc.score)
	}
}
