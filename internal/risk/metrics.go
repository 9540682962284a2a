// Package risk implements the three risk cores of the engine: pure metric
// scoring, the per-position controller, and the global exposure aggregator.
package risk

import (
	"math"
	"time"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// Weights applied to the five component scores when computing the total.
const (
	weightPosition    = 0.25
	weightMarket      = 0.25
	weightLiquidity   = 0.20
	weightExecution   = 0.20
	weightCorrelation = 0.10
)

// Reference scales for market risk terms: volatility relative to 10%, spread
// relative to 1%.
const (
	volScale    = 0.10
	spreadScale = 0.01
)

// defaultMarketRisk is assumed when no market data is available for any leg.
const defaultMarketRisk = 0.3

// noExpiryTimeRisk is the time component when an opportunity has no expiry.
const noExpiryTimeRisk = 0.3

// expiryHorizon is the window within which time-to-expiry risk ramps to 1.
const expiryHorizon = 60 * time.Second

// CorrelationLookup resolves the correlation coefficient between two pairs.
// The second return value is false when no estimate exists.
type CorrelationLookup func(a, b string) (float64, bool)

// ScoreInputs carries everything the scoring functions consume. The functions
// are pure: same inputs, same scores.
type ScoreInputs struct {
	Opportunity   domain.Opportunity
	Conditions    map[string]domain.MarketCondition // by pair; missing pairs degrade gracefully
	Correlations  CorrelationLookup
	OpenPositions int
	MaxPositions  int
	SingleCeiling float64 // max capital for one position
	GlobalCeiling float64 // max total exposure
	Now           time.Time
}

// Score computes the five component scores, the weighted total, and the
// resulting level and action.
func Score(in ScoreInputs, thresholds domain.RiskThresholds) domain.RiskMetrics {
	m := domain.RiskMetrics{
		PositionRisk:    PositionRisk(in.Opportunity.RequiredCapital, in.OpenPositions, in.MaxPositions, in.SingleCeiling, in.GlobalCeiling),
		MarketRisk:      MarketRisk(in.Opportunity.Path, in.Conditions),
		LiquidityRisk:   LiquidityRisk(in.Opportunity.Path, in.Conditions),
		ExecutionRisk:   ExecutionRisk(in.Opportunity, in.Now),
		CorrelationRisk: CorrelationRisk(in.Opportunity.Pairs, in.Correlations),
		ComputedAt:      in.Now,
	}
	m.TotalScore = clamp01(weightPosition*m.PositionRisk +
		weightMarket*m.MarketRisk +
		weightLiquidity*m.LiquidityRisk +
		weightExecution*m.ExecutionRisk +
		weightCorrelation*m.CorrelationRisk)
	m.Level = thresholds.LevelFor(m.TotalScore)
	m.Action = domain.ActionFor(m.Level)
	return m
}

// PositionRisk scores the capital commitment. Capital beyond the single
// position ceiling is maximal risk; otherwise the worse of capital utilization
// against the global ceiling and position-slot utilization.
func PositionRisk(capital float64, openPositions, maxPositions int, singleCeiling, globalCeiling float64) float64 {
	if singleCeiling > 0 && capital > singleCeiling {
		return 1.0
	}
	var capitalRatio float64
	if globalCeiling > 0 {
		capitalRatio = capital / globalCeiling
	}
	var slotRatio float64
	if maxPositions > 0 {
		slotRatio = float64(openPositions) / float64(maxPositions)
	}
	return clamp01(math.Max(capitalRatio, slotRatio))
}

// MarketRisk scores volatility, thin liquidity, and wide spreads per leg and
// averages across legs. Legs without market data are skipped; if no leg has
// data the default applies.
func MarketRisk(path []domain.PathStep, conditions map[string]domain.MarketCondition) float64 {
	var sum float64
	var n int
	for _, step := range path {
		cond, ok := conditions[step.Pair]
		if !ok {
			continue
		}
		volRisk := clamp01(cond.Volatility / volScale)
		liqRisk := clamp01(1 - cond.Liquidity)
		spreadRisk := clamp01(cond.Spread / spreadScale)
		sum += (volRisk + liqRisk + spreadRisk) / 3
		n++
	}
	if n == 0 {
		return defaultMarketRisk
	}
	return sum / float64(n)
}

// LiquidityRisk maps each leg's requested volume against the available market
// volume into a coarse tier; the worst leg dominates.
func LiquidityRisk(path []domain.PathStep, conditions map[string]domain.MarketCondition) float64 {
	worst := 0.2
	for _, step := range path {
		cond, ok := conditions[step.Pair]
		if !ok || cond.Volume <= 0 {
			continue
		}
		usage := step.Volume / cond.Volume
		var r float64
		switch {
		case usage > 0.5:
			r = 0.8
		case usage > 0.2:
			r = 0.5
		default:
			r = 0.2
		}
		if r > worst {
			worst = r
		}
	}
	return worst
}

// ExecutionRisk combines step-count, exchange-count, and time-to-expiry risk.
func ExecutionRisk(opp domain.Opportunity, now time.Time) float64 {
	stepRisk := clamp01(float64(len(opp.Path)-1) / 5)

	exchanges := make(map[string]struct{}, len(opp.Path))
	for _, step := range opp.Path {
		exchanges[step.Exchange] = struct{}{}
	}
	exchangeRisk := clamp01(float64(len(exchanges)-1) / 3)

	timeRisk := noExpiryTimeRisk
	if ttl, ok := opp.TTL(now); ok {
		timeRisk = clamp01(1 - ttl.Seconds()/expiryHorizon.Seconds())
	}

	return (stepRisk + exchangeRisk + timeRisk) / 3
}

// CorrelationRisk is the maximum absolute pairwise correlation among the
// opportunity's pairs. With fewer than two pairs there is nothing to
// correlate and a small floor applies.
func CorrelationRisk(pairs []string, lookup CorrelationLookup) float64 {
	if len(pairs) < 2 || lookup == nil {
		return 0.1
	}
	var worst float64
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if corr, ok := lookup(pairs[i], pairs[j]); ok {
				if abs := math.Abs(corr); abs > worst {
					worst = abs
				}
			}
		}
	}
	if worst == 0 {
		return 0.1
	}
	return clamp01(worst)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
