package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// VaR multipliers for the one-day parametric estimate.
const (
	z95          = 1.645
	z99          = 2.326
	esMultiplier = 1.25
)

// maxDiversification caps the diversification ratio.
const maxDiversification = 2.0

// AggregatorConfig holds the global ceilings and alert thresholds. All
// ceilings must be positive; config validation enforces this before the
// aggregator is constructed.
type AggregatorConfig struct {
	MaxTotalExposure    float64
	MaxPairExposure     float64
	MaxStrategyExposure float64
	MaxConcentration    float64
	MaxCorrelation      float64
	VaR95Limit          float64
	UtilizationWarning  float64
	UtilizationCritical float64

	CheckInterval       time.Duration
	CorrelationInterval time.Duration
	MetricsInterval     time.Duration
}

// Aggregator tracks every open exposure across strategies and pairs, enforces
// the global ceilings, and derives portfolio metrics. It owns all exposure
// state; other components mutate it only through the exported methods.
type Aggregator struct {
	cfg     AggregatorConfig
	corr    *CorrelationEstimator
	alerter *Alerter
	events  domain.RiskEventStore
	logger  *slog.Logger

	mu             sync.RWMutex
	exposures      map[string]*domain.Exposure
	pairTotals     map[string]float64
	strategyTotals map[string]float64
	total          float64
	metrics        domain.PortfolioMetrics
	halted         bool
}

// NewAggregator creates an Aggregator. events may be nil; the estimator and
// alerter are required.
func NewAggregator(cfg AggregatorConfig, corr *CorrelationEstimator, alerter *Alerter, events domain.RiskEventStore, logger *slog.Logger) *Aggregator {
	a := &Aggregator{
		cfg:            cfg,
		corr:           corr,
		alerter:        alerter,
		events:         events,
		logger:         logger.With(slog.String("component", "risk_aggregator")),
		exposures:      make(map[string]*domain.Exposure),
		pairTotals:     make(map[string]float64),
		strategyTotals: make(map[string]float64),
	}
	a.recomputeMetricsLocked()
	return a
}

// RegisterExposure admits a new exposure if no global ceiling would be
// breached. Ceilings are checked in order: total, per-pair, per-strategy. A
// violated ceiling produces a Denial and no mutation. The error return is
// reserved for contract violations (bad input, duplicate id).
func (a *Aggregator) RegisterExposure(ctx context.Context, id, pair, strategy string, amount, riskWeight float64) (*domain.Denial, error) {
	if id == "" || pair == "" || strategy == "" || amount <= 0 {
		return nil, fmt.Errorf("risk: register exposure %q: %w", id, domain.ErrInvalidInput)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.halted {
		return &domain.Denial{
			Code:    domain.DenyHalted,
			Message: "global risk controls are halted",
		}, nil
	}
	if _, exists := a.exposures[id]; exists {
		return nil, fmt.Errorf("risk: register exposure %q: %w", id, domain.ErrAlreadyExists)
	}

	if denial := a.ceilingDenialLocked(pair, strategy, amount); denial != nil {
		a.logDenial(ctx, id, pair, strategy, amount, denial)
		return denial, nil
	}

	a.exposures[id] = &domain.Exposure{
		ID:         id,
		Pair:       pair,
		Strategy:   strategy,
		Amount:     amount,
		RiskWeight: riskWeight,
		UpdatedAt:  time.Now(),
	}
	a.total += amount
	a.pairTotals[pair] += amount
	a.strategyTotals[strategy] += amount
	a.recomputeMetricsLocked()

	a.logger.DebugContext(ctx, "exposure registered",
		slog.String("id", id),
		slog.String("pair", pair),
		slog.String("strategy", strategy),
		slog.Float64("amount", amount),
		slog.Float64("total", a.total),
	)
	return nil, nil
}

// ceilingDenialLocked checks the three ceilings in order and returns a denial
// naming the first violated one.
func (a *Aggregator) ceilingDenialLocked(pair, strategy string, amount float64) *domain.Denial {
	if a.total+amount > a.cfg.MaxTotalExposure {
		return limitDenial("total_exposure", a.cfg.MaxTotalExposure, a.total, amount)
	}
	if a.pairTotals[pair]+amount > a.cfg.MaxPairExposure {
		return limitDenial("pair_exposure:"+pair, a.cfg.MaxPairExposure, a.pairTotals[pair], amount)
	}
	if a.strategyTotals[strategy]+amount > a.cfg.MaxStrategyExposure {
		return limitDenial("strategy_exposure:"+strategy, a.cfg.MaxStrategyExposure, a.strategyTotals[strategy], amount)
	}
	return nil
}

func limitDenial(limit string, ceiling, current, requested float64) *domain.Denial {
	return &domain.Denial{
		Code:    domain.DenyLimitExceeded,
		Message: fmt.Sprintf("%s ceiling %.2f would be breached (current %.2f, requested %.2f)", limit, ceiling, current, requested),
		Details: map[string]any{
			"limit":     limit,
			"ceiling":   ceiling,
			"current":   current,
			"requested": requested,
		},
	}
}

func (a *Aggregator) logDenial(ctx context.Context, id, pair, strategy string, amount float64, denial *domain.Denial) {
	a.logger.InfoContext(ctx, "exposure denied",
		slog.String("id", id),
		slog.String("pair", pair),
		slog.String("strategy", strategy),
		slog.Float64("amount", amount),
		slog.String("reason", denial.Message),
	)
	if a.events != nil {
		if err := a.events.Log(ctx, "exposure.denied", map[string]any{
			"id":       id,
			"pair":     pair,
			"strategy": strategy,
			"amount":   amount,
			"reason":   denial.Message,
		}); err != nil {
			a.logger.ErrorContext(ctx, "denial audit log failed", slog.String("error", err.Error()))
		}
	}
}

// UpdateExposure changes an exposure's amount, adjusting the running totals by
// the delta. Unknown ids return false. Totals are floored at zero to tolerate
// rounding.
func (a *Aggregator) UpdateExposure(ctx context.Context, id string, newAmount float64) bool {
	if newAmount < 0 {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	exp, ok := a.exposures[id]
	if !ok {
		return false
	}

	delta := newAmount - exp.Amount
	exp.Amount = newAmount
	exp.UpdatedAt = time.Now()
	a.total = floor0(a.total + delta)
	a.pairTotals[exp.Pair] = floor0(a.pairTotals[exp.Pair] + delta)
	a.strategyTotals[exp.Strategy] = floor0(a.strategyTotals[exp.Strategy] + delta)
	a.recomputeMetricsLocked()
	return true
}

// RemoveExposure releases an exposure and subtracts it from the running
// totals. Unknown ids return false.
func (a *Aggregator) RemoveExposure(ctx context.Context, id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.removeLocked(id)
}

func (a *Aggregator) removeLocked(id string) bool {
	exp, ok := a.exposures[id]
	if !ok {
		return false
	}
	delete(a.exposures, id)
	a.total = floor0(a.total - exp.Amount)
	a.pairTotals[exp.Pair] = floor0(a.pairTotals[exp.Pair] - exp.Amount)
	if a.pairTotals[exp.Pair] == 0 {
		delete(a.pairTotals, exp.Pair)
	}
	a.strategyTotals[exp.Strategy] = floor0(a.strategyTotals[exp.Strategy] - exp.Amount)
	if a.strategyTotals[exp.Strategy] == 0 {
		delete(a.strategyTotals, exp.Strategy)
	}
	a.recomputeMetricsLocked()
	return true
}

// Metrics returns the latest portfolio metrics snapshot.
func (a *Aggregator) Metrics() domain.PortfolioMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metrics
}

// Exposures returns a copy of every open exposure.
func (a *Aggregator) Exposures() []domain.Exposure {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Exposure, 0, len(a.exposures))
	for _, exp := range a.exposures {
		out = append(out, *exp)
	}
	return out
}

// TotalExposure returns the current total across all exposures.
func (a *Aggregator) TotalExposure() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}

// Halted reports whether the aggregator has been emergency-stopped.
func (a *Aggregator) Halted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.halted
}

// ObserveReturn feeds one pair return into the correlation estimator.
func (a *Aggregator) ObserveReturn(pair string, ret float64) {
	a.corr.ObserveReturn(pair, ret)
}

// CorrelationMatrix exposes the estimator's current matrix.
func (a *Aggregator) CorrelationMatrix() map[string]map[string]float64 {
	return a.corr.Matrix()
}

// ActiveAlerts returns the currently active risk alerts.
func (a *Aggregator) ActiveAlerts() []domain.RiskAlert {
	return a.alerter.Active()
}

// EmergencyRiskShutdown removes every exposure and raises an emergency alert.
// It returns false when there was nothing to remove and the aggregator was
// already halted.
func (a *Aggregator) EmergencyRiskShutdown(ctx context.Context, reason string) bool {
	a.mu.Lock()
	alreadyHalted := a.halted
	removed := len(a.exposures)
	a.exposures = make(map[string]*domain.Exposure)
	a.pairTotals = make(map[string]float64)
	a.strategyTotals = make(map[string]float64)
	a.total = 0
	a.halted = true
	a.recomputeMetricsLocked()
	a.mu.Unlock()

	if alreadyHalted && removed == 0 {
		return false
	}

	a.logger.ErrorContext(ctx, "emergency risk shutdown",
		slog.String("reason", reason),
		slog.Int("exposures_removed", removed),
	)
	a.alerter.Raise(ctx, domain.AlertEmergency, "emergency_shutdown", "emergency_shutdown",
		fmt.Sprintf("emergency risk shutdown: %s (%d exposures removed)", reason, removed),
		map[string]any{"reason": reason, "removed": removed})
	if a.events != nil {
		if err := a.events.Log(ctx, "emergency.shutdown", map[string]any{
			"reason":  reason,
			"removed": removed,
		}); err != nil {
			a.logger.ErrorContext(ctx, "shutdown audit log failed", slog.String("error", err.Error()))
		}
	}
	return true
}

// Resume lifts the halted flag after an emergency shutdown.
func (a *Aggregator) Resume() {
	a.mu.Lock()
	a.halted = false
	a.mu.Unlock()
}

// CheckLimits evaluates the alert thresholds against the current metrics. It
// is called after mutations by the risk-check loop rather than inline so a
// burst of registrations alerts once.
func (a *Aggregator) CheckLimits(ctx context.Context) {
	m := a.Metrics()

	switch {
	case m.Utilization >= a.cfg.UtilizationCritical:
		a.alerter.Raise(ctx, domain.AlertCritical, "utilization", "utilization:critical",
			fmt.Sprintf("exposure utilization %.0f%% over critical tier", m.Utilization*100),
			map[string]any{"utilization": m.Utilization})
	case m.Utilization >= a.cfg.UtilizationWarning:
		a.alerter.Raise(ctx, domain.AlertWarning, "utilization", "utilization:warning",
			fmt.Sprintf("exposure utilization %.0f%% over warning tier", m.Utilization*100),
			map[string]any{"utilization": m.Utilization})
	default:
		a.alerter.Resolve("utilization:warning")
		a.alerter.Resolve("utilization:critical")
	}

	if m.Concentration > a.cfg.MaxConcentration {
		a.alerter.Raise(ctx, domain.AlertWarning, "concentration", "concentration",
			fmt.Sprintf("concentration ratio %.2f over limit %.2f", m.Concentration, a.cfg.MaxConcentration),
			map[string]any{"concentration": m.Concentration})
	} else {
		a.alerter.Resolve("concentration")
	}

	if a.cfg.VaR95Limit > 0 && m.VaR95 > a.cfg.VaR95Limit {
		a.alerter.Raise(ctx, domain.AlertCritical, "var", "var95",
			fmt.Sprintf("VaR95 %.2f over limit %.2f", m.VaR95, a.cfg.VaR95Limit),
			map[string]any{"var_95": m.VaR95})
	} else {
		a.alerter.Resolve("var95")
	}

	if worst, pairA, pairB := a.worstExposedCorrelation(); worst > a.cfg.MaxCorrelation {
		a.alerter.Raise(ctx, domain.AlertWarning, "correlation", "correlation",
			fmt.Sprintf("correlation %.2f between %s and %s over limit %.2f", worst, pairA, pairB, a.cfg.MaxCorrelation),
			map[string]any{"correlation": worst, "pairs": []string{pairA, pairB}})
	} else {
		a.alerter.Resolve("correlation")
	}
}

// worstExposedCorrelation scans pairwise correlations among pairs with open
// exposure.
func (a *Aggregator) worstExposedCorrelation() (float64, string, string) {
	a.mu.RLock()
	pairs := make([]string, 0, len(a.pairTotals))
	for p := range a.pairTotals {
		pairs = append(pairs, p)
	}
	a.mu.RUnlock()

	var worst float64
	var wa, wb string
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if corr, ok := a.corr.Correlation(pairs[i], pairs[j]); ok {
				if abs := math.Abs(corr); abs > worst {
					worst, wa, wb = abs, pairs[i], pairs[j]
				}
			}
		}
	}
	return worst, wa, wb
}

// recomputeMetricsLocked rebuilds the portfolio metrics from the running
// totals and the correlation estimator. Callers hold the write lock.
func (a *Aggregator) recomputeMetricsLocked() {
	m := domain.PortfolioMetrics{
		TotalExposure:    a.total,
		PairExposure:     make(map[string]float64, len(a.pairTotals)),
		StrategyExposure: make(map[string]float64, len(a.strategyTotals)),
		UpdatedAt:        time.Now(),
	}
	if a.cfg.MaxTotalExposure > 0 {
		m.Utilization = a.total / a.cfg.MaxTotalExposure
	}

	for pair, amt := range a.pairTotals {
		m.PairExposure[pair] = amt
		if amt > m.MaxPairExposure {
			m.MaxPairExposure = amt
		}
	}
	for strategy, amt := range a.strategyTotals {
		m.StrategyExposure[strategy] = amt
		if amt > m.MaxStrategyExposure {
			m.MaxStrategyExposure = amt
		}
	}
	if a.total > 0 {
		m.Concentration = m.MaxPairExposure / a.total
	}

	m.PortfolioVolatility, m.DiversificationRatio = a.portfolioVolatilityLocked()
	m.VaR95 = z95 * m.PortfolioVolatility * a.total
	m.VaR99 = z99 * m.PortfolioVolatility * a.total
	m.ExpectedShortfall = m.VaR99 * esMultiplier

	a.metrics = m
}

// portfolioVolatilityLocked computes exposure-weighted portfolio volatility
// using the correlation matrix, plus the diversification ratio
// (weighted-average single-pair volatility over portfolio volatility, capped).
func (a *Aggregator) portfolioVolatilityLocked() (vol, diversification float64) {
	if a.total <= 0 {
		return 0, 1
	}

	pairs := make([]string, 0, len(a.pairTotals))
	for p := range a.pairTotals {
		pairs = append(pairs, p)
	}

	var variance, weightedAvgVol float64
	for i, pi := range pairs {
		wi := a.pairTotals[pi] / a.total
		vi := a.corr.Volatility(pi)
		weightedAvgVol += wi * vi
		for j, pj := range pairs {
			wj := a.pairTotals[pj] / a.total
			vj := a.corr.Volatility(pj)
			rho := 1.0
			if i != j {
				if c, ok := a.corr.Correlation(pi, pj); ok {
					rho = c
				} else {
					rho = 0
				}
			}
			variance += wi * wj * vi * vj * rho
		}
	}
	if variance < 0 {
		variance = 0
	}
	vol = math.Sqrt(variance)

	if vol <= 0 {
		return vol, 1
	}
	diversification = weightedAvgVol / vol
	if diversification > maxDiversification {
		diversification = maxDiversification
	}
	return vol, diversification
}

// Run drives the aggregator's background loops until ctx is cancelled: limit
// checks, correlation table maintenance, and periodic metrics recomputation.
func (a *Aggregator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.loop(ctx, a.cfg.CheckInterval, func() { a.CheckLimits(ctx) })
	})
	g.Go(func() error {
		return a.loop(ctx, a.cfg.CorrelationInterval, func() {
			if n := a.corr.Prune(24 * time.Hour); n > 0 {
				a.logger.Debug("pruned stale correlation pairs", slog.Int("count", n))
			}
		})
	})
	g.Go(func() error {
		return a.loop(ctx, a.cfg.MetricsInterval, func() {
			a.mu.Lock()
			a.recomputeMetricsLocked()
			a.mu.Unlock()
		})
	})

	return g.Wait()
}

func (a *Aggregator) loop(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

func floor0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
