package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// marketRefreshInterval is how often the controller pulls fresh market
// conditions from the cache for its open positions.
const marketRefreshInterval = 5 * time.Second

// ControllerConfig holds the per-position gate parameters.
type ControllerConfig struct {
	MaxPositions      int
	MaxSinglePosition float64
	GlobalCeiling     float64 // total exposure ceiling, for position-risk scoring
	EnableStopLoss    bool
	StopLossPct       float64
	Thresholds        domain.RiskThresholds

	AlertPositionRisk float64
	MaxDailyLoss      float64
	MaxDrawdown       float64 // fraction of committed capital

	MonitoringInterval time.Duration
	HistoryLimit       int
}

// ControllerStatus is a snapshot of the controller's aggregate state.
type ControllerStatus struct {
	OpenPositions    int     `json:"open_positions"`
	CommittedCapital float64 `json:"committed_capital"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	DailyPnL         float64 `json:"daily_pnl"`
	ClosedToday      int     `json:"closed_today"`
	StopLossEnabled  bool    `json:"stop_loss_enabled"`
	Halted           bool    `json:"halted"`
}

// PositionSummary lists open positions plus closure statistics.
type PositionSummary struct {
	Open          []domain.Position `json:"open"`
	ClosedTotal   int               `json:"closed_total"`
	RealizedTotal float64           `json:"realized_total"`
}

// Controller is the per-opportunity risk gate. It scores opportunities, owns
// the Position lifecycle, enforces stop-loss, and registers exposure with the
// global aggregator on admission.
type Controller struct {
	cfg     ControllerConfig
	agg     *Aggregator
	corr    *CorrelationEstimator
	alerter *Alerter
	store   domain.PositionStore // closed-position history, may be nil
	events  domain.RiskEventStore
	markets domain.MarketCache // may be nil
	logger  *slog.Logger

	mu         sync.RWMutex
	positions  map[string]*domain.Position
	history    []domain.Position
	conditions map[string]domain.MarketCondition
	dailyPnL   float64
	dailyPeak  float64
	dailyDate  time.Time
	closedN    int
	realizedN  float64
	halted     bool
}

// NewController creates a Controller. store, events, and markets may be nil.
func NewController(cfg ControllerConfig, agg *Aggregator, corr *CorrelationEstimator, alerter *Alerter, store domain.PositionStore, events domain.RiskEventStore, markets domain.MarketCache, logger *slog.Logger) *Controller {
	if cfg.StopLossPct <= 0 {
		cfg.StopLossPct = 0.05
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	return &Controller{
		cfg:        cfg,
		agg:        agg,
		corr:       corr,
		alerter:    alerter,
		store:      store,
		events:     events,
		markets:    markets,
		logger:     logger.With(slog.String("component", "risk_controller")),
		positions:  make(map[string]*domain.Position),
		conditions: make(map[string]domain.MarketCondition),
		dailyDate:  startOfDay(time.Now()),
	}
}

// UpdateMarketCondition installs a fresh market snapshot for one pair. Called
// by the feed and the market refresh loop.
func (c *Controller) UpdateMarketCondition(cond domain.MarketCondition) {
	c.mu.Lock()
	c.conditions[cond.Pair] = cond
	c.mu.Unlock()
}

// EvaluateOpportunity runs the pure scoring functions over the opportunity
// and the controller's current market view. It never mutates state; a risky
// opportunity is expressed through the returned metrics, not an error.
func (c *Controller) EvaluateOpportunity(ctx context.Context, opp domain.Opportunity) domain.RiskMetrics {
	c.mu.RLock()
	conditions := make(map[string]domain.MarketCondition, len(c.conditions))
	for pair, cond := range c.conditions {
		conditions[pair] = cond
	}
	open := len(c.positions)
	c.mu.RUnlock()

	return Score(ScoreInputs{
		Opportunity:   opp,
		Conditions:    conditions,
		Correlations:  c.corr.Correlation,
		OpenPositions: open,
		MaxPositions:  c.cfg.MaxPositions,
		SingleCeiling: c.cfg.MaxSinglePosition,
		GlobalCeiling: c.cfg.GlobalCeiling,
		Now:           time.Now(),
	}, c.cfg.Thresholds)
}

// RegisterPosition admits an opportunity as a live position. Denials carry a
// structured reason and leave no state behind; the error return is reserved
// for contract violations.
func (c *Controller) RegisterPosition(ctx context.Context, executionID string, opp domain.Opportunity) (*domain.Position, *domain.Denial, error) {
	if err := opp.Validate(); err != nil {
		return nil, nil, fmt.Errorf("risk: register position: %w", err)
	}
	now := time.Now()
	if opp.Expired(now) {
		return nil, &domain.Denial{
			Code:    domain.DenyExpired,
			Message: fmt.Sprintf("opportunity %s expired at %s", opp.ID, opp.ExpiresAt.Format(time.RFC3339)),
		}, nil
	}

	if c.IsHalted() {
		return nil, &domain.Denial{Code: domain.DenyHalted, Message: "risk controller is halted"}, nil
	}

	metrics := c.EvaluateOpportunity(ctx, opp)
	if metrics.Action == domain.ActionStop || metrics.Action == domain.ActionEmergencyExit {
		denial := &domain.Denial{
			Code:    domain.DenyRiskStop,
			Message: fmt.Sprintf("risk score %.2f (%s) requires %s", metrics.TotalScore, metrics.Level, metrics.Action),
			Metrics: &metrics,
		}
		c.logEvent(ctx, "position.denied", map[string]any{
			"opportunity_id": opp.ID,
			"score":          metrics.TotalScore,
			"level":          string(metrics.Level),
		})
		return nil, denial, nil
	}

	c.mu.RLock()
	open := len(c.positions)
	c.mu.RUnlock()
	if open >= c.cfg.MaxPositions {
		return nil, &domain.Denial{
			Code:    domain.DenyLimitExceeded,
			Message: fmt.Sprintf("max open positions %d reached", c.cfg.MaxPositions),
			Details: map[string]any{"limit": "max_positions", "open": open},
		}, nil
	}

	positionID := uuid.NewString()

	// Exposure is registered under the position id so the close path can
	// release it without extra bookkeeping. The opportunity's first pair
	// carries the exposure for pair-level ceiling purposes.
	pair := opp.Path[0].Pair
	if len(opp.Pairs) > 0 {
		pair = opp.Pairs[0]
	}
	strategy := opp.Strategy
	if strategy == "" {
		strategy = "unattributed"
	}
	denial, err := c.agg.RegisterExposure(ctx, positionID, pair, strategy, opp.RequiredCapital, metrics.TotalScore)
	if err != nil {
		return nil, nil, fmt.Errorf("risk: register position exposure: %w", err)
	}
	if denial != nil {
		return nil, denial, nil
	}

	pos := &domain.Position{
		ID:              positionID,
		OpportunityID:   opp.ID,
		ExecutionID:     executionID,
		Strategy:        opp.Strategy,
		Pairs:           append([]string(nil), opp.Pairs...),
		Exchanges:       append([]string(nil), opp.Exchanges...),
		RequiredCapital: opp.RequiredCapital,
		CurrentValue:    opp.RequiredCapital,
		StopLossPrice:   opp.RequiredCapital * (1 - c.cfg.StopLossPct),
		Metrics:         metrics,
		Status:          domain.PositionOpen,
		OpenedAt:        now,
	}

	c.mu.Lock()
	c.positions[positionID] = pos
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "position registered",
		slog.String("position_id", positionID),
		slog.String("opportunity_id", opp.ID),
		slog.Float64("capital", opp.RequiredCapital),
		slog.Float64("stop_loss", pos.StopLossPrice),
		slog.Float64("risk_score", metrics.TotalScore),
	)
	snapshot := *pos
	return &snapshot, nil, nil
}

// UpdatePosition applies a fresh valuation. It returns false when the
// position is unknown or a stop-loss fired; stop-loss closes the position
// immediately with the loss realized as the full stop-loss amount.
func (c *Controller) UpdatePosition(ctx context.Context, id string, currentValue, unrealizedPnL float64) bool {
	c.mu.Lock()
	pos, ok := c.positions[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	pos.CurrentValue = currentValue
	pos.UnrealizedPnL = unrealizedPnL

	stopped := c.cfg.EnableStopLoss && currentValue <= pos.StopLossPrice
	snap := *pos
	c.mu.Unlock()

	if stopped {
		c.triggerStopLoss(ctx, id)
		return false
	}

	// Score a snapshot, not the live position: concurrent updates keep
	// writing the map entry under the lock.
	metrics := c.scorePosition(&snap)
	c.mu.Lock()
	if p, ok := c.positions[id]; ok {
		p.Metrics = metrics
	}
	c.mu.Unlock()

	c.checkPositionAlerts(ctx, id, metrics)
	return true
}

// triggerStopLoss closes the position at its stop price. The realized loss is
// the configured stop-loss amount; status becomes Failed. Stop-loss fires are
// expected business outcomes and are never retried.
func (c *Controller) triggerStopLoss(ctx context.Context, id string) {
	c.mu.RLock()
	pos, ok := c.positions[id]
	var capital, stopPrice float64
	if ok {
		capital = pos.RequiredCapital
		stopPrice = pos.StopLossPrice
	}
	c.mu.RUnlock()
	if !ok {
		return
	}

	loss := -(capital - stopPrice)
	c.logger.WarnContext(ctx, "stop loss triggered",
		slog.String("position_id", id),
		slog.Float64("stop_price", stopPrice),
		slog.Float64("realized_loss", loss),
	)
	c.alerter.Raise(ctx, domain.AlertWarning, "stop_loss", "stop_loss:"+id,
		fmt.Sprintf("stop loss triggered on position %s, realized %.2f", id, loss),
		map[string]any{"position_id": id, "loss": loss})
	c.ClosePosition(ctx, id, loss, domain.PositionFailed)
}

// ClosePosition moves a position to history, releases its exposure, and folds
// the realized P&L into the daily totals. A second call for the same id is a
// no-op returning false; exposure is never double-released.
func (c *Controller) ClosePosition(ctx context.Context, id string, realizedPnL float64, status domain.PositionStatus) bool {
	if !status.Terminal() {
		status = domain.PositionClosed
	}

	c.mu.Lock()
	pos, ok := c.positions[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.positions, id)

	now := time.Now()
	pos.RealizedPnL = realizedPnL
	pos.UnrealizedPnL = 0
	pos.Status = status
	pos.ClosedAt = &now

	c.rollDailyLocked(now)
	c.dailyPnL += realizedPnL
	if c.dailyPnL > c.dailyPeak {
		c.dailyPeak = c.dailyPnL
	}
	c.closedN++
	c.realizedN += realizedPnL

	c.history = append(c.history, *pos)
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[len(c.history)-c.cfg.HistoryLimit/2:]
	}
	closed := *pos
	c.mu.Unlock()

	c.agg.RemoveExposure(ctx, id)

	c.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", id),
		slog.String("status", string(status)),
		slog.Float64("realized_pnl", realizedPnL),
	)
	c.logEvent(ctx, "position.closed", map[string]any{
		"position_id":  id,
		"status":       string(status),
		"realized_pnl": realizedPnL,
	})
	if c.store != nil {
		if err := c.store.Insert(ctx, closed); err != nil {
			c.logger.ErrorContext(ctx, "position history insert failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	c.checkDailyAlerts(ctx)
	return true
}

// EmergencyStopAll force-closes every open position with its unrealized P&L
// at Emergency status and halts further admissions. It returns the number of
// positions closed.
func (c *Controller) EmergencyStopAll(ctx context.Context, reason string) int {
	c.mu.Lock()
	c.halted = true
	ids := make([]string, 0, len(c.positions))
	pnls := make([]float64, 0, len(c.positions))
	for id, pos := range c.positions {
		ids = append(ids, id)
		pnls = append(pnls, pos.UnrealizedPnL)
	}
	c.mu.Unlock()

	for i, id := range ids {
		c.ClosePosition(ctx, id, pnls[i], domain.PositionEmergency)
	}

	c.logger.ErrorContext(ctx, "emergency stop",
		slog.String("reason", reason),
		slog.Int("positions_closed", len(ids)),
	)
	c.alerter.Raise(ctx, domain.AlertEmergency, "emergency_stop", "emergency_stop",
		fmt.Sprintf("emergency stop: %s (%d positions closed)", reason, len(ids)),
		map[string]any{"reason": reason, "closed": len(ids)})
	return len(ids)
}

// Resume lifts the halted flag.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.halted = false
	c.mu.Unlock()
}

// IsHalted reports whether admissions are halted.
func (c *Controller) IsHalted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.halted
}

// GetPosition returns a snapshot of one open position.
func (c *Controller) GetPosition(id string) (domain.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pos, ok := c.positions[id]; ok {
		return *pos, true
	}
	return domain.Position{}, false
}

// ActivePositions returns snapshots of all open positions.
func (c *Controller) ActivePositions() []domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Position, 0, len(c.positions))
	for _, pos := range c.positions {
		out = append(out, *pos)
	}
	return out
}

// Status returns the controller's aggregate state.
func (c *Controller) Status() ControllerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var capital, unrealized float64
	for _, pos := range c.positions {
		capital += pos.RequiredCapital
		unrealized += pos.UnrealizedPnL
	}
	return ControllerStatus{
		OpenPositions:    len(c.positions),
		CommittedCapital: capital,
		UnrealizedPnL:    unrealized,
		DailyPnL:         c.dailyPnL,
		ClosedToday:      c.closedN,
		StopLossEnabled:  c.cfg.EnableStopLoss,
		Halted:           c.halted,
	}
}

// Summary returns open positions plus closure statistics.
func (c *Controller) Summary() PositionSummary {
	open := c.ActivePositions()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return PositionSummary{
		Open:          open,
		ClosedTotal:   c.closedN,
		RealizedTotal: c.realizedN,
	}
}

// History returns up to limit most recently closed positions, newest first.
func (c *Controller) History(limit int) []domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Position, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.history[i])
	}
	return out
}

// Run drives the controller's monitoring loops until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	interval := c.cfg.MonitoringInterval
	if interval <= 0 {
		interval = time.Second
	}

	g, ctx := errgroup.WithContext(ctx)

	// Risk monitor: refresh per-position metrics and threshold alerts.
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				c.monitorRisk(ctx)
			}
		}
	})

	// Position monitor: re-check stop-losses against the last valuation, at
	// half the cadence of the risk monitor.
	g.Go(func() error {
		ticker := time.NewTicker(2 * interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				c.monitorStopLosses(ctx)
			}
		}
	})

	// Market refresh: pull conditions for open-position pairs from the cache.
	if c.markets != nil {
		g.Go(func() error {
			ticker := time.NewTicker(marketRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					c.refreshMarkets(ctx)
				}
			}
		})
	}

	return g.Wait()
}

func (c *Controller) monitorRisk(ctx context.Context) {
	for _, pos := range c.ActivePositions() {
		metrics := c.scorePosition(&pos)
		c.mu.Lock()
		if p, ok := c.positions[pos.ID]; ok {
			p.Metrics = metrics
		}
		c.mu.Unlock()
		c.checkPositionAlerts(ctx, pos.ID, metrics)
	}
	c.checkDailyAlerts(ctx)
}

func (c *Controller) monitorStopLosses(ctx context.Context) {
	if !c.cfg.EnableStopLoss {
		return
	}
	for _, pos := range c.ActivePositions() {
		if pos.CurrentValue <= pos.StopLossPrice {
			c.triggerStopLoss(ctx, pos.ID)
		}
	}
}

func (c *Controller) refreshMarkets(ctx context.Context) {
	pairs := make(map[string]struct{})
	for _, pos := range c.ActivePositions() {
		for _, pair := range pos.Pairs {
			pairs[pair] = struct{}{}
		}
	}
	for pair := range pairs {
		cond, err := c.markets.GetCondition(ctx, pair)
		if err != nil {
			continue
		}
		c.UpdateMarketCondition(cond)
	}
}

// scorePosition re-scores a live position as a synthetic single-step
// opportunity over its pairs.
func (c *Controller) scorePosition(pos *domain.Position) domain.RiskMetrics {
	path := make([]domain.PathStep, 0, len(pos.Pairs))
	for i, pair := range pos.Pairs {
		exchange := ""
		if i < len(pos.Exchanges) {
			exchange = pos.Exchanges[i]
		}
		path = append(path, domain.PathStep{
			Action:   domain.ActionBuy,
			Exchange: exchange,
			Pair:     pair,
			Volume:   pos.CurrentValue,
		})
	}
	return c.EvaluateOpportunity(context.Background(), domain.Opportunity{
		ID:              pos.OpportunityID,
		Strategy:        pos.Strategy,
		Pairs:           pos.Pairs,
		Exchanges:       pos.Exchanges,
		RequiredCapital: pos.RequiredCapital,
		Path:            path,
	})
}

func (c *Controller) checkPositionAlerts(ctx context.Context, id string, metrics domain.RiskMetrics) {
	if c.cfg.AlertPositionRisk > 0 && metrics.PositionRisk > c.cfg.AlertPositionRisk {
		c.alerter.Raise(ctx, domain.AlertWarning, "position_risk", "position_risk:"+id,
			fmt.Sprintf("position %s risk %.2f over threshold %.2f", id, metrics.PositionRisk, c.cfg.AlertPositionRisk),
			map[string]any{"position_id": id, "position_risk": metrics.PositionRisk})
	}
}

func (c *Controller) checkDailyAlerts(ctx context.Context) {
	c.mu.RLock()
	dailyPnL := c.dailyPnL
	peak := c.dailyPeak
	var capital float64
	for _, pos := range c.positions {
		capital += pos.RequiredCapital
	}
	c.mu.RUnlock()

	if c.cfg.MaxDailyLoss > 0 && dailyPnL < -c.cfg.MaxDailyLoss {
		c.alerter.Raise(ctx, domain.AlertCritical, "daily_loss", "daily_loss",
			fmt.Sprintf("daily loss %.2f over limit %.2f", -dailyPnL, c.cfg.MaxDailyLoss),
			map[string]any{"daily_pnl": dailyPnL})
	}
	if c.cfg.MaxDrawdown > 0 && capital > 0 {
		if drawdown := peak - dailyPnL; drawdown > c.cfg.MaxDrawdown*capital {
			c.alerter.Raise(ctx, domain.AlertWarning, "drawdown", "drawdown",
				fmt.Sprintf("drawdown %.2f over %.0f%% of committed capital", drawdown, c.cfg.MaxDrawdown*100),
				map[string]any{"drawdown": drawdown, "capital": capital})
		}
	}
}

func (c *Controller) logEvent(ctx context.Context, kind string, details map[string]any) {
	if c.events == nil {
		return
	}
	if err := c.events.Log(ctx, kind, details); err != nil {
		c.logger.ErrorContext(ctx, "risk event log failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

// rollDailyLocked resets the daily P&L counters at midnight boundaries.
func (c *Controller) rollDailyLocked(now time.Time) {
	day := startOfDay(now)
	if day.After(c.dailyDate) {
		c.dailyDate = day
		c.dailyPnL = 0
		c.dailyPeak = 0
		c.closedN = 0
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
