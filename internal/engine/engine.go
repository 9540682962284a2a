// Package engine executes multi-leg arbitrage opportunities through exchange
// adapters, with risk admission, sequential leg placement, and compensating
// rollback on partial failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-trading/arbrisk/internal/domain"
	"github.com/arbor-trading/arbrisk/internal/exchange"
)

// RiskGate is the admission and position-lifecycle boundary. Implemented by
// risk.Controller.
type RiskGate interface {
	RegisterPosition(ctx context.Context, executionID string, opp domain.Opportunity) (*domain.Position, *domain.Denial, error)
	UpdatePosition(ctx context.Context, id string, currentValue, unrealizedPnL float64) bool
	ClosePosition(ctx context.Context, id string, realizedPnL float64, status domain.PositionStatus) bool
}

// Config holds the engine's execution parameters.
type Config struct {
	DefaultStrategy         domain.ExecutionStrategy
	MaxConcurrentExecutions int
	ExecutionTimeout        time.Duration
	OrderTimeout            time.Duration
	InterOrderDelay         time.Duration
	MonitoringInterval      time.Duration
	MaxSlippage             float64
	MaxOrderSize            float64
	OrderSplitting          bool
	HistoryLimit            int
}

// Engine runs executions. At most MaxConcurrentExecutions run at once;
// further submissions are rejected, not queued.
type Engine struct {
	cfg      Config
	registry *exchange.Registry
	gate     RiskGate
	store    domain.ExecutionStore // may be nil
	logger   *slog.Logger

	sem chan struct{}

	mu      sync.RWMutex
	active  map[string]*domain.Execution
	cancels map[string]context.CancelFunc
	history []domain.Execution

	total, completed, failed, rolledBack int64
	cancelled, timedOut, rejected        int64
	totalProfit, totalFees               float64
	totalDuration                        time.Duration
}

// New creates an Engine. store may be nil, disabling execution persistence.
func New(cfg Config, registry *exchange.Registry, gate RiskGate, store domain.ExecutionStore, logger *slog.Logger) (*Engine, error) {
	if cfg.MaxConcurrentExecutions <= 0 {
		return nil, fmt.Errorf("engine: max concurrent executions must be positive, got %d", cfg.MaxConcurrentExecutions)
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if !domain.ValidStrategy(cfg.DefaultStrategy) {
		cfg.DefaultStrategy = domain.StrategyAdaptive
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		gate:     gate,
		store:    store,
		logger:   logger.With(slog.String("component", "engine")),
		sem:      make(chan struct{}, cfg.MaxConcurrentExecutions),
		active:   make(map[string]*domain.Execution),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// ExecuteArbitrage runs an opportunity to a terminal state. Denials report
// capacity or risk rejections; the error return is reserved for invalid
// input. The call blocks until the execution finishes.
func (e *Engine) ExecuteArbitrage(ctx context.Context, opp domain.Opportunity, strategy domain.ExecutionStrategy) (*domain.Execution, *domain.Denial, error) {
	if strategy == "" {
		strategy = e.cfg.DefaultStrategy
	}
	if !domain.ValidStrategy(strategy) {
		return nil, nil, fmt.Errorf("engine: unknown strategy %q: %w", strategy, domain.ErrInvalidInput)
	}
	if err := opp.Validate(); err != nil {
		return nil, nil, fmt.Errorf("engine: %w", err)
	}
	if opp.Expired(time.Now()) {
		return nil, &domain.Denial{
			Code:    domain.DenyExpired,
			Message: fmt.Sprintf("opportunity %s already expired", opp.ID),
		}, nil
	}

	select {
	case e.sem <- struct{}{}:
	default:
		e.mu.Lock()
		e.rejected++
		e.mu.Unlock()
		return nil, &domain.Denial{
			Code:    domain.DenyCapacity,
			Message: fmt.Sprintf("at capacity (%d concurrent executions)", e.cfg.MaxConcurrentExecutions),
		}, nil
	}
	defer func() { <-e.sem }()

	execID := uuid.NewString()

	pos, denial, err := e.gate.RegisterPosition(ctx, execID, opp)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: admit %s: %w", opp.ID, err)
	}
	if denial != nil {
		e.logger.InfoContext(ctx, "execution denied",
			slog.String("opportunity_id", opp.ID),
			slog.String("code", denial.Code),
			slog.String("reason", denial.Message),
		)
		return nil, denial, nil
	}

	exec := &domain.Execution{
		ID:            execID,
		OpportunityID: opp.ID,
		PositionID:    pos.ID,
		Strategy:      strategy,
		Status:        domain.ExecutionPending,
		StartedAt:     time.Now(),
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	e.mu.Lock()
	e.total++
	e.active[execID] = exec
	e.cancels[execID] = cancel
	e.mu.Unlock()

	e.run(runCtx, exec, opp)
	e.finish(exec)

	snapshot := *exec
	return &snapshot, nil, nil
}

// run places the legs sequentially and unwinds on partial failure. It leaves
// exec in a terminal status.
func (e *Engine) run(ctx context.Context, exec *domain.Execution, opp domain.Opportunity) {
	plan := buildPlan(opp, exec.Strategy, e.legConditions(ctx, opp),
		e.cfg.MaxOrderSize, e.cfg.MaxSlippage, e.cfg.OrderTimeout, e.cfg.OrderSplitting)

	e.mu.Lock()
	exec.Status = domain.ExecutionExecuting
	for _, leg := range plan.legs {
		exec.Requests = append(exec.Requests, leg...)
	}
	e.mu.Unlock()

	var filled []domain.OrderResult
	var fees float64
	capital := opp.RequiredCapital

	for legIdx, leg := range plan.legs {
		if legIdx > 0 && e.cfg.InterOrderDelay > 0 {
			select {
			case <-ctx.Done():
				e.abort(ctx, exec, filled, fees, capital, legIdx, "")
				return
			case <-time.After(e.cfg.InterOrderDelay):
			}
		}

		for _, req := range leg {
			result, err := e.placeOrder(ctx, req)
			if err != nil {
				e.abort(ctx, exec, filled, fees, capital, legIdx, err.Error())
				return
			}

			e.mu.Lock()
			exec.Results = append(exec.Results, result)
			e.mu.Unlock()

			if result.Status != domain.OrderCompleted {
				e.failAndUnwind(ctx, exec, filled, fees+result.Fees, capital, legIdx,
					fmt.Sprintf("leg %d failed: %s", legIdx+1, result.Error))
				return
			}

			filled = append(filled, result)
			fees += result.Fees

			unrealized := netCash(filled) - fees
			if ok := e.gate.UpdatePosition(ctx, exec.PositionID, capital+unrealized, unrealized); !ok {
				e.failAndUnwind(ctx, exec, filled, fees, capital, legIdx, "position stopped out")
				return
			}
		}
	}

	profit := netCash(filled) - fees
	now := time.Now()

	e.mu.Lock()
	exec.Status = domain.ExecutionCompleted
	exec.TotalProfit = profit
	exec.TotalFees = fees
	exec.CompletedAt = &now
	e.mu.Unlock()

	e.gate.ClosePosition(ctx, exec.PositionID, profit, domain.PositionClosed)
	e.logger.InfoContext(ctx, "execution completed",
		slog.String("execution_id", exec.ID),
		slog.Float64("profit", profit),
		slog.Float64("fees", fees),
	)
}

// abort handles context cancellation or transport failure mid-execution. Any
// filled legs are unwound before the terminal status is set.
func (e *Engine) abort(ctx context.Context, exec *domain.Execution, filled []domain.OrderResult, fees, capital float64, legIdx int, transportErr string) {
	status := domain.ExecutionCancelled
	reason := "execution cancelled"
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = domain.ExecutionTimeout
		reason = fmt.Sprintf("execution timeout after %s", e.cfg.ExecutionTimeout)
	case transportErr != "" && ctx.Err() == nil:
		status = domain.ExecutionFailed
		reason = transportErr
	}
	e.unwind(exec, filled, fees, capital, legIdx, status, reason)
}

// failAndUnwind handles a venue-rejected leg.
func (e *Engine) failAndUnwind(ctx context.Context, exec *domain.Execution, filled []domain.OrderResult, fees, capital float64, legIdx int, reason string) {
	e.unwind(exec, filled, fees, capital, legIdx, domain.ExecutionFailed, reason)
}

// unwind issues one compensating market order per filled result, in strict
// reverse fill order, then closes the position with the realized net. A
// failure on the first leg leaves nothing to unwind.
func (e *Engine) unwind(exec *domain.Execution, filled []domain.OrderResult, fees, capital float64, legIdx int, status domain.ExecutionStatus, reason string) {
	// Rollbacks run under a fresh context: the execution context may
	// already be done, and compensating orders must still go out.
	rbCtx, rbCancel := context.WithTimeout(context.Background(), e.cfg.ExecutionTimeout)
	defer rbCancel()

	var rollbacks []domain.OrderResult
	for i := len(filled) - 1; i >= 0; i-- {
		req := reversalFor(filled[i], e.cfg.MaxSlippage, e.cfg.OrderTimeout)
		result, err := e.placeOrder(rbCtx, req)
		if err != nil {
			result = domain.OrderResult{
				OrderID:  "rollback_" + filled[i].OrderID,
				Exchange: req.Exchange,
				Pair:     req.Pair,
				Action:   req.Action,
				Status:   domain.OrderFailed,
				Error:    err.Error(),
				PlacedAt: time.Now(),
			}
		}
		result.OrderID = "rollback_" + filled[i].OrderID
		rollbacks = append(rollbacks, result)
		fees += result.Fees
	}

	realized := netCash(filled) + netCash(rollbacks) - fees
	now := time.Now()

	e.mu.Lock()
	exec.Status = status
	exec.Rollbacks = rollbacks
	exec.TotalProfit = realized
	exec.TotalFees = fees
	exec.Error = reason
	exec.CompletedAt = &now
	e.mu.Unlock()

	posStatus := domain.PositionFailed
	if status == domain.ExecutionCancelled {
		posStatus = domain.PositionClosed
	}
	e.gate.ClosePosition(rbCtx, exec.PositionID, realized, posStatus)

	e.logger.WarnContext(rbCtx, "execution unwound",
		slog.String("execution_id", exec.ID),
		slog.String("status", string(status)),
		slog.Int("failed_leg", legIdx+1),
		slog.Int("rollbacks", len(rollbacks)),
		slog.String("reason", reason),
	)
}

// placeOrder resolves the venue adapter and submits one order with its own
// timeout.
func (e *Engine) placeOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	adapter, err := e.registry.Get(req.Exchange)
	if err != nil {
		return domain.OrderResult{}, err
	}

	orderCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		orderCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result, err := adapter.PlaceOrder(orderCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// Only the per-order timeout fired; report it as an order
			// failure rather than killing the execution context.
			return domain.OrderResult{
				OrderID:  uuid.NewString(),
				Exchange: req.Exchange,
				Pair:     req.Pair,
				Action:   req.Action,
				Status:   domain.OrderTimeout,
				Error:    fmt.Sprintf("order timeout after %s", req.Timeout),
				PlacedAt: time.Now(),
			}, nil
		}
		return domain.OrderResult{}, err
	}
	return result, nil
}

// legConditions gathers a market snapshot per path pair from the venue that
// trades it, for routing decisions. Lookup failures leave gaps.
func (e *Engine) legConditions(ctx context.Context, opp domain.Opportunity) map[string]domain.MarketCondition {
	conditions := make(map[string]domain.MarketCondition)
	for _, step := range opp.Path {
		if _, ok := conditions[step.Pair]; ok {
			continue
		}
		adapter, err := e.registry.Get(step.Exchange)
		if err != nil {
			continue
		}
		condCtx, cancel := context.WithTimeout(ctx, time.Second)
		cond, err := adapter.GetMarketCondition(condCtx, step.Pair)
		cancel()
		if err != nil {
			continue
		}
		conditions[step.Pair] = cond
	}
	return conditions
}

// finish moves a terminal execution from active to history, updates counters,
// and persists it.
func (e *Engine) finish(exec *domain.Execution) {
	e.mu.Lock()
	delete(e.active, exec.ID)
	if cancel, ok := e.cancels[exec.ID]; ok {
		cancel()
		delete(e.cancels, exec.ID)
	}

	switch exec.Status {
	case domain.ExecutionCompleted:
		e.completed++
	case domain.ExecutionFailed:
		e.failed++
	case domain.ExecutionCancelled:
		e.cancelled++
	case domain.ExecutionTimeout:
		e.timedOut++
	}
	if len(exec.Rollbacks) > 0 {
		e.rolledBack++
	}
	e.totalProfit += exec.TotalProfit
	e.totalFees += exec.TotalFees
	if exec.CompletedAt != nil {
		e.totalDuration += exec.CompletedAt.Sub(exec.StartedAt)
	}

	e.history = append(e.history, *exec)
	if len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[len(e.history)-e.cfg.HistoryLimit/2:]
	}
	snapshot := *exec
	e.mu.Unlock()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.store.Insert(ctx, snapshot); err != nil {
			e.logger.Error("execution persist failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CancelExecution requests cancellation of an in-flight execution. It returns
// false when the id is unknown or already terminal.
func (e *Engine) CancelExecution(ctx context.Context, id string) bool {
	e.mu.RLock()
	cancel, ok := e.cancels[id]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	cancel()
	e.logger.InfoContext(ctx, "execution cancel requested", slog.String("execution_id", id))
	return true
}

// GetExecutionStatus returns a snapshot of an execution, active or recent.
func (e *Engine) GetExecutionStatus(id string) (domain.Execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if exec, ok := e.active[id]; ok {
		return *exec, true
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i], true
		}
	}
	return domain.Execution{}, false
}

// ActiveExecutions returns snapshots of all in-flight executions.
func (e *Engine) ActiveExecutions() []domain.Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Execution, 0, len(e.active))
	for _, exec := range e.active {
		out = append(out, *exec)
	}
	return out
}

// GetExecutionHistory returns up to limit finished executions, newest first.
func (e *Engine) GetExecutionHistory(limit int) []domain.Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Execution, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// GetEngineStats returns the engine's counters.
func (e *Engine) GetEngineStats() domain.EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	finished := e.completed + e.failed + e.cancelled + e.timedOut
	var avg time.Duration
	if finished > 0 {
		avg = e.totalDuration / time.Duration(finished)
	}
	return domain.EngineStats{
		Active:          len(e.active),
		Total:           e.total,
		Completed:       e.completed,
		Failed:          e.failed,
		RolledBack:      e.rolledBack,
		Cancelled:       e.cancelled,
		TimedOut:        e.timedOut,
		Rejected:        e.rejected,
		TotalProfit:     e.totalProfit,
		TotalFees:       e.totalFees,
		AvgExecution:    avg,
		HistoryRetained: len(e.history),
	}
}

// Run watches for executions that outlive their deadline and force-cancels
// them. The per-execution context normally handles this; the monitor is a
// backstop for adapters that ignore cancellation.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.MonitoringInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.reapStale()
		}
	}
}

func (e *Engine) reapStale() {
	cutoff := time.Now().Add(-2 * e.cfg.ExecutionTimeout)

	e.mu.RLock()
	var stale []string
	for id, exec := range e.active {
		if exec.StartedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range stale {
		e.mu.RLock()
		cancel, ok := e.cancels[id]
		e.mu.RUnlock()
		if ok {
			e.logger.Warn("force cancelling stale execution", slog.String("execution_id", id))
			cancel()
		}
	}
}

// netCash sums signed executed value over results: sells add, buys subtract.
func netCash(results []domain.OrderResult) float64 {
	var net float64
	for _, r := range results {
		if r.Status != domain.OrderCompleted {
			continue
		}
		if r.Action == domain.ActionSell {
			net += r.ExecutedValue
		} else {
			net -= r.ExecutedValue
		}
	}
	return net
}
