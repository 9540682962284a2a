package domain

import "time"

// ExecutionStrategy selects how an execution's legs are priced and paced.
// The set is closed; Adaptive is the only member whose order type depends on
// market state.
type ExecutionStrategy string

const (
	StrategyAggressive   ExecutionStrategy = "aggressive"
	StrategyConservative ExecutionStrategy = "conservative"
	StrategyAdaptive     ExecutionStrategy = "adaptive"
	StrategyTWAP         ExecutionStrategy = "twap"
	StrategyVWAP         ExecutionStrategy = "vwap"
)

// ValidStrategy reports whether s is a member of the closed strategy set.
func ValidStrategy(s ExecutionStrategy) bool {
	switch s {
	case StrategyAggressive, StrategyConservative, StrategyAdaptive, StrategyTWAP, StrategyVWAP:
		return true
	default:
		return false
	}
}

// ExecutionStatus tracks an execution's lifecycle. Transitions are monotonic:
// once terminal, an execution never leaves its terminal state.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionTimeout   ExecutionStatus = "timeout"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout:
		return true
	default:
		return false
	}
}

// Execution is the engine's record of one opportunity being worked. Invariant:
// len(Results) <= len(Requests); results are appended strictly in leg order.
type Execution struct {
	ID            string            `json:"id"`
	OpportunityID string            `json:"opportunity_id"`
	PositionID    string            `json:"position_id,omitempty"`
	Strategy      ExecutionStrategy `json:"strategy"`
	Requests      []OrderRequest    `json:"requests"`
	Results       []OrderResult     `json:"results"`
	Rollbacks     []OrderResult     `json:"rollbacks,omitempty"`
	Status        ExecutionStatus   `json:"status"`
	TotalProfit   float64           `json:"total_profit"`
	TotalFees     float64           `json:"total_fees"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// EngineStats is a snapshot of engine-level counters.
type EngineStats struct {
	Active          int           `json:"active"`
	Total           int64         `json:"total"`
	Completed       int64         `json:"completed"`
	Failed          int64         `json:"failed"`
	RolledBack      int64         `json:"rolled_back"`
	Cancelled       int64         `json:"cancelled"`
	TimedOut        int64         `json:"timed_out"`
	Rejected        int64         `json:"rejected"`
	TotalProfit     float64       `json:"total_profit"`
	TotalFees       float64       `json:"total_fees"`
	AvgExecution    time.Duration `json:"avg_execution"`
	HistoryRetained int           `json:"history_retained"`
}
