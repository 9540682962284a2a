package domain

import "time"

// PositionStatus tracks a position through its lifecycle. Closed, Failed and
// Emergency are terminal.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "open"
	PositionPartiallyFilled PositionStatus = "partially_filled"
	PositionClosed          PositionStatus = "closed"
	PositionFailed          PositionStatus = "failed"
	PositionEmergency       PositionStatus = "emergency"
)

// Terminal reports whether the status is final.
func (s PositionStatus) Terminal() bool {
	switch s {
	case PositionClosed, PositionFailed, PositionEmergency:
		return true
	default:
		return false
	}
}

// Position is the risk controller's record of capital committed to one
// opportunity. It is created on controller approval, mutated only by the
// controller on value updates, and moved to history on close.
type Position struct {
	ID              string         `json:"id"`
	OpportunityID   string         `json:"opportunity_id"`
	ExecutionID     string         `json:"execution_id"`
	Strategy        string         `json:"strategy"`
	Pairs           []string       `json:"pairs"`
	Exchanges       []string       `json:"exchanges"`
	RequiredCapital float64        `json:"required_capital"`
	CurrentValue    float64        `json:"current_value"`
	UnrealizedPnL   float64        `json:"unrealized_pnl"`
	RealizedPnL     float64        `json:"realized_pnl"`
	StopLossPrice   float64        `json:"stop_loss_price"`
	Metrics         RiskMetrics    `json:"metrics"`
	Status          PositionStatus `json:"status"`
	OpenedAt        time.Time      `json:"opened_at"`
	ClosedAt        *time.Time     `json:"closed_at,omitempty"`
}
