package domain

import "time"

// RiskLevel is the discrete classification of a total risk score.
type RiskLevel string

const (
	RiskLow       RiskLevel = "low"
	RiskMedium    RiskLevel = "medium"
	RiskHigh      RiskLevel = "high"
	RiskCritical  RiskLevel = "critical"
	RiskEmergency RiskLevel = "emergency"
)

// RiskAction is the policy decision derived from a risk level.
type RiskAction string

const (
	ActionAllow         RiskAction = "allow"
	ActionLimit         RiskAction = "limit"
	ActionStop          RiskAction = "stop"
	ActionEmergencyExit RiskAction = "emergency_exit"
)

// RiskThresholds maps each risk level to the maximum total score it covers.
// A score is classified as the lowest level whose threshold is >= the score.
type RiskThresholds struct {
	Low       float64 `json:"low"`
	Medium    float64 `json:"medium"`
	High      float64 `json:"high"`
	Critical  float64 `json:"critical"`
	Emergency float64 `json:"emergency"`
}

// DefaultThresholds returns the standard level boundaries.
func DefaultThresholds() RiskThresholds {
	return RiskThresholds{
		Low:       0.2,
		Medium:    0.4,
		High:      0.6,
		Critical:  0.8,
		Emergency: 1.0,
	}
}

// LevelFor classifies a total risk score.
func (t RiskThresholds) LevelFor(score float64) RiskLevel {
	switch {
	case score <= t.Low:
		return RiskLow
	case score <= t.Medium:
		return RiskMedium
	case score <= t.High:
		return RiskHigh
	case score <= t.Critical:
		return RiskCritical
	default:
		return RiskEmergency
	}
}

// ActionFor maps a risk level to the action the controller takes.
func ActionFor(level RiskLevel) RiskAction {
	switch level {
	case RiskLow, RiskMedium:
		return ActionAllow
	case RiskHigh:
		return ActionLimit
	case RiskCritical:
		return ActionStop
	default:
		return ActionEmergencyExit
	}
}

// RiskMetrics is one evaluation snapshot. Each component score is in [0,1].
// Snapshots are never mutated; every evaluation produces a fresh value.
type RiskMetrics struct {
	PositionRisk    float64    `json:"position_risk"`
	MarketRisk      float64    `json:"market_risk"`
	LiquidityRisk   float64    `json:"liquidity_risk"`
	ExecutionRisk   float64    `json:"execution_risk"`
	CorrelationRisk float64    `json:"correlation_risk"`
	TotalScore      float64    `json:"total_score"`
	Level           RiskLevel  `json:"level"`
	Action          RiskAction `json:"action"`
	ComputedAt      time.Time  `json:"computed_at"`
}

// Denial is a structured policy decision rejecting a submission. Denials are
// expected outcomes, not errors: callers receive them synchronously and must
// not retry blindly.
type Denial struct {
	Code    string         `json:"code"`    // e.g. "limit_exceeded", "risk_stop", "capacity", "halted", "expired"
	Message string         `json:"message"` // human-readable reason
	Details map[string]any `json:"details,omitempty"`
	Metrics *RiskMetrics   `json:"metrics,omitempty"` // present for risk-score denials
}

// Denial codes used across the engine and risk components.
const (
	DenyLimitExceeded = "limit_exceeded"
	DenyRiskStop      = "risk_stop"
	DenyCapacity      = "capacity"
	DenyHalted        = "halted"
	DenyExpired       = "expired"
)
