package domain

import "time"

// Exposure is capital committed under one identifier, tracked per pair and per
// strategy by the global aggregator.
type Exposure struct {
	ID         string    `json:"id"`
	Pair       string    `json:"pair"`
	Strategy   string    `json:"strategy"`
	Amount     float64   `json:"amount"`
	RiskWeight float64   `json:"risk_weight"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PortfolioMetrics is the aggregator's derived view of all open exposures.
type PortfolioMetrics struct {
	TotalExposure        float64            `json:"total_exposure"`
	Utilization          float64            `json:"utilization"` // total / ceiling
	PairExposure         map[string]float64 `json:"pair_exposure"`
	StrategyExposure     map[string]float64 `json:"strategy_exposure"`
	MaxPairExposure      float64            `json:"max_pair_exposure"`
	MaxStrategyExposure  float64            `json:"max_strategy_exposure"`
	Concentration        float64            `json:"concentration"`
	PortfolioVolatility  float64            `json:"portfolio_volatility"`
	VaR95                float64            `json:"var_95"`
	VaR99                float64            `json:"var_99"`
	ExpectedShortfall    float64            `json:"expected_shortfall"`
	DiversificationRatio float64            `json:"diversification_ratio"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// AlertSeverity grades a risk alert.
type AlertSeverity string

const (
	AlertInfo      AlertSeverity = "info"
	AlertWarning   AlertSeverity = "warning"
	AlertCritical  AlertSeverity = "critical"
	AlertEmergency AlertSeverity = "emergency"
)

// RiskAlert is a one-shot notification that a risk threshold was crossed.
// Alerts are deduplicated by Key while active and expire after a fixed window.
type RiskAlert struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"` // dedup key, e.g. "utilization:warning"
	Severity  AlertSeverity  `json:"severity"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RiskEvent is one append-only audit record of a policy decision or alert.
type RiskEvent struct {
	ID        int64          `json:"id"`
	Kind      string         `json:"kind"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}
