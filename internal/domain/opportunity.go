package domain

import "time"

// OrderAction is the direction of a single order leg.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// PathStep is one leg of an opportunity's execution path. Steps are executed
// strictly in path order.
type PathStep struct {
	Action   OrderAction `json:"action"`
	Exchange string      `json:"exchange"`
	Pair     string      `json:"pair"`
	Price    float64     `json:"price"`
	Volume   float64     `json:"volume"`
}

// Opportunity is a detected arbitrage possibility with a concrete multi-leg
// execution path. It is immutable once submitted.
type Opportunity struct {
	ID              string     `json:"id"`
	Strategy        string     `json:"strategy"` // name of the detecting strategy
	Pairs           []string   `json:"pairs"`
	Exchanges       []string   `json:"exchanges"`
	RequiredCapital float64    `json:"required_capital"`
	ExpectedProfit  float64    `json:"expected_profit"`
	Path            []PathStep `json:"path"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DetectedAt      time.Time  `json:"detected_at"`
}

// TTL returns the time remaining until expiry, or (0, false) when the
// opportunity carries no expiry.
func (o Opportunity) TTL(now time.Time) (time.Duration, bool) {
	if o.ExpiresAt == nil {
		return 0, false
	}
	ttl := o.ExpiresAt.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return ttl, true
}

// Expired reports whether the opportunity's expiry has passed.
func (o Opportunity) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// Validate checks structural soundness of a submitted opportunity.
func (o Opportunity) Validate() error {
	switch {
	case o.ID == "":
		return ErrInvalidInput
	case o.RequiredCapital <= 0:
		return ErrInvalidInput
	case len(o.Path) == 0:
		return ErrInvalidInput
	}
	for _, step := range o.Path {
		if step.Action != ActionBuy && step.Action != ActionSell {
			return ErrInvalidInput
		}
		if step.Pair == "" || step.Exchange == "" || step.Volume <= 0 {
			return ErrInvalidInput
		}
	}
	return nil
}
