package domain

import "context"

// MarketCache caches per-pair market conditions with a short TTL so risk
// evaluation never blocks on a network fetch.
type MarketCache interface {
	SetCondition(ctx context.Context, cond MarketCondition) error
	// GetCondition returns ErrNotFound when the pair is not cached.
	GetCondition(ctx context.Context, pair string) (MarketCondition, error)
	Invalidate(ctx context.Context, pair string) error
}

// AlertBus fans risk alerts out to external consumers (dashboards, pagers).
type AlertBus interface {
	Publish(ctx context.Context, alert RiskAlert) error
	// Subscribe returns a channel of alerts that closes when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan RiskAlert, error)
}
