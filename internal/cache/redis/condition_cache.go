package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// conditionTTL bounds how stale a cached market snapshot may get before risk
// evaluation falls back to its no-data defaults.
const conditionTTL = time.Minute

// ConditionCache implements domain.MarketCache using JSON-serialized market
// conditions under cond:{pair} keys.
type ConditionCache struct {
	rdb *redis.Client
}

// NewConditionCache creates a ConditionCache backed by the given Client.
func NewConditionCache(c *Client) *ConditionCache {
	return &ConditionCache{rdb: c.rdb}
}

func conditionKey(pair string) string { return "cond:" + pair }

// SetCondition stores a market snapshot with a one-minute TTL.
func (cc *ConditionCache) SetCondition(ctx context.Context, cond domain.MarketCondition) error {
	data, err := json.Marshal(cond)
	if err != nil {
		return fmt.Errorf("redis: marshal condition %s: %w", cond.Pair, err)
	}
	if err := cc.rdb.Set(ctx, conditionKey(cond.Pair), data, conditionTTL).Err(); err != nil {
		return fmt.Errorf("redis: set condition %s: %w", cond.Pair, err)
	}
	return nil
}

// GetCondition retrieves the cached snapshot for a pair. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (cc *ConditionCache) GetCondition(ctx context.Context, pair string) (domain.MarketCondition, error) {
	data, err := cc.rdb.Get(ctx, conditionKey(pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketCondition{}, domain.ErrNotFound
		}
		return domain.MarketCondition{}, fmt.Errorf("redis: get condition %s: %w", pair, err)
	}

	var cond domain.MarketCondition
	if err := json.Unmarshal(data, &cond); err != nil {
		return domain.MarketCondition{}, fmt.Errorf("redis: unmarshal condition %s: %w", pair, err)
	}
	return cond, nil
}

// Invalidate removes a pair's cached snapshot.
func (cc *ConditionCache) Invalidate(ctx context.Context, pair string) error {
	if err := cc.rdb.Del(ctx, conditionKey(pair)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate condition %s: %w", pair, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*ConditionCache)(nil)
