package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// alertChannel is the Pub/Sub channel risk alerts fan out on.
const alertChannel = "arbrisk:alerts"

// AlertBus implements domain.AlertBus over Redis Pub/Sub. Alerts are
// ephemeral: subscribers only see alerts published while connected. The risk
// event store is the durable record.
type AlertBus struct {
	rdb *redis.Client
}

// NewAlertBus creates an AlertBus backed by the given Client.
func NewAlertBus(c *Client) *AlertBus {
	return &AlertBus{rdb: c.rdb}
}

// Publish sends an alert to the alert channel.
func (ab *AlertBus) Publish(ctx context.Context, alert domain.RiskAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("redis: marshal alert %s: %w", alert.ID, err)
	}
	if err := ab.rdb.Publish(ctx, alertChannel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish alert %s: %w", alert.ID, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a channel of decoded
// alerts. The subscription closes, and the channel with it, when ctx is
// cancelled. Payloads that fail to decode are dropped.
func (ab *AlertBus) Subscribe(ctx context.Context) (<-chan domain.RiskAlert, error) {
	pubsub := ab.rdb.Subscribe(ctx, alertChannel)

	// Verify the subscription is established before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", alertChannel, err)
	}

	out := make(chan domain.RiskAlert, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var alert domain.RiskAlert
				if err := json.Unmarshal([]byte(msg.Payload), &alert); err != nil {
					continue
				}
				select {
				case out <- alert:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.AlertBus = (*AlertBus)(nil)
