package risk

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// AlertNotifier delivers an alert to human channels. Implemented by
// notify.Notifier; nil disables delivery.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert domain.RiskAlert) error
}

// Alerter raises one-shot risk alerts. An alert with the same dedup key is
// raised at most once while active; alerts auto-expire after the configured
// window, after which the same condition may alert again.
type Alerter struct {
	expiry   time.Duration
	notifier AlertNotifier
	bus      domain.AlertBus
	events   domain.RiskEventStore
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]domain.RiskAlert
}

// NewAlerter creates an Alerter. notifier, bus, and events may each be nil,
// disabling the corresponding delivery path.
func NewAlerter(expiry time.Duration, notifier AlertNotifier, bus domain.AlertBus, events domain.RiskEventStore, logger *slog.Logger) *Alerter {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Alerter{
		expiry:   expiry,
		notifier: notifier,
		bus:      bus,
		events:   events,
		logger:   logger.With(slog.String("component", "alerter")),
		active:   make(map[string]domain.RiskAlert),
	}
}

// Raise emits an alert unless one with the same key is still active. It
// returns true when a new alert was raised. Delivery failures are logged,
// never propagated; the alert stays active either way.
func (a *Alerter) Raise(ctx context.Context, severity domain.AlertSeverity, kind, key, message string, details map[string]any) bool {
	now := time.Now()

	a.mu.Lock()
	a.pruneLocked(now)
	if _, exists := a.active[key]; exists {
		a.mu.Unlock()
		return false
	}
	alert := domain.RiskAlert{
		ID:        uuid.NewString(),
		Key:       key,
		Severity:  severity,
		Kind:      kind,
		Message:   message,
		Context:   details,
		CreatedAt: now,
	}
	a.active[key] = alert
	a.mu.Unlock()

	a.logger.WarnContext(ctx, "risk alert",
		slog.String("severity", string(severity)),
		slog.String("kind", kind),
		slog.String("message", message),
	)

	if a.events != nil {
		if err := a.events.Log(ctx, "alert."+kind, map[string]any{
			"id":       alert.ID,
			"severity": string(severity),
			"message":  message,
		}); err != nil {
			a.logger.ErrorContext(ctx, "alert audit log failed", slog.String("error", err.Error()))
		}
	}
	if a.bus != nil {
		if err := a.bus.Publish(ctx, alert); err != nil {
			a.logger.ErrorContext(ctx, "alert publish failed", slog.String("error", err.Error()))
		}
	}
	if a.notifier != nil {
		if err := a.notifier.NotifyAlert(ctx, alert); err != nil {
			a.logger.ErrorContext(ctx, "alert notify failed", slog.String("error", err.Error()))
		}
	}
	return true
}

// Resolve clears an active alert so the condition may alert again
// immediately, e.g. after utilization drops back under its threshold.
func (a *Alerter) Resolve(key string) {
	a.mu.Lock()
	delete(a.active, key)
	a.mu.Unlock()
}

// Active returns the currently active, non-expired alerts sorted by creation
// time.
func (a *Alerter) Active() []domain.RiskAlert {
	a.mu.Lock()
	a.pruneLocked(time.Now())
	out := make([]domain.RiskAlert, 0, len(a.active))
	for _, alert := range a.active {
		out = append(out, alert)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (a *Alerter) pruneLocked(now time.Time) {
	for key, alert := range a.active {
		if now.Sub(alert.CreatedAt) > a.expiry {
			delete(a.active, key)
		}
	}
}
