// Package notify delivers risk alerts to human channels. Alerts are
// dispatched to all registered senders (Telegram, Discord) and filtered by a
// minimum severity so operators only get paged for what matters.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// Sender is the interface that each notification channel must implement.
// Senders render the alert for their medium; filtering is the Notifier's job.
type Sender interface {
	Send(ctx context.Context, alert domain.RiskAlert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// contextKeys returns an alert's context keys sorted, so rendered context
// lines come out in a stable order.
func contextKeys(ctx map[string]any) []string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// severityRank orders alert severities for threshold filtering.
var severityRank = map[domain.AlertSeverity]int{
	domain.AlertInfo:      0,
	domain.AlertWarning:   1,
	domain.AlertCritical:  2,
	domain.AlertEmergency: 3,
}

// Notifier dispatches risk alerts to one or more Senders. Alerts below the
// minimum severity are dropped silently.
type Notifier struct {
	senders     []Sender
	minSeverity domain.AlertSeverity
	logger      *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. An unknown
// or empty minSeverity defaults to warning.
func NewNotifier(senders []Sender, minSeverity domain.AlertSeverity, logger *slog.Logger) *Notifier {
	if _, ok := severityRank[minSeverity]; !ok {
		minSeverity = domain.AlertWarning
	}
	return &Notifier{
		senders:     senders,
		minSeverity: minSeverity,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// NotifyAlert delivers one alert to every sender at or above the severity
// threshold. It implements risk.AlertNotifier.
func (n *Notifier) NotifyAlert(ctx context.Context, alert domain.RiskAlert) error {
	if severityRank[alert.Severity] < severityRank[n.minSeverity] {
		n.logger.DebugContext(ctx, "alert below notify threshold",
			slog.String("severity", string(alert.Severity)),
			slog.String("kind", alert.Kind),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	// One failing sender does not prevent delivery to the rest; errors are
	// collected and returned combined.
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "alert delivered",
				slog.String("sender", s.Name()),
				slog.String("key", alert.Key),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
