package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/arbor-trading/arbrisk/internal/risk"
)

// GlobalHandler exposes the portfolio-level risk aggregator.
type GlobalHandler struct {
	aggregator *risk.Aggregator
	logger     *slog.Logger
}

// NewGlobalHandler creates a GlobalHandler.
func NewGlobalHandler(aggregator *risk.Aggregator, logger *slog.Logger) *GlobalHandler {
	return &GlobalHandler{aggregator: aggregator, logger: logger}
}

// Status returns portfolio metrics plus the halted flag and active alerts.
// GET /api/global/status
func (h *GlobalHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": h.aggregator.Metrics(),
		"halted":  h.aggregator.Halted(),
		"alerts":  h.aggregator.ActiveAlerts(),
	})
}

// Exposures lists every tracked exposure.
// GET /api/global/exposures
func (h *GlobalHandler) Exposures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"exposures": h.aggregator.Exposures(),
		"total":     h.aggregator.TotalExposure(),
	})
}

// Correlations returns the full pairwise correlation matrix.
// GET /api/global/correlations
func (h *GlobalHandler) Correlations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.aggregator.CorrelationMatrix())
}

// Shutdown removes every exposure and halts further registrations.
// POST /api/global/shutdown
func (h *GlobalHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "global_shutdown")

	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		req.Reason = "manual risk shutdown via API"
	}

	ok := h.aggregator.EmergencyRiskShutdown(r.Context(), req.Reason)
	log.WarnContext(r.Context(), "global risk shutdown via API",
		slog.String("reason", req.Reason),
		slog.Bool("acted", ok),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"halted": true,
		"acted":  ok,
	})
}
