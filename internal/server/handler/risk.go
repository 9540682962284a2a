package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/arbor-trading/arbrisk/internal/domain"
	"github.com/arbor-trading/arbrisk/internal/risk"
)

// RiskHandler exposes the per-position risk controller.
type RiskHandler struct {
	controller *risk.Controller
	logger     *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(controller *risk.Controller, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{controller: controller, logger: logger}
}

// Evaluate scores an opportunity without admitting it.
// POST /api/risk/evaluate
func (h *RiskHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var opp domain.Opportunity
	if err := json.NewDecoder(r.Body).Decode(&opp); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := opp.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.controller.EvaluateOpportunity(r.Context(), opp))
}

// Status returns the controller's aggregate state.
// GET /api/risk/status
func (h *RiskHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// Positions returns open positions plus closure statistics.
// GET /api/risk/positions
func (h *RiskHandler) Positions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Summary())
}

// GetPosition returns one open position.
// GET /api/risk/positions/{id}
func (h *RiskHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	pos, ok := h.controller.GetPosition(id)
	if !ok {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

// EmergencyStop force-closes every open position and halts admissions.
// POST /api/risk/emergency-stop
func (h *RiskHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "emergency_stop")

	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		req.Reason = "manual emergency stop via API"
	}

	closed := h.controller.EmergencyStopAll(r.Context(), req.Reason)
	log.WarnContext(r.Context(), "emergency stop via API",
		slog.String("reason", req.Reason),
		slog.Int("closed", closed),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"positions_closed": closed,
		"halted":           true,
	})
}
