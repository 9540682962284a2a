package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arbor-trading/arbrisk/internal/domain"
	"github.com/arbor-trading/arbrisk/internal/engine"
)

// ExecutionHandler exposes the execution engine's control and query surface.
type ExecutionHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(eng *engine.Engine, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{engine: eng, logger: logger}
}

type executeRequest struct {
	Opportunity domain.Opportunity       `json:"opportunity"`
	Strategy    domain.ExecutionStrategy `json:"strategy,omitempty"`
}

// Execute submits an opportunity and blocks until the execution reaches a
// terminal state. Denials come back as 409 with the structured decision.
// POST /api/executions
func (h *ExecutionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "execute")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	exec, denial, err := h.engine.ExecuteArbitrage(r.Context(), req.Opportunity, req.Strategy)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.ErrorContext(r.Context(), "execute failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}
	if denial != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"denial": denial})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// Get returns one execution by id, active or recent.
// GET /api/executions/{id}
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	exec, ok := h.engine.GetExecutionStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// List returns recent finished executions, newest first.
// GET /api/executions
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": h.engine.GetExecutionHistory(parseLimit(r)),
		"active":     h.engine.ActiveExecutions(),
	})
}

// Cancel requests cancellation of an in-flight execution.
// DELETE /api/executions/{id}
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !h.engine.CancelExecution(r.Context(), id) {
		writeError(w, http.StatusNotFound, "execution not found or already finished")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Stats returns the engine counters.
// GET /api/engine/stats
func (h *ExecutionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetEngineStats())
}
