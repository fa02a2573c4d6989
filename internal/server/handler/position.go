package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lphedger/internal/domain"
	"github.com/alanyoungcy/lphedger/internal/engine"
)

// PositionEngine defines the engine operations the position handler requires.
type PositionEngine interface {
	Activate(ctx context.Context, cfg domain.PositionConfig) error
	Deactivate(ctx context.Context, positionID string) error
	UpdateConfig(ctx context.Context, positionID string, update engine.ConfigUpdate) error
	ResetAccounting(ctx context.Context, positionID string, lpUSD, venueUSD, lpFeesUSD float64) error
	ListPositions() []domain.TrackedPosition
	GetPosition(positionID string) (domain.TrackedPosition, error)
}

// PositionHandler serves the tracked-position control endpoints.
type PositionHandler struct {
	engine PositionEngine
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given engine and logger.
func NewPositionHandler(eng PositionEngine, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		engine: eng,
		logger: logHandler(logger, "positions"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.TrackedPosition `json:"positions"`
}

// ListPositions returns every tracked position with its current hedge state
// and PnL.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.engine.ListPositions()
	if positions == nil {
		positions = []domain.TrackedPosition{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns a single tracked position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	pos, err := h.engine.GetPosition(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotTracked) {
			writeError(w, http.StatusNotFound, "position not tracked")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ActivatePosition begins tracking and hedging a position.
// POST /api/positions
func (h *PositionHandler) ActivatePosition(w http.ResponseWriter, r *http.Request) {
	var cfg domain.PositionConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.Activate(r.Context(), cfg); err != nil {
		if errors.Is(err, domain.ErrAlreadyTracked) {
			writeError(w, http.StatusConflict, "position already tracked")
			return
		}
		h.logger.ErrorContext(r.Context(), "activation failed",
			slog.String("position_id", cfg.PositionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.engine.GetPosition(cfg.PositionID)
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]string{"position_id": cfg.PositionID})
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// DeactivatePosition stops tracking a position and closes its hedge.
// DELETE /api/positions/{id}
func (h *PositionHandler) DeactivatePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.engine.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotTracked) {
			writeError(w, http.StatusNotFound, "position not tracked")
			return
		}
		h.logger.ErrorContext(r.Context(), "deactivation failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to deactivate position")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "position_id": id})
}

// UpdateConfig applies a partial edit to a position's hedge parameters.
// PATCH /api/positions/{id}/config
func (h *PositionHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var update engine.ConfigUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.UpdateConfig(r.Context(), id, update); err != nil {
		if errors.Is(err, domain.ErrNotTracked) {
			writeError(w, http.StatusNotFound, "position not tracked")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "position_id": id})
}

// resetPnLRequest carries a new accounting baseline.
type resetPnLRequest struct {
	LPValueUSD    float64 `json:"lp_value_usd"`
	VenueValueUSD float64 `json:"venue_value_usd"`
	LPFeesUSD     float64 `json:"lp_fees_usd"`
}

// ResetPnL re-baselines a position's virtual accounting.
// POST /api/positions/{id}/reset-pnl
func (h *PositionHandler) ResetPnL(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req resetPnLRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	err := h.engine.ResetAccounting(r.Context(), id, req.LPValueUSD, req.VenueValueUSD, req.LPFeesUSD)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotTracked):
			writeError(w, http.StatusNotFound, "position not tracked")
		case errors.Is(err, domain.ErrNoBaseline):
			writeError(w, http.StatusBadRequest, "lp and venue values must be positive")
		default:
			writeError(w, http.StatusInternalServerError, "failed to reset accounting")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "position_id": id})
}
