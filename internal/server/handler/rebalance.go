package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// RebalanceHandler serves the rebalance audit history.
type RebalanceHandler struct {
	audit  domain.RebalanceAuditStore
	logger *slog.Logger
}

// NewRebalanceHandler creates a RebalanceHandler over the given audit store.
func NewRebalanceHandler(audit domain.RebalanceAuditStore, logger *slog.Logger) *RebalanceHandler {
	return &RebalanceHandler{
		audit:  audit,
		logger: logHandler(logger, "rebalances"),
	}
}

// listRebalancesResponse wraps the rebalance history response.
type listRebalancesResponse struct {
	Rebalances []domain.RebalanceRecord `json:"rebalances"`
}

// ListRebalances returns the most recent executed rebalances for a position,
// newest first.
// GET /api/positions/{id}/rebalances?limit=50
func (h *RebalanceHandler) ListRebalances(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	limit := parseLimit(r, 50, 500)

	records, err := h.audit.ListRecent(r.Context(), id, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list rebalances failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list rebalances")
		return
	}
	if records == nil {
		records = []domain.RebalanceRecord{}
	}
	writeJSON(w, http.StatusOK, listRebalancesResponse{Rebalances: records})
}
