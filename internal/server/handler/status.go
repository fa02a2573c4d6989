package handler

import (
	"net/http"
	"time"
)

// PositionCounter reports how many positions are currently tracked.
type PositionCounter interface {
	TrackedCount() int
}

// StatusHandler serves runtime status (mode, uptime, tracked positions) for
// the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	counter   PositionCounter
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, startedAt time.Time, counter PositionCounter) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, counter: counter}
}

// GetStatus responds with the current run mode and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	tracked := 0
	if h.counter != nil {
		tracked = h.counter.TrackedCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              h.mode,
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"tracked_positions": tracked,
	})
}
