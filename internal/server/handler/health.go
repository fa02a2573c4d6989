package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheckFunc probes one dependency; a nil error means healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthHandler serves the health-check endpoint, probing registered
// dependencies (Postgres, Redis) on each request.
type HealthHandler struct {
	logger *slog.Logger
	checks map[string]HealthCheckFunc
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		logger: logHandler(logger, "health"),
		checks: make(map[string]HealthCheckFunc),
	}
}

// AddCheck registers a named dependency probe. Not safe to call after the
// server has started.
func (h *HealthHandler) AddCheck(name string, check HealthCheckFunc) {
	h.checks[name] = check
}

// HealthCheck responds with the overall status and per-dependency results.
// Returns 503 when any dependency probe fails.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
