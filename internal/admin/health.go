package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]any, len(h.cfg.HealthChecks))
	healthy := true
	for name, check := range h.cfg.HealthChecks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	status, statusStr := http.StatusOK, "ok"
	if !healthy {
		status, statusStr = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":    statusStr,
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(h.started).String(),
		"checks":    checks,
	})
}
