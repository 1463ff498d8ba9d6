package api

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz pings every configured dependency.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	ready := true
	for name, c := range h.checks {
		if err := c.HealthCheck(ctx); err != nil {
			h.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": checks})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}
