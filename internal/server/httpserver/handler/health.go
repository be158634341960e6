package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health. The process is healthy while it serves.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status: "healthy",
		Time:   time.Now().UTC(),
	})
}

// handleReady handles GET /ready. It reports 503 until the device table is
// built and after shutdown has begun.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		h.writeError(w, r, http.StatusServiceUnavailable, "MD-SYS-5030", "not ready", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status: "ready",
		Time:   time.Now().UTC(),
	})
}
