package handler

import (
	"net/http"
)

// Connectivity is implemented by push channels that know their link state.
type Connectivity interface {
	Connected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	push Connectivity
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(push Connectivity) *HealthHandler {
	return &HealthHandler{
		push: push,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.push == nil || !h.push.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "push channel not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
