// Package handler provides the HTTP handlers of the responder.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/remiblancher/qtsa/internal/api/service"
)

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	service *service.TSAService
	now     func() time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(tsaService *service.TSAService) *HealthHandler {
	return &HealthHandler{service: tsaService, now: time.Now}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Health())
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := h.service.Ready(h.now())

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, resp)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
