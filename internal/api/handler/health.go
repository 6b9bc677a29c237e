// Package handler provides HTTP handlers for the REST API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/remiblancher/cmpctx/internal/api/dto"
	"github.com/remiblancher/cmpctx/internal/audit"
)

// ContextCounter reports the number of registered contexts.
type ContextCounter interface {
	Len() int
}

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version  string
	contexts ContextCounter
	audit    bool
}

// NewHealthHandler creates a new HealthHandler. With auditRequired set,
// readiness depends on an open audit log.
func NewHealthHandler(version string, contexts ContextCounter, auditRequired bool) *HealthHandler {
	return &HealthHandler{
		version:  version,
		contexts: contexts,
		audit:    auditRequired,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := dto.HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Contexts: h.contexts.Len(),
	}

	respondJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"server": true,
	}
	if h.audit {
		checks["audit"] = audit.Enabled()
	}

	allReady := true
	for _, ready := range checks {
		if !ready {
			allReady = false
			break
		}
	}

	resp := dto.ReadyResponse{
		Ready:  allReady,
		Checks: checks,
	}

	status := http.StatusOK
	if !allReady {
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

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, apiErr *dto.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}
