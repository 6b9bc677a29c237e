package handler

import (
	"net/http"

	"github.com/remiblancher/cmpctx/internal/api/service"
)

// AuditHandler handles audit-related HTTP requests.
type AuditHandler struct {
	service *service.AuditService
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{service: svc}
}

// Logs handles GET /api/v1/audit/logs?event_type=&context=&limit=&offset=
func (h *AuditHandler) Logs(w http.ResponseWriter, r *http.Request) {
	filter := service.AuditFilter{
		EventType: r.URL.Query().Get("event_type"),
		Context:   r.URL.Query().Get("context"),
	}
	resp, err := h.service.Logs(r.Context(), filter, paginationFrom(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Verify handles POST /api/v1/audit/verify
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Verify(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !resp.Valid {
		status = http.StatusConflict
	}
	respondJSON(w, status, resp)
}
