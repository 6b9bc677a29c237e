package handler

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/cmpctx/internal/api/dto"
	apierrors "github.com/remiblancher/cmpctx/internal/api/errors"
	"github.com/remiblancher/cmpctx/internal/api/service"
	"github.com/remiblancher/cmpctx/internal/snapshot"
)

// maxBodySize bounds configuration and snapshot uploads.
const maxBodySize = 1 << 20

// ContextHandler handles context-related HTTP requests.
type ContextHandler struct {
	service *service.ContextService
}

// NewContextHandler creates a new ContextHandler.
func NewContextHandler(svc *service.ContextService) *ContextHandler {
	return &ContextHandler{service: svc}
}

func respondServiceError(w http.ResponseWriter, err error) {
	status, apiErr := apierrors.MapError(err)
	respondError(w, status, apiErr)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, apierrors.NewBadRequest("request body too large"))
		return nil, false
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("empty request body"))
		return nil, false
	}
	return body, true
}

func paginationFrom(r *http.Request) *dto.PaginationRequest {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return &dto.PaginationRequest{Limit: limit, Offset: offset}
}

// Create handles POST /api/v1/contexts. The body is a YAML or JSON
// context configuration.
func (h *ContextHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Create(r.Context(), body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/contexts/"+resp.ID)
	respondJSON(w, http.StatusCreated, resp)
}

// Restore handles POST /api/v1/contexts/restore. The body is a snapshot;
// a sealed snapshot needs the signer certificate, base64 DER, in the
// X-Certificate header.
func (h *ContextHandler) Restore(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var cert *x509.Certificate
	if hdr := r.Header.Get("X-Certificate"); hdr != "" {
		der, err := base64.StdEncoding.DecodeString(hdr)
		if err != nil {
			respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("X-Certificate is not base64"))
			return
		}
		if cert, err = x509.ParseCertificate(der); err != nil {
			respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("X-Certificate is not a certificate"))
			return
		}
	}

	resp, err := h.service.Restore(r.Context(), body, cert)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/contexts/"+resp.ID)
	respondJSON(w, http.StatusCreated, resp)
}

// List handles GET /api/v1/contexts
func (h *ContextHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context(), paginationFrom(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/contexts/{id}
func (h *ContextHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/v1/contexts/{id}
func (h *ContextHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reinit handles POST /api/v1/contexts/{id}/reinit
func (h *ContextHandler) Reinit(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Reinit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Options handles GET /api/v1/contexts/{id}/options
func (h *ContextHandler) Options(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp.Options)
}

// GetOption handles GET /api/v1/contexts/{id}/options/{name}
func (h *ContextHandler) GetOption(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetOption(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// SetOption handles PUT /api/v1/contexts/{id}/options/{name}
func (h *ContextHandler) SetOption(w http.ResponseWriter, r *http.Request) {
	var req dto.OptionSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Invalid JSON request body"))
		return
	}
	if req.Value == nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("value is required"))
		return
	}

	resp, err := h.service.SetOption(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), *req.Value)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Snapshot handles GET /api/v1/contexts/{id}/snapshot. With ?seal=true
// the snapshot is returned as COSE_Sign1 signed with the context's key.
func (h *ContextHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	seal, _ := strconv.ParseBool(r.URL.Query().Get("seal"))

	data, algorithm, err := h.service.Snapshot(r.Context(), chi.URLParam(r, "id"), seal)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if seal {
		w.Header().Set("Content-Type", `application/cose; cose-type="cose-sign1"`)
		w.Header().Set("X-Signature-Algorithm", algorithm)
	} else {
		w.Header().Set("Content-Type", snapshot.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
