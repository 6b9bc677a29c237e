// Package dto provides Data Transfer Objects for the REST API.
package dto

// APIError represents a standardized error response.
type APIError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Details provides additional context about the error.
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Status is "ok" or "degraded".
	Status string `json:"status"`

	// Version is the server version.
	Version string `json:"version"`

	// Contexts is the number of registered contexts.
	Contexts int `json:"contexts"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	// Ready indicates if the server is ready to accept requests.
	Ready bool `json:"ready"`

	// Checks lists individual readiness checks.
	Checks map[string]bool `json:"checks,omitempty"`
}

// PaginationRequest for list endpoints.
type PaginationRequest struct {
	Limit  int `json:"limit,omitempty"`  // Default: 100
	Offset int `json:"offset,omitempty"` // Default: 0
}

// PaginationResponse for list responses.
type PaginationResponse struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// Paginate clamps p and returns the [start, end) window over total items.
func Paginate(p PaginationRequest, total int) (start, end int, resp PaginationResponse) {
	limit := p.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	start = p.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end = start + limit
	if end > total {
		end = total
	}
	return start, end, PaginationResponse{
		Total:   total,
		Limit:   limit,
		Offset:  start,
		HasMore: end < total,
	}
}
