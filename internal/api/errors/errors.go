// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/remiblancher/cmpctx/internal/api/dto"
	"github.com/remiblancher/cmpctx/internal/api/service"
	"github.com/remiblancher/cmpctx/internal/cmp"
	"github.com/remiblancher/cmpctx/internal/config"
	pkicrypto "github.com/remiblancher/cmpctx/internal/crypto"
	"github.com/remiblancher/cmpctx/internal/snapshot"
)

// Error codes for API responses.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInternal            = "INTERNAL_ERROR"
	CodeContextNotFound     = "CONTEXT_NOT_FOUND"
	CodeContextClosed       = "CONTEXT_CLOSED"
	CodeInvalidOption       = "INVALID_OPTION"
	CodeValueOutOfRange     = "VALUE_OUT_OF_RANGE"
	CodeUnsupportedAlgo     = "UNSUPPORTED_ALGORITHM"
	CodeInvalidCertificate  = "INVALID_CERTIFICATE"
	CodeChainBuild          = "CHAIN_BUILD_FAILED"
	CodeSnapshotUnavailable = "SNAPSHOT_UNAVAILABLE"
	CodeSignatureInvalid    = "SIGNATURE_INVALID"
	CodeAuditDisabled       = "AUDIT_DISABLED"
)

// MapError maps an internal error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	switch {
	case errors.Is(err, service.ErrContextNotFound):
		return http.StatusNotFound, &dto.APIError{
			Code:    CodeContextNotFound,
			Message: err.Error(),
		}
	case errors.Is(err, service.ErrContextClosed):
		return http.StatusGone, &dto.APIError{
			Code:    CodeContextClosed,
			Message: err.Error(),
		}
	case errors.Is(err, service.ErrAuditDisabled):
		return http.StatusNotFound, &dto.APIError{
			Code:    CodeAuditDisabled,
			Message: err.Error(),
		}
	case errors.Is(err, config.ErrInvalidConfig):
		return http.StatusBadRequest, validationError(err)
	case errors.Is(err, cmp.ErrInvalidOption):
		return http.StatusNotFound, &dto.APIError{
			Code:    CodeInvalidOption,
			Message: err.Error(),
		}
	case errors.Is(err, cmp.ErrValueOutOfRange):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeValueOutOfRange,
			Message: err.Error(),
		}
	case errors.Is(err, cmp.ErrUnsupportedAlgorithm), errors.Is(err, pkicrypto.ErrDigestUnavailable):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeUnsupportedAlgo,
			Message: err.Error(),
		}
	case errors.Is(err, cmp.ErrPotentiallyInvalidCertificate):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeInvalidCertificate,
			Message: err.Error(),
		}
	case errors.Is(err, cmp.ErrChainBuild):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeChainBuild,
			Message: err.Error(),
		}
	case errors.Is(err, snapshot.ErrSignature):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeSignatureInvalid,
			Message: err.Error(),
		}
	case errors.Is(err, snapshot.ErrInvalidSnapshot), errors.Is(err, snapshot.ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity, &dto.APIError{
			Code:    CodeSnapshotUnavailable,
			Message: err.Error(),
		}
	case errors.Is(err, cmp.ErrNullArgument):
		return http.StatusBadRequest, &dto.APIError{
			Code:    CodeInvalidRequest,
			Message: err.Error(),
		}
	}

	// Context errors carry the failing operation
	var cmpErr *cmp.Error
	if errors.As(err, &cmpErr) {
		return http.StatusInternalServerError, &dto.APIError{
			Code:    CodeInternal,
			Message: cmpErr.Error(),
			Details: map[string]string{
				"operation": cmpErr.Op,
			},
		}
	}

	// Default internal error
	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}

// validationError lists every configuration problem in the details.
func validationError(err error) *dto.APIError {
	apiErr := &dto.APIError{
		Code:    CodeValidation,
		Message: "invalid context configuration",
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		apiErr.Details = make(map[string]string, len(merr.Errors))
		for i, e := range merr.Errors {
			apiErr.Details["problem_"+strconv.Itoa(i)] = e.Error()
		}
		return apiErr
	}
	apiErr.Details = map[string]string{"error": err.Error()}
	return apiErr
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewNotFound creates a not found error.
func NewNotFound(resource, id string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeNotFound,
		Message: resource + " not found",
		Details: map[string]string{"id": id},
	}
}
