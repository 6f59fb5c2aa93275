package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrorResponse is the body returned by the API for failed requests.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure. InternalError is only populated outside production.
type ErrorDetail struct {
	Display       string                 `json:"display_error"`
	InternalError string                 `json:"internal_error,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// HTTPStatusFromErr maps the error classification to an HTTP status code.
func HTTPStatusFromErr(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrVersionConflict), errors.Is(err, ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrHTTPClient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the API body for err. The display message prefers
// the attached hints so internal messages do not leak.
func NewErrorResponse(err error, includeInternal bool) ErrorResponse {
	display := GetHint(err)
	if display == "" {
		display = "An unexpected error occurred"
	}

	detail := ErrorDetail{
		Display: display,
		Details: GetReportableDetails(err),
	}
	if len(detail.Details) == 0 {
		detail.Details = nil
	}
	if includeInternal {
		detail.InternalError = err.Error()
	}

	return ErrorResponse{
		Success: false,
		Error:   detail,
	}
}
