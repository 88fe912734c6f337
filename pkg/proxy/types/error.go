package types

import "net/http"

// ErrorResponse is the Messages API error envelope. Every non-2xx response
// and every in-stream error frame carries this shape.
type ErrorResponse struct {
	// Type is always "error".
	Type string `json:"type"`

	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error classification and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error types of the Messages API.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypePermission     = "permission_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeOverloaded     = "overloaded_error"
)

// StatusOverloaded is the status paired with overloaded_error.
const StatusOverloaded = 529

// NewErrorResponse builds the envelope for an HTTP status.
func NewErrorResponse(status int, message string) *ErrorResponse {
	return &ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    ErrorTypeForStatus(status),
			Message: message,
		},
	}
}

// ErrorTypeForStatus maps an HTTP status to a Messages API error type. An
// oversize body (413) is reported as invalid_request_error; statuses with no
// dedicated type fall back to api_error.
func ErrorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return ErrorTypeInvalidRequest
	case http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case http.StatusForbidden:
		return ErrorTypePermission
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case StatusOverloaded:
		return ErrorTypeOverloaded
	default:
		return ErrorTypeAPI
	}
}

// HTTPStatusCode returns the canonical status for the error type. It is the
// inverse of ErrorTypeForStatus except that invalid_request_error maps to
// 400 only.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return StatusOverloaded
	default:
		return http.StatusInternalServerError
	}
}
