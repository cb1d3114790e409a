package domain

import (
	"encoding/json"
	"net/http"
)

// ErrorCode represents a specific error condition.
type ErrorCode string

const (
	ErrInvalidAPIKey       ErrorCode = "InvalidAPIKey"       // HTTP 401 on admin endpoints
	ErrUpstreamUnavailable ErrorCode = "UpstreamUnavailable" // HTTP 502, static asset fetch failed with no cached copy
	ErrNotReady            ErrorCode = "NotReady"            // HTTP 503, no generation active yet
	ErrBadRequest          ErrorCode = "BadRequest"          // HTTP 400
	ErrMethodNotAllowed    ErrorCode = "MethodNotAllowed"    // HTTP 405
	ErrInternal            ErrorCode = "InternalServerError" // HTTP 500
)

// ErrorResponse is the standard error format returned by the gateway's own endpoints.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	_ = json.NewEncoder(w).Encode(er) // headers are already sent
}

// OfflineMessage is the error text of the synthetic response returned when the
// API origin cannot be reached. Clients match on it, so it must not change.
const OfflineMessage = "You are offline. Please reconnect."

// OfflineBody is the exact body of the synthetic offline response.
var OfflineBody = []byte(`{"error":"` + OfflineMessage + `"}`)
