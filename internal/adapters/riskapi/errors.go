package riskapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

var (
	// ErrOffline matches network failures and the gateway's synthetic offline response.
	ErrOffline = errors.New("risk API offline")
	// ErrUnknownAnalytics is returned for an analytics kind the backend does not serve.
	ErrUnknownAnalytics = errors.New("unknown analytics report")
	// ErrEmptyToken is returned when /login or /refresh answered without a token.
	ErrEmptyToken = errors.New("response carried no token")
)

// APIError is a non-2xx answer from the risk API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("risk API returned %d: %s", e.Status, e.Message)
}

// Is makes errors.Is(err, ErrOffline) true for the synthetic offline response.
func (e *APIError) Is(target error) bool {
	return target == ErrOffline && e.Status == http.StatusServiceUnavailable && e.Message == domain.OfflineMessage
}

// Unauthorized reports whether the API rejected the credentials.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// newAPIError reads the backend's {"error": "..."} body, falling back to the
// raw body or the status text.
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &APIError{Status: status, Message: payload.Error}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" && len(msg) <= 200 {
		return &APIError{Status: status, Message: msg}
	}
	return &APIError{Status: status, Message: http.StatusText(status)}
}
