package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthentication is matched by errors.Is for every 401 response.
var ErrAuthentication = errors.New("gateway rejected the API key")

// APIError is a non-2xx answer from the Gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: [%s] %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrAuthentication
	}
	return nil
}

// ValidationError is raised locally before any request is sent (StatusCode
// 0) or returned by the Gateway as 400/422.
type ValidationError struct {
	Field      string
	Code       string
	Message    string
	StatusCode int
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// NetworkError wraps a transport failure or client-side timeout. The request
// may or may not have reached the Gateway.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether repeating the call may succeed. Create calls
// are only safe to repeat with the same idempotency key.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}
