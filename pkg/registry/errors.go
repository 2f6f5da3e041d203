package registry

import (
	"errors"
	"fmt"
)

// APIError is the base error type for registry server responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("registry: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("registry: %s", e.Message)
}

// Is matches two APIErrors by status code, supporting the sentinels below.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode && e.StatusCode != 0
}

// Sentinel errors for use with errors.Is.
var (
	// ErrNotFound indicates the requested prompt does not exist (HTTP 404).
	ErrNotFound = &APIError{StatusCode: 404, Message: "prompt not found"}

	// ErrAuthentication indicates the API key was rejected (HTTP 401).
	ErrAuthentication = &APIError{StatusCode: 401, Message: "authentication failed"}

	// ErrRateLimit indicates the rate limit was exceeded (HTTP 429).
	ErrRateLimit = &APIError{StatusCode: 429, Message: "rate limit exceeded"}

	// ErrUnavailable indicates the server was unreachable after all retries
	// and no cached prompt existed to fall back on.
	ErrUnavailable = errors.New("registry: server unreachable and no cached prompt")
)

// RateLimitError extends APIError with the Retry-After value in seconds.
// Use errors.As to extract it.
type RateLimitError struct {
	APIError
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("registry: 429: rate limit exceeded (retry after %ds)", e.RetryAfter)
	}
	return "registry: 429: rate limit exceeded"
}

// Is lets a RateLimitError match ErrRateLimit.
func (e *RateLimitError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.StatusCode == 429
}

// Unwrap returns the embedded APIError for errors.As support.
func (e *RateLimitError) Unwrap() error {
	return &e.APIError
}
