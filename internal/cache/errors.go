package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned by Fetch when the upstream could not be reached,
// all retries were exhausted and no cached entry exists to fall back on.
var ErrUnavailable = errors.New("upstream unavailable and no cached fallback")

// TransientError marks an upstream failure as retryable. Anything not wrapped
// in a TransientError is treated as definitive: propagated immediately, never
// retried and never masked by stale cache data.
type TransientError struct {
	Err error

	// RetryAfter, when positive, is the upstream's hint for the minimum wait
	// before the next attempt (e.g. a Retry-After header). It acts as a floor
	// under the exponential backoff.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upstream failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
