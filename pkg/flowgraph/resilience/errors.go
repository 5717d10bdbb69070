package resilience

import (
	"errors"
	"fmt"
	"time"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

// Sentinel errors.
var (
	// ErrBreakerOpen is matched by every BreakerOpenError.
	ErrBreakerOpen = errors.New("circuit breaker is open")

	// ErrRetriesExhausted is matched by every RetryExhaustedError.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// BreakerOpenError is returned when a breaker rejects a call.
type BreakerOpenError struct {
	// Name is the breaker (dependency) name.
	Name string

	// RetryAfter is how long until the breaker admits a probe.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (retry after %s)", e.Name, e.RetryAfter)
}

// Is allows errors.Is(err, ErrBreakerOpen).
func (e *BreakerOpenError) Is(target error) bool {
	return target == ErrBreakerOpen
}

// ErrorKind implements errors.Kinded.
func (e *BreakerOpenError) ErrorKind() fgerrors.Kind {
	return fgerrors.KindBreakerOpen
}

// RetryExhaustedError is returned when every attempt failed with a
// retryable error. It unwraps to the last failure so classification still
// sees the underlying kind.
type RetryExhaustedError struct {
	Handler  string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts failed: %v", e.Handler, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrRetriesExhausted).
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}
