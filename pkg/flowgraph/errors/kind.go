// Package errors classifies failures so callers can decide whether to retry,
// fall back, route, or abort.
//
// Every error raised by an adapter, stage, or store maps to exactly one Kind:
//   - transient_io: timeouts, connection resets, retryable HTTP statuses
//   - provider_refused: the dependency answered and said no (4xx)
//   - budget_exceeded: a call would cross the episode's cost ceiling
//   - breaker_open: the dependency's circuit breaker rejected the call
//   - quality_below_threshold: a scored artifact missed its gate
//   - invalid_input: user supplied input failed validation
//   - state_corruption: persisted state could not be decoded or migrated
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind is the error taxonomy shared by every component.
type Kind int

const (
	// KindUnknown is returned for errors nothing recognizes.
	KindUnknown Kind = iota

	// KindTransientIO indicates a retry will likely help.
	KindTransientIO

	// KindProviderRefused indicates the provider rejected the request.
	KindProviderRefused

	// KindBudgetExceeded indicates the call would exceed the cost ceiling.
	KindBudgetExceeded

	// KindBreakerOpen indicates the circuit breaker rejected the call.
	KindBreakerOpen

	// KindQualityBelowThreshold indicates a quality gate failed.
	KindQualityBelowThreshold

	// KindInvalidInput indicates rejected user input.
	KindInvalidInput

	// KindStateCorruption indicates unreadable or unmigratable state.
	KindStateCorruption
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransientIO:
		return "transient_io"
	case KindProviderRefused:
		return "provider_refused"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindBreakerOpen:
		return "breaker_open"
	case KindQualityBelowThreshold:
		return "quality_below_threshold"
	case KindInvalidInput:
		return "invalid_input"
	case KindStateCorruption:
		return "state_corruption"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind should abort the episode rather
// than be retried or recorded.
func (k Kind) Fatal() bool {
	return k == KindInvalidInput || k == KindStateCorruption
}

// Kinded is implemented by errors that know their own kind. Packages that
// cannot import this one's concrete types implement it instead.
type Kinded interface {
	ErrorKind() Kind
}

// KindError wraps an error with its kind and context.
type KindError struct {
	// Err is the underlying error.
	Err error

	// Kind classifies the failure.
	Kind Kind

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *KindError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (kind: %s)", e.Context, e.Err, e.Kind)
	}
	return fmt.Sprintf("%s (kind: %s)", e.Err, e.Kind)
}

// Unwrap returns the underlying error.
func (e *KindError) Unwrap() error {
	return e.Err
}

// ErrorKind implements Kinded.
func (e *KindError) ErrorKind() Kind {
	return e.Kind
}

// New wraps err with a kind.
func New(kind Kind, err error, context string) *KindError {
	return &KindError{Err: err, Kind: kind, Context: context}
}

// Transient wraps err as transient I/O.
func Transient(err error, context string) *KindError {
	return New(KindTransientIO, err, context)
}

// Refused wraps err as a provider refusal.
func Refused(err error, context string) *KindError {
	return New(KindProviderRefused, err, context)
}

// Corrupt wraps err as state corruption.
func Corrupt(err error, context string) *KindError {
	return New(KindStateCorruption, err, context)
}

// DefaultRetryableStatus lists the HTTP statuses retried by default.
var DefaultRetryableStatus = []int{408, 429, 500, 502, 503, 504}

// Classify maps an error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 408 || httpErr.StatusCode == 429:
			return KindTransientIO
		case httpErr.StatusCode >= 500:
			return KindTransientIO
		case httpErr.StatusCode >= 400:
			return KindProviderRefused
		default:
			return KindUnknown
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return KindTransientIO
	}

	var parseErr *JSONParseError
	if errors.As(err, &parseErr) {
		return KindProviderRefused
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientIO
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransientIO
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransientIO
	}

	return KindUnknown
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransientIO
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}
