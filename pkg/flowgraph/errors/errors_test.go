package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

type budgetErr struct{}

func (budgetErr) Error() string    { return "over budget" }
func (budgetErr) ErrorKind() Kind { return KindBudgetExceeded }

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindTransientIO, "transient_io"},
		{KindProviderRefused, "provider_refused"},
		{KindBudgetExceeded, "budget_exceeded"},
		{KindBreakerOpen, "breaker_open"},
		{KindQualityBelowThreshold, "quality_below_threshold"},
		{KindInvalidInput, "invalid_input"},
		{KindStateCorruption, "state_corruption"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind(%d).String() = %s, want %s", tt.kind, got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil error", nil, KindUnknown},
		{"HTTP 408", &HTTPError{StatusCode: 408}, KindTransientIO},
		{"HTTP 429", &HTTPError{StatusCode: 429}, KindTransientIO},
		{"HTTP 500", &HTTPError{StatusCode: 500}, KindTransientIO},
		{"HTTP 503", &HTTPError{StatusCode: 503}, KindTransientIO},
		{"HTTP 400", &HTTPError{StatusCode: 400}, KindProviderRefused},
		{"HTTP 401", &HTTPError{StatusCode: 401}, KindProviderRefused},
		{"HTTP 404", &HTTPError{StatusCode: 404}, KindProviderRefused},
		{"timeout", &TimeoutError{Operation: "search"}, KindTransientIO},
		{"deadline", context.DeadlineExceeded, KindTransientIO},
		{"unexpected EOF", io.ErrUnexpectedEOF, KindTransientIO},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindTransientIO},
		{"net timeout", netTimeout{}, KindTransientIO},
		{"parse error", &JSONParseError{Message: "bad"}, KindProviderRefused},
		{"validation", &ValidationError{Field: "topic"}, KindInvalidInput},
		{"kinded", budgetErr{}, KindBudgetExceeded},
		{"wrapped kinded", fmt.Errorf("stage: %w", budgetErr{}), KindBudgetExceeded},
		{"kind error", Corrupt(errors.New("bad json"), "load"), KindStateCorruption},
		{"kind error wins over http", Refused(&HTTPError{StatusCode: 503}, "x"), KindProviderRefused},
		{"unknown", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestKindError(t *testing.T) {
	t.Run("message with context", func(t *testing.T) {
		err := Transient(errors.New("reset"), "search")
		expected := "search: reset (kind: transient_io)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("message without context", func(t *testing.T) {
		err := New(KindBreakerOpen, errors.New("open"), "")
		expected := "open (kind: breaker_open)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("inner")
		err := Transient(inner, "x")
		if !errors.Is(err, inner) {
			t.Error("errors.Is should find the wrapped error")
		}
	})
}

func TestFatal(t *testing.T) {
	if !KindInvalidInput.Fatal() || !KindStateCorruption.Fatal() {
		t.Error("invalid_input and state_corruption must be fatal")
	}
	if KindTransientIO.Fatal() || KindBudgetExceeded.Fatal() {
		t.Error("transient_io and budget_exceeded must not be fatal")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&HTTPError{StatusCode: 503}) {
		t.Error("503 should be retryable")
	}
	if IsRetryable(&HTTPError{StatusCode: 400}) {
		t.Error("400 should not be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("unknown errors should not be retryable")
	}
}

func TestStatusCode(t *testing.T) {
	code, ok := StatusCode(fmt.Errorf("wrap: %w", &HTTPError{StatusCode: 429}))
	if !ok || code != 429 {
		t.Errorf("StatusCode() = %d, %v; want 429, true", code, ok)
	}
	if _, ok := StatusCode(errors.New("plain")); ok {
		t.Error("plain errors carry no status")
	}
}
