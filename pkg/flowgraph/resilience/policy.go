package resilience

import (
	"slices"
	"time"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// Backoff computes the delay between attempts.
	Backoff Backoff

	// RetryableStatus lists HTTP statuses that are retried. An error that
	// carries a status is retried iff its status is listed.
	RetryableStatus []int

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool
}

// DefaultPolicy is the standard retry configuration.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	Backoff:         DefaultBackoff,
	RetryableStatus: fgerrors.DefaultRetryableStatus,
}

// NoRetry disables retries.
var NoRetry = Policy{
	MaxAttempts: 1,
}

// Retryable reports whether err should be retried under this policy.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if p.RetryableFunc != nil {
		return p.RetryableFunc(err)
	}
	if code, ok := fgerrors.StatusCode(err); ok {
		status := p.RetryableStatus
		if status == nil {
			status = fgerrors.DefaultRetryableStatus
		}
		return slices.Contains(status, code)
	}
	return fgerrors.Classify(err) == fgerrors.KindTransientIO
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) PolicyOption {
	return func(p *Policy) {
		p.MaxAttempts = n
	}
}

// WithStrategy sets the backoff strategy.
func WithStrategy(s Strategy) PolicyOption {
	return func(p *Policy) {
		p.Backoff.Strategy = s
	}
}

// WithBaseDelay sets the starting backoff delay.
func WithBaseDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		p.Backoff.Base = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		p.Backoff.Max = d
	}
}

// WithJitter sets the jitter fraction.
func WithJitter(j float64) PolicyOption {
	return func(p *Policy) {
		p.Backoff.Jitter = j
	}
}

// WithRetryableStatus replaces the retryable status set.
func WithRetryableStatus(codes ...int) PolicyOption {
	return func(p *Policy) {
		p.RetryableStatus = codes
	}
}

// WithRetryableFunc sets a custom retryability check.
func WithRetryableFunc(fn func(error) bool) PolicyOption {
	return func(p *Policy) {
		p.RetryableFunc = fn
	}
}

// NewPolicy creates a policy from DefaultPolicy and the given options.
func NewPolicy(opts ...PolicyOption) Policy {
	p := DefaultPolicy
	p.RetryableStatus = slices.Clone(DefaultPolicy.RetryableStatus)
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
