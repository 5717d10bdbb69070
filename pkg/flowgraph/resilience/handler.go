package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
)

// Attempt describes one call made through a Handler.
type Attempt struct {
	Handler  string
	Attempt  int
	Success  bool
	Duration time.Duration
	Kind     fgerrors.Kind
	Err      error

	// Delay is the backoff before the next attempt, zero if none follows.
	Delay time.Duration
}

// Observer receives every attempt a Handler makes.
type Observer func(Attempt)

// HandlerStats summarizes a Handler's calls.
type HandlerStats struct {
	Name      string       `json:"name"`
	Calls     int64        `json:"calls"`
	Successes int64        `json:"successes"`
	Failures  int64        `json:"failures"`
	Retries   int64        `json:"retries"`
	Fallbacks int64        `json:"fallbacks"`
	Breaker   BreakerStats `json:"breaker"`
}

// Handler coordinates retry, backoff, circuit breaking, and rate limiting
// for calls to a single dependency.
type Handler struct {
	name      string
	policy    Policy
	breaker   *Breaker
	limiter   *rate.Limiter
	logger    *slog.Logger
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
	rnd       func() float64

	breakerCfg BreakerConfig

	mu    sync.Mutex
	stats HandlerStats
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// NewHandler creates a handler for the named dependency.
func NewHandler(name string, opts ...HandlerOption) *Handler {
	h := &Handler{
		name:       name,
		policy:     NewPolicy(),
		logger:     slog.Default(),
		sleep:      sleepContext,
		rnd:        rand.Float64,
		breakerCfg: DefaultBreakerConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}

	userCallback := h.breakerCfg.OnStateChange
	h.breakerCfg.OnStateChange = func(name string, from, to State) {
		observability.LogBreakerTransition(h.logger, name, from.String(), to.String())
		if userCallback != nil {
			userCallback(name, from, to)
		}
	}
	h.breaker = NewBreaker(name, h.breakerCfg)
	h.stats.Name = name
	return h
}

// WithPolicy sets the retry policy.
func WithPolicy(p Policy) HandlerOption {
	return func(h *Handler) {
		h.policy = p
	}
}

// WithBreakerConfig sets the circuit breaker configuration.
func WithBreakerConfig(cfg BreakerConfig) HandlerOption {
	return func(h *Handler) {
		h.breakerCfg = cfg
	}
}

// WithRateFloor enforces a minimum interval between attempts.
func WithRateFloor(interval time.Duration) HandlerOption {
	return func(h *Handler) {
		if interval > 0 {
			h.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithObserver registers an attempt observer.
func WithObserver(fn Observer) HandlerOption {
	return func(h *Handler) {
		h.observers = append(h.observers, fn)
	}
}

// WithSleep replaces the backoff sleep. Tests use it to avoid waiting.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) HandlerOption {
	return func(h *Handler) {
		h.sleep = fn
	}
}

// WithRand replaces the jitter source.
func WithRand(fn func() float64) HandlerOption {
	return func(h *Handler) {
		h.rnd = fn
	}
}

// Name returns the dependency name.
func (h *Handler) Name() string {
	return h.name
}

// Breaker returns the handler's circuit breaker.
func (h *Handler) Breaker() *Breaker {
	return h.breaker
}

// Stats returns a snapshot of the handler's counters.
func (h *Handler) Stats() HandlerStats {
	h.mu.Lock()
	s := h.stats
	h.mu.Unlock()
	s.Breaker = h.breaker.Stats()
	return s
}

// Execute runs fn through the handler.
func (h *Handler) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs op through the handler, retrying retryable failures with backoff
// until the policy's attempt limit. A breaker rejection returns a
// *BreakerOpenError immediately.
func Do[T any](ctx context.Context, h *Handler, op func(context.Context) (T, error)) (T, error) {
	var zero T
	h.count(func(s *HandlerStats) { s.Calls++ })

	maxAttempts := h.policy.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			h.count(func(s *HandlerStats) { s.Failures++ })
			return zero, err
		}

		if err := h.breaker.Allow(); err != nil {
			h.emit(Attempt{Handler: h.name, Attempt: attempt, Kind: fgerrors.KindBreakerOpen, Err: err})
			h.count(func(s *HandlerStats) { s.Failures++ })
			return zero, err
		}

		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				h.breaker.RecordIgnored()
				h.count(func(s *HandlerStats) { s.Failures++ })
				return zero, err
			}
		}

		start := time.Now()
		v, err := op(ctx)
		elapsed := time.Since(start)

		if err == nil {
			h.breaker.RecordSuccess()
			h.emit(Attempt{Handler: h.name, Attempt: attempt, Success: true, Duration: elapsed})
			h.count(func(s *HandlerStats) { s.Successes++ })
			return v, nil
		}

		lastErr = err
		kind := fgerrors.Classify(err)
		retryable := h.policy.Retryable(err)
		if retryable || kind == fgerrors.KindTransientIO || kind == fgerrors.KindUnknown {
			h.breaker.RecordFailure()
		} else {
			h.breaker.RecordIgnored()
		}

		var delay time.Duration
		if retryable && attempt < maxAttempts {
			delay = h.policy.Backoff.Delay(attempt, h.rnd)
		}
		h.emit(Attempt{Handler: h.name, Attempt: attempt, Duration: elapsed, Kind: kind, Err: err, Delay: delay})

		if !retryable {
			h.count(func(s *HandlerStats) { s.Failures++ })
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		observability.LogRetry(h.logger, h.name, attempt, delay, err)
		h.count(func(s *HandlerStats) { s.Retries++ })
		if err := h.sleep(ctx, delay); err != nil {
			h.count(func(s *HandlerStats) { s.Failures++ })
			return zero, err
		}
	}

	h.count(func(s *HandlerStats) { s.Failures++ })
	return zero, &RetryExhaustedError{Handler: h.name, Attempts: maxAttempts, Err: lastErr}
}

// Result is the outcome of DoWithFallback.
type Result[T any] struct {
	Value T

	// Synthetic is true when Value came from the fallback.
	Synthetic bool
}

// DoWithFallback runs op through the handler. When the breaker is open and a
// fallback is given, the fallback's value is returned flagged as synthetic
// instead of the breaker error.
func DoWithFallback[T any](
	ctx context.Context,
	h *Handler,
	op func(context.Context) (T, error),
	fallback func(ctx context.Context, cause error) (T, error),
) (Result[T], error) {
	v, err := Do(ctx, h, op)
	if err == nil {
		return Result[T]{Value: v}, nil
	}
	if fallback == nil || !errors.Is(err, ErrBreakerOpen) {
		return Result[T]{}, err
	}

	fv, ferr := fallback(ctx, err)
	if ferr != nil {
		return Result[T]{}, ferr
	}
	observability.LogFallback(h.logger, h.name, err)
	h.count(func(s *HandlerStats) { s.Fallbacks++ })
	return Result[T]{Value: fv, Synthetic: true}, nil
}

func (h *Handler) emit(a Attempt) {
	for _, obs := range h.observers {
		obs(a)
	}
}

func (h *Handler) count(fn func(*HandlerStats)) {
	h.mu.Lock()
	fn(&h.stats)
	h.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
