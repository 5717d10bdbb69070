package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordSleeps returns a sleep func that records delays instead of waiting.
func recordSleeps(delays *[]time.Duration) HandlerOption {
	var mu sync.Mutex
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	})
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	h := NewHandler("chat", WithLogger(discardLogger()))

	v, err := Do(context.Background(), h, func(context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.Successes)
	assert.Equal(t, int64(0), stats.Retries)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var delays []time.Duration
	h := NewHandler("research",
		WithLogger(discardLogger()),
		WithPolicy(NewPolicy(WithMaxAttempts(3), WithJitter(0), WithBaseDelay(100*time.Millisecond))),
		recordSleeps(&delays),
	)

	calls := 0
	v, err := Do(context.Background(), h, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &fgerrors.HTTPError{StatusCode: 503}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
	assert.Equal(t, int64(2), h.Stats().Retries)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	h := NewHandler("chat", WithLogger(discardLogger()), WithSleep(func(context.Context, time.Duration) error { return nil }))

	calls := 0
	_, err := Do(context.Background(), h, func(context.Context) (int, error) {
		calls++
		return 0, &fgerrors.HTTPError{StatusCode: 400, Message: "bad prompt"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, fgerrors.KindProviderRefused, fgerrors.Classify(err))
	// Refusals say nothing about dependency health.
	assert.Equal(t, int64(0), h.Breaker().Stats().TotalFailures)
}

func TestDo_RetryableStatusSet(t *testing.T) {
	h := NewHandler("chat",
		WithLogger(discardLogger()),
		WithPolicy(NewPolicy(WithRetryableStatus(503))),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	calls := 0
	_, err := Do(context.Background(), h, func(context.Context) (int, error) {
		calls++
		return 0, &fgerrors.HTTPError{StatusCode: 500}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "500 is not in the configured status set")
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	h := NewHandler("tts",
		WithLogger(discardLogger()),
		WithPolicy(NewPolicy(WithMaxAttempts(2))),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	_, err := Do(context.Background(), h, func(context.Context) (int, error) {
		return 0, &fgerrors.TimeoutError{Operation: "synthesize"}
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, fgerrors.KindTransientIO, fgerrors.Classify(err))
}

func TestDo_BreakerOpenStopsRetrying(t *testing.T) {
	h := NewHandler("research",
		WithLogger(discardLogger()),
		WithPolicy(NewPolicy(WithMaxAttempts(5))),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour}),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	calls := 0
	_, err := Do(context.Background(), h, func(context.Context) (int, error) {
		calls++
		return 0, &fgerrors.HTTPError{StatusCode: 503}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.Equal(t, fgerrors.KindBreakerOpen, fgerrors.Classify(err))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHandler("chat",
		WithLogger(discardLogger()),
		WithSleep(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}),
	)

	_, err := Do(ctx, h, func(context.Context) (int, error) {
		return 0, &fgerrors.HTTPError{StatusCode: 429}
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ObserversSeeEveryAttempt(t *testing.T) {
	var attempts []Attempt
	h := NewHandler("chat",
		WithLogger(discardLogger()),
		WithObserver(func(a Attempt) { attempts = append(attempts, a) }),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	calls := 0
	_, err := Do(context.Background(), h, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &fgerrors.HTTPError{StatusCode: 502}
		}
		return 1, nil
	})

	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Success)
	assert.Equal(t, fgerrors.KindTransientIO, attempts[0].Kind)
	assert.Greater(t, attempts[0].Delay, time.Duration(0))
	assert.True(t, attempts[1].Success)
	assert.Equal(t, 2, attempts[1].Attempt)
}

func TestDoWithFallback_UsesFallbackWhenOpen(t *testing.T) {
	h := NewHandler("research",
		WithLogger(discardLogger()),
		WithPolicy(NoRetry),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}),
	)

	failing := func(context.Context) (string, error) {
		return "", &fgerrors.HTTPError{StatusCode: 503}
	}
	fallback := func(_ context.Context, cause error) (string, error) {
		return "synthetic", nil
	}

	_, err := DoWithFallback(context.Background(), h, failing, fallback)
	require.Error(t, err, "closed breaker does not fall back")

	res, err := DoWithFallback(context.Background(), h, failing, fallback)
	require.NoError(t, err)
	assert.True(t, res.Synthetic)
	assert.Equal(t, "synthetic", res.Value)
	assert.Equal(t, int64(1), h.Stats().Fallbacks)
}

func TestDoWithFallback_NoFallbackReturnsBreakerError(t *testing.T) {
	h := NewHandler("tts",
		WithLogger(discardLogger()),
		WithPolicy(NoRetry),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}),
	)
	h.Breaker().RecordFailure()

	_, err := DoWithFallback[int](context.Background(), h, func(context.Context) (int, error) { return 1, nil }, nil)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestHandler_Execute(t *testing.T) {
	h := NewHandler("trace", WithLogger(discardLogger()))
	called := false
	err := h.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestHandler_BreakerCallbackChained(t *testing.T) {
	var seen []State
	h := NewHandler("chat",
		WithLogger(discardLogger()),
		WithBreakerConfig(BreakerConfig{
			FailureThreshold: 1,
			OnStateChange:    func(_ string, _, to State) { seen = append(seen, to) },
		}),
	)
	h.Breaker().RecordFailure()
	assert.Equal(t, []State{StateOpen}, seen)
}

func TestRateFloor(t *testing.T) {
	h := NewHandler("research", WithLogger(discardLogger()), WithRateFloor(20*time.Millisecond))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := Do(context.Background(), h, func(context.Context) (int, error) { return i, nil })
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(WithLogger(discardLogger()), WithPolicy(NoRetry))

	a := r.Get("chat")
	b := r.Get("chat")
	assert.Same(t, a, b)

	c := r.Configure("chat", WithPolicy(NewPolicy(WithMaxAttempts(4))))
	assert.NotSame(t, a, c)
	assert.Same(t, c, r.Get("chat"))

	r.Get("research")
	assert.Equal(t, []string{"chat", "research"}, r.Names())
	assert.Len(t, r.Stats(), 2)
}
