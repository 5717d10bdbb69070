package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("research", BreakerConfig{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	err := b.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBreakerOpen))

	var openErr *BreakerOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "research", openErr.Name)
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("chat", BreakerConfig{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Stats().ConsecutiveFailures)
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("tts", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Minute,
		Clock:            clock.Now,
	})

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	assert.Error(t, b.Allow())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	// One probe at a time.
	require.NoError(t, b.Allow())
	assert.Error(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("tts", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		Clock:            clock.Now,
	})

	b.RecordFailure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())

	// The recovery timeout restarts from the new opening.
	clock.Advance(500 * time.Millisecond)
	assert.Error(t, b.Allow())
}

func TestBreaker_FailureRateOpens(t *testing.T) {
	b := NewBreaker("chat", BreakerConfig{
		FailureThreshold: 100,
		WindowSize:       10,
		MinWindowCalls:   4,
		FailureRate:      0.5,
	})

	b.RecordSuccess()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State(), "below minimum window")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_IgnoredDoesNotCount(t *testing.T) {
	b := NewBreaker("chat", BreakerConfig{FailureThreshold: 1})

	require.NoError(t, b.Allow())
	b.RecordIgnored()

	stats := b.Stats()
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, int64(1), stats.TotalCalls)
	assert.Equal(t, int64(0), stats.TotalFailures)
}

func TestBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := NewBreaker("research", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
		Clock:            clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	b.RecordFailure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, []string{
		"research:closed->open",
		"research:open->half_open",
		"research:half_open->closed",
	}, transitions)
	assert.Equal(t, int64(3), b.Stats().Transitions)
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{FailureThreshold: 1})
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
