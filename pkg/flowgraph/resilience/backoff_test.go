package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		retry   int
		want    time.Duration
	}{
		{"immediate", Backoff{Strategy: StrategyImmediate, Base: time.Second}, 3, 0},
		{"fixed", Backoff{Strategy: StrategyFixed, Base: time.Second}, 4, time.Second},
		{"linear", Backoff{Strategy: StrategyLinear, Base: time.Second}, 3, 3 * time.Second},
		{"exponential first", Backoff{Strategy: StrategyExponential, Base: time.Second, Factor: 2}, 1, time.Second},
		{"exponential third", Backoff{Strategy: StrategyExponential, Base: time.Second, Factor: 2}, 3, 4 * time.Second},
		{"exponential default factor", Backoff{Strategy: StrategyExponential, Base: time.Second}, 2, 2 * time.Second},
		{"clamped", Backoff{Strategy: StrategyExponential, Base: time.Second, Factor: 10, Max: 5 * time.Second}, 4, 5 * time.Second},
		{"linear clamped", Backoff{Strategy: StrategyLinear, Base: time.Second, Max: 2 * time.Second}, 9, 2 * time.Second},
		{"zero retry treated as first", Backoff{Strategy: StrategyLinear, Base: time.Second}, 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.backoff.Delay(tt.retry, nil))
		})
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := Backoff{Strategy: StrategyFixed, Base: time.Second, Jitter: 0.5}

	assert.Equal(t, 500*time.Millisecond, b.Delay(1, func() float64 { return 0 }))
	assert.Equal(t, time.Second, b.Delay(1, func() float64 { return 0.5 }))

	high := b.Delay(1, func() float64 { return 0.999 })
	assert.Greater(t, high, time.Second)
	assert.Less(t, high, 1500*time.Millisecond)
}

func TestBackoff_JitterNeverExceedsMax(t *testing.T) {
	b := Backoff{Strategy: StrategyFixed, Base: 4 * time.Second, Max: 4 * time.Second, Jitter: 1}
	assert.LessOrEqual(t, b.Delay(1, func() float64 { return 0.99 }), 4*time.Second)
}
