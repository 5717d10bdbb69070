package resilience

import (
	"sync"
	"time"
)

// State is the state of a circuit breaker.
type State int

const (
	// StateClosed admits every call.
	StateClosed State = iota

	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen

	// StateHalfOpen admits probe calls to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int

	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout time.Duration

	// MaxProbes is the max concurrent calls admitted while half-open.
	MaxProbes int

	// WindowSize is the number of recent outcomes kept for the failure rate.
	WindowSize int

	// FailureRate opens the breaker when the windowed failure fraction
	// reaches it. Zero disables the rate check.
	FailureRate float64

	// MinWindowCalls is the number of outcomes required before the rate
	// check applies.
	MinWindowCalls int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Clock overrides time.Now.
	Clock func() time.Time
}

// DefaultBreakerConfig returns the standard breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		MaxProbes:        1,
		WindowSize:       20,
		FailureRate:      0.5,
		MinWindowCalls:   10,
	}
}

// BreakerStats is a point-in-time view of a breaker.
type BreakerStats struct {
	Name                 string    `json:"name"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	TotalCalls           int64     `json:"total_calls"`
	TotalFailures        int64     `json:"total_failures"`
	Transitions          int64     `json:"transitions"`
	WindowFailureRate    float64   `json:"window_failure_rate"`
	LastFailureAt        time.Time `json:"last_failure_at,omitzero"`
	LastSuccessAt        time.Time `json:"last_success_at,omitzero"`
}

// Breaker implements the circuit breaker pattern for one dependency.
type Breaker struct {
	mu   sync.Mutex
	name string
	cfg  BreakerConfig
	now  func() time.Time

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	probes               int
	openedAt             time.Time

	window []bool // true = failure
	next   int
	filled int

	totalCalls    int64
	totalFailures int64
	transitions   int64
	lastFailureAt time.Time
	lastSuccessAt time.Time
}

type transition struct {
	from, to State
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MinWindowCalls <= 0 {
		cfg.MinWindowCalls = def.MinWindowCalls
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		now:    now,
		state:  StateClosed,
		window: make([]bool, cfg.WindowSize),
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving open to half-open once the
// recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	tr := b.advance()
	s := b.state
	b.mu.Unlock()
	b.notify(tr)
	return s
}

// Allow admits or rejects a call. A rejected call returns a
// *BreakerOpenError. Every admitted call must be followed by exactly one of
// RecordSuccess, RecordFailure, or RecordIgnored.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	tr := b.advance()

	var err error
	switch b.state {
	case StateOpen:
		err = &BreakerOpenError{Name: b.name, RetryAfter: b.cfg.RecoveryTimeout - b.now().Sub(b.openedAt)}
	case StateHalfOpen:
		if b.probes < b.cfg.MaxProbes {
			b.probes++
		} else {
			err = &BreakerOpenError{Name: b.name}
		}
	}
	b.mu.Unlock()

	b.notify(tr)
	return err
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.totalCalls++
	b.lastSuccessAt = b.now()
	b.push(false)
	b.consecutiveFailures = 0
	b.consecutiveSuccesses++

	var tr *transition
	if b.state == StateHalfOpen {
		b.releaseProbe()
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			tr = b.transition(StateClosed)
		}
	}
	b.mu.Unlock()
	b.notify(tr)
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.totalCalls++
	b.totalFailures++
	b.lastFailureAt = b.now()
	b.push(true)
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++

	var tr *transition
	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold || b.rateExceeded() {
			tr = b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.releaseProbe()
		tr = b.transition(StateOpen)
	}
	b.mu.Unlock()
	b.notify(tr)
}

// RecordIgnored releases an admitted call without counting it toward the
// breaker. Used for failures that say nothing about dependency health,
// such as a refused request.
func (b *Breaker) RecordIgnored() {
	b.mu.Lock()
	b.totalCalls++
	if b.state == StateHalfOpen {
		b.releaseProbe()
	}
	b.mu.Unlock()
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.transition(StateClosed)
	b.mu.Unlock()
	b.notify(tr)
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	tr := b.advance()
	stats := BreakerStats{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalCalls:           b.totalCalls,
		TotalFailures:        b.totalFailures,
		Transitions:          b.transitions,
		WindowFailureRate:    b.failureRate(),
		LastFailureAt:        b.lastFailureAt,
		LastSuccessAt:        b.lastSuccessAt,
	}
	b.mu.Unlock()
	b.notify(tr)
	return stats
}

// advance moves open to half-open after the recovery timeout.
// Must be called with the lock held.
func (b *Breaker) advance() *transition {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		return b.transition(StateHalfOpen)
	}
	return nil
}

// transition changes state. Must be called with the lock held.
func (b *Breaker) transition(to State) *transition {
	from := b.state
	if from == to {
		return nil
	}

	b.state = to
	b.transitions++
	b.probes = 0
	b.consecutiveSuccesses = 0

	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateClosed:
		b.consecutiveFailures = 0
		b.next, b.filled = 0, 0
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(tr *transition) {
	if tr != nil && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, tr.from, tr.to)
	}
}

func (b *Breaker) releaseProbe() {
	if b.probes > 0 {
		b.probes--
	}
}

func (b *Breaker) push(failed bool) {
	b.window[b.next] = failed
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
}

func (b *Breaker) failureRate() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.filled)
}

func (b *Breaker) rateExceeded() bool {
	if b.cfg.FailureRate <= 0 || b.filled < b.cfg.MinWindowCalls {
		return false
	}
	return b.failureRate() >= b.cfg.FailureRate
}
