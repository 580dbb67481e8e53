package gateway

import (
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerState is a point-in-time view of a breaker.
type BreakerState struct {
	State               State     `json:"-"`
	StateName           string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	HalfOpenSuccesses   int       `json:"half_open_successes"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// Breaker is a per-endpoint circuit breaker.
//
//	closed    --(threshold consecutive failures)--> open
//	open      --(cool-down elapsed)---------------> half-open
//	half-open --(N consecutive successes)---------> closed
//	half-open --(any failure)---------------------> open (cool-down restarts)
type Breaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	coolDown  time.Duration
	successes int
	now       func() time.Time

	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureAt       time.Time
	openedAt            time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, threshold int, coolDown time.Duration, successes int) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: threshold,
		coolDown:  coolDown,
		successes: successes,
		now:       time.Now,
	}
	gatewayBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Allow reports whether a call may proceed. While open and inside the
// cool-down it returns a CircuitOpenError; once the cool-down has elapsed the
// breaker moves to half-open and lets trial calls through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	elapsed := b.now().Sub(b.openedAt)
	if elapsed < b.coolDown {
		return &CircuitOpenError{Endpoint: b.name, RetryIn: b.coolDown - elapsed}
	}
	b.setState(StateHalfOpen)
	b.halfOpenSuccesses = 0
	return nil
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.successes {
			b.halfOpenSuccesses = 0
			b.setState(StateClosed)
		}
	}
}

// RecordFailure reports a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.consecutiveFailures++
	b.lastFailureAt = now

	switch b.state {
	case StateHalfOpen:
		b.trip(now)
	case StateClosed:
		if b.consecutiveFailures >= b.threshold {
			b.trip(now)
		}
	case StateOpen:
		// A call admitted before the trip finished late; the cool-down
		// already running is left untouched.
	}
}

// Snapshot returns the breaker's current state.
func (b *Breaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		State:               b.state,
		StateName:           b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
		LastFailureAt:       b.lastFailureAt,
		OpenedAt:            b.openedAt,
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip(now time.Time) {
	b.openedAt = now
	b.halfOpenSuccesses = 0
	b.setState(StateOpen)
}

func (b *Breaker) setState(s State) {
	b.state = s
	gatewayBreakerState.WithLabelValues(b.name).Set(float64(s))
}
