package playout

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	// BreakerClosed indicates the circuit is closed (normal operation)
	BreakerClosed BreakerState = iota
	// BreakerOpen indicates the circuit is open (blocking restart attempts)
	BreakerOpen
	// BreakerHalfOpen indicates the circuit is testing if recovery is possible
	BreakerHalfOpen
)

// String returns the string representation of BreakerState
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen indicates the circuit breaker is open and blocking restarts
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker bounds pipeline crash loops: consecutive failures within the
// reset window trip it open, after which the session stops restarting and
// the channel is surfaced as unhealthy.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	state            BreakerState
	failures         int
	lastFailureTime  time.Time
	mu               sync.Mutex
}

// NewBreaker creates a new circuit breaker with the given threshold and reset timeout
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            BreakerClosed,
	}
}

// RecordSuccess records a successful operation
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
	}
}

// RecordFailure records a failed operation
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailureTime = time.Now()
	if b.failures >= b.failureThreshold {
		b.state = BreakerOpen
	}
}

// State returns the current state, transitioning Open to HalfOpen once the
// reset timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.lastFailureTime) >= b.resetTimeout {
		b.state = BreakerHalfOpen
		b.failures = 0
	}
	return b.state
}

// Failures returns the current consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// CanAttempt returns true if the circuit breaker allows another attempt
func (b *Breaker) CanAttempt() bool {
	state := b.State()
	return state == BreakerClosed || state == BreakerHalfOpen
}

// Reset resets the circuit breaker to its initial state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.lastFailureTime = time.Time{}
}
