// Package circuitbreaker stops calls to a node that keeps failing so a run
// fails fast instead of spending its retry budget on every request.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Allow while the circuit is open
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new calls allowed
	StateHalfOpen              // Probing whether the node recovered
)

// String returns the state name used in logs
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Thresholds defines the limits that trip the circuit breaker
type Thresholds struct {
	// MaxConsecutiveFailures trips the circuit once reached
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

// CircuitBreaker counts consecutive call failures and rejects calls while open
type CircuitBreaker struct {
	thresholds Thresholds

	state    State
	lastTrip time.Time
	failures int

	// Duration before a half-open trial call is allowed
	resetDelay time.Duration

	mu sync.Mutex

	onTripCallback func(reason string)
	now            func() time.Time
}

// New creates a closed CircuitBreaker. A threshold below one is treated as one.
func New(t Thresholds) *CircuitBreaker {
	if t.MaxConsecutiveFailures < 1 {
		t.MaxConsecutiveFailures = 1
	}
	return &CircuitBreaker{
		thresholds: t,
		state:      StateClosed,
		resetDelay: 30 * time.Second,
		now:        time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithTripCallback sets a function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Allow reports whether a call may proceed. After the reset delay an open
// circuit moves to half-open and lets calls through as trial calls; the first
// success closes it again.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.now().Sub(cb.lastTrip) < cb.resetDelay {
		return ErrOpen
	}

	cb.state = StateHalfOpen
	logrus.Info("Circuit breaker half-open: probing node")
	return nil
}

// Success records a call that reached the node
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		logrus.Info("Circuit breaker closed: node has recovered")
	}
}

// Failure records a call that could not reach the node. A failure while
// half-open trips the circuit again immediately.
func (cb *CircuitBreaker) Failure(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.trip(fmt.Sprintf("half-open call failed: %s", reason))
	case cb.state == StateClosed && cb.failures >= cb.thresholds.MaxConsecutiveFailures:
		cb.trip(fmt.Sprintf("%d consecutive failures, last: %s", cb.failures, reason))
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// trip opens the circuit. Callers hold mu.
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTrip = cb.now()
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason)
	}
}
