// Package substrate holds the cross-cutting infrastructure shared by
// every component: the circuit breaker generalized to a full
// Closed/Open/HalfOpen state machine, feature flags with deterministic
// bucketing, and the module registry's health-gated hot-swap.
//
// Grounded on the teacher's risk.CircuitBreaker (binary tripped/cooldown
// state), generalized from a daily-loss-specific breaker into a
// reusable protection for any external collaborator (price feeds,
// correlation sources, the Live backend).
package substrate

import (
	"sync"
	"time"
)

// BreakerState is one of the three states a CircuitBreaker can be in.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes the rolling failure window, the cooldown before a
// half-open probe is attempted, and how many consecutive half-open
// successes are required to fully close again.
type BreakerConfig struct {
	FailureThreshold    int
	FailureWindow       time.Duration
	CooldownDuration    time.Duration
	HalfOpenSuccessNeed int
}

// DefaultBreakerConfig keeps the teacher's threshold of 5 failures but
// counts them within a one-minute rolling window, cools down for one
// minute, and needs 2 consecutive half-open successes to close again.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		FailureWindow:       time.Minute,
		CooldownDuration:    time.Minute,
		HalfOpenSuccessNeed: 2,
	}
}

// CircuitBreaker protects a single external collaborator. Calls report
// their own outcome via RecordSuccess/RecordFailure; Allow tells the
// caller whether to even attempt the call.
type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	now    func() time.Time
	name   string

	state            BreakerState
	failureTimes     []time.Time
	openedAt         time.Time
	halfOpenSuccesses int
}

// NewCircuitBreaker builds a breaker for the named collaborator,
// starting Closed.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// State reports the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionIfCooldownElapsed()
	return cb.state
}

// Allow reports whether a call should be attempted. Closed always
// allows; Open never allows until the cooldown elapses, at which point
// it transitions to HalfOpen. HalfOpen allows every caller (concurrent
// callers all get a probe slot); the breaker only fully closes once
// HalfOpenSuccessNeed consecutive successes land, and a single failure
// during HalfOpen reopens it.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionIfCooldownElapsed()
	return cb.state != StateOpen
}

func (cb *CircuitBreaker) transitionIfCooldownElapsed() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.CooldownDuration {
		cb.state = StateHalfOpen
		cb.halfOpenSuccesses = 0
	}
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenSuccessNeed {
			cb.state = StateClosed
			cb.failureTimes = nil
			cb.halfOpenSuccesses = 0
		}
	case StateClosed:
		cb.pruneFailures()
	}
}

// RecordFailure reports a failed call. A failure during HalfOpen
// immediately reopens the breaker; in Closed it accumulates into the
// rolling failure window and trips once the threshold is reached
// within the window.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.trip()
	case StateClosed:
		cb.failureTimes = append(cb.failureTimes, cb.now())
		cb.pruneFailures()
		if len(cb.failureTimes) >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) pruneFailures() {
	cutoff := cb.now().Add(-cb.cfg.FailureWindow)
	kept := cb.failureTimes[:0]
	for _, t := range cb.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failureTimes = kept
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenSuccesses = 0
}

// ForceReset manually clears the breaker back to Closed, for operator
// intervention.
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureTimes = nil
	cb.halfOpenSuccesses = 0
}
