package pool

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's three states. No available
// circuit-breaker dependency (outside sony/gobreaker, which isn't part of
// this codebase's stack) fit here, so this is a small explicit state
// machine on the standard library (documented in DESIGN.md).
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker trips to Open after failureThreshold consecutive
// failures and waits cooldown before moving to HalfOpen. HalfOpen admits
// every caller, not a single probe; the first recorded outcome returns the
// breaker to Closed on success or back to Open on failure.
type circuitBreaker struct {
	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	failureThreshold int
	cooldown         time.Duration
	openedAt         time.Time
}

func newCircuitBreaker(failureThreshold int, cooldown time.Duration) *circuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return &circuitBreaker{failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a new call may proceed, transitioning Open ->
// HalfOpen once cooldown has elapsed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		return true // every caller is admitted until an outcome is recorded
	default: // breakerOpen
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			circuitState.Set(float64(breakerHalfOpen))
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker (from Closed or HalfOpen) and resets
// the failure streak.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = breakerClosed
	circuitState.Set(float64(breakerClosed))
}

// RecordFailure trips the breaker to Open once failureThreshold
// consecutive failures accrue, or immediately on a failed HalfOpen probe.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.trip()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.trip()
	}
}

func (b *circuitBreaker) trip() {
	b.state = breakerOpen
	b.openedAt = time.Now()
	circuitState.Set(float64(breakerOpen))
}

// State reports the current state, for HealthStatus.
func (b *circuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
