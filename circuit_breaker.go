package llmguard

import (
	"sync/atomic"
	"time"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String returns a readable state name for logs and metrics.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive transient/timeout
	// failures that opens the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration
}

// CircuitBreaker tracks upstream health and short-circuits calls after
// repeated failures. State transitions are lock-free; the winner of the
// Open→HalfOpen CAS is the probe, so exactly one caller performs the trial
// call.
type CircuitBreaker struct {
	config   CircuitBreakerConfig
	state    int64
	failures int64
	openedAt int64 // unix nanos of the transition to Open, stored before it
}

// NewCircuitBreaker creates a circuit breaker, applying defaults for zero
// config values.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown == 0 {
		config.Cooldown = 60 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// Allow reports whether a call may proceed. In the open state the first
// caller after the cooldown wins the transition to half-open and becomes the
// probe; every other caller is rejected until the probe reports its outcome.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		openedAt := atomic.LoadInt64(&cb.openedAt)
		if time.Now().UnixNano()-openedAt >= int64(cb.config.Cooldown) {
			// The CAS winner is the probe; there is no separate slot to
			// claim, so admission is a single atomic operation.
			return atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen))
		}
		return false
	case StateHalfOpen:
		// The probe is in flight; everyone else waits for its outcome.
		return false
	default:
		return false
	}
}

// RecordFailure records a transient or timeout outcome.
func (cb *CircuitBreaker) RecordFailure() {
	now := time.Now().UnixNano()

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt64(&cb.failures, 1)
		if failures >= int64(cb.config.FailureThreshold) {
			// Stamp the open time before the transition so a racing Allow
			// never observes Open with a stale timestamp.
			atomic.StoreInt64(&cb.openedAt, now)
			atomic.CompareAndSwapInt64(&cb.state, int64(StateClosed), int64(StateOpen))
		}
	case StateHalfOpen:
		// Failed probe: reopen and restart the cooldown.
		atomic.StoreInt64(&cb.openedAt, now)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
	case StateOpen:
		// Rejected callers never reach here; a late failure from a call
		// admitted before the transition changes nothing.
	}
}

// RecordSuccess records a successful outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
	case StateHalfOpen:
		// Successful probe closes the breaker with a clean slate.
		atomic.StoreInt64(&cb.failures, 0)
		atomic.StoreInt64(&cb.state, int64(StateClosed))
	case StateOpen:
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// Failures returns the rolling consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	return int(atomic.LoadInt64(&cb.failures))
}
