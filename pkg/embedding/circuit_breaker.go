package embedding

import (
	"sync"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	StateClosed CircuitBreakerState = "closed"
	StateOpen   CircuitBreakerState = "open"
)

// DefaultBreakerCooldown is how long generation stays suppressed after
// a recorded failure.
const DefaultBreakerCooldown = 60 * time.Second

// CircuitBreaker suppresses generation calls against a failing
// upstream. It has two states: any recorded failure opens it, and it
// closes on its own once the cooldown since the last failure has
// elapsed. There is no half-open probe; the first request after
// cooldown goes straight back to the provider. State is process-wide,
// not per-key, so one exhausted fallback chain suppresses generation
// for every key during the cooldown window.
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	lastFailureTime time.Time
	mu              sync.RWMutex
}

// CircuitBreakerConfig configures the circuit breaker. Disabled means
// Allow always passes, for contexts like batch backfills where
// fail-fast is undesirable.
type CircuitBreakerConfig struct {
	Enabled  bool
	Cooldown time.Duration
}

// CircuitBreakerStatus is a snapshot for health and stats endpoints
type CircuitBreakerStatus struct {
	State           string    `json:"state"`
	Enabled         bool      `json:"enabled"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	CooldownSeconds float64   `json:"cooldown_seconds"`
}

// NewCircuitBreaker creates a breaker. A zero or negative cooldown
// falls back to the default.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerCooldown
	}
	return &CircuitBreaker{config: config}
}

// Allow reports whether a generation attempt may proceed. It returns
// true when the breaker is disabled, has never seen a failure, or the
// cooldown since the last failure has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.allowLocked(time.Now())
}

func (cb *CircuitBreaker) allowLocked(now time.Time) bool {
	if !cb.config.Enabled {
		return true
	}
	if cb.lastFailureTime.IsZero() {
		return true
	}
	return now.Sub(cb.lastFailureTime) >= cb.config.Cooldown
}

// RecordFailure opens the breaker by stamping the failure time. Called
// once per exhausted fallback chain, not per candidate.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureTime = time.Now()
}

// Reset clears the failure state, closing the breaker immediately.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureTime = time.Time{}
}

// State returns the current state. OPEN means generation attempts are
// being skipped right now.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.allowLocked(time.Now()) {
		return StateClosed
	}
	return StateOpen
}

// Status returns a snapshot of the breaker
func (cb *CircuitBreaker) Status() *CircuitBreakerStatus {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	state := StateClosed
	if !cb.allowLocked(time.Now()) {
		state = StateOpen
	}
	return &CircuitBreakerStatus{
		State:           string(state),
		Enabled:         cb.config.Enabled,
		LastFailureTime: cb.lastFailureTime,
		CooldownSeconds: cb.config.Cooldown.Seconds(),
	}
}
