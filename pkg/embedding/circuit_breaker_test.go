package embedding

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, Cooldown: time.Second})

	assert.NotNil(t, cb)
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerDefaultCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true})
	assert.Equal(t, DefaultBreakerCooldown, cb.config.Cooldown)
}

func TestCircuitBreakerStates(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:  true,
		Cooldown: 100 * time.Millisecond,
	})

	t.Run("closed state allows requests", func(t *testing.T) {
		assert.True(t, cb.Allow())
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("opens on a single failure", func(t *testing.T) {
		cb.RecordFailure()
		assert.Equal(t, StateOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("closes after cooldown without a probe phase", func(t *testing.T) {
		time.Sleep(110 * time.Millisecond)
		assert.True(t, cb.Allow())
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("reopens on the next failure", func(t *testing.T) {
		cb.RecordFailure()
		assert.False(t, cb.Allow())
	})

	t.Run("reset closes immediately", func(t *testing.T) {
		cb.Reset()
		assert.True(t, cb.Allow())
		assert.Equal(t, StateClosed, cb.State())
	})
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: false, Cooldown: time.Hour})

	cb.RecordFailure()
	assert.True(t, cb.Allow(), "disabled breaker never blocks")
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerCooldownBoundary(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:  true,
		Cooldown: 50 * time.Millisecond,
	})

	cb.RecordFailure()
	assert.False(t, cb.Allow())

	// Still inside the window
	time.Sleep(25 * time.Millisecond)
	assert.False(t, cb.Allow())

	// Past the window
	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerStatus(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, Cooldown: time.Minute})

	status := cb.Status()
	require.NotNil(t, status)
	assert.Equal(t, string(StateClosed), status.State)
	assert.True(t, status.Enabled)
	assert.Zero(t, status.LastFailureTime)
	assert.Equal(t, 60.0, status.CooldownSeconds)

	cb.RecordFailure()
	status = cb.Status()
	assert.Equal(t, string(StateOpen), status.State)
	assert.NotZero(t, status.LastFailureTime)
}

func TestCircuitBreakerConcurrency(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, Cooldown: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				cb.RecordFailure()
			} else {
				cb.Allow()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StateOpen, cb.State())
}

// Benchmark tests
func BenchmarkCircuitBreakerAllow(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, Cooldown: time.Second})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Allow()
	}
}

func BenchmarkCircuitBreakerRecordFailure(b *testing.B) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, Cooldown: time.Second})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.RecordFailure()
	}
}
