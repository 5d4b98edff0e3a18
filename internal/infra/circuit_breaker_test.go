package infra

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPrinter = errors.New("printer offline")

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      time.Minute,
	})
	cb.now = func() time.Time { return *now }
	return cb
}

func printFail() error { return errPrinter }
func printOK() error   { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(printFail), errPrinter)
	}
	assert.Equal(t, CBClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(printFail), errPrinter)
	assert.Equal(t, CBOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "fn must not run while open")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	_ = cb.Execute(printFail)
	_ = cb.Execute(printFail)
	require.NoError(t, cb.Execute(printOK))
	_ = cb.Execute(printFail)
	_ = cb.Execute(printFail)

	assert.Equal(t, CBClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenClosesAfterProbes(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(printFail)
	}

	now = now.Add(59 * time.Second)
	assert.Equal(t, CBOpen, cb.State())

	now = now.Add(time.Second)
	assert.Equal(t, CBHalfOpen, cb.State())

	require.NoError(t, cb.Execute(printOK))
	assert.Equal(t, CBHalfOpen, cb.State())
	require.NoError(t, cb.Execute(printOK))
	assert.Equal(t, CBClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(printFail)
	}
	now = now.Add(time.Minute)

	assert.ErrorIs(t, cb.Execute(printFail), errPrinter)
	assert.Equal(t, CBOpen, cb.State())

	// The open timer restarts from the failed probe.
	now = now.Add(30 * time.Second)
	assert.Equal(t, CBOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLetsOneProbeThrough(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(printFail)
	}
	now = now.Add(time.Minute)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()

	<-inProbe
	assert.ErrorIs(t, cb.Execute(printOK), ErrCircuitOpen)
	close(release)
	wg.Wait()
}

func TestNewCircuitBreaker_AppliesDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	def := DefaultCBConfig()

	assert.Equal(t, def, cb.cfg)
	assert.Equal(t, "closed", cb.State().String())
}
