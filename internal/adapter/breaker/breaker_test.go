package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
)

func TestBreaker_MonotonicityClosedToOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second})

	assert.True(t, b.IsAllowed(7))
	b.RecordFailure(7)
	b.RecordFailure(7)
	assert.Equal(t, domain.CircuitClosed, b.Stats(7).State)

	b.RecordFailure(7)
	assert.Equal(t, domain.CircuitOpen, b.Stats(7).State)
	assert.False(t, b.IsAllowed(7))
}

func TestBreaker_SuccessFromClosedResetsFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3})

	b.RecordFailure(1)
	b.RecordFailure(1)
	require.Equal(t, 2, b.Stats(1).Failures)

	b.RecordSuccess(1)
	assert.Equal(t, 0, b.Stats(1).Failures)
	assert.Equal(t, domain.CircuitClosed, b.Stats(1).State)
}

func TestBreaker_RecoveryAllowsSingleProbePerWindow(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})

	b.RecordFailure(2)
	require.Equal(t, domain.CircuitOpen, b.Stats(2).State)
	assert.False(t, b.IsAllowed(2))

	time.Sleep(15 * time.Millisecond)

	assert.True(t, b.IsAllowed(2), "exactly one probe should be let through after the recovery window")
	assert.Equal(t, domain.CircuitHalfOpen, b.Stats(2).State)
	assert.False(t, b.IsAllowed(2), "a second concurrent call must not get another half-open slot")
}

func TestBreaker_HalfOpenClosesOnlyAfterSuccessThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 1 * time.Millisecond, SuccessThreshold: 2})

	b.RecordFailure(3)
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.IsAllowed(3))
	require.Equal(t, domain.CircuitHalfOpen, b.Stats(3).State)

	b.RecordSuccess(3)
	assert.Equal(t, domain.CircuitHalfOpen, b.Stats(3).State, "one success shouldn't close when threshold is 2")

	b.RecordSuccess(3)
	assert.Equal(t, domain.CircuitClosed, b.Stats(3).State)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, RecoveryTimeout: 1 * time.Millisecond})

	b.RecordFailure(4)
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.IsAllowed(4))
	require.Equal(t, domain.CircuitHalfOpen, b.Stats(4).State)

	b.RecordFailure(4)
	assert.Equal(t, domain.CircuitOpen, b.Stats(4).State)
}

func TestBreaker_ResetClearsState(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	b.RecordFailure(5)
	require.Equal(t, domain.CircuitOpen, b.Stats(5).State)

	b.Reset(5)
	assert.Equal(t, domain.CircuitClosed, b.Stats(5).State)
}

func TestBreaker_ResetAllClearsEveryNode(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	b.RecordFailure(1)
	b.RecordFailure(2)
	require.Len(t, b.OpenNodes(), 2)

	b.ResetAll()
	assert.Empty(t, b.OpenNodes())
}

func TestBreaker_OpenNodesOnlyListsOpenCircuits(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	b.RecordFailure(1)
	b.IsAllowed(2) // just queries, stays closed

	open := b.OpenNodes()
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0])
}

func TestBreaker_OnTransitionFiresOnEveryStateChangeOnly(t *testing.T) {
	var transitions []domain.CircuitState
	b := New(Config{
		FailureThreshold: 2,
		OnTransition: func(nodeID int, from, to domain.CircuitState) {
			transitions = append(transitions, to)
		},
	})

	b.IsAllowed(1) // closed -> closed, no transition
	b.RecordFailure(1)
	b.RecordFailure(1) // closed -> open

	require.Len(t, transitions, 1)
	assert.Equal(t, domain.CircuitOpen, transitions[0])
}

func TestBreaker_ConcurrentAccessIsRaceFree(t *testing.T) {
	b := New(Config{FailureThreshold: 3, RecoveryTimeout: time.Millisecond})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			for j := 0; j < 200; j++ {
				if b.IsAllowed(n % 4) {
					if j%2 == 0 {
						b.RecordFailure(n % 4)
					} else {
						b.RecordSuccess(n % 4)
					}
				}
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
