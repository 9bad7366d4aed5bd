package breaker

import (
	"sync"
	"time"

	"github.com/proxyfleet/dispatcher/internal/core/domain"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenMaxCalls = 1
	DefaultSuccessThreshold = 1
)

// Config mirrors domain BreakerConfig; kept separate so the adapter package
// doesn't need to import internal/config.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	SuccessThreshold int

	// OnTransition, if set, is invoked every time a node's circuit changes
	// state, after the internal lock has been released. Used to publish
	// lifecycle events for external reconciliation/observability.
	OnTransition func(nodeID int, from, to domain.CircuitState)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	return c
}

type circuitEntry struct {
	state          domain.CircuitState
	failures       int
	successes      int
	lastFailure    time.Time
	lastTransition time.Time
	halfOpenCalls  int
}

// CircuitBreaker tracks per-node health behind a single mutex over the
// whole node_id -> entry map, exactly as the reference implementation does
// — simplicity here matters more than per-key parallelism since fan-out
// rounds touch at most a handful of nodes at a time.
type CircuitBreaker struct {
	cfg Config

	mu       sync.Mutex
	circuits map[int]*circuitEntry
}

// New creates a breaker with the given config, defaulting zero fields to
// the reference implementation's values (3 failures, 30s recovery, 1
// half-open probe, 1 success to close).
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:      cfg.withDefaults(),
		circuits: make(map[int]*circuitEntry),
	}
}

func (b *CircuitBreaker) entry(nodeID int) *circuitEntry {
	e, ok := b.circuits[nodeID]
	if !ok {
		e = &circuitEntry{state: domain.CircuitClosed, lastTransition: time.Now()}
		b.circuits[nodeID] = e
	}
	return e
}

// IsAllowed reports whether a call to nodeID should proceed right now. A
// CLOSED circuit always allows; an OPEN circuit allows exactly once per
// recovery window (transitioning to HALF_OPEN to admit the probe); a
// HALF_OPEN circuit allows up to half_open_max_calls concurrent probes.
func (b *CircuitBreaker) IsAllowed(nodeID int) bool {
	b.mu.Lock()

	e := b.entry(nodeID)
	from := e.state
	allowed := false

	switch e.state {
	case domain.CircuitClosed:
		allowed = true
	case domain.CircuitOpen:
		if time.Since(e.lastFailure) >= b.cfg.RecoveryTimeout {
			e.state = domain.CircuitHalfOpen
			e.lastTransition = time.Now()
			e.successes = 0
			e.halfOpenCalls = 1
			allowed = true
		}
	case domain.CircuitHalfOpen:
		if e.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			e.halfOpenCalls++
			allowed = true
		}
	}

	to := e.state
	b.mu.Unlock()

	b.notify(nodeID, from, to)
	return allowed
}

// RecordSuccess records a successful call against nodeID.
func (b *CircuitBreaker) RecordSuccess(nodeID int) {
	b.mu.Lock()

	e := b.entry(nodeID)
	from := e.state

	switch e.state {
	case domain.CircuitHalfOpen:
		e.successes++
		if e.successes >= b.cfg.SuccessThreshold {
			e.state = domain.CircuitClosed
			e.lastTransition = time.Now()
			e.failures = 0
			e.successes = 0
			e.halfOpenCalls = 0
		}
	case domain.CircuitClosed:
		e.failures = 0
	case domain.CircuitOpen:
		// ignore; a success can only arrive here from a stale in-flight call
	}

	to := e.state
	b.mu.Unlock()

	b.notify(nodeID, from, to)
}

// RecordFailure records a failed call against nodeID.
func (b *CircuitBreaker) RecordFailure(nodeID int) {
	b.mu.Lock()

	e := b.entry(nodeID)
	from := e.state
	e.lastFailure = time.Now()

	switch e.state {
	case domain.CircuitHalfOpen:
		e.state = domain.CircuitOpen
		e.lastTransition = time.Now()
		e.halfOpenCalls = 0
	case domain.CircuitClosed:
		e.failures++
		if e.failures >= b.cfg.FailureThreshold {
			e.state = domain.CircuitOpen
			e.lastTransition = time.Now()
		}
	case domain.CircuitOpen:
		e.lastTransition = time.Now()
	}

	to := e.state
	b.mu.Unlock()

	b.notify(nodeID, from, to)
}

func (b *CircuitBreaker) notify(nodeID int, from, to domain.CircuitState) {
	if from == to || b.cfg.OnTransition == nil {
		return
	}
	b.cfg.OnTransition(nodeID, from, to)
}

// Reset wipes nodeID's stats, returning it to CLOSED. Used on reconnect.
func (b *CircuitBreaker) Reset(nodeID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, nodeID)
}

// ResetAll wipes every node's stats.
func (b *CircuitBreaker) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits = make(map[int]*circuitEntry)
}

// Stats returns a point-in-time snapshot for nodeID. It does not create an
// entry as a side effect.
func (b *CircuitBreaker) Stats(nodeID int) domain.CircuitStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.circuits[nodeID]
	if !ok {
		return domain.CircuitStats{NodeID: nodeID, State: domain.CircuitClosed}
	}
	return domain.CircuitStats{
		NodeID:           nodeID,
		State:            e.state,
		Failures:         e.failures,
		Successes:        e.successes,
		LastFailureAt:    e.lastFailure,
		LastTransitionAt: e.lastTransition,
		HalfOpenCalls:    e.halfOpenCalls,
	}
}

// OpenNodes returns the ids of every node currently OPEN, for getStats().
func (b *CircuitBreaker) OpenNodes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var open []int
	for id, e := range b.circuits {
		if e.state == domain.CircuitOpen {
			open = append(open, id)
		}
	}
	return open
}
