package health

import (
	"sync"

	"github.com/rs/zerolog"
)

// Tracker owns one CircuitBreaker per target, created lazily on first
// reference. It is safe for concurrent use; the proxy handler, the
// guard backends, and the recovery checker all share one Tracker.
type Tracker struct {
	circuits map[string]*CircuitBreaker
	logger   *zerolog.Logger
	config   CircuitBreakerConfig
	mu       sync.RWMutex
}

// NewTracker creates an empty Tracker. Circuits appear as targets are
// first touched.
func NewTracker(cfg CircuitBreakerConfig, logger *zerolog.Logger) *Tracker {
	return &Tracker{
		circuits: make(map[string]*CircuitBreaker),
		config:   cfg,
		logger:   logger,
	}
}

// GetOrCreateCircuit returns the target's breaker, creating it under the
// write lock on first use. The read-lock fast path covers the common
// case of an existing circuit.
func (t *Tracker) GetOrCreateCircuit(target string) *CircuitBreaker {
	t.mu.RLock()
	cb, ok := t.circuits[target]
	t.mu.RUnlock()
	if ok {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another goroutine may have created it between the locks.
	if cb, ok = t.circuits[target]; ok {
		return cb
	}

	cb = NewCircuitBreaker(target, t.config, t.logger)
	t.circuits[target] = cb

	if t.logger != nil {
		t.logger.Debug().
			Str("target", target).
			Msg("created circuit breaker")
	}
	return cb
}

// IsHealthyFunc returns a closure reporting whether the target should
// receive traffic. CLOSED and HALF-OPEN both count as healthy; HALF-OPEN
// must, or recovery probes could never get through. Only OPEN is
// unhealthy.
func (t *Tracker) IsHealthyFunc(target string) func() bool {
	return func() bool {
		return t.GetOrCreateCircuit(target).State() != StateOpen
	}
}

// GetState returns the target's circuit state without creating a
// circuit. Unknown targets read as CLOSED.
func (t *Tracker) GetState(target string) State {
	t.mu.RLock()
	cb, ok := t.circuits[target]
	t.mu.RUnlock()

	if !ok {
		return StateClosed
	}
	return cb.State()
}

// RecordSuccess feeds a successful operation into the target's breaker.
func (t *Tracker) RecordSuccess(target string) {
	cb := t.GetOrCreateCircuit(target)
	cb.ReportSuccess()

	if t.logger != nil {
		t.logger.Debug().
			Str("target", target).
			Str("state", cb.State().String()).
			Msg("recorded success")
	}
}

// RecordFailure feeds a failed operation into the target's breaker.
func (t *Tracker) RecordFailure(target string, err error) {
	cb := t.GetOrCreateCircuit(target)
	cb.ReportFailure(err)

	if t.logger != nil {
		t.logger.Debug().
			Str("target", target).
			Str("state", cb.State().String()).
			Err(err).
			Msg("recorded failure")
	}
}

// Reset swaps in a new breaker configuration and discards every
// circuit. Holders of the Tracker pointer stay valid; circuits rebuild
// on demand with the new settings. Called on config hot reload.
func (t *Tracker) Reset(cfg CircuitBreakerConfig, logger *zerolog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.config = cfg
	if logger != nil {
		t.logger = logger
	}
	t.circuits = make(map[string]*CircuitBreaker)
}

// AllStates snapshots every target's circuit state for the status
// endpoint.
func (t *Tracker) AllStates() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]State, len(t.circuits))
	for name, cb := range t.circuits {
		states[name] = cb.State()
	}
	return states
}
