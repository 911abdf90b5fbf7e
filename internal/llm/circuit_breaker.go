package llm

import (
	"sync"
	"time"
)

// CircuitState is the breaker state for one model.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerConfig configures the per-model circuit breaker.
type BreakerConfig struct {
	// FailureThreshold opens the circuit after this many consecutive
	// failures inside FailureWindow.
	FailureThreshold int
	// FailureWindow bounds how far apart consecutive failures may be and
	// still count toward the threshold.
	FailureWindow time.Duration
	// Cooldown is how long the circuit stays open before a half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// BreakerListener is notified on state transitions.
type BreakerListener func(modelID string, oldState, newState CircuitState)

// maxBreakerListeners bounds listener registration.
const maxBreakerListeners = 32

// CircuitBreaker is the per-model breaker state machine. Transitions are
// atomic read-modify-write under the mutex. The half-open state admits a
// single in-flight probe; one success closes the circuit and resets the
// failure counter, any failure reopens it.
type CircuitBreaker struct {
	mu            sync.Mutex
	modelID       string
	config        BreakerConfig
	state         CircuitState
	failures      int
	lastFailure   time.Time
	openUntil     time.Time
	probeInFlight bool
	listeners     []BreakerListener
	now           func() time.Time
}

// NewCircuitBreaker creates a breaker for one model.
func NewCircuitBreaker(modelID string, config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		modelID: modelID,
		config:  config,
		state:   CircuitClosed,
		now:     time.Now,
	}
}

// AddListener registers a transition listener. Returns false when the
// listener table is full.
func (cb *CircuitBreaker) AddListener(l BreakerListener) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.listeners) >= maxBreakerListeners {
		return false
	}
	cb.listeners = append(cb.listeners, l)
	return true
}

// Allow reports whether a call may proceed. An open circuit whose cooldown
// has elapsed moves to half-open and admits the single probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Before(cb.openUntil) {
			return false
		}
		cb.transition(CircuitHalfOpen)
		cb.probeInFlight = true
		return true
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.failures = 0
		cb.transition(CircuitClosed)
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.lastFailure = now
		cb.open(now)
	case CircuitClosed:
		if cb.config.FailureWindow > 0 && !cb.lastFailure.IsZero() &&
			now.Sub(cb.lastFailure) > cb.config.FailureWindow {
			cb.failures = 0
		}
		cb.failures++
		cb.lastFailure = now
		if cb.failures >= cb.config.FailureThreshold {
			cb.open(now)
		}
	}
}

func (cb *CircuitBreaker) open(now time.Time) {
	cb.openUntil = now.Add(cb.config.Cooldown)
	cb.transition(CircuitOpen)
}

func (cb *CircuitBreaker) transition(newState CircuitState) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState

	listeners := make([]BreakerListener, len(cb.listeners))
	copy(listeners, cb.listeners)
	modelID := cb.modelID
	for _, l := range listeners {
		go l(modelID, oldState, newState)
	}
}

// State returns the current breaker state without triggering transitions.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether calls are currently rejected outright.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == CircuitOpen && cb.now().Before(cb.openUntil)
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// BreakerStats is a snapshot of one breaker.
type BreakerStats struct {
	ModelID     string       `json:"model_id"`
	State       CircuitState `json:"state"`
	Failures    int          `json:"failure_count"`
	LastFailure time.Time    `json:"last_failure_ts,omitempty"`
	OpenUntil   time.Time    `json:"open_until_ts,omitempty"`
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		ModelID:     cb.modelID,
		State:       cb.state,
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
		OpenUntil:   cb.openUntil,
	}
}

// ForceOpen opens the circuit immediately for the full cooldown. Intended
// for operational overrides and tests.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open(cb.now())
}

// BreakerSet holds one breaker per model ID.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
}

// NewBreakerSet creates a set using the given per-breaker config.
func NewBreakerSet(config BreakerConfig) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for a model, creating it on first use.
func (bs *BreakerSet) Get(modelID string) *CircuitBreaker {
	bs.mu.RLock()
	cb, ok := bs.breakers[modelID]
	bs.mu.RUnlock()
	if ok {
		return cb
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if cb, ok = bs.breakers[modelID]; ok {
		return cb
	}
	cb = NewCircuitBreaker(modelID, bs.config)
	bs.breakers[modelID] = cb
	return cb
}

// IsOpen reports whether the model's breaker currently rejects calls.
func (bs *BreakerSet) IsOpen(modelID string) bool {
	return bs.Get(modelID).IsOpen()
}

// AllStats returns snapshots for every registered breaker.
func (bs *BreakerSet) AllStats() map[string]BreakerStats {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	stats := make(map[string]BreakerStats, len(bs.breakers))
	for id, cb := range bs.breakers {
		stats[id] = cb.Stats()
	}
	return stats
}
