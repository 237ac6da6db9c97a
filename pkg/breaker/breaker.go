// Package breaker implements the per-provider circuit breaker guarding
// against hammering a provider that is persistently failing. A breaker is
// Closed in normal operation, Open while rejecting calls, and HalfOpen when
// a single trial call is permitted to test recovery.
package breaker

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State identifies the circuit breaker state
type State int

const (
	// StateClosed indicates normal operation
	StateClosed State = iota
	// StateOpen indicates the breaker is rejecting calls
	StateOpen
	// StateHalfOpen indicates a single trial call is permitted
	StateHalfOpen
)

// String returns the lowercase state name
func (s State) String() string {
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

// Config controls the breaker's state transitions
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open.
	FailureThreshold int

	// OpenDuration is how long the breaker rejects calls before allowing
	// a HalfOpen trial.
	OpenDuration time.Duration
}

// DefaultConfig returns the default breaker thresholds
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenDuration:     60 * time.Second,
	}
}

// Breaker is a circuit breaker for a single provider. All methods are safe
// for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	// probeInFlight gates the single HalfOpen trial: only the caller that
	// wins the compare-and-swap executes the real call, everyone else in
	// the same window is rejected as if the breaker were still Open.
	probeInFlight atomic.Bool
}

// New creates a circuit breaker for the named provider. Zero config fields
// fall back to defaults.
func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = def.OpenDuration
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
	}
}

// Allow reports whether a call may proceed. When probe is true the call is
// the single HalfOpen trial and the caller must settle it with
// RecordSuccess, RecordFailure, or CancelProbe.
func (b *Breaker) Allow() (ok bool, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.OpenDuration {
			return false, false
		}
		b.state = StateHalfOpen
		log.Printf("[CircuitBreaker] %s: open duration elapsed, entering half-open", b.name)
	}

	// HalfOpen: admit exactly one probe per window.
	if b.probeInFlight.CompareAndSwap(false, true) {
		return true, true
	}
	return false, false
}

// RecordSuccess records a successful call. A successful HalfOpen probe
// closes the breaker; in Closed state the consecutive-failure counter resets.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		log.Printf("[CircuitBreaker] %s: probe succeeded, closing circuit", b.name)
		b.state = StateClosed
		b.probeInFlight.Store(false)
	}
	b.failures = 0
}

// RecordFailure records a failed call. A failed HalfOpen probe re-opens the
// breaker with a fresh window; in Closed state the counter increments and
// trips the breaker once it reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		log.Printf("[CircuitBreaker] %s: probe failed, re-opening circuit for %v", b.name, b.cfg.OpenDuration)
		b.state = StateOpen
		b.openedAt = time.Now()
		b.probeInFlight.Store(false)
	case StateOpen:
		// Late results from calls admitted before the trip are ignored.
	default:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			log.Printf("[CircuitBreaker] %s: tripped after %d consecutive failures, open for %v",
				b.name, b.failures, b.cfg.OpenDuration)
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}

// CancelProbe releases the HalfOpen probe gate without recording an outcome.
// Used when a probe slot was acquired but no transport call was made, e.g.
// the credential pool had no eligible candidate.
func (b *Breaker) CancelProbe() {
	b.probeInFlight.Store(false)
}

// State returns the current state, applying the lazy Open to HalfOpen
// transition when the open window has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.OpenDuration {
		b.state = StateHalfOpen
	}
	return b.state
}

// Failures returns the current consecutive-failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
