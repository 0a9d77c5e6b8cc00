package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit state of one protected service.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker is a per-service circuit breaker. Consecutive failures trip it
// open; after the recovery window one probe call is admitted (half-open)
// and its outcome closes or re-opens the circuit.
type Breaker struct {
	mu       sync.Mutex
	name     string
	trip     int
	recovery time.Duration
	now      func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
}

// Allow reports whether a call may proceed. When the circuit is open and
// the recovery window has elapsed, the breaker moves to half-open and
// admits the call as a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.recovery {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// Success records a successful call, closing the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// Failure records a failed call. A half-open probe failure re-opens the
// circuit immediately; in closed state the circuit trips once the
// consecutive failure count reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.trip {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the service name this breaker protects.
func (b *Breaker) Name() string {
	return b.name
}

// Registry owns the circuit breakers for all outbound services. Breakers
// are created lazily on first use and share the registry's thresholds.
type Registry struct {
	mu       sync.Mutex
	trip     int
	recovery time.Duration
	now      func() time.Time
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry.
func NewRegistry(failureThreshold int, recovery time.Duration) *Registry {
	return NewRegistryWithClock(failureThreshold, recovery, time.Now)
}

// NewRegistryWithClock creates a registry with an injectable clock for tests.
func NewRegistryWithClock(failureThreshold int, recovery time.Duration, now func() time.Time) *Registry {
	return &Registry{
		trip:     failureThreshold,
		recovery: recovery,
		now:      now,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a service, creating it if needed.
func (r *Registry) Get(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[service]
	if !ok {
		b = &Breaker{
			name:     service,
			trip:     r.trip,
			recovery: r.recovery,
			now:      r.now,
			state:    StateClosed,
		}
		r.breakers[service] = b
	}
	return b
}

// Snapshot returns the current state of every known breaker.
func (r *Registry) Snapshot() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
