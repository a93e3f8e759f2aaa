// Package resilience provides failure isolation for backend dispatch.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed allows all calls through (normal operation).
	StateClosed State = iota

	// StateOpen rejects all calls until the backoff window elapses.
	StateOpen

	// StateHalfOpen allows a single probing call through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit is open and rejecting calls.
// Callers must treat it as a routing condition, not an operation failure.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 3
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open
	// state before closing the circuit.
	// Default: 1
	SuccessThreshold int

	// InitialBackoff is the backoff window before the first recovery probe.
	// Default: 5 seconds
	InitialBackoff time.Duration

	// BackoffMultiplier grows the window on every transition to open.
	// Default: 2
	BackoffMultiplier float64

	// MaxBackoff caps the backoff window.
	// Default: 2 minutes
	MaxBackoff time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  3,
		SuccessThreshold:  1,
		InitialBackoff:    5 * time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 5 * time.Second
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 2
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Breaker is a per-resource failure isolator. The lock protects only the
// in-memory bookkeeping; wrapped operations run outside it.
type Breaker struct {
	name   string
	config Config

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureTime      time.Time
	currentBackoff       time.Duration
	halfOpenInFlight     bool

	now func() time.Time
}

// NewBreaker creates a breaker for the named resource.
func NewBreaker(name string, config Config) *Breaker {
	config = config.withDefaults()
	return &Breaker{
		name:           name,
		config:         config,
		state:          StateClosed,
		currentBackoff: config.InitialBackoff,
		now:            time.Now,
	}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen when
// the breaker rejects the call. Every allowed call must be followed by
// exactly one Mark.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.currentBackoff {
			b.transitionTo(StateHalfOpen)
			b.consecutiveSuccesses = 0
			b.halfOpenInFlight = true
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		// One probe at a time while testing recovery.
		if b.halfOpenInFlight {
			return ErrCircuitOpen
		}
		b.halfOpenInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

// Mark records a call outcome. Pass nil for success.
func (b *Breaker) Mark(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

// Release abandons an allowed call without recording an outcome. Used
// when admission fails after Allow, e.g. a drained rate limit bucket.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.halfOpenInFlight = false
	}
}

// Call executes fn under the breaker. The operation's own error
// propagates after bookkeeping; a rejected call returns ErrCircuitOpen
// without invoking fn.
func (b *Breaker) Call(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Mark(err)
	return err
}

// State returns the current state, applying the open→half_open transition
// if the backoff window has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFailureTime) >= b.currentBackoff {
		b.transitionTo(StateHalfOpen)
		b.consecutiveSuccesses = 0
	}
	return b.state
}

// Snapshot returns the breaker's current bookkeeping.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                 b.name,
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailureTime:      b.lastFailureTime,
		CurrentBackoff:       b.currentBackoff,
	}
}

// Snapshot captures breaker bookkeeping at one call boundary.
type Snapshot struct {
	Name                 string
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailureTime      time.Time
	CurrentBackoff       time.Duration
}

func (b *Breaker) onSuccess() {
	b.consecutiveFailures = 0

	switch b.state {
	case StateHalfOpen:
		b.consecutiveSuccesses++
		b.halfOpenInFlight = false
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
			b.consecutiveSuccesses = 0
			b.currentBackoff = b.config.InitialBackoff
		}
	}
}

func (b *Breaker) onFailure() {
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.open()
		}
	case StateHalfOpen:
		b.halfOpenInFlight = false
		b.open()
	}
}

// open transitions to StateOpen and grows the backoff window.
// Must be called with the lock held.
func (b *Breaker) open() {
	next := time.Duration(float64(b.currentBackoff) * b.config.BackoffMultiplier)
	if next > b.config.MaxBackoff {
		next = b.config.MaxBackoff
	}
	b.currentBackoff = next
	b.transitionTo(StateOpen)
}

// transitionTo changes state. Must be called with the lock held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		// Notify without holding the caller up.
		go b.config.OnStateChange(b.name, oldState, newState)
	}
}

// Registry manages breakers keyed by resource name. Breakers for
// different resources never contend with each other.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a registry with the given default config.
func NewRegistry(config Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   config.withDefaults(),
	}
}

// Get returns the breaker for a resource name, creating one if necessary.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	if b, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.config)
	r.breakers[name] = b
	return b
}

// Snapshots returns bookkeeping for every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
