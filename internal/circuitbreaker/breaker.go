// Package circuitbreaker guards calls to external adapters. Each key trips
// open after a run of consecutive failures and lets a single trial call through
// once the cool-down has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// ErrOpen is returned by Do when the circuit for a key is not accepting calls.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State is the position of one key's circuit.
type State int

const (
	StateClosed State = iota
	StateOpen
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

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks circuits per key.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	coolDown  time.Duration
	now       func() time.Time
	onChange  func(key string, from, to State)
}

// New returns a breaker that opens after threshold consecutive failures and
// tries again after coolDown. Zero values default to 5 and 30s.
func New(threshold int, coolDown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	if now != nil {
		b.now = now
	}
	return b
}

// OnTransition registers a callback fired synchronously, outside the lock,
// whenever a key changes state.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a call for key may proceed. An open circuit whose
// cool-down has elapsed moves to half-open and admits exactly one trial call.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.coolDown {
			b.mu.Unlock()
			return false
		}
		fire := b.move(c, key, StateHalfOpen)
		b.mu.Unlock()
		fire()
		return true
	case StateHalfOpen:
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()
	return true
}

// RecordSuccess clears the failure run and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	c.failures = 0
	fire := b.move(c, key, StateClosed)
	b.mu.Unlock()
	fire()
}

// RecordFailure extends the failure run. A failed trial call reopens the
// circuit immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++
	fire := func() {}
	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.threshold) {
		c.openedAt = b.now()
		fire = b.move(c, key, StateOpen)
	}
	b.mu.Unlock()
	fire()
}

// State returns the state for key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Do runs fn when the circuit allows it and records the outcome.
func (b *Breaker) Do(key string, fn func() error) error {
	if !b.Allow(key) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(key)
		return err
	}
	b.RecordSuccess(key)
	return nil
}

// move changes state under b.mu and returns the notification to run after
// the lock is released.
func (b *Breaker) move(c *circuit, key string, to State) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	metrics.BreakerTransitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
	fn := b.onChange
	return func() {
		if fn != nil {
			fn(key, from, to)
		}
	}
}
