// Package circuitbreaker guards calls to flaky upstreams (the LLM, the
// weather API) with closed, open and half-open states tracked per upstream.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute while the circuit rejects calls.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one trial call allowed
)

// String returns the state name.
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

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krishiconnect",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by upstream, from-state, and to-state.",
}, []string{"upstream", "from_state", "to_state"})

var rejectedCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krishiconnect",
	Subsystem: "circuitbreaker",
	Name:      "rejected_total",
	Help:      "Calls rejected while a circuit was open.",
}, []string{"upstream"})

func init() {
	prometheus.MustRegister(stateTransitions, rejectedCalls)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker trips an upstream open after threshold consecutive failures and
// keeps it open for openDuration before letting a single trial call through.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(upstream string, from, to State)
}

// New creates a breaker. Non-positive arguments fall back to 5 failures and 30s.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(upstream string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Execute runs fn when the circuit allows it and records the outcome.
func (b *Breaker) Execute(upstream string, fn func() error) error {
	if !b.Allow(upstream) {
		rejectedCalls.WithLabelValues(upstream).Inc()
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(upstream)
		return err
	}
	b.RecordSuccess(upstream)
	return nil
}

// Allow reports whether a call to upstream may proceed. An open circuit whose
// cool-down has elapsed moves to half-open and admits one trial call.
func (b *Breaker) Allow(upstream string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if b.now().Sub(c.lastFailure) >= b.openDuration {
			b.transition(c, upstream, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(upstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.transition(c, upstream, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failure, tripping the circuit at the threshold.
// A failed trial call reopens immediately.
func (b *Breaker) RecordFailure(upstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[upstream] = c
	}

	c.failures++
	c.lastFailure = b.now()

	if c.state == StateHalfOpen {
		b.transition(c, upstream, StateOpen)
		return
	}
	if c.state == StateClosed && c.failures >= b.threshold {
		b.transition(c, upstream, StateOpen)
	}
}

// State returns the current state for upstream. Unknown upstreams are closed.
func (b *Breaker) State(upstream string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[upstream]
	if !ok {
		return StateClosed
	}
	return c.state
}

// caller holds b.mu
func (b *Breaker) transition(c *circuit, upstream string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	stateTransitions.WithLabelValues(upstream, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(upstream, from, to)
	}
}
