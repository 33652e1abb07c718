// Package idle tracks whether the host is idle and tells subscribers when
// that changes.
package idle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is a host idle state as reported by the sampler.
type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
	StateLocked State = "locked"
)

// Idle reports whether the state suppresses accrual. Locked counts as idle.
func (s State) Idle() bool {
	return s == StateIdle || s == StateLocked
}

// ParseState validates a state name received from the outside.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateActive, StateIdle, StateLocked:
		return st, nil
	}
	return "", fmt.Errorf("unknown idle state %q", s)
}

// Sampler queries the host for its current idle state given a threshold.
type Sampler interface {
	QueryState(ctx context.Context, threshold time.Duration) (State, error)
}

// Listener is notified with the new idle value on every genuine transition.
type Listener func(ctx context.Context, idle bool) error

type subscription struct {
	id int
	fn Listener
}

// Monitor debounces idle samples into transitions.
type Monitor struct {
	log zerolog.Logger

	mu        sync.Mutex
	sampler   Sampler
	threshold time.Duration
	idle      bool
	closed    bool
	nextID    int
	listeners []subscription
}

// NewMonitor creates a Monitor that starts in the active state.
func NewMonitor(sampler Sampler, threshold time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		sampler:   sampler,
		threshold: threshold,
		log:       log,
	}
}

// IsIdle returns the last known idle value.
func (m *Monitor) IsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// Threshold returns the detection threshold used for the next sample.
func (m *Monitor) Threshold() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// SetThreshold changes the detection threshold. The current state is kept;
// only later samples see the new value.
func (m *Monitor) SetThreshold(d time.Duration) {
	m.mu.Lock()
	m.threshold = d
	m.mu.Unlock()
}

// Subscribe registers fn and returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}
	}

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.listeners {
			if sub.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Poll samples the host once. Listener errors are returned joined, after
// every listener has run.
func (m *Monitor) Poll(ctx context.Context) error {
	m.mu.Lock()
	sampler, threshold, closed := m.sampler, m.threshold, m.closed
	m.mu.Unlock()
	if closed || sampler == nil {
		return nil
	}

	state, err := sampler.QueryState(ctx, threshold)
	if err != nil {
		return fmt.Errorf("query idle state: %w", err)
	}
	return m.apply(ctx, state)
}

// Report feeds a state pushed by the host instead of sampled.
func (m *Monitor) Report(ctx context.Context, state State) error {
	return m.apply(ctx, state)
}

func (m *Monitor) apply(ctx context.Context, state State) error {
	idle := state.Idle()

	m.mu.Lock()
	if m.closed || idle == m.idle {
		m.mu.Unlock()
		return nil
	}
	m.idle = idle
	subs := append([]subscription(nil), m.listeners...)
	m.mu.Unlock()

	m.log.Debug().Str("state", string(state)).Bool("idle", idle).Msg("idle state changed")

	var errs []error
	for _, sub := range subs {
		if err := m.notify(ctx, sub, idle); err != nil {
			m.log.Error().Err(err).Int("listener", sub.id).Msg("idle listener failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) notify(ctx context.Context, sub subscription, idle bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("idle listener panic: %v", r)
		}
	}()
	return sub.fn(ctx, idle)
}

// Close detaches the sampler and drops all listeners. Later polls and
// reports do nothing.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	m.sampler = nil
	m.listeners = nil
	m.mu.Unlock()
}
