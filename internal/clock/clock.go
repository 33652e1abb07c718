// Package clock provides the wall-time source used by every accounting
// component. Tests drive time explicitly through Manual.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current wall time.
type Clock interface {
	Now() time.Time
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Millis converts t to Unix milliseconds, the storage representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds back to a time.Time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
