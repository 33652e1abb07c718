package idle

import (
	"context"
	"sync"
	"time"

	"github.com/runnerr0/dwell/internal/clock"
)

// ActivitySampler infers idleness from forwarded input activity: the host
// is idle once no activity has been seen for the threshold. Once the host
// reports its own idle state, that state is returned until the next report
// and the activity timer is no longer consulted. Input ends a reported
// idle state, but not a lock.
type ActivitySampler struct {
	clock clock.Clock

	mu   sync.Mutex
	last time.Time
	host State
}

// NewActivitySampler creates a sampler that treats its creation as activity.
func NewActivitySampler(clk clock.Clock) *ActivitySampler {
	return &ActivitySampler{clock: clk, last: clk.Now()}
}

// Touch records user input at the current time.
func (a *ActivitySampler) Touch() {
	a.mu.Lock()
	a.last = a.clock.Now()
	if a.host == StateIdle {
		a.host = StateActive
	}
	a.mu.Unlock()
}

// Report records a state pushed by the host. It overrides the activity
// timer from now on.
func (a *ActivitySampler) Report(st State) {
	a.mu.Lock()
	a.host = st
	if st == StateActive {
		a.last = a.clock.Now()
	}
	a.mu.Unlock()
}

// LastActivity returns when input was last seen.
func (a *ActivitySampler) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// QueryState implements Sampler.
func (a *ActivitySampler) QueryState(_ context.Context, threshold time.Duration) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.host != "" {
		return a.host, nil
	}
	if a.clock.Now().Sub(a.last) >= threshold {
		return StateIdle, nil
	}
	return StateActive, nil
}
