package idle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/clock"
)

type stubSampler struct {
	state      State
	err        error
	thresholds []time.Duration
}

func (s *stubSampler) QueryState(_ context.Context, threshold time.Duration) (State, error) {
	s.thresholds = append(s.thresholds, threshold)
	return s.state, s.err
}

func TestParseState(t *testing.T) {
	for _, name := range []string{"active", "idle", "locked"} {
		st, err := ParseState(name)
		require.NoError(t, err)
		assert.Equal(t, State(name), st)
	}
	_, err := ParseState("asleep")
	assert.Error(t, err)

	assert.False(t, StateActive.Idle())
	assert.True(t, StateIdle.Idle())
	assert.True(t, StateLocked.Idle())
}

func TestMonitor_NotifiesOnlyOnTransitions(t *testing.T) {
	ctx := context.Background()
	sampler := &stubSampler{state: StateActive}
	m := NewMonitor(sampler, time.Minute, zerolog.Nop())

	var got []bool
	m.Subscribe(func(_ context.Context, idle bool) error {
		got = append(got, idle)
		return nil
	})

	require.NoError(t, m.Poll(ctx)) // active -> active, no change
	sampler.state = StateIdle
	require.NoError(t, m.Poll(ctx))
	require.NoError(t, m.Poll(ctx))
	require.NoError(t, m.Report(ctx, StateLocked)) // still idle
	require.NoError(t, m.Report(ctx, StateActive))
	require.NoError(t, m.Report(ctx, StateActive))

	assert.Equal(t, []bool{true, false}, got)
	assert.False(t, m.IsIdle())
}

func TestMonitor_ThresholdAppliesToLaterSamples(t *testing.T) {
	ctx := context.Background()
	sampler := &stubSampler{state: StateActive}
	m := NewMonitor(sampler, time.Minute, zerolog.Nop())

	require.NoError(t, m.Poll(ctx))
	m.SetThreshold(2 * time.Minute)
	assert.Equal(t, 2*time.Minute, m.Threshold())
	assert.False(t, m.IsIdle(), "changing the threshold does not change the state")
	require.NoError(t, m.Poll(ctx))

	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, sampler.thresholds)
}

func TestMonitor_ListenerFailureIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(nil, time.Minute, zerolog.Nop())

	boom := errors.New("boom")
	var calls []string
	m.Subscribe(func(context.Context, bool) error {
		calls = append(calls, "first")
		return boom
	})
	m.Subscribe(func(context.Context, bool) error {
		calls = append(calls, "second")
		panic("listener exploded")
	})
	m.Subscribe(func(context.Context, bool) error {
		calls = append(calls, "third")
		return nil
	})

	err := m.Report(ctx, StateIdle)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "listener exploded")
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.True(t, m.IsIdle())
}

func TestMonitor_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(nil, time.Minute, zerolog.Nop())

	n := 0
	unsubscribe := m.Subscribe(func(context.Context, bool) error {
		n++
		return nil
	})
	require.NoError(t, m.Report(ctx, StateIdle))
	unsubscribe()
	require.NoError(t, m.Report(ctx, StateActive))
	assert.Equal(t, 1, n)
}

func TestMonitor_SamplerError(t *testing.T) {
	sampler := &stubSampler{err: errors.New("no idle api")}
	m := NewMonitor(sampler, time.Minute, zerolog.Nop())
	assert.Error(t, m.Poll(context.Background()))
	assert.False(t, m.IsIdle())
}

func TestMonitor_CloseDetaches(t *testing.T) {
	ctx := context.Background()
	sampler := &stubSampler{state: StateIdle}
	m := NewMonitor(sampler, time.Minute, zerolog.Nop())

	n := 0
	m.Subscribe(func(context.Context, bool) error {
		n++
		return nil
	})
	m.Close()

	require.NoError(t, m.Poll(ctx))
	require.NoError(t, m.Report(ctx, StateIdle))
	assert.Empty(t, sampler.thresholds, "sampler is not consulted after close")
	assert.Zero(t, n)

	m.Subscribe(func(context.Context, bool) error {
		n++
		return nil
	})
	require.NoError(t, m.Report(ctx, StateActive))
	assert.Zero(t, n)
}

func TestActivitySampler(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	a := NewActivitySampler(clk)

	st, err := a.QueryState(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st)

	clk.Advance(time.Minute)
	st, _ = a.QueryState(ctx, time.Minute)
	assert.Equal(t, StateIdle, st)

	a.Touch()
	st, _ = a.QueryState(ctx, time.Minute)
	assert.Equal(t, StateActive, st)
	assert.True(t, a.LastActivity().Equal(clk.Now()))

	a.Report(StateLocked)
	st, _ = a.QueryState(ctx, time.Hour)
	assert.Equal(t, StateLocked, st)

	a.Report(StateActive)
	assert.True(t, a.LastActivity().Equal(clk.Now()))
}

func TestActivitySampler_HostStateIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	a := NewActivitySampler(clk)

	a.Report(StateActive)
	clk.Advance(2 * time.Hour)
	st, err := a.QueryState(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st, "no input for hours, but the host still says active")

	a.Touch()
	a.Report(StateIdle)
	st, _ = a.QueryState(ctx, time.Minute)
	assert.Equal(t, StateIdle, st, "the timer does not override a host idle report")

	a.Touch()
	st, _ = a.QueryState(ctx, time.Minute)
	assert.Equal(t, StateActive, st, "input ends a reported idle state")
	clk.Advance(time.Hour)
	st, _ = a.QueryState(ctx, time.Minute)
	assert.Equal(t, StateActive, st)

	a.Report(StateLocked)
	a.Touch()
	st, _ = a.QueryState(ctx, time.Minute)
	assert.Equal(t, StateLocked, st)
}
