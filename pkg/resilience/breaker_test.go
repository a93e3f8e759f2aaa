package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

// fakeClock drives breaker time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := NewBreaker("test", cfg)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	b.now = clock.now
	return b, clock
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterExactlyThresholdFailures(t *testing.T) {
	for _, threshold := range []int{1, 3, 5} {
		b, _ := newTestBreaker(Config{FailureThreshold: threshold})

		for i := 0; i < threshold-1; i++ {
			err := b.Call(func() error { return errTest })
			assert.ErrorIs(t, err, errTest)
			assert.Equal(t, StateClosed, b.State(), "threshold %d, failure %d", threshold, i+1)
		}

		err := b.Call(func() error { return errTest })
		assert.ErrorIs(t, err, errTest)
		assert.Equal(t, StateOpen, b.State(), "threshold %d", threshold)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	require.Error(t, b.Call(func() error { return errTest }))
	require.Error(t, b.Call(func() error { return errTest }))
	require.NoError(t, b.Call(func() error { return nil }))

	// Two more failures must not open a threshold-3 breaker.
	require.Error(t, b.Call(func() error { return errTest }))
	require.Error(t, b.Call(func() error { return errTest }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenRejectsUntilBackoffElapses(t *testing.T) {
	cfg := Config{
		FailureThreshold:  2,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
	}
	b, clock := newTestBreaker(cfg)

	require.Error(t, b.Call(func() error { return errTest }))
	require.Error(t, b.Call(func() error { return errTest }))
	require.Equal(t, StateOpen, b.State())

	// Window is initial×multiplier after entering open.
	window := 2 * time.Second

	clock.advance(window - time.Millisecond)
	err := b.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	clock.advance(time.Millisecond)
	called := false
	require.NoError(t, b.Call(func() error { called = true; return nil }))
	assert.True(t, called, "probing call must run after the window")
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_RejectedCallDoesNotRunOperation(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})
	require.Error(t, b.Call(func() error { return errTest }))

	called := false
	err := b.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := Config{
		FailureThreshold:  1,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
	}
	b, clock := newTestBreaker(cfg)

	require.Error(t, b.Call(func() error { return errTest }))
	clock.advance(2 * time.Second)

	err := b.Call(func() error { return errTest })
	assert.ErrorIs(t, err, errTest)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenSuccessThresholdCloses(t *testing.T) {
	cfg := Config{
		FailureThreshold:  1,
		SuccessThreshold:  2,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
	}
	b, clock := newTestBreaker(cfg)

	require.Error(t, b.Call(func() error { return errTest }))
	clock.advance(2 * time.Second)

	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	cfg := Config{
		FailureThreshold:  1,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
	}
	b, clock := newTestBreaker(cfg)

	require.Error(t, b.Call(func() error { return errTest }))
	clock.advance(2 * time.Second)

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "second probe rejected while first in flight")
	b.Mark(nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ReleaseFreesHalfOpenProbe(t *testing.T) {
	cfg := Config{
		FailureThreshold:  1,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
	}
	b, clock := newTestBreaker(cfg)

	require.Error(t, b.Call(func() error { return errTest }))
	clock.advance(2 * time.Second)

	require.NoError(t, b.Allow())
	b.Release()

	// The abandoned probe counts neither success nor failure, and the
	// next caller may probe again.
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Allow())
	b.Mark(nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_BackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{
		FailureThreshold:  1,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Second,
	}
	b, clock := newTestBreaker(cfg)

	var backoffs []time.Duration
	for i := 0; i < 5; i++ {
		require.Error(t, b.Call(func() error { return errTest }))
		snap := b.Snapshot()
		require.Equal(t, StateOpen, snap.State)
		backoffs = append(backoffs, snap.CurrentBackoff)
		clock.advance(snap.CurrentBackoff)
	}

	for i := 1; i < len(backoffs); i++ {
		assert.GreaterOrEqual(t, backoffs[i], backoffs[i-1], "backoff must be non-decreasing")
		assert.LessOrEqual(t, backoffs[i], cfg.MaxBackoff, "backoff must be capped")
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
	}, backoffs)
}

func TestBreaker_MaxBackoffDefaultsAboveLargeInitial(t *testing.T) {
	b, clock := newTestBreaker(Config{
		FailureThreshold:  1,
		InitialBackoff:    5 * time.Minute,
		BackoffMultiplier: 2,
	})

	require.Error(t, b.Call(func() error { return errTest }))
	snap := b.Snapshot()
	require.Equal(t, StateOpen, snap.State)
	assert.GreaterOrEqual(t, snap.CurrentBackoff, 5*time.Minute,
		"window never shrinks below the configured initial backoff")

	// Just under the initial window the circuit must still reject.
	clock.advance(5*time.Minute - time.Millisecond)
	assert.ErrorIs(t, b.Call(func() error { return nil }), ErrCircuitOpen)
}

func TestBreaker_BackoffResetsOnClose(t *testing.T) {
	cfg := Config{
		FailureThreshold:  1,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Minute,
	}
	b, clock := newTestBreaker(cfg)

	require.Error(t, b.Call(func() error { return errTest }))
	clock.advance(2 * time.Second)
	require.NoError(t, b.Call(func() error { return nil }))
	require.Equal(t, StateClosed, b.State())

	assert.Equal(t, cfg.InitialBackoff, b.Snapshot().CurrentBackoff)
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	changes := make(chan State, 4)
	cfg := Config{
		FailureThreshold: 1,
		OnStateChange: func(name string, from, to State) {
			changes <- to
		},
	}
	b, _ := newTestBreaker(cfg)

	require.Error(t, b.Call(func() error { return errTest }))

	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("expected a state change notification")
	}
}

func TestRegistry_SeparateBreakersPerName(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1})

	a := reg.Get("tier:heavy")
	require.Error(t, a.Call(func() error { return errTest }))
	assert.Equal(t, StateOpen, a.State())

	other := reg.Get("tier:standard")
	assert.Equal(t, StateClosed, other.State())
	assert.Same(t, a, reg.Get("tier:heavy"))
}
