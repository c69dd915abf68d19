package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *time.Time) {
	t.Helper()
	b := New(cfg, zerolog.Nop())
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func TestExecutePassesThroughWhileClosed(t *testing.T) {
	b, _ := newTestBreaker(t, Config{})

	err := b.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())

	err = b.Execute(func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 3})

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 3})

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Error(t, b.Execute(func() error { return errBoom }))

	assert.Equal(t, StateClosed, b.State(), "interleaved success must restart the failure count")
}

func TestOpenFailsFastWithoutInvoking(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: time.Minute})

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(func() error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked)
}

func TestHalfOpenProbeAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	*clock = clock.Add(61 * time.Second)

	// First probe succeeds but one success is not enough to close.
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, Timeout: time.Minute})

	require.Error(t, b.Execute(func() error { return errBoom }))
	*clock = clock.Add(2 * time.Minute)

	err := b.Execute(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Still within the new cool-down: fail fast again.
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrOpen)
}

func TestHalfOpenFailureAfterSuccessfulProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: time.Minute})

	for i := 0; i < 5; i++ {
		require.Error(t, b.Execute(func() error { return errBoom }))
	}
	require.Equal(t, StateOpen, b.State())

	*clock = clock.Add(61 * time.Second)

	// One successful probe: still half-open, failure count back to zero.
	require.NoError(t, b.Execute(func() error { return nil }))
	require.Equal(t, StateHalfOpen, b.State())

	// A single failure while half-open reopens regardless of the threshold.
	require.Error(t, b.Execute(func() error { return errBoom }))
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrOpen)
}

func TestReset(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 1})

	require.Error(t, b.Execute(func() error { return errBoom }))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(func() error { return nil }))
}
