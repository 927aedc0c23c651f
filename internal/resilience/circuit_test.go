package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(3, time.Minute)
	boom := func(ctx context.Context) error { return eris.New("proxy down") }

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(context.Background(), boom))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.True(t, eris.Is(err, ErrCircuitOpen))
}

func TestCircuitHalfOpenProbeCloses(t *testing.T) {
	t.Parallel()

	cb, now := newTestBreaker(1, time.Minute)
	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("boom")
	}))
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenProbeFailureReopens(t *testing.T) {
	t.Parallel()

	cb, now := newTestBreaker(1, time.Minute)
	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("boom")
	}))

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("still down")
	}))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(2, time.Minute)
	boom := func(ctx context.Context) error { return eris.New("flaky") }
	ok := func(ctx context.Context) error { return nil }

	require.Error(t, cb.Execute(context.Background(), boom))
	require.NoError(t, cb.Execute(context.Background(), ok))
	require.Error(t, cb.Execute(context.Background(), boom))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitShouldTripFilter(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})

	// Permanent errors pass through without tripping.
	require.Error(t, cb.Execute(context.Background(), func(ctx context.Context) error {
		return eris.New("404 not found")
	}))
	assert.Equal(t, CircuitClosed, cb.State())
}
