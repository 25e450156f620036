package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker(BreakerOpts{Name: "test", FailThreshold: threshold, Cooldown: time.Second}, nil)
	b.now = func() time.Time { return now }
	return b, &now
}

// call runs a func returning err through b.
func call(ctx context.Context, b *Breaker, err error) error {
	_, got := Do(ctx, b, func(context.Context) (struct{}, error) { return struct{}{}, err })
	return got
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)
	ctx := context.Background()
	fail := errors.New("fail")

	for range 3 {
		_ = call(ctx, b, fail)
	}
	require.Equal(t, StateOpen, b.State())

	called := false
	_, err := Do(ctx, b, func(context.Context) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "an open breaker must not call through")
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b, _ := newTestBreaker(3)
	ctx := context.Background()
	fail := errors.New("fail")

	_ = call(ctx, b, fail)
	_ = call(ctx, b, fail)
	_ = call(ctx, b, nil)
	_ = call(ctx, b, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(1)
	ctx := context.Background()
	_ = call(ctx, b, errors.New("down"))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(2 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, call(ctx, b, nil))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1)
	ctx := context.Background()
	_ = call(ctx, b, errors.New("down"))
	*now = now.Add(2 * time.Second)
	_ = call(ctx, b, errors.New("still down"))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(1)
	_ = call(context.Background(), b, context.Canceled)
	assert.Equal(t, StateClosed, b.State(), "cancellation must not trip the breaker")
}

func TestDo(t *testing.T) {
	b, _ := newTestBreaker(1)
	ctx := context.Background()
	v, err := Do(ctx, b, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, _ = Do(ctx, b, func(context.Context) (int, error) { return 0, errors.New("x") })
	_, err = Do(ctx, b, func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		assert.Equal(t, want, s.String())
	}
}
