package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{MaxAttempts: attempts, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastBackoff(3), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: 503, Endpoint: "hook"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastBackoff(5), "test", func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 400, Endpoint: "hook"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastBackoff(3), "test", func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 502, Endpoint: "hook"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastBackoff(5), "test", func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 503, Endpoint: "hook"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0, 0)
	assert.Equal(t, DefaultBackoff(), b)

	b = NewBackoff(5, 100, 2000)
	assert.Equal(t, 5, b.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, b.Initial)
	assert.Equal(t, 2*time.Second, b.Max)
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, b.delay(0))
	assert.Equal(t, 2*time.Second, b.delay(1))
	assert.Equal(t, 3*time.Second, b.delay(5))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&StatusError{StatusCode: 429}))
	assert.False(t, IsTransient(&StatusError{StatusCode: 404}))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(ErrOpen))
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("hook", 2, time.Minute)
	b.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("down") }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	assert.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, Closed, b.State())
	assert.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, Open, b.State())

	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, HalfOpen, b.State())

	// A failed trial call reopens.
	assert.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, Open, b.State())

	now = now.Add(time.Minute)
	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, Closed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
