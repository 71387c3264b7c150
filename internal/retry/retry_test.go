package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	want := errors.New("persistent")
	calls := 0
	err := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return want
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "4 attempts")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	want := errors.New("gone")
	calls := 0
	err := Policy{MaxAttempts: 10, BaseDelay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return Permanent(want)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, want)
	assert.Equal(t, want.Error(), err.Error(), "permanent error should come back unwrapped")
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 10, BaseDelay: time.Hour}.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoTreatsZeroAttemptsAsOne(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 350*time.Millisecond, p.delay(3))
	assert.Equal(t, 350*time.Millisecond, p.delay(8))
}

func TestDelayJitterStaysInBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, Jitter: 0.3}
	for i := 0; i < 50; i++ {
		d := p.delay(1)
		assert.GreaterOrEqual(t, d, 70*time.Millisecond)
		assert.LessOrEqual(t, d, 130*time.Millisecond)
	}
}
