package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("database is locked")

func noSleep(context.Context, time.Duration) error { return nil }

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := DoWithSleeper(context.Background(), Policy{MaxAttempts: 5}, nil, noSleep, func(int) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedWrapsLastError(t *testing.T) {
	calls := 0
	err := DoWithSleeper(context.Background(), Policy{MaxAttempts: 4}, nil, noSleep, func(int) error {
		calls++
		return errBusy
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 4, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("constraint failed")
	calls := 0
	err := DoWithSleeper(context.Background(), Policy{MaxAttempts: 5},
		func(err error) bool { return errors.Is(err, errBusy) }, noSleep,
		func(int) error {
			calls++
			return permanent
		})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Second}, nil, func(int) error { return errBusy })
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errBusy)
}

func TestPolicy_BackoffIsExponentialAndCapped(t *testing.T) {
	p := Policy{MaxAttempts: 6, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 40*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(4))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(10))
}
