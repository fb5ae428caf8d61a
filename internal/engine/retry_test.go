package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortd/sortd/internal/testutil"
)

// noSleep records requested delays without waiting.
func noSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestRetryingCaller_SucceedsFirstAttempt(t *testing.T) {
	r := NewRetryingCaller(nil)
	calls := 0

	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryingCaller_RetriesRetryableThenSucceeds(t *testing.T) {
	var delays []time.Duration
	r := &RetryingCaller{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Sleep:       noSleep(&delays),
		Jitter:      func() float64 { return 1 },
	}

	calls := 0
	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewOpError(ErrCodeRateLimited, "slow down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Backoff doubles: 1s then 2s (jitter pinned to the full delay).
	require.Len(t, delays, 2)
	assert.Equal(t, time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
}

func TestRetryingCaller_ExhaustionSurfacesTypedError(t *testing.T) {
	var delays []time.Duration
	r := &RetryingCaller{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep(&delays)}

	calls := 0
	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return NewOpError(ErrCodeNetwork, "connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, ErrCodeRetryExhausted, CodeOf(err))
	// The last underlying error is preserved.
	var oe *OpError
	require.ErrorAs(t, err, &oe)
	assert.ErrorContains(t, oe.Err, "connection reset")
}

func TestRetryingCaller_QuotaFatalNotRetried(t *testing.T) {
	r := NewRetryingCaller(nil)
	calls := 0

	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return NewOpError(ErrCodeQuotaExceeded, "daily limit")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsQuotaFatal(err))
}

func TestRetryingCaller_AuthExpiredRefreshesOnce(t *testing.T) {
	tokens := &testutil.FakeTokens{}
	r := NewRetryingCaller(tokens)

	calls := 0
	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return NewOpError(ErrCodeAuthExpired, "token expired")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.Refreshes)
}

func TestRetryingCaller_SecondAuthFailureIsFatal(t *testing.T) {
	tokens := &testutil.FakeTokens{}
	r := NewRetryingCaller(tokens)

	calls := 0
	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return NewOpError(ErrCodeAuthExpired, "token expired")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls, "one refresh buys exactly one retry")
	assert.Equal(t, 1, tokens.Refreshes)
	assert.True(t, IsAuthExpired(err))
}

func TestRetryingCaller_RefreshFailureIsFatal(t *testing.T) {
	tokens := &testutil.FakeTokens{Err: errors.New("refresh denied")}
	r := NewRetryingCaller(tokens)

	calls := 0
	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return NewOpError(ErrCodeAuthExpired, "token expired")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsAuthExpired(err))
}

func TestRetryingCaller_NonRetryableFailsImmediately(t *testing.T) {
	r := NewRetryingCaller(nil)
	calls := 0

	err := r.Call(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return NewOpError(ErrCodeNotFound, "gone")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsItemFatal(err))
}

func TestRetryingCaller_DelayCappedAtMax(t *testing.T) {
	var delays []time.Duration
	r := &RetryingCaller{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Second,
		MaxDelay:    15 * time.Second,
		Sleep:       noSleep(&delays),
		Jitter:      func() float64 { return 1 },
	}

	_ = r.Call(context.Background(), "op", func(ctx context.Context) error {
		return NewOpError(ErrCodeNetwork, "flaky")
	})

	require.Len(t, delays, 4)
	for _, d := range delays[1:] {
		assert.LessOrEqual(t, d, 15*time.Second)
	}
}

func TestRetryingCaller_ContextCancelStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &RetryingCaller{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	err := r.Call(ctx, "op", func(ctx context.Context) error {
		return NewOpError(ErrCodeNetwork, "flaky")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
