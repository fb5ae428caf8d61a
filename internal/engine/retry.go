package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sortd/sortd/internal/collection"
)

// Retry policy defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
)

// RetryingCaller wraps a single remote call with bounded retry.
//
// Error handling per attempt:
//   - retryable (rate limit, transient network): exponential backoff with
//     jitter, doubling from BaseDelay, capped at MaxDelay
//   - quota-fatal: propagated immediately, no retry
//   - auth-expired: exactly one token refresh for the whole failure chain,
//     then one immediate retry; a second auth failure is fatal
//   - anything else: propagated immediately
//
// Exhausting every attempt surfaces ErrCodeRetryExhausted wrapping the last
// error; a retryable failure is never silently swallowed.
type RetryingCaller struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Tokens refreshes credentials on auth-expired. Nil makes auth-expired
	// immediately fatal.
	Tokens collection.TokenProvider

	// Sleep is swapped out in tests. Nil means a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a random factor in [0,1) applied to each delay.
	// Nil uses math/rand.
	Jitter func() float64
}

// NewRetryingCaller returns a caller with default policy.
func NewRetryingCaller(tokens collection.TokenProvider) *RetryingCaller {
	return &RetryingCaller{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Tokens:      tokens,
	}
}

// Call invokes fn until it succeeds, fails fatally, or attempts run out.
func (r *RetryingCaller) Call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := r.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	refreshed := false
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		switch {
		case IsQuotaFatal(err):
			// The service itself says the budget is gone. Halt, do not retry.
			return err

		case IsAuthExpired(err):
			if refreshed || r.Tokens == nil {
				return err
			}
			refreshed = true
			slog.Warn("credential expired, refreshing token", "call", name)
			if rerr := r.Tokens.Refresh(ctx); rerr != nil {
				return WrapOpError(ErrCodeAuthExpired, "token refresh failed", rerr)
			}
			// One immediate retry after a successful refresh; the refresh
			// itself does not consume a backoff delay.
			continue

		case IsRetryable(err):
			if attempt == attempts {
				break
			}
			d := r.jittered(delay)
			slog.Warn("retryable error, backing off",
				"call", name, "attempt", attempt, "max_attempts", attempts,
				"delay", d, "error", err)
			if serr := r.sleep(ctx, d); serr != nil {
				return serr
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}

		default:
			return err
		}
	}

	return WrapOpError(ErrCodeRetryExhausted,
		fmt.Sprintf("%s failed after %d attempts", name, attempts), lastErr)
}

func (r *RetryingCaller) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *RetryingCaller) jittered(d time.Duration) time.Duration {
	f := rand.Float64
	if r.Jitter != nil {
		f = r.Jitter
	}
	// Full jitter between half and full delay keeps retries spread out
	// without collapsing the backoff curve.
	return d/2 + time.Duration(f()*float64(d/2))
}
