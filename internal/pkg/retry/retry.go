// Package retry provides the single backoff-retry combinator shared by the
// store, the venue close path and the advisor client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop. Delay for attempt n (1-based) is
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultPolicy matches the store's contention defaults.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 25 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Backoff returns the wait before the attempt following attempt n.
func (p Policy) Backoff(n int) time.Duration {
	p = p.normalized()
	if n < 1 {
		n = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Sleeper waits for d or until ctx is done. Tests replace it to avoid real sleeps.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns a non-transient error, the context ends,
// or MaxAttempts is reached. A nil isTransient treats every error as transient.
func Do(ctx context.Context, p Policy, isTransient func(error) bool, fn func(attempt int) error) error {
	return DoWithSleeper(ctx, p, isTransient, sleepCtx, fn)
}

func DoWithSleeper(ctx context.Context, p Policy, isTransient func(error) bool, sleep Sleeper, fn func(attempt int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if sleep == nil {
		sleep = sleepCtx
	}
	p = p.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if isTransient != nil && !isTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}
