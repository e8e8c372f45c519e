// Package retry runs outbound calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// stopError marks an error that must not be retried.
type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop wraps err so that Do returns it immediately without another attempt.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Policy bounds a retry loop. Both limits apply; whichever is hit first ends it.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Budget caps total wall time including the attempts themselves.
	Budget time.Duration
}

// DefaultPolicy suits short calls to the identity provider: three tries
// within the 30 second external-call bound.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		MaxAttempts: 3,
		Budget:      30 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Budget <= 0 {
		p.Budget = d.Budget
	}
	return p
}

// backoff returns the delay before attempt n+1, with up to 50% jitter.
func (p Policy) backoff(n int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < n && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if half := int64(delay) / 2; half > 0 {
		delay += time.Duration(rand.Int63n(half))
	}
	return delay
}

// Do calls fn until it succeeds, returns an error wrapped with Stop, the
// policy is exhausted, or ctx is done. The last error is returned wrapped.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	deadline := time.Now().Add(p.Budget)

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Info("Retry succeeded", "operation", op, "attempt", attempt)
			}
			return nil
		}

		var stop *stopError
		if errors.As(lastErr, &stop) {
			return stop.err
		}

		if attempt >= p.MaxAttempts {
			slog.Warn("Retries exhausted", "operation", op, "attempts", attempt, "error", lastErr)
			return fmt.Errorf("%s: gave up after %d attempts: %w", op, attempt, lastErr)
		}

		wait := p.backoff(attempt)
		if time.Now().Add(wait).After(deadline) {
			slog.Warn("Retry budget exhausted", "operation", op, "attempts", attempt, "error", lastErr)
			return fmt.Errorf("%s: retry budget of %v exhausted: %w", op, p.Budget, lastErr)
		}

		slog.Debug("Retrying", "operation", op, "attempt", attempt, "delay", wait.Round(time.Millisecond), "error", lastErr)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
}
