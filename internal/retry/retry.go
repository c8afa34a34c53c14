// Package retry runs calls against external sources with a bounded number
// of attempts, a per-attempt timeout and exponential backoff between
// attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"

	"github.com/edvin/quotausage/internal/model"
)

// Policy bounds a retried call.
type Policy struct {
	Attempts int
	// Timeout bounds each attempt. Zero means no per-attempt bound.
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used for cluster and metrics queries.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:        3,
		Timeout:         30 * time.Second,
		InitialInterval: time.Second,
		MaxInterval:     15 * time.Second,
	}
}

// Retrier executes calls under a Policy.
type Retrier struct {
	policy Policy
	clock  quartz.Clock
}

func New(policy Policy, clock quartz.Clock) *Retrier {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Retrier{policy: policy, clock: clock}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, returns a Permanent error, or the attempts
// run out. Exhaustion is reported as model.ErrSourceUnavailable wrapping the
// last error. Cancellation of ctx stops retrying immediately.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		lastErr = r.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: %w", op, perm.Err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if attempt == r.policy.Attempts {
			break
		}

		if err := r.sleep(ctx, op, b.NextBackOff()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return fmt.Errorf("%s: %w after %d attempts: %w", op, model.ErrSourceUnavailable, r.policy.Attempts, lastErr)
}

func (r *Retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.policy.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	return fn(attemptCtx)
}

func (r *Retrier) sleep(ctx context.Context, op string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := r.clock.NewTimer(d, "retry", op)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
