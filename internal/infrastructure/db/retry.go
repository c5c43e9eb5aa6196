package db

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 10 * time.Millisecond
	DefaultRetryMaxDelay = 200 * time.Millisecond
)

// RetryPolicy bounds how often an operation is re-run after serialization
// failures. Attempts counts every invocation, the first one included; a
// negative value retries until the operation stops conflicting or the
// context is done.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Clock    clock.Clock
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: DefaultRetryAttempts,
		Delay:    DefaultRetryDelay,
		MaxDelay: DefaultRetryMaxDelay,
		Clock:    clock.WallClock,
	}
}

// Retrier re-runs operations that failed with a serialization failure.
type Retrier struct {
	policy    RetryPolicy
	collector *Collector
}

type RetrierOption func(*Retrier)

// WithCollector records retries in c.
func WithCollector(c *Collector) RetrierOption {
	return func(r *Retrier) {
		r.collector = c
	}
}

func NewRetrier(policy RetryPolicy, opts ...RetrierOption) *Retrier {
	defaults := DefaultRetryPolicy()
	if policy.Attempts == 0 {
		policy.Attempts = defaults.Attempts
	}
	if policy.Delay <= 0 {
		policy.Delay = defaults.Delay
	}
	if policy.MaxDelay < policy.Delay {
		policy.MaxDelay = policy.Delay
	}
	if policy.Clock == nil {
		policy.Clock = defaults.Clock
	}
	r := &Retrier{policy: policy}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run calls fn until it succeeds, fails with anything other than a
// serialization failure, or the policy runs out. Errors are returned as fn
// produced them.
func (r *Retrier) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return fn(ctx)
		},
		IsFatalError: func(err error) bool {
			return !IsSerializationFailure(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("%s: serialization failure on attempt %d: %v", name, attempt, err)
			r.collector.conflicted(name)
		},
		Attempts:    r.policy.Attempts,
		Delay:       r.policy.Delay,
		MaxDelay:    r.policy.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       r.policy.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
		lastErr := retry.LastError(err)
		logger.Warningf("%s: giving up after repeated serialization failures: %v", name, lastErr)
		r.collector.gaveUp(name)
		return lastErr
	}
	return err
}

// WithRetry wraps fn so that every call runs through r.Run. The argument is
// passed unchanged to each attempt; re-running fn must be safe.
func WithRetry[A, T any](r *Retrier, name string, fn func(ctx context.Context, arg A) (T, error)) func(ctx context.Context, arg A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		var result T
		err := r.Run(ctx, name, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, arg)
			return err
		})
		if err != nil {
			var zero T
			return zero, errors.Trace(err)
		}
		return result, nil
	}
}
