package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetrier(attempts int, opts ...RetrierOption) *Retrier {
	return NewRetrier(RetryPolicy{
		Attempts: attempts,
		Delay:    time.Microsecond,
		MaxDelay: time.Millisecond,
		Clock:    clock.WallClock,
	}, opts...)
}

func TestRetrierRetriesOnSerializationFailureUntilSuccessful(t *testing.T) {
	collector := NewMetricsCollector()
	r := newTestRetrier(DefaultRetryAttempts, WithCollector(collector))

	var calls int
	err := r.Run(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return serializationError()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.conflicts.WithLabelValues("op")))
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.exhausted.WithLabelValues("op")))
}

func TestRetrierDoesNotRetryOtherErrors(t *testing.T) {
	r := newTestRetrier(DefaultRetryAttempts)

	boom := fmt.Errorf("boom")
	var calls int
	err := r.Run(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestRetrierRetriesTwiceByDefault(t *testing.T) {
	collector := NewMetricsCollector()
	r := newTestRetrier(0, WithCollector(collector))

	conflict := serializationError()
	var calls int
	err := r.Run(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return conflict
	})
	assert.Equal(t, conflict, err)
	assert.True(t, IsSerializationFailure(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.exhausted.WithLabelValues("op")))
}

func TestRetrierUnbounded(t *testing.T) {
	r := newTestRetrier(-1)

	var calls int
	err := r.Run(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls <= 10 {
			return serializationError()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 11, calls)
}

func TestRetrierStopsOnNonConflictAfterConflicts(t *testing.T) {
	r := newTestRetrier(-1)

	boom := fmt.Errorf("boom")
	var calls int
	err := r.Run(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return serializationError()
		}
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierWithCancelledContext(t *testing.T) {
	r := newTestRetrier(DefaultRetryAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, "op", func(ctx context.Context) error {
		t.Fatal("should not be called")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrierCancelledWhileRetrying(t *testing.T) {
	r := NewRetrier(RetryPolicy{Attempts: -1, Delay: time.Hour, Clock: clock.WallClock})

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := r.Run(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return serializationError()
	})
	assert.True(t, IsSerializationFailure(err))
	assert.Equal(t, 1, calls)
}

type pair struct {
	a, b string
}

func TestWithRetryPassesArgs(t *testing.T) {
	r := newTestRetrier(DefaultRetryAttempts)

	var seen []pair
	fn := WithRetry(r, "op", func(ctx context.Context, arg pair) (string, error) {
		seen = append(seen, arg)
		if len(seen) == 1 {
			return "", serializationError()
		}
		return arg.a + arg.b, nil
	})

	result, err := fn(context.Background(), pair{a: "x", b: "y"})
	require.NoError(t, err)
	assert.Equal(t, "xy", result)
	assert.Equal(t, []pair{{"x", "y"}, {"x", "y"}}, seen)
}

func TestWithRetryReturnsZeroValueOnError(t *testing.T) {
	r := newTestRetrier(DefaultRetryAttempts)

	boom := fmt.Errorf("boom")
	fn := WithRetry(r, "op", func(ctx context.Context, arg int) (*int, error) {
		return &arg, boom
	})

	result, err := fn(context.Background(), 1)
	assert.Nil(t, result)
	assert.Equal(t, boom, errors.Cause(err))
}
