package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/model"
)

func TestDo_RetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer("retry")
	defer trap.Close()

	r := New(Policy{Attempts: 3, InitialInterval: time.Second, MaxInterval: 4 * time.Second}, mClock)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "list quotas", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		call := trap.MustWait(ctx)
		call.MustRelease(ctx)
		require.Greater(t, call.Duration, time.Duration(0))
		mClock.Advance(call.Duration).MustWait(ctx)
	}

	require.NoError(t, <-done)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	cause := errors.New("503 service unavailable")
	r := New(Policy{Attempts: 2}, quartz.NewMock(t))

	calls := 0
	err := r.Do(context.Background(), "query ns-a", func(context.Context) error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, model.KindSourceUnavailable, model.KindOf(err))
	assert.Contains(t, err.Error(), "query ns-a")
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	cause := errors.New("forbidden")
	r := New(Policy{Attempts: 5}, quartz.NewMock(t))

	calls := 0
	err := r.Do(context.Background(), "list quotas", func(context.Context) error {
		calls++
		return Permanent(cause)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, model.ErrSourceUnavailable)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer("retry")
	defer trap.Close()

	runCtx, stop := context.WithCancel(ctx)
	r := New(Policy{Attempts: 3, InitialInterval: time.Minute}, mClock)

	done := make(chan error, 1)
	go func() {
		done <- r.Do(runCtx, "list quotas", func(context.Context) error {
			return errors.New("timeout")
		})
	}()

	call := trap.MustWait(ctx)
	call.MustRelease(ctx)
	stop()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, model.ErrSourceUnavailable)
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	r := New(Policy{Attempts: 2, Timeout: 10 * time.Millisecond}, quartz.NewMock(t))

	calls := 0
	err := r.Do(context.Background(), "query ns-a", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, model.ErrSourceUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_ClampsAttempts(t *testing.T) {
	r := New(Policy{}, nil)

	calls := 0
	err := r.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
