package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: attempts,
		Budget:      5 * time.Second,
	}
}

func TestDoFirstAttempt(t *testing.T) {
	t.Parallel()

	var calls int32
	err := Do(context.Background(), fastPolicy(3), "op", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls int32
	err := Do(context.Background(), fastPolicy(5), "op", func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls)
}

func TestDoGivesUp(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	var calls int32
	err := Do(context.Background(), fastPolicy(3), "identity", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.EqualValues(t, 3, calls)
}

func TestDoStopReturnsImmediately(t *testing.T) {
	t.Parallel()

	cause := errors.New("invalid session id")
	var calls int32
	err := Do(context.Background(), fastPolicy(5), "op", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return Stop(cause)
	})
	assert.Equal(t, cause, err)
	assert.EqualValues(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{BaseDelay: time.Second, MaxDelay: time.Second, MaxAttempts: 10, Budget: time.Minute}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, "op", func(context.Context) error { return errors.New("down") })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDoRespectsBudget(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: time.Second, MaxDelay: time.Second, MaxAttempts: 10, Budget: 100 * time.Millisecond}
	err := Do(context.Background(), p, "op", func(context.Context) error { return errors.New("down") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget")
}

func TestBackoffCapped(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}
	for n := 1; n < 10; n++ {
		assert.LessOrEqual(t, p.backoff(n), 60*time.Millisecond)
	}
}

func TestStopNil(t *testing.T) {
	assert.NoError(t, Stop(nil))
}
