package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: 5 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		attempts++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "should succeed on first try")
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	n, err := DoCount(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "should succeed on third attempt")
	assert.Equal(t, 3, n)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("persistent error")
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		attempts++
		return expectedErr
	}, nil)
	require.Error(t, err)
	assert.Equal(t, expectedErr, err, "should return the original error")
	assert.Equal(t, 3, attempts, "should attempt exactly MaxAttempts times")
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	permanent := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		return permanent
	}, IsTransient)
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestDo_RetriesTransientOnly(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	}, IsTransient)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastPolicy(10), func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel after second attempt
		}
		return errors.New("error")
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled, "should return context.Canceled")
	assert.LessOrEqual(t, attempts, 2, "should stop when context is canceled")
}

func TestDo_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond}, func(context.Context) error {
		attempts++
		time.Sleep(30 * time.Millisecond) // Slow operation
		return errors.New("error")
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "should return context.DeadlineExceeded")
	assert.LessOrEqual(t, attempts, 3, "should stop when context times out")
}

func TestDo_InvalidMaxAttempts(t *testing.T) {
	for _, n := range []int{0, -1} {
		attempts := 0
		err := Do(context.Background(), fastPolicy(n), func(context.Context) error {
			attempts++
			return nil
		}, nil)
		require.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.Equal(t, 0, attempts, "should not attempt with MaxAttempts=%d", n)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 350*time.Millisecond, p.Delay(3), "capped")
	assert.Equal(t, 350*time.Millisecond, p.Delay(10), "capped")

	uncapped := Policy{BaseDelay: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, uncapped.Delay(4))
}
