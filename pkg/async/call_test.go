package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_Success(t *testing.T) {
	called := false
	err := Call(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCall_Error(t *testing.T) {
	want := errors.New("boom")
	err := Call(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		return want
	})
	assert.ErrorIs(t, err, want)
}

func TestCall_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := Call(context.Background(), 50*time.Millisecond, "wedged task", func(ctx context.Context) error {
		<-release // ignores ctx on purpose
		return nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "wedged task")
	assert.Less(t, time.Since(start), time.Second)
}

func TestCall_ContextObserved(t *testing.T) {
	err := Call(context.Background(), 20*time.Millisecond, "polite task", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	// either the task or the deadline may win; both are failures
	require.Error(t, err)
}

func TestCall_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Call(ctx, time.Second, "cancelled task", func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestCall_Panic(t *testing.T) {
	err := Call(context.Background(), time.Second, "panicky task", func(ctx context.Context) error {
		panic("kaboom")
	})
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Contains(t, err.Error(), "panicky task")
}

func TestCall_NoTimeout(t *testing.T) {
	err := Call(context.Background(), 0, "unbounded", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
}

func TestCallValue(t *testing.T) {
	v, err := CallValue(context.Background(), time.Second, "value", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = CallValue(context.Background(), 10*time.Millisecond, "slow value", func(ctx context.Context) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, v)
}
