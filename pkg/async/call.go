package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// ErrTimeout is returned when a call does not finish before its deadline
var ErrTimeout = errors.New("call did not complete before deadline")

// PanicError is returned when the called function panics
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Task, e.Value)
}

// Call runs fn with a context bounded by timeout. A timeout <= 0 means no
// deadline beyond the parent context's.
func Call(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) error {
	_, err := CallValue(parentCtx, timeout, taskName, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// CallValue is Call for functions that produce a value
func CallValue[T any](parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := parentCtx, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, timeout)
	}
	defer cancel()

	type result struct {
		value T
		err   error
	}
	// buffered so an abandoned goroutine can still finish and be collected
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{value: zero, err: &PanicError{Task: taskName, Value: r, Stack: debug.Stack()}}
			}
		}()
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w", taskName, ErrTimeout)
		}
		return zero, fmt.Errorf("%s: %w", taskName, ctx.Err())
	}
}
