// Package async runs untrusted calls against a deadline.
//
// # Overview
//
// Provider hooks are third-party code. Call and CallValue run them in their
// own goroutine with a context deadline and panic recovery, and return as
// soon as the call finishes or the deadline passes, whichever comes first.
//
// A call that ignores its context keeps running after Call has returned
// ErrTimeout. Go has no way to stop it; the caller records the failure and
// moves on, and whatever the wedged goroutine holds is never reclaimed.
//
// # Usage Example
//
//	err := async.Call(ctx, 30*time.Second, "startup COMPUTE/duckdb", func(ctx context.Context) error {
//		return provider.Startup(ctx, env)
//	})
//	if errors.Is(err, async.ErrTimeout) {
//		// report LifecycleTimeoutError
//	}
//
//	status, err := async.CallValue(ctx, 5*time.Second, "health", provider.HealthCheck)
package async
