// Package retry re-runs failing calls with exponential backoff and jitter.
//
// A Retry is a named policy with its own event publisher. Every retried
// attempt emits RETRY; the call then ends with SUCCESS (when it needed more
// than one attempt), ERROR (attempts exhausted) or IGNORED_ERROR (the error
// was not retryable).
//
//	r, err := retry.New("inventory", retry.Config{
//	    MaxAttempts:  3,
//	    WaitDuration: 100 * time.Millisecond,
//	    Multiplier:   2,
//	})
//	err = r.Execute(ctx, func(ctx context.Context) error {
//	    return b.Execute(ctx, reserve)
//	})
package retry
