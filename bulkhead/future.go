package bulkhead

import "context"

// Future is the pending outcome of a submitted call.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed when the call has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the call's error once Done is closed, and nil before.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the call finishes or ctx is done. Giving up on the wait
// does not cancel the call.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResultFuture is a Future that also carries the call's value.
type ResultFuture[T any] struct {
	*Future
	value T
}

// Get waits like Wait and returns the call's value.
func (f *ResultFuture[T]) Get(ctx context.Context) (T, error) {
	if err := f.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return f.value, nil
}
