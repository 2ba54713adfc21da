// Package bulkhead isolates calls to a dependency behind a dedicated,
// bounded worker pool.
//
// A Bulkhead admits at most MaxConcurrentCalls+MaxQueueSize calls at a time.
// Admitted calls run on a free worker or wait in a FIFO queue for one; calls
// beyond the limit are rejected at once with a BULKHEAD_FULL error and a
// CALL_REJECTED event, on the caller's goroutine.
//
//	cfg, err := bulkhead.NewBuilder().
//	    MaxConcurrentCalls(2).
//	    MaxThreads(2).
//	    Build()
//	b, err := bulkhead.New("inventory", cfg)
//	defer b.Close()
//
//	err = b.Execute(ctx, func(ctx context.Context) error {
//	    return client.Reserve(ctx, sku)
//	})
//	if errors.Is(err, bwerrors.ErrBulkheadFull) {
//	    // shed load or fall back
//	}
//
// A Registry hands out one Bulkhead per name, creating it on first use from
// the registry's default or a named configuration.
package bulkhead
