package bulkhead

// Metrics is a point-in-time view of a bulkhead. Fields are read from
// independent atomics without locking, so a snapshot taken under load may
// be slightly inconsistent across fields.
type Metrics struct {
	// QueueDepth is the number of admitted calls waiting for a worker.
	QueueDepth int

	// ActiveCount is the number of calls running on a worker.
	ActiveCount int

	// PoolSize is the number of live pool goroutines.
	PoolSize int

	CoreThreads   int
	MaxThreads    int
	QueueCapacity int

	// RemainingQueueCapacity is how many more calls may queue right now.
	RemainingQueueCapacity int

	// AvailableConcurrentCalls is how many more calls would be admitted right now.
	AvailableConcurrentCalls int

	// MaxAllowedConcurrentCalls is the current admission limit.
	MaxAllowedConcurrentCalls int

	FinishedCalls uint64
	FailedCalls   uint64
	RejectedCalls uint64
}

// Metrics returns a snapshot of the bulkhead's state.
func (b *Bulkhead) Metrics() Metrics {
	cfg := b.cfg.Load()
	limit := int(b.limit.Load())
	inFlight := int(b.inFlight.Load())
	queued := int(b.queued.Load())

	return Metrics{
		QueueDepth:                queued,
		ActiveCount:               int(b.active.Load()),
		PoolSize:                  b.pool.Running(),
		CoreThreads:               cfg.CoreThreads,
		MaxThreads:                cfg.MaxThreads,
		QueueCapacity:             cfg.QueueCapacity,
		RemainingQueueCapacity:    nonNegative(cfg.queueLimit() - queued),
		AvailableConcurrentCalls:  nonNegative(limit - inFlight),
		MaxAllowedConcurrentCalls: limit,
		FinishedCalls:             b.finished.Load(),
		FailedCalls:               b.failed.Load(),
		RejectedCalls:             b.rejected.Load(),
	}
}

// Saturated reports whether the next call would be rejected.
func (m Metrics) Saturated() bool {
	return m.AvailableConcurrentCalls == 0
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
