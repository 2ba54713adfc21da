package bulkhead

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
)

// Task is the unit of work a Bulkhead runs.
type Task func(ctx context.Context) error

// Option customizes a Bulkhead at construction.
type Option func(*options)

type options struct {
	tags map[string]string
	log  *logger.Logger
}

// WithTags attaches metadata tags to the bulkhead.
func WithTags(tags map[string]string) Option {
	return func(o *options) {
		if o.tags == nil {
			o.tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			o.tags[k] = v
		}
	}
}

// WithLogger sets the bulkhead's logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

type call struct {
	ctx    context.Context
	task   Task
	future *Future
}

// Bulkhead runs tasks on a dedicated worker pool and rejects calls beyond
// its admission limit.
type Bulkhead struct {
	name      string
	tags      map[string]string
	log       *logger.Logger
	publisher *event.Publisher[Event]
	pool      *ants.Pool

	cfg       atomic.Pointer[Config]
	limit     atomic.Int64
	inFlight  atomic.Int64 // admitted and not yet finished
	active    atomic.Int64 // running on a worker
	queued    atomic.Int64
	finished  atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	slotFreed chan struct{}

	// lifecycle is read-held while a slot is taken and write-held by
	// Reconfigure and Close, so no call is admitted while either runs.
	// Callers waiting for a slot do not hold it.
	lifecycle  sync.RWMutex
	closed     bool
	closing    chan struct{}
	closeOnce  sync.Once
	calls      sync.WaitGroup
	terminated chan struct{}

	mu         sync.Mutex // guards workers, maxWorkers, queue
	workers    int        // worker loops, at most maxWorkers
	maxWorkers int        // Config.workerLimit
	queue      []*call
}

// New creates a bulkhead with its own worker pool.
func New(name string, cfg Config, opts ...Option) (*Bulkhead, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrGlobal(o.log, "bulkhead").WithFields(logger.Fields(logger.FieldBulkhead, name))

	pool, err := ants.NewPool(poolCapacity(cfg), poolOptions(cfg, log)...)
	if err != nil {
		return nil, errors.InvalidConfiguration("max_thread_pool_size", err.Error()).WithCause(err)
	}

	b := &Bulkhead{
		name:       name,
		tags:       o.tags,
		log:        log,
		publisher:  event.NewPublisher[Event](name, log),
		pool:       pool,
		slotFreed:  make(chan struct{}, 1),
		closing:    make(chan struct{}),
		terminated: make(chan struct{}),
		maxWorkers: cfg.workerLimit(),
	}
	if b.tags == nil {
		b.tags = map[string]string{}
	}
	b.cfg.Store(&cfg)
	b.limit.Store(int64(cfg.AdmissionLimit()))

	log.Debug("Bulkhead created", logger.Fields("config", cfg.String()))
	return b, nil
}

// poolCapacity leaves room for one retiring goroutine per worker loop. A
// loop gives up its worker slot before ants takes its goroutine back, and
// without the headroom the blocking pool.Submit of a new loop would wait
// for that hand-back.
func poolCapacity(cfg Config) int {
	return 2 * cfg.workerLimit()
}

func poolOptions(cfg Config, log *logger.Logger) []ants.Option {
	opts := []ants.Option{ants.WithLogger(log), ants.WithNonblocking(false)}
	if cfg.KeepAliveDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(cfg.KeepAliveDuration))
	}
	if cfg.CoreThreads >= cfg.MaxThreads {
		opts = append(opts, ants.WithDisablePurge(true))
	}
	return opts
}

// Name returns the bulkhead's name.
func (b *Bulkhead) Name() string { return b.name }

// Config returns the current configuration.
func (b *Bulkhead) Config() Config { return *b.cfg.Load() }

// Tags returns a copy of the bulkhead's tags.
func (b *Bulkhead) Tags() map[string]string {
	out := make(map[string]string, len(b.tags))
	for k, v := range b.tags {
		out[k] = v
	}
	return out
}

// EventPublisher returns the publisher of this bulkhead's call events.
func (b *Bulkhead) EventPublisher() *event.Publisher[Event] { return b.publisher }

// Submit admits task and returns its Future, or rejects it with a
// BULKHEAD_FULL error when the bulkhead is saturated and BULKHEAD_CLOSED
// after Close. task receives ctx; a call whose ctx is done before it
// reaches a worker finishes with ctx's error without running.
func (b *Bulkhead) Submit(ctx context.Context, task Task) (*Future, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.admit(ctx); err != nil {
		if !errors.Is(err, errors.ErrBulkheadClosed) {
			b.rejected.Add(1)
			b.publish(EventCallRejected, 0, nil)
		}
		return nil, err
	}
	b.publish(EventCallPermitted, 0, nil)

	c := &call{ctx: ctx, task: task, future: newFuture()}
	b.dispatch(c)
	return c.future, nil
}

// admit takes a slot, waiting up to MaxWaitDuration when one is
// configured. Events are published by the caller.
func (b *Bulkhead) admit(ctx context.Context) error {
	if ok, err := b.tryAdmit(); ok || err != nil {
		return err
	}
	wait := b.cfg.Load().MaxWaitDuration
	if wait <= 0 {
		return errors.BulkheadFull(b.name)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-b.slotFreed:
			ok, err := b.tryAdmit()
			if err != nil {
				return err
			}
			if ok {
				// pass the wake-up on in case more slots are free
				b.signalSlot()
				return nil
			}
		case <-b.closing:
			return errors.BulkheadClosed(b.name)
		case <-timer.C:
			return errors.BulkheadFull(b.name)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryAdmit takes a slot without blocking and registers the call with the
// shutdown wait group.
func (b *Bulkhead) tryAdmit() (bool, error) {
	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()

	if b.closed {
		return false, errors.BulkheadClosed(b.name)
	}
	if !b.tryAcquire() {
		return false, nil
	}
	b.calls.Add(1)
	return true, nil
}

// Execute submits task and waits for it. If ctx ends first, Execute returns
// ctx's error while the task keeps its admitted slot until it returns.
func (b *Bulkhead) Execute(ctx context.Context, task Task) error {
	f, err := b.Submit(ctx, task)
	if err != nil {
		return err
	}
	return f.Wait(ctx)
}

// SubmitWithResult is Submit for a task that produces a value.
func SubmitWithResult[T any](ctx context.Context, b *Bulkhead, fn func(ctx context.Context) (T, error)) (*ResultFuture[T], error) {
	rf := &ResultFuture[T]{}
	f, err := b.Submit(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		rf.value = v
		return err
	})
	if err != nil {
		return nil, err
	}
	rf.Future = f
	return rf, nil
}

// ExecuteWithResult is Execute for a task that produces a value.
func ExecuteWithResult[T any](ctx context.Context, b *Bulkhead, fn func(ctx context.Context) (T, error)) (T, error) {
	rf, err := SubmitWithResult(ctx, b, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return rf.Get(ctx)
}

// tryAcquire takes an in-flight slot without blocking.
func (b *Bulkhead) tryAcquire() bool {
	for {
		cur := b.inFlight.Load()
		if cur >= b.limit.Load() {
			return false
		}
		if b.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// signalSlot wakes one waiting caller if a slot is free.
func (b *Bulkhead) signalSlot() {
	if b.inFlight.Load() >= b.limit.Load() {
		return
	}
	select {
	case b.slotFreed <- struct{}{}:
	default:
	}
}

// dispatch starts c on a new worker loop, or queues it when every worker
// is busy.
func (b *Bulkhead) dispatch(c *call) {
	b.mu.Lock()
	if b.workers < b.maxWorkers {
		b.workers++
		b.mu.Unlock()
		b.startWorker(c)
		return
	}
	b.queue = append(b.queue, c)
	b.queued.Add(1)
	b.mu.Unlock()
}

// startWorker must be called without b.mu held: Submit can wait for a pool
// goroutine that is itself finishing a loop in next.
func (b *Bulkhead) startWorker(first *call) {
	if err := b.pool.Submit(func() { b.work(first) }); err != nil {
		b.mu.Lock()
		b.workers--
		b.mu.Unlock()
		b.log.Error("Worker pool refused task", logger.MergeWithError(nil, err))
		b.finish(first, errors.Internal(err), 0)
	}
}

func (b *Bulkhead) work(c *call) {
	for c != nil {
		b.run(c)
		c = b.next()
	}
}

// next pops the oldest queued call, or retires the worker loop when the
// queue is empty or the pool has shrunk below the running loop count.
func (b *Bulkhead) next() *call {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 || b.workers > b.maxWorkers {
		b.workers--
		return nil
	}
	c := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	b.queued.Add(-1)
	return c
}

func (b *Bulkhead) run(c *call) {
	if err := c.ctx.Err(); err != nil {
		b.finish(c, err, 0)
		return
	}
	b.active.Add(1)
	start := time.Now()
	err := b.invoke(c)
	b.active.Add(-1)
	b.finish(c, err, time.Since(start))
}

func (b *Bulkhead) invoke(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Internal(fmt.Errorf("task panicked: %v", r))
		}
	}()
	return c.task(c.ctx)
}

// finish frees the call's slot before completing its future, so a caller
// returning from Wait already sees the slot available.
func (b *Bulkhead) finish(c *call, err error, took time.Duration) {
	b.inFlight.Add(-1)
	b.signalSlot()
	b.finished.Add(1)
	if err != nil {
		b.failed.Add(1)
	}
	b.publish(EventCallFinished, took, err)
	c.future.complete(err)
	b.calls.Done()
}

func (b *Bulkhead) publish(t EventType, took time.Duration, err error) {
	if !b.publisher.HasConsumers() {
		return
	}
	e := newEvent(t, b.name)
	e.Duration = took
	if err != nil {
		e.Err = err
		e.ErrorMessage = err.Error()
	}
	b.publisher.Publish(e)
}

// Reconfigure swaps in cfg. Running and queued calls are unaffected; the
// new limits apply to calls admitted afterwards, and the pool grows or
// shrinks as workers free up. Keep-alive changes take effect only for a
// new bulkhead.
func (b *Bulkhead) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.closed {
		return errors.BulkheadClosed(b.name)
	}

	b.cfg.Store(&cfg)
	b.limit.Store(int64(cfg.AdmissionLimit()))
	b.pool.Tune(poolCapacity(cfg))

	b.mu.Lock()
	b.maxWorkers = cfg.workerLimit()
	var start []*call
	for b.workers < b.maxWorkers && len(b.queue) > 0 {
		start = append(start, b.queue[0])
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.queued.Add(-1)
		b.workers++
	}
	b.mu.Unlock()

	for _, c := range start {
		b.startWorker(c)
	}
	b.signalSlot()

	b.log.Info("Bulkhead reconfigured", logger.Fields("config", cfg.String()))
	return nil
}

// Close stops admitting calls. Admitted calls, queued ones included, still
// run; the worker pool is released once they finish. Close returns
// immediately and is safe to call more than once.
func (b *Bulkhead) Close() error {
	b.closeOnce.Do(func() {
		b.lifecycle.Lock()
		b.closed = true
		close(b.closing)
		b.lifecycle.Unlock()

		go func() {
			b.calls.Wait()
			b.pool.Release()
			close(b.terminated)
			b.log.Debug("Bulkhead terminated")
		}()
	})
	return nil
}

// Shutdown closes the bulkhead and waits until every admitted call has
// finished and the pool is released, or ctx is done.
func (b *Bulkhead) Shutdown(ctx context.Context) error {
	_ = b.Close()
	select {
	case <-b.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports whether Close has been called.
func (b *Bulkhead) Closed() bool {
	b.lifecycle.RLock()
	defer b.lifecycle.RUnlock()
	return b.closed
}

// Terminated is closed once the bulkhead has shut down completely.
func (b *Bulkhead) Terminated() <-chan struct{} { return b.terminated }
