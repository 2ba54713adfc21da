package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/logger"
)

// DefaultAsyncBuffer is the queue length used when Async gets a size <= 0.
const DefaultAsyncBuffer = 256

// AsyncConsumer hands events to a wrapped consumer on its own goroutine.
// OnEvent never blocks: when the queue is full the event is dropped and
// counted.
type AsyncConsumer[E any] struct {
	name     string
	consumer Consumer[E]
	log      *logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan E
	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Async starts a goroutine that feeds consumer from a queue of bufferSize
// events. Call Close to drain the queue and stop the goroutine.
func Async[E any](name string, consumer Consumer[E], bufferSize int, log *logger.Logger) *AsyncConsumer[E] {
	if bufferSize <= 0 {
		bufferSize = DefaultAsyncBuffer
	}
	a := &AsyncConsumer[E]{
		name:     name,
		consumer: consumer,
		log:      logger.OrGlobal(log, "event"),
		queue:    make(chan E, bufferSize),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// OnEvent enqueues e, or drops it if the queue is full or the consumer is closed.
func (a *AsyncConsumer[E]) OnEvent(e E) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- e:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncConsumer[E]) run() {
	defer close(a.done)
	for e := range a.queue {
		a.handle(e)
	}
}

func (a *AsyncConsumer[E]) handle(e E) {
	defer func() {
		if r := recover(); r != nil {
			a.failed.Add(1)
			a.log.Error("Async event consumer failed", logger.MergeWithError(
				logger.Fields(logger.FieldSubscriber, a.name),
				errors.SubscriberFailure(a.name, fmt.Errorf("panic: %v", r)),
			))
		}
	}()
	a.consumer.OnEvent(e)
}

// Close stops accepting events, delivers what is queued and waits for the
// goroutine to exit. It is safe to call more than once.
func (a *AsyncConsumer[E]) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

// Dropped returns how many events were discarded.
func (a *AsyncConsumer[E]) Dropped() uint64 { return a.dropped.Load() }

// Failed returns how many deliveries panicked.
func (a *AsyncConsumer[E]) Failed() uint64 { return a.failed.Load() }
