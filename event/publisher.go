package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/logger"
)

type subscription[E any] struct {
	id       uint64
	name     string
	consumer Consumer[E]
}

// Publisher fans events out to subscribers. Publish reads an immutable
// snapshot of the subscriber list, so it never takes a lock; Subscribe and
// unsubscribe swap in a new snapshot.
type Publisher[E any] struct {
	source string
	log    *logger.Logger

	mu       sync.Mutex // serializes snapshot writers
	nextID   uint64
	subs     atomic.Pointer[[]subscription[E]]
	failures atomic.Uint64
}

// NewPublisher creates a publisher. source names the emitter in failure
// logs; a nil log uses the global logger.
func NewPublisher[E any](source string, log *logger.Logger) *Publisher[E] {
	return &Publisher[E]{
		source: source,
		log:    logger.OrGlobal(log, "event"),
	}
}

// Subscribe registers consumer under name and returns a function that
// removes it. Calling the returned function more than once is a no-op.
func (p *Publisher[E]) Subscribe(name string, consumer Consumer[E]) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	cur := p.snapshot()
	next := make([]subscription[E], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscription[E]{id: id, name: name, consumer: consumer})
	p.subs.Store(&next)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(id) })
	}
}

// SubscribeFunc is Subscribe for a plain function.
func (p *Publisher[E]) SubscribeFunc(name string, fn func(E)) (unsubscribe func()) {
	return p.Subscribe(name, ConsumerFunc[E](fn))
}

func (p *Publisher[E]) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.snapshot()
	next := make([]subscription[E], 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	p.subs.Store(&next)
}

func (p *Publisher[E]) snapshot() []subscription[E] {
	if s := p.subs.Load(); s != nil {
		return *s
	}
	return nil
}

// Publish delivers e to every subscriber in subscription order.
func (p *Publisher[E]) Publish(e E) {
	for _, s := range p.snapshot() {
		p.deliver(s, e)
	}
}

// deliver isolates one subscriber; recover must sit in its own frame so a
// panic does not unwind the Publish loop.
func (p *Publisher[E]) deliver(s subscription[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			p.failures.Add(1)
			err := errors.SubscriberFailure(s.name, fmt.Errorf("panic: %v", r))
			p.log.Error("Event subscriber failed", map[string]interface{}{
				logger.FieldSubscriber: s.name,
				logger.FieldInstance:   p.source,
				logger.FieldError:      err.Error(),
			})
		}
	}()
	s.consumer.OnEvent(e)
}

// HasConsumers reports whether any subscriber is registered. Emitters use
// it to skip building events nobody will see.
func (p *Publisher[E]) HasConsumers() bool {
	return len(p.snapshot()) > 0
}

// Subscribers returns subscriber names in delivery order.
func (p *Publisher[E]) Subscribers() []string {
	cur := p.snapshot()
	names := make([]string, len(cur))
	for i, s := range cur {
		names[i] = s.name
	}
	return names
}

// Failures returns how many deliveries have panicked.
func (p *Publisher[E]) Failures() uint64 {
	return p.failures.Load()
}
