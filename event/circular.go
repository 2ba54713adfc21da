package event

import (
	"sort"
	"sync"
)

// DefaultBufferSize is the ring capacity used when none is configured.
const DefaultBufferSize = 100

// CircularEventConsumer retains the most recent events in a fixed-size ring.
// Once full, each new event overwrites the oldest one.
type CircularEventConsumer[E any] struct {
	mu   sync.RWMutex
	buf  []E
	head int // index of the oldest event
	size int
}

// NewCircularEventConsumer creates a ring of the given capacity. A capacity
// <= 0 uses DefaultBufferSize.
func NewCircularEventConsumer[E any](capacity int) *CircularEventConsumer[E] {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &CircularEventConsumer[E]{buf: make([]E, capacity)}
}

// OnEvent stores e, evicting the oldest event when the ring is full.
func (c *CircularEventConsumer[E]) OnEvent(e E) {
	c.mu.Lock()
	n := len(c.buf)
	if c.size < n {
		c.buf[(c.head+c.size)%n] = e
		c.size++
	} else {
		c.buf[c.head] = e
		c.head = (c.head + 1) % n
	}
	c.mu.Unlock()
}

// Events returns a copy of the retained events, oldest first.
func (c *CircularEventConsumer[E]) Events() []E {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]E, c.size)
	n := len(c.buf)
	for i := 0; i < c.size; i++ {
		out[i] = c.buf[(c.head+i)%n]
	}
	return out
}

// Len returns the number of retained events.
func (c *CircularEventConsumer[E]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Capacity returns the ring size.
func (c *CircularEventConsumer[E]) Capacity() int {
	return len(c.buf)
}

// ConsumerRegistry maps names to ring-buffer consumers.
type ConsumerRegistry[E any] struct {
	mu        sync.RWMutex
	consumers map[string]*CircularEventConsumer[E]
}

// NewConsumerRegistry creates an empty registry.
func NewConsumerRegistry[E any]() *ConsumerRegistry[E] {
	return &ConsumerRegistry[E]{consumers: make(map[string]*CircularEventConsumer[E])}
}

// CreateEventConsumer returns the consumer registered under name, creating
// it with the given buffer size if absent. An existing consumer keeps its
// original capacity.
func (r *ConsumerRegistry[E]) CreateEventConsumer(name string, bufferSize int) *CircularEventConsumer[E] {
	r.mu.RLock()
	c, ok := r.consumers[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.consumers[name]; ok {
		return c
	}
	c = NewCircularEventConsumer[E](bufferSize)
	r.consumers[name] = c
	return c
}

// EventConsumer returns the consumer registered under name, or nil.
func (r *ConsumerRegistry[E]) EventConsumer(name string) *CircularEventConsumer[E] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.consumers[name]
}

// AllEventConsumers returns a copy of the name to consumer mapping.
func (r *ConsumerRegistry[E]) AllEventConsumers() map[string]*CircularEventConsumer[E] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*CircularEventConsumer[E], len(r.consumers))
	for k, v := range r.consumers {
		out[k] = v
	}
	return out
}

// Names returns registered consumer names in sorted order.
func (r *ConsumerRegistry[E]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.consumers))
	for k := range r.consumers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Remove drops the consumer registered under name.
func (r *ConsumerRegistry[E]) Remove(name string) {
	r.mu.Lock()
	delete(r.consumers, name)
	r.mu.Unlock()
}

// Lazy returns a Consumer that creates the named ring buffer when it
// receives its first event. Until then the registry has no entry for name.
func (r *ConsumerRegistry[E]) Lazy(name string, bufferSize int) Consumer[E] {
	return &lazyConsumer[E]{registry: r, name: name, size: bufferSize}
}

type lazyConsumer[E any] struct {
	registry *ConsumerRegistry[E]
	name     string
	size     int

	once   sync.Once
	target *CircularEventConsumer[E]
}

func (l *lazyConsumer[E]) OnEvent(e E) {
	l.once.Do(func() {
		l.target = l.registry.CreateEventConsumer(l.name, l.size)
	})
	l.target.OnEvent(e)
}
