package registry

import (
	"strconv"
	"time"

	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
)

// EventType identifies a registry mutation.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventRemoved  EventType = "REMOVED"
	EventReplaced EventType = "REPLACED"
)

// Event describes one registry mutation. Added is set for ADDED and
// REPLACED, Removed for REMOVED and REPLACED.
type Event[T any] struct {
	Type      EventType
	Name      string
	Added     T
	Removed   T
	CreatedAt time.Time
}

// EventConsumer observes registry mutations.
type EventConsumer[T any] interface {
	OnEntryAdded(Event[T])
	OnEntryRemoved(Event[T])
	OnEntryReplaced(Event[T])
}

// EventConsumerFuncs adapts optional callbacks to EventConsumer.
type EventConsumerFuncs[T any] struct {
	Added    func(Event[T])
	Removed  func(Event[T])
	Replaced func(Event[T])
}

func (f EventConsumerFuncs[T]) OnEntryAdded(e Event[T]) {
	if f.Added != nil {
		f.Added(e)
	}
}

func (f EventConsumerFuncs[T]) OnEntryRemoved(e Event[T]) {
	if f.Removed != nil {
		f.Removed(e)
	}
}

func (f EventConsumerFuncs[T]) OnEntryReplaced(e Event[T]) {
	if f.Replaced != nil {
		f.Replaced(e)
	}
}

// Dispatch routes e to the consumer method matching its type.
func Dispatch[T any](c EventConsumer[T], e Event[T]) {
	switch e.Type {
	case EventAdded:
		c.OnEntryAdded(e)
	case EventRemoved:
		c.OnEntryRemoved(e)
	case EventReplaced:
		c.OnEntryReplaced(e)
	}
}

// CompositeEventConsumer fans registry events out to a fixed, ordered list
// of consumers. A panicking consumer is recovered and logged; the rest still
// receive the event.
type CompositeEventConsumer[T any] struct {
	consumers []EventConsumer[T]
	publisher *event.Publisher[Event[T]]
}

// NewCompositeEventConsumer composes consumers in the given order. Nil
// entries are skipped.
func NewCompositeEventConsumer[T any](log *logger.Logger, consumers ...EventConsumer[T]) *CompositeEventConsumer[T] {
	c := &CompositeEventConsumer[T]{
		publisher: event.NewPublisher[Event[T]]("registry-event-consumer", log),
	}
	for i, consumer := range consumers {
		if consumer == nil {
			continue
		}
		c.consumers = append(c.consumers, consumer)
		c.publisher.SubscribeFunc(consumerName(i), func(e Event[T]) { Dispatch(consumer, e) })
	}
	return c
}

func consumerName(i int) string {
	return "registry-consumer-" + strconv.Itoa(i)
}

// Len returns the number of composed consumers.
func (c *CompositeEventConsumer[T]) Len() int { return len(c.consumers) }

// Failures returns how many consumer calls have panicked.
func (c *CompositeEventConsumer[T]) Failures() uint64 { return c.publisher.Failures() }

func (c *CompositeEventConsumer[T]) OnEntryAdded(e Event[T])    { c.publisher.Publish(e) }
func (c *CompositeEventConsumer[T]) OnEntryRemoved(e Event[T])  { c.publisher.Publish(e) }
func (c *CompositeEventConsumer[T]) OnEntryReplaced(e Event[T]) { c.publisher.Publish(e) }
