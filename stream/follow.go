package stream

import (
	"sync"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/registry"
	"github.com/kbukum/bulwark/retry"
)

const followSubscriber = "stream"

type follower[T comparable] struct {
	mu     sync.Mutex
	bound  map[T]func()
	attach func(T) func()
}

func (f *follower[T]) bind(instance T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bound[instance]; ok {
		return
	}
	f.bound[instance] = f.attach(instance)
}

func (f *follower[T]) unbind(instance T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if unsubscribe, ok := f.bound[instance]; ok {
		unsubscribe()
		delete(f.bound, instance)
	}
}

func (f *follower[T]) onRegistryEvent(e registry.Event[T]) {
	switch e.Type {
	case registry.EventAdded:
		f.bind(e.Added)
	case registry.EventRemoved:
		f.unbind(e.Removed)
	case registry.EventReplaced:
		f.unbind(e.Removed)
		f.bind(e.Added)
	}
}

func (f *follower[T]) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for instance, unsubscribe := range f.bound {
		unsubscribe()
		delete(f.bound, instance)
	}
}

func follow[T comparable](
	publisher *event.Publisher[registry.Event[T]],
	existing []T,
	attach func(T) func(),
) (stop func()) {
	f := &follower[T]{bound: make(map[T]func()), attach: attach}
	unsubscribe := publisher.SubscribeFunc(followSubscriber, f.onRegistryEvent)
	for _, instance := range existing {
		f.bind(instance)
	}
	return func() {
		unsubscribe()
		f.stop()
	}
}

// FollowBulkheads subscribes consumer to the events of every bulkhead in
// reg, including bulkheads added later. The returned func unsubscribes.
func FollowBulkheads(reg *bulkhead.Registry, consumer event.Consumer[bulkhead.Event]) (stop func()) {
	return follow(reg.EventPublisher(), reg.AllBulkheads(), func(b *bulkhead.Bulkhead) func() {
		return b.EventPublisher().Subscribe(followSubscriber, consumer)
	})
}

// FollowRetries subscribes consumer to the events of every retry in reg,
// including retries added later. The returned func unsubscribes.
func FollowRetries(reg *retry.Registry, consumer event.Consumer[retry.Event]) (stop func()) {
	return follow(reg.EventPublisher(), reg.AllRetries(), func(r *retry.Retry) func() {
		return r.EventPublisher().Subscribe(followSubscriber, consumer)
	})
}
