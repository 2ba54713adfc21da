// Package event implements in-process event fan-out for resilience
// primitives.
//
// A Publisher delivers every event to its subscribers synchronously, in
// subscription order. A subscriber that panics is recovered, logged and
// counted; delivery to the remaining subscribers continues. Slow consumers
// should be wrapped with Async so they never hold up the publishing call.
//
// CircularEventConsumer keeps the most recent N events for inspection, and
// ConsumerRegistry names those buffers so diagnostics can look them up:
//
//	consumers := event.NewConsumerRegistry[bulkhead.Event]()
//	b.EventPublisher().Subscribe("diagnostics", consumers.Lazy("ThreadPoolBulkhead-orders", 100))
//	recent := consumers.EventConsumer("ThreadPoolBulkhead-orders").Events()
package event
