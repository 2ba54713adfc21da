package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/registry"
)

// Call kinds recorded on the bulkhead.calls counter.
const (
	CallKindPermitted  = "permitted"
	CallKindRejected   = "rejected"
	CallKindSuccessful = "successful"
	CallKindFailed     = "failed"
)

const instrumentsSubscriber = "otel-bulkhead-instruments"

// BulkheadInstruments exports every bulkhead of a registry as OpenTelemetry
// instruments: observable gauges read from Metrics on collection, and a
// call counter plus duration histogram fed by bulkhead events. Bulkheads
// added to the registry later are picked up automatically.
type BulkheadInstruments struct {
	registry     *bulkhead.Registry
	calls        metric.Int64Counter
	duration     metric.Float64Histogram
	registration metric.Registration
	unsubscribe  func()

	mu    sync.Mutex
	bound map[*bulkhead.Bulkhead]func()
}

// NewBulkheadInstruments creates the instruments on meter and binds every
// bulkhead in reg.
func NewBulkheadInstruments(meter metric.Meter, reg *bulkhead.Registry) (*BulkheadInstruments, error) {
	calls, err := meter.Int64Counter("bulkhead.calls",
		metric.WithDescription("Bulkhead calls by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bulkhead.calls counter: %w", err)
	}

	duration, err := meter.Float64Histogram("bulkhead.call.duration",
		metric.WithDescription("Duration of finished bulkhead calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bulkhead.call.duration histogram: %w", err)
	}

	gauges := []struct {
		name, desc string
		value      func(bulkhead.Metrics) int
	}{
		{"bulkhead.queue.depth", "Calls waiting for a worker", func(m bulkhead.Metrics) int { return m.QueueDepth }},
		{"bulkhead.active.thread.count", "Calls running on a worker", func(m bulkhead.Metrics) int { return m.ActiveCount }},
		{"bulkhead.thread.pool.size", "Live worker goroutines", func(m bulkhead.Metrics) int { return m.PoolSize }},
		{"bulkhead.core.thread.pool.size", "Configured core workers", func(m bulkhead.Metrics) int { return m.CoreThreads }},
		{"bulkhead.max.thread.pool.size", "Configured maximum workers", func(m bulkhead.Metrics) int { return m.MaxThreads }},
		{"bulkhead.queue.capacity", "Configured queue capacity", func(m bulkhead.Metrics) int { return m.QueueCapacity }},
		{"bulkhead.queue.remaining.capacity", "Calls that may still queue", func(m bulkhead.Metrics) int { return m.RemainingQueueCapacity }},
		{"bulkhead.available.concurrent.calls", "Calls that would be admitted now", func(m bulkhead.Metrics) int { return m.AvailableConcurrentCalls }},
		{"bulkhead.max.allowed.concurrent.calls", "Current admission limit", func(m bulkhead.Metrics) int { return m.MaxAllowedConcurrentCalls }},
	}

	observables := make([]metric.Int64ObservableGauge, len(gauges))
	instruments := make([]metric.Observable, len(gauges))
	for i, g := range gauges {
		og, err := meter.Int64ObservableGauge(g.name, metric.WithDescription(g.desc))
		if err != nil {
			return nil, fmt.Errorf("creating %s gauge: %w", g.name, err)
		}
		observables[i] = og
		instruments[i] = og
	}

	bi := &BulkheadInstruments{
		registry: reg,
		calls:    calls,
		duration: duration,
		bound:    make(map[*bulkhead.Bulkhead]func()),
	}

	bi.registration, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		for _, b := range reg.AllBulkheads() {
			m := b.Metrics()
			attrs := metric.WithAttributes(bulkheadAttributes(b)...)
			for i, g := range gauges {
				o.ObserveInt64(observables[i], int64(g.value(m)), attrs)
			}
		}
		return nil
	}, instruments...)
	if err != nil {
		return nil, fmt.Errorf("registering bulkhead gauges: %w", err)
	}

	bi.unsubscribe = reg.EventPublisher().SubscribeFunc(instrumentsSubscriber, func(e bulkhead.RegistryEvent) {
		switch e.Type {
		case registry.EventAdded:
			bi.bind(e.Added)
		case registry.EventRemoved:
			bi.unbind(e.Removed)
		case registry.EventReplaced:
			bi.unbind(e.Removed)
			bi.bind(e.Added)
		}
	})
	for _, b := range reg.AllBulkheads() {
		bi.bind(b)
	}
	return bi, nil
}

func (bi *BulkheadInstruments) bind(b *bulkhead.Bulkhead) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	if _, ok := bi.bound[b]; ok {
		return
	}
	attrs := metric.WithAttributes(bulkheadAttributes(b)...)
	bi.bound[b] = b.EventPublisher().SubscribeFunc(instrumentsSubscriber, func(e bulkhead.Event) {
		bi.record(e, attrs)
	})
}

func (bi *BulkheadInstruments) unbind(b *bulkhead.Bulkhead) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	if unsubscribe, ok := bi.bound[b]; ok {
		unsubscribe()
		delete(bi.bound, b)
	}
}

func (bi *BulkheadInstruments) record(e bulkhead.Event, attrs metric.MeasurementOption) {
	ctx := context.Background()
	switch e.Type {
	case bulkhead.EventCallPermitted:
		bi.calls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String(AttrCallKind, CallKindPermitted)))
	case bulkhead.EventCallRejected:
		bi.calls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String(AttrCallKind, CallKindRejected)))
	case bulkhead.EventCallFinished:
		kind := CallKindSuccessful
		if e.Failed() {
			kind = CallKindFailed
		}
		bi.calls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String(AttrCallKind, kind)))
		bi.duration.Record(ctx, e.Duration.Seconds(), attrs)
	}
}

// Close stops observing the registry and its bulkheads.
func (bi *BulkheadInstruments) Close() error {
	bi.unsubscribe()
	bi.mu.Lock()
	for b, unsubscribe := range bi.bound {
		unsubscribe()
		delete(bi.bound, b)
	}
	bi.mu.Unlock()
	return bi.registration.Unregister()
}

func bulkheadAttributes(b *bulkhead.Bulkhead) []attribute.KeyValue {
	tags := b.Tags()
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String(AttrBulkheadName, b.Name()))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
