// Package prometheus exports bulkhead state as Prometheus metrics.
//
//	c := prometheus.NewBulkheadCollector(registry)
//	defer c.Close()
//	promRegistry.MustRegister(c)
package prometheus

import (
	"sync"

	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/registry"
)

const (
	namespace  = "bulwark"
	subsystem  = "bulkhead"
	subscriber = "prometheus-bulkhead-collector"
)

// Label names.
const (
	LabelName = "name"
	LabelKind = "kind"
)

// Call kinds of the calls_total counter.
const (
	KindSuccessful = "successful"
	KindFailed     = "failed"
	KindRejected   = "rejected"
)

// DefaultDurationBuckets are the call duration histogram buckets in seconds.
var DefaultDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

type gauge struct {
	desc  *stdprometheus.Desc
	value func(bulkhead.Metrics) int
}

// CollectorOption configures a BulkheadCollector.
type CollectorOption func(*collectorOptions)

type collectorOptions struct {
	namespace string
	buckets   []float64
}

// WithNamespace replaces the "bulwark" metric namespace.
func WithNamespace(ns string) CollectorOption {
	return func(o *collectorOptions) { o.namespace = ns }
}

// WithDurationBuckets replaces DefaultDurationBuckets.
func WithDurationBuckets(buckets []float64) CollectorOption {
	return func(o *collectorOptions) { o.buckets = buckets }
}

// BulkheadCollector is a prometheus.Collector over every bulkhead of a
// registry. Gauges and call counters are read from bulkhead.Metrics at
// scrape time; call durations are observed from CALL_FINISHED events.
type BulkheadCollector struct {
	registry *bulkhead.Registry
	gauges   []gauge
	calls    *stdprometheus.Desc
	duration *stdprometheus.HistogramVec

	unsubscribe func()

	mu    sync.Mutex
	bound map[*bulkhead.Bulkhead]func()
}

var _ stdprometheus.Collector = (*BulkheadCollector)(nil)

// NewBulkheadCollector creates a collector over reg. Bulkheads added to
// reg later are included automatically; removed ones disappear.
func NewBulkheadCollector(reg *bulkhead.Registry, opts ...CollectorOption) *BulkheadCollector {
	o := collectorOptions{namespace: namespace, buckets: DefaultDurationBuckets}
	for _, opt := range opts {
		opt(&o)
	}

	newGauge := func(name, help string, value func(bulkhead.Metrics) int) gauge {
		return gauge{
			desc:  stdprometheus.NewDesc(stdprometheus.BuildFQName(o.namespace, subsystem, name), help, []string{LabelName}, nil),
			value: value,
		}
	}

	c := &BulkheadCollector{
		registry: reg,
		gauges: []gauge{
			newGauge("queue_depth", "Calls waiting for a worker", func(m bulkhead.Metrics) int { return m.QueueDepth }),
			newGauge("active_thread_count", "Calls running on a worker", func(m bulkhead.Metrics) int { return m.ActiveCount }),
			newGauge("thread_pool_size", "Live worker goroutines", func(m bulkhead.Metrics) int { return m.PoolSize }),
			newGauge("core_thread_pool_size", "Configured core workers", func(m bulkhead.Metrics) int { return m.CoreThreads }),
			newGauge("max_thread_pool_size", "Configured maximum workers", func(m bulkhead.Metrics) int { return m.MaxThreads }),
			newGauge("queue_capacity", "Configured queue capacity", func(m bulkhead.Metrics) int { return m.QueueCapacity }),
			newGauge("queue_remaining_capacity", "Calls that may still queue", func(m bulkhead.Metrics) int { return m.RemainingQueueCapacity }),
			newGauge("available_concurrent_calls", "Calls that would be admitted now", func(m bulkhead.Metrics) int { return m.AvailableConcurrentCalls }),
			newGauge("max_allowed_concurrent_calls", "Current admission limit", func(m bulkhead.Metrics) int { return m.MaxAllowedConcurrentCalls }),
		},
		calls: stdprometheus.NewDesc(
			stdprometheus.BuildFQName(o.namespace, subsystem, "calls_total"),
			"Bulkhead calls by outcome",
			[]string{LabelName, LabelKind}, nil,
		),
		duration: stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
			Namespace: o.namespace,
			Subsystem: subsystem,
			Name:      "call_duration_seconds",
			Help:      "Duration of finished bulkhead calls",
			Buckets:   o.buckets,
		}, []string{LabelName, LabelKind}),
		bound: make(map[*bulkhead.Bulkhead]func()),
	}

	c.unsubscribe = reg.EventPublisher().SubscribeFunc(subscriber, func(e bulkhead.RegistryEvent) {
		switch e.Type {
		case registry.EventAdded:
			c.bind(e.Added)
		case registry.EventRemoved:
			c.unbind(e.Removed)
		case registry.EventReplaced:
			c.unbind(e.Removed)
			c.bind(e.Added)
		}
	})
	for _, b := range reg.AllBulkheads() {
		c.bind(b)
	}
	return c
}

func (c *BulkheadCollector) bind(b *bulkhead.Bulkhead) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bound[b]; ok {
		return
	}
	name := b.Name()
	c.bound[b] = b.EventPublisher().SubscribeFunc(subscriber, func(e bulkhead.Event) {
		if e.Type != bulkhead.EventCallFinished {
			return
		}
		kind := KindSuccessful
		if e.Failed() {
			kind = KindFailed
		}
		c.duration.WithLabelValues(name, kind).Observe(e.Duration.Seconds())
	})
}

func (c *BulkheadCollector) unbind(b *bulkhead.Bulkhead) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unsubscribe, ok := c.bound[b]; ok {
		unsubscribe()
		delete(c.bound, b)
	}
	c.duration.DeletePartialMatch(stdprometheus.Labels{LabelName: b.Name()})
}

// Describe implements prometheus.Collector.
func (c *BulkheadCollector) Describe(ch chan<- *stdprometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
	ch <- c.calls
	c.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *BulkheadCollector) Collect(ch chan<- stdprometheus.Metric) {
	for _, b := range c.registry.AllBulkheads() {
		name := b.Name()
		m := b.Metrics()
		for _, g := range c.gauges {
			ch <- stdprometheus.MustNewConstMetric(g.desc, stdprometheus.GaugeValue, float64(g.value(m)), name)
		}
		var successful uint64
		if m.FinishedCalls > m.FailedCalls {
			successful = m.FinishedCalls - m.FailedCalls
		}
		ch <- stdprometheus.MustNewConstMetric(c.calls, stdprometheus.CounterValue, float64(successful), name, KindSuccessful)
		ch <- stdprometheus.MustNewConstMetric(c.calls, stdprometheus.CounterValue, float64(m.FailedCalls), name, KindFailed)
		ch <- stdprometheus.MustNewConstMetric(c.calls, stdprometheus.CounterValue, float64(m.RejectedCalls), name, KindRejected)
	}
	c.duration.Collect(ch)
}

// Close stops following the registry. The collector keeps reporting
// gauges and counters but no longer observes durations.
func (c *BulkheadCollector) Close() {
	c.unsubscribe()
	c.mu.Lock()
	defer c.mu.Unlock()
	for b, unsubscribe := range c.bound {
		unsubscribe()
		delete(c.bound, b)
	}
}
