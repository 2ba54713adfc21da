package observability

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/component"
	"github.com/kbukum/bulwark/config"
	"github.com/kbukum/bulwark/logger"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig("test-service")

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %s", cfg.ServiceName)
	}
	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected Endpoint 'localhost:4318', got %s", cfg.Endpoint)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected SampleRate 1.0, got %f", cfg.SampleRate)
	}
	if !cfg.Insecure {
		t.Error("expected Insecure to be true")
	}
}

func TestDefaultMeterConfig(t *testing.T) {
	cfg := DefaultMeterConfig("test-service")

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %s", cfg.ServiceName)
	}
	if cfg.Interval != 15*time.Second {
		t.Errorf("expected Interval 15s, got %v", cfg.Interval)
	}
	if cfg.Environment != "development" {
		t.Errorf("expected Environment 'development', got %q", cfg.Environment)
	}
}

func TestConfigForService(t *testing.T) {
	tests := []struct {
		name     string
		svc      config.ServiceConfig
		version  string
		insecure bool
		interval time.Duration
		rate     float64
	}{
		{"bare name", config.ServiceConfig{Name: "orders"}, "1.0.0", true, 15 * time.Second, 1.0},
		{"debug development", config.ServiceConfig{Name: "orders", Environment: "development", Version: "2.3.0", Debug: true}, "2.3.0", true, 5 * time.Second, 1.0},
		{"staging", config.ServiceConfig{Name: "orders", Environment: "staging", Version: "2.3.0"}, "2.3.0", false, 15 * time.Second, 1.0},
		{"production", config.ServiceConfig{Name: "orders", Environment: "production", Version: "2.3.0"}, "2.3.0", false, 15 * time.Second, 0.1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mc := MeterConfigFor(tc.svc)
			if mc.ServiceName != "orders" || mc.ServiceVersion != tc.version {
				t.Errorf("unexpected meter identity %s/%s", mc.ServiceName, mc.ServiceVersion)
			}
			if mc.Insecure != tc.insecure || mc.Interval != tc.interval {
				t.Errorf("expected insecure=%v interval=%v, got %v %v", tc.insecure, tc.interval, mc.Insecure, mc.Interval)
			}

			tcfg := TracerConfigFor(tc.svc)
			if tcfg.ServiceVersion != tc.version || tcfg.Environment != mc.Environment {
				t.Errorf("tracer and meter disagree: %+v vs %+v", tcfg, mc)
			}
			if tcfg.Insecure != tc.insecure || tcfg.SampleRate != tc.rate {
				t.Errorf("expected insecure=%v rate=%v, got %v %v", tc.insecure, tc.rate, tcfg.Insecure, tcfg.SampleRate)
			}
		})
	}
}

func TestNewBulkheadMeter(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Bulkhead("orders"); err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}

	cfg := MeterConfigFor(config.ServiceConfig{Name: "checkout", Environment: "staging", Version: "3.1.0"})
	reader := sdkmetric.NewManualReader()
	mp, inst, err := NewBulkheadMeter(reader, &cfg, reg)
	if err != nil {
		t.Fatalf("NewBulkheadMeter failed: %v", err)
	}
	t.Cleanup(func() {
		_ = inst.Close()
		_ = mp.Shutdown(context.Background())
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	attrs := rm.Resource.Set()
	if v, ok := attrs.Value("service.name"); !ok || v.AsString() != "checkout" {
		t.Errorf("expected service.name checkout, got %v", v)
	}
	if v, ok := attrs.Value("service.version"); !ok || v.AsString() != "3.1.0" {
		t.Errorf("expected service.version 3.1.0, got %v", v)
	}

	var found bool
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != BulkheadMeterName {
			continue
		}
		for _, m := range sm.Metrics {
			if m.Name == "bulkhead.available.concurrent.calls" {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("expected bulkhead gauges under scope %s", BulkheadMeterName)
	}
}

// --- helpers ---

func newTestRegistry(t *testing.T) *bulkhead.Registry {
	t.Helper()
	cfg, err := bulkhead.NewBuilder().MaxConcurrentCalls(1).MaxThreads(1).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	reg, err := bulkhead.NewRegistry(bulkhead.RegistryOptions{
		DefaultConfig: &cfg,
		Tags:          map[string]string{"team": "core"},
		Logger:        logger.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func newTestInstruments(t *testing.T, reg *bulkhead.Registry) (*BulkheadInstruments, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	inst, err := NewBulkheadInstruments(provider.Meter("test"), reg)
	if err != nil {
		t.Fatalf("NewBulkheadInstruments failed: %v", err)
	}
	return inst, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func hasAttr(set attribute.Set, key, want string) bool {
	v, ok := set.Value(attribute.Key(key))
	return ok && v.AsString() == want
}

func gaugeValue(t *testing.T, metrics map[string]metricdata.Metrics, name, bulkheadName string) int64 {
	t.Helper()
	m, ok := metrics[name]
	if !ok {
		t.Fatalf("metric %s not collected", name)
	}
	g, ok := m.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("metric %s is %T, not an int64 gauge", name, m.Data)
	}
	for _, dp := range g.DataPoints {
		if hasAttr(dp.Attributes, AttrBulkheadName, bulkheadName) {
			return dp.Value
		}
	}
	t.Fatalf("no %s data point for %s", name, bulkheadName)
	return 0
}

func callCount(metrics map[string]metricdata.Metrics, bulkheadName, kind string) int64 {
	m, ok := metrics["bulkhead.calls"]
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	for _, dp := range sum.DataPoints {
		if hasAttr(dp.Attributes, AttrBulkheadName, bulkheadName) && hasAttr(dp.Attributes, AttrCallKind, kind) {
			return dp.Value
		}
	}
	return 0
}

// --- instruments ---

func TestBulkheadInstrumentsGauges(t *testing.T) {
	reg := newTestRegistry(t)
	b, err := reg.Bulkhead("orders")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}
	inst, reader := newTestInstruments(t, reg)
	defer inst.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	f, err := b.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	metrics := collect(t, reader)
	if got := gaugeValue(t, metrics, "bulkhead.max.allowed.concurrent.calls", "orders"); got != 1 {
		t.Errorf("expected max allowed 1, got %d", got)
	}
	if got := gaugeValue(t, metrics, "bulkhead.available.concurrent.calls", "orders"); got != 0 {
		t.Errorf("expected no available calls while busy, got %d", got)
	}
	if got := gaugeValue(t, metrics, "bulkhead.active.thread.count", "orders"); got != 1 {
		t.Errorf("expected one active call, got %d", got)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	metrics = collect(t, reader)
	if got := gaugeValue(t, metrics, "bulkhead.available.concurrent.calls", "orders"); got != 1 {
		t.Errorf("expected the slot to be free again, got %d", got)
	}
	g := metrics["bulkhead.queue.depth"].Data.(metricdata.Gauge[int64])
	if !hasAttr(g.DataPoints[0].Attributes, "team", "core") {
		t.Errorf("expected registry tags on data points, got %v", g.DataPoints[0].Attributes)
	}
}

func TestBulkheadInstrumentsCountCalls(t *testing.T) {
	reg := newTestRegistry(t)
	early, err := reg.Bulkhead("early")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}
	inst, reader := newTestInstruments(t, reg)
	defer inst.Close()

	late, err := reg.Bulkhead("late")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}

	ctx := context.Background()
	succeed := func(ctx context.Context) error { return nil }
	boom := func(ctx context.Context) error { return fmt.Errorf("boom") }

	if err := early.Execute(ctx, succeed); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := early.Execute(ctx, boom); err == nil {
		t.Fatal("expected task error")
	}
	if err := late.Execute(ctx, succeed); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	release := make(chan struct{})
	f, err := late.Submit(ctx, func(ctx context.Context) error { <-release; return nil })
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := late.Submit(ctx, succeed); err == nil {
		t.Fatal("expected rejection while saturated")
	}
	close(release)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.Wait(waitCtx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	metrics := collect(t, reader)
	tests := []struct {
		bulkhead, kind string
		want           int64
	}{
		{"early", CallKindPermitted, 2},
		{"early", CallKindSuccessful, 1},
		{"early", CallKindFailed, 1},
		{"late", CallKindPermitted, 2},
		{"late", CallKindSuccessful, 2},
		{"late", CallKindRejected, 1},
	}
	for _, tc := range tests {
		if got := callCount(metrics, tc.bulkhead, tc.kind); got != tc.want {
			t.Errorf("%s %s: expected %d, got %d", tc.bulkhead, tc.kind, tc.want, got)
		}
	}

	h, ok := metrics["bulkhead.call.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected a call duration histogram")
	}
	var recorded uint64
	for _, dp := range h.DataPoints {
		recorded += dp.Count
	}
	if recorded != 4 {
		t.Errorf("expected 4 recorded durations, got %d", recorded)
	}
}

func TestBulkheadInstrumentsFollowRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	inst, _ := newTestInstruments(t, reg)

	b, err := reg.Bulkhead("temp")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}
	if len(b.EventPublisher().Subscribers()) != 1 {
		t.Fatalf("expected instruments to subscribe, got %v", b.EventPublisher().Subscribers())
	}

	reg.Remove("temp")
	if len(b.EventPublisher().Subscribers()) != 0 {
		t.Errorf("expected unsubscribe on removal, got %v", b.EventPublisher().Subscribers())
	}

	other, err := reg.Bulkhead("other")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}
	if err := inst.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(other.EventPublisher().Subscribers()) != 0 {
		t.Errorf("expected Close to unsubscribe, got %v", other.EventPublisher().Subscribers())
	}
	if len(reg.EventPublisher().Subscribers()) != 0 {
		t.Errorf("expected Close to leave the registry, got %v", reg.EventPublisher().Subscribers())
	}
}

// --- tracing ---

func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestTracingTask(t *testing.T) {
	exporter := useTestTracer(t)
	reg := newTestRegistry(t)
	b, err := reg.Bulkhead("payments")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}

	ctx := context.Background()
	if err := b.Execute(ctx, TracingTask(b, func(ctx context.Context) error {
		SetSpanAttribute(ctx, "order.id", "o-1")
		return nil
	})); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := b.Execute(ctx, TracingTask(b, func(ctx context.Context) error {
		return fmt.Errorf("card declined")
	})); err == nil {
		t.Fatal("expected task error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Name != SpanBulkheadCall {
			t.Errorf("expected span %q, got %q", SpanBulkheadCall, s.Name)
		}
		if !hasAttr(attribute.NewSet(s.Attributes...), AttrBulkheadName, "payments") {
			t.Errorf("expected bulkhead.name attribute, got %v", s.Attributes)
		}
	}
	if !hasAttr(attribute.NewSet(spans[0].Attributes...), "order.id", "o-1") {
		t.Errorf("expected task attribute on span, got %v", spans[0].Attributes)
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("expected successful span not to be marked as error")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "card declined" {
		t.Errorf("expected error status, got %+v", spans[1].Status)
	}
}

func TestSetSpanAttribute(t *testing.T) {
	exporter := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "test-attrs")
	SetSpanAttribute(ctx, "string-key", "value")
	SetSpanAttribute(ctx, "int-key", 42)
	SetSpanAttribute(ctx, "int64-key", int64(100))
	SetSpanAttribute(ctx, "float-key", 3.14)
	SetSpanAttribute(ctx, "bool-key", true)
	SetSpanAttribute(ctx, "string-slice-key", []string{"a", "b"})
	// Unsupported types are ignored.
	SetSpanAttribute(ctx, "unsupported-key", struct{}{})
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := len(spans[0].Attributes); got != 6 {
		t.Errorf("expected 6 attributes, got %d: %v", got, spans[0].Attributes)
	}
}

func TestSetSpanError(t *testing.T) {
	exporter := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "test-error")
	SetSpanError(ctx, fmt.Errorf("test error"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Fatalf("expected one errored span, got %+v", spans)
	}
	if len(spans[0].Events) != 1 {
		t.Errorf("expected the error to be recorded as an event, got %d", len(spans[0].Events))
	}
}

func TestSpanHelpersWithoutSpan(t *testing.T) {
	ctx := context.Background()
	if SpanFromContext(ctx) == nil {
		t.Fatal("expected non-nil noop span")
	}
	SetSpanAttribute(ctx, "key", "value")
	SetSpanError(ctx, fmt.Errorf("no span error"))
}

func TestInitTracer(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
	}{
		{"always sample", 1.0},
		{"never sample", 0.0},
		{"ratio based", 0.5},
	}

	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTracerConfig("test")
			cfg.SampleRate = tc.sampleRate

			tp, err := InitTracer(context.Background(), &cfg)
			if err != nil {
				t.Skipf("InitTracer failed: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = tp.Shutdown(ctx)
		})
	}
}

func TestInitMeter(t *testing.T) {
	prev := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	cfg := DefaultMeterConfig("test")
	mp, err := InitMeter(context.Background(), &cfg)
	if err != nil {
		t.Skipf("InitMeter failed: %v", err)
	}
	if Meter("test-meter") == nil {
		t.Fatal("expected non-nil meter")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = mp.Shutdown(ctx)
}

// --- health ---

func TestNewServiceHealth(t *testing.T) {
	sh := NewServiceHealth("my-service", "1.0.0")

	if sh.Service != "my-service" {
		t.Errorf("expected Service 'my-service', got %s", sh.Service)
	}
	if sh.Version != "1.0.0" {
		t.Errorf("expected Version '1.0.0', got %s", sh.Version)
	}
	if sh.Status != HealthStatusUp {
		t.Errorf("expected Status 'up', got %s", sh.Status)
	}
}

func TestServiceHealthAddComponents(t *testing.T) {
	tests := []struct {
		name    string
		results []component.Health
		want    HealthStatus
	}{
		{"all healthy", []component.Health{{Name: "a", Status: component.StatusHealthy}}, HealthStatusUp},
		{"degraded", []component.Health{
			{Name: "a", Status: component.StatusHealthy},
			{Name: "b", Status: component.StatusDegraded, Message: "saturated: orders"},
		}, HealthStatusDegraded},
		{"unhealthy is down", []component.Health{
			{Name: "a", Status: component.StatusDegraded},
			{Name: "b", Status: component.StatusUnhealthy},
		}, HealthStatusDown},
		{"degraded does not override down", []component.Health{
			{Name: "a", Status: component.StatusUnhealthy},
			{Name: "b", Status: component.StatusDegraded},
		}, HealthStatusDown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sh := NewServiceHealth("svc", "1.0.0")
			sh.AddComponents(tc.results...)
			if sh.Status != tc.want {
				t.Errorf("expected %s, got %s", tc.want, sh.Status)
			}
			if len(sh.Components) != len(tc.results) {
				t.Errorf("expected %d components, got %d", len(tc.results), len(sh.Components))
			}
		})
	}
}

func TestServiceHealthCheckRegistry(t *testing.T) {
	reg := newTestRegistry(t)
	b, err := reg.Bulkhead("busy")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}

	release := make(chan struct{})
	f, err := b.Submit(context.Background(), func(ctx context.Context) error { <-release; return nil })
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	sh := NewServiceHealth("svc", "1.0.0").Check(context.Background(), reg)
	if sh.Status != HealthStatusDegraded {
		t.Errorf("expected degraded while saturated, got %s", sh.Status)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}
