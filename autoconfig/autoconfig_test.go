package autoconfig

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/component"
	"github.com/kbukum/bulwark/config"
	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/logger"
	"github.com/kbukum/bulwark/registry"
	"github.com/kbukum/bulwark/retry"
)

func ptr[T any](v T) *T { return &v }

func buildBulkheads(t *testing.T, props BulkheadProperties, deps BulkheadDeps) *Bulkheads {
	t.Helper()
	deps.Logger = logger.NewNop()
	b, err := NewBulkheadRegistry(props, deps)
	if err != nil {
		t.Fatalf("NewBulkheadRegistry failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Registry.Close() })
	return b
}

func TestNewBulkheadRegistryDisabled(t *testing.T) {
	_, err := NewBulkheadRegistry(BulkheadProperties{Enabled: false}, BulkheadDeps{Logger: logger.NewNop()})
	if !stderrors.Is(err, errors.ErrDisabled) {
		t.Fatalf("expected DISABLED, got %v", err)
	}
}

func TestNewBulkheadRegistryResolvesConfigs(t *testing.T) {
	props := BulkheadProperties{
		Enabled: true,
		Configs: map[string]BulkheadInstanceProperties{
			"default": {MaxConcurrentCalls: ptr(4), MaxThreadPoolSize: ptr(2)},
			"slow":    {MaxConcurrentCalls: ptr(1), MaxQueueSize: ptr(3), MaxThreadPoolSize: ptr(1)},
		},
		Instances: map[string]BulkheadInstanceProperties{
			"orders":    {BaseConfig: "slow", MaxQueueSize: ptr(5), EventConsumerBufferSize: ptr(5)},
			"inventory": {CoreThreadPoolSize: ptr(1), Tags: map[string]string{"team": "stock"}},
		},
		Tags: map[string]string{"env": "test"},
	}
	b := buildBulkheads(t, props, BulkheadDeps{})

	if names := b.Registry.Names(); len(names) != 2 || names[0] != "inventory" || names[1] != "orders" {
		t.Fatalf("expected eager instances [inventory orders], got %v", names)
	}

	orders, err := b.Registry.Find("orders")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if cfg := orders.Config(); cfg.MaxConcurrentCalls != 1 || cfg.MaxQueueSize != 5 || cfg.MaxThreads != 1 {
		t.Errorf("expected slow base with queue override, got %v", cfg)
	}

	inventory, _ := b.Registry.Find("inventory")
	if cfg := inventory.Config(); cfg.MaxConcurrentCalls != 4 || cfg.MaxThreads != 2 || cfg.CoreThreads != 1 {
		t.Errorf("expected default base with core override, got %v", cfg)
	}
	if tags := inventory.Tags(); tags["env"] != "test" || tags["team"] != "stock" {
		t.Errorf("expected merged tags, got %v", tags)
	}

	if def := b.Registry.DefaultConfig(); def.MaxConcurrentCalls != 4 {
		t.Errorf("expected the default entry to back the registry, got %v", def)
	}
	if _, ok := b.Registry.Configuration("slow"); !ok {
		t.Error("expected the slow configuration to be registered")
	}
}

func TestInstanceLowersInheritedMaxThreads(t *testing.T) {
	props := BulkheadProperties{
		Enabled: true,
		Configs: map[string]BulkheadInstanceProperties{
			"default": {MaxConcurrentCalls: ptr(4), MaxThreadPoolSize: ptr(4)},
		},
		Instances: map[string]BulkheadInstanceProperties{
			"orders": {MaxThreadPoolSize: ptr(1)},
		},
	}
	b := buildBulkheads(t, props, BulkheadDeps{})

	orders, err := b.Registry.Find("orders")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if cfg := orders.Config(); cfg.MaxConcurrentCalls != 4 || cfg.MaxThreads != 1 || cfg.CoreThreads != 1 {
		t.Errorf("expected inherited calls with core following the lower max, got %v", cfg)
	}
}

func TestNewBulkheadRegistryAttachesLazyRingBuffers(t *testing.T) {
	props := BulkheadProperties{
		Enabled: true,
		Instances: map[string]BulkheadInstanceProperties{
			"orders": {MaxThreadPoolSize: ptr(1), EventConsumerBufferSize: ptr(3)},
		},
	}
	b := buildBulkheads(t, props, BulkheadDeps{})

	if c := b.EventConsumers.EventConsumer("ThreadPoolBulkhead-orders"); c != nil {
		t.Fatal("expected the ring buffer to be created on the first event")
	}

	orders, _ := b.Registry.Find("orders")
	for i := 0; i < 3; i++ {
		if err := orders.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}

	ring := b.EventConsumers.EventConsumer("ThreadPoolBulkhead-orders")
	if ring == nil {
		t.Fatal("expected the ring buffer after events")
	}
	if ring.Capacity() != 3 || ring.Len() != 3 {
		t.Errorf("expected a full ring of 3, got len=%d cap=%d", ring.Len(), ring.Capacity())
	}
	if last := ring.Events()[2]; last.Type != bulkhead.EventCallFinished {
		t.Errorf("expected the newest event to be CALL_FINISHED, got %v", last.Type)
	}

	dynamic, err := b.Registry.Bulkhead("created-later")
	if err != nil {
		t.Fatalf("Bulkhead failed: %v", err)
	}
	_ = dynamic.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if ring := b.EventConsumers.EventConsumer("ThreadPoolBulkhead-created-later"); ring == nil || ring.Capacity() != DefaultEventConsumerBufferSize {
		t.Errorf("expected a default-sized ring for a dynamic bulkhead, got %v", ring)
	}
}

func TestNewBulkheadRegistryErrors(t *testing.T) {
	tests := []struct {
		name   string
		props  BulkheadProperties
		target error
		field  string
	}{
		{
			name: "struct tag violation",
			props: BulkheadProperties{Enabled: true, Instances: map[string]BulkheadInstanceProperties{
				"orders": {MaxConcurrentCalls: ptr(0)},
			}},
			target: errors.ErrInvalidConfiguration,
			field:  "instances[orders].max_concurrent_calls",
		},
		{
			name: "max below core",
			props: BulkheadProperties{Enabled: true, Instances: map[string]BulkheadInstanceProperties{
				"orders": {CoreThreadPoolSize: ptr(4), MaxThreadPoolSize: ptr(2)},
			}},
			target: errors.ErrInvalidConfiguration,
			field:  "max_thread_pool_size",
		},
		{
			name: "unknown base config",
			props: BulkheadProperties{Enabled: true, Instances: map[string]BulkheadInstanceProperties{
				"orders": {BaseConfig: "missing"},
			}},
			target: errors.ErrNotFound,
		},
		{
			name: "base config cycle",
			props: BulkheadProperties{Enabled: true, Configs: map[string]BulkheadInstanceProperties{
				"a": {BaseConfig: "b"},
				"b": {BaseConfig: "a"},
			}},
			target: errors.ErrInvalidConfiguration,
			field:  "base_config",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBulkheadRegistry(tc.props, BulkheadDeps{Logger: logger.NewNop()})
			if !stderrors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if tc.field == "" {
				return
			}
			var appErr *errors.AppError
			if !stderrors.As(err, &appErr) || appErr.Details["field"] != tc.field {
				t.Errorf("expected field %q, got %v", tc.field, err)
			}
		})
	}
}

func TestCustomizersRunInRegistrationOrder(t *testing.T) {
	var order []string
	customizers := []BulkheadConfigCustomizer{
		CustomizerFunc("orders", func(b *bulkhead.Builder) {
			order = append(order, "first")
			b.MaxConcurrentCalls(10)
		}),
		CustomizerFunc("inventory", func(b *bulkhead.Builder) {
			order = append(order, "other")
		}),
		CustomizerFunc("orders", func(b *bulkhead.Builder) {
			order = append(order, "second")
			b.MaxConcurrentCalls(20)
		}),
	}
	props := BulkheadProperties{
		Enabled: true,
		Instances: map[string]BulkheadInstanceProperties{
			"orders": {MaxConcurrentCalls: ptr(1), MaxThreadPoolSize: ptr(1)},
		},
	}
	b := buildBulkheads(t, props, BulkheadDeps{Customizers: customizers})

	orders, _ := b.Registry.Find("orders")
	if got := orders.Config().MaxConcurrentCalls; got != 20 {
		t.Errorf("expected the last customizer to win with 20, got %d", got)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected [first second], got %v", order)
	}
}

func TestCompositeCustomizerNames(t *testing.T) {
	c := NewCompositeCustomizer(
		CustomizerFunc("b", func(*retry.Config) {}),
		nil,
		CustomizerFunc("a", func(*retry.Config) {}),
	)
	if names := c.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}
	if c.Customize("missing", &retry.Config{}) {
		t.Error("expected no customizer for an unknown name")
	}
	var nilComposite *CompositeCustomizer[*retry.Config]
	if nilComposite.Customize("a", &retry.Config{}) {
		t.Error("a nil composite customizes nothing")
	}
}

func TestRegistryConsumersSeeEagerInstances(t *testing.T) {
	var added []string
	props := BulkheadProperties{
		Enabled: true,
		Instances: map[string]BulkheadInstanceProperties{
			"b": {MaxThreadPoolSize: ptr(1)},
			"a": {MaxThreadPoolSize: ptr(1)},
		},
	}
	buildBulkheads(t, props, BulkheadDeps{
		RegistryConsumers: []bulkhead.RegistryEventConsumer{
			registry.EventConsumerFuncs[*bulkhead.Bulkhead]{
				Added: func(e bulkhead.RegistryEvent) { added = append(added, e.Name) },
			},
		},
	})
	if len(added) != 2 || added[0] != "a" || added[1] != "b" {
		t.Errorf("expected ADDED for [a b], got %v", added)
	}
}

func TestBulkheadPropertiesLoadFromYAML(t *testing.T) {
	type appConfig struct {
		config.ServiceConfig `mapstructure:",squash"`
		Bulkheads            BulkheadProperties `mapstructure:"thread_pool_bulkhead"`
		Retries              RetryProperties    `mapstructure:"retry"`
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yaml := `
name: orders
environment: staging
thread_pool_bulkhead:
  enabled: true
  configs:
    default:
      max_concurrent_calls: 6
      max_thread_pool_size: 2
      keep_alive_duration: 50ms
  instances:
    payments:
      max_queue_size: 2
      event_consumer_buffer_size: 10
      tags:
        team: billing
retry:
  enabled: true
  instances:
    payments:
      max_attempts: 5
      wait_duration: 10ms
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var cfg appConfig
	if err := config.LoadConfig("orders", &cfg, config.WithConfigFile(path), config.WithEnvFile(filepath.Join(dir, ".env"))); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	b := buildBulkheads(t, cfg.Bulkheads, BulkheadDeps{})
	payments, err := b.Registry.Find("payments")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	got := payments.Config()
	if got.MaxConcurrentCalls != 6 || got.MaxQueueSize != 2 || got.MaxThreads != 2 || got.KeepAliveDuration != 50*time.Millisecond {
		t.Errorf("unexpected payments config %v", got)
	}
	if payments.Tags()["team"] != "billing" {
		t.Errorf("expected instance tags, got %v", payments.Tags())
	}
	if cfg.Bulkheads.EventConsumerBufferSize("payments") != 10 {
		t.Errorf("expected buffer size 10, got %d", cfg.Bulkheads.EventConsumerBufferSize("payments"))
	}

	retries, err := NewRetryRegistry(cfg.Retries, RetryDeps{Logger: logger.NewNop()})
	if err != nil {
		t.Fatalf("NewRetryRegistry failed: %v", err)
	}
	rt, err := retries.Registry.Find("payments")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if rt.Config().MaxAttempts != 5 || rt.Config().WaitDuration != 10*time.Millisecond {
		t.Errorf("unexpected retry config %v", rt.Config())
	}
}

func TestNewRetryRegistry(t *testing.T) {
	if _, err := NewRetryRegistry(RetryProperties{}, RetryDeps{Logger: logger.NewNop()}); !stderrors.Is(err, errors.ErrDisabled) {
		t.Fatalf("expected DISABLED, got %v", err)
	}

	props := RetryProperties{
		Enabled: true,
		Configs: map[string]RetryInstanceProperties{
			"fast": {MaxAttempts: ptr(2), WaitDuration: ptr(time.Millisecond), RandomizedWaitFactor: ptr(0.0)},
		},
		Instances: map[string]RetryInstanceProperties{
			"search": {BaseConfig: "fast", EventConsumerBufferSize: ptr(4)},
		},
	}
	retries, err := NewRetryRegistry(props, RetryDeps{
		Logger: logger.NewNop(),
		Customizers: []RetryConfigCustomizer{
			CustomizerFunc("search", func(c *retry.Config) {
				c.RetryIf = func(err error) bool { return err.Error() != "fatal" }
			}),
		},
	})
	if err != nil {
		t.Fatalf("NewRetryRegistry failed: %v", err)
	}

	search, err := retries.Registry.Find("search")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	err = search.Execute(context.Background(), func(ctx context.Context) error { return stderrors.New("flaky") })
	if !stderrors.Is(err, errors.ErrMaxRetriesExceeded) {
		t.Fatalf("expected MAX_RETRIES_EXCEEDED, got %v", err)
	}
	err = search.Execute(context.Background(), func(ctx context.Context) error { return stderrors.New("fatal") })
	if err == nil || err.Error() != "fatal" {
		t.Fatalf("expected the customized predicate to skip retries, got %v", err)
	}

	ring := retries.EventConsumers.EventConsumer("Retry-search")
	if ring == nil || ring.Capacity() != 4 {
		t.Fatalf("expected a ring of 4 named Retry-search, got %v", ring)
	}
	events := ring.Events()
	if len(events) != 3 || events[0].Type != retry.EventRetry || events[1].Type != retry.EventError || events[2].Type != retry.EventIgnoredError {
		t.Errorf("expected [RETRY ERROR IGNORED_ERROR], got %v", events)
	}

	if _, err := NewRetryRegistry(RetryProperties{Enabled: true, Instances: map[string]RetryInstanceProperties{
		"bad": {RandomizedWaitFactor: ptr(2.0)},
	}}, RetryDeps{Logger: logger.NewNop()}); !stderrors.Is(err, errors.ErrInvalidConfiguration) {
		t.Errorf("expected INVALID_CONFIGURATION, got %v", err)
	}
}

func TestBulkheadComponentLifecycle(t *testing.T) {
	props := BulkheadProperties{
		Enabled:   true,
		Instances: map[string]BulkheadInstanceProperties{"orders": {MaxThreadPoolSize: ptr(1)}},
	}
	c := NewBulkheadComponent(props, BulkheadDeps{Logger: logger.NewNop()})
	var _ component.Component = c

	if h := c.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("expected unhealthy before Start, got %+v", h)
	}

	reg := component.NewRegistry(logger.NewNop())
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	b := c.Bulkheads()
	if b == nil {
		t.Fatal("expected bulkheads after Start")
	}
	orders, err := b.Registry.Find("orders")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy || h.Name != BulkheadComponentName {
		t.Errorf("expected healthy, got %+v", h)
	}

	if err := reg.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if !orders.Closed() || c.Bulkheads() != nil {
		t.Error("expected Stop to shut the registry down")
	}
}

func TestBulkheadComponentDisabled(t *testing.T) {
	c := NewBulkheadComponent(BulkheadProperties{}, BulkheadDeps{Logger: logger.NewNop()})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("a disabled component must start cleanly: %v", err)
	}
	if c.Bulkheads() != nil {
		t.Error("expected no registry when disabled")
	}
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy || h.Message != "disabled" {
		t.Errorf("expected healthy disabled status, got %+v", h)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
