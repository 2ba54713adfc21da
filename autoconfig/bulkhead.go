package autoconfig

import (
	"fmt"
	"sort"
	"time"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
	"github.com/kbukum/bulwark/registry"
	"github.com/kbukum/bulwark/validation"
)

// DefaultEventConsumerBufferSize is the ring-buffer size used when an
// instance does not set one.
const DefaultEventConsumerBufferSize = event.DefaultBufferSize

// BulkheadConsumerPrefix prefixes the event consumer name of every bulkhead.
const BulkheadConsumerPrefix = "ThreadPoolBulkhead"

// BulkheadProperties configures the thread-pool bulkhead registry.
type BulkheadProperties struct {
	// Enabled gates whether the registry is built at all.
	Enabled bool `mapstructure:"enabled"`

	// Configs are shared configurations instances can name as BaseConfig.
	// A "default" entry backs every instance without a BaseConfig.
	Configs map[string]BulkheadInstanceProperties `mapstructure:"configs" validate:"dive"`

	// Instances are created eagerly when the registry is built.
	Instances map[string]BulkheadInstanceProperties `mapstructure:"instances" validate:"dive"`

	// Tags are applied to every bulkhead.
	Tags map[string]string `mapstructure:"tags"`
}

// BulkheadInstanceProperties configures one bulkhead or shared
// configuration. Nil fields inherit from the base configuration.
type BulkheadInstanceProperties struct {
	BaseConfig              string            `mapstructure:"base_config"`
	MaxConcurrentCalls      *int              `mapstructure:"max_concurrent_calls" validate:"omitempty,gt=0"`
	MaxQueueSize            *int              `mapstructure:"max_queue_size" validate:"omitempty,gte=0"`
	CoreThreadPoolSize      *int              `mapstructure:"core_thread_pool_size" validate:"omitempty,gte=0"`
	MaxThreadPoolSize       *int              `mapstructure:"max_thread_pool_size" validate:"omitempty,gte=1"`
	KeepAliveDuration       *time.Duration    `mapstructure:"keep_alive_duration" validate:"omitempty,gte=0"`
	QueueCapacity           *int              `mapstructure:"queue_capacity" validate:"omitempty,gte=0"`
	MaxWaitDuration         *time.Duration    `mapstructure:"max_wait_duration" validate:"omitempty,gte=0"`
	EventConsumerBufferSize *int              `mapstructure:"event_consumer_buffer_size" validate:"omitempty,gt=0"`
	Tags                    map[string]string `mapstructure:"tags"`
}

func (p BulkheadInstanceProperties) apply(b *bulkhead.Builder) {
	if p.MaxConcurrentCalls != nil {
		b.MaxConcurrentCalls(*p.MaxConcurrentCalls)
	}
	if p.MaxQueueSize != nil {
		b.MaxQueueSize(*p.MaxQueueSize)
	}
	if p.CoreThreadPoolSize != nil {
		b.CoreThreads(*p.CoreThreadPoolSize)
	}
	if p.MaxThreadPoolSize != nil {
		b.MaxThreads(*p.MaxThreadPoolSize)
	}
	if p.KeepAliveDuration != nil {
		b.KeepAliveDuration(*p.KeepAliveDuration)
	}
	if p.QueueCapacity != nil {
		b.QueueCapacity(*p.QueueCapacity)
	}
	if p.MaxWaitDuration != nil {
		b.MaxWaitDuration(*p.MaxWaitDuration)
	}
}

// EventConsumerBufferSize returns the ring-buffer size for the named
// instance.
func (p BulkheadProperties) EventConsumerBufferSize(name string) int {
	if inst, ok := p.Instances[name]; ok && inst.EventConsumerBufferSize != nil {
		return *inst.EventConsumerBufferSize
	}
	return DefaultEventConsumerBufferSize
}

// Config resolves the configuration of the named instance or shared
// configuration: its base, then its own fields, then the customizers
// registered for name.
func (p BulkheadProperties) Config(name string, inst BulkheadInstanceProperties, customizer *CompositeCustomizer[*bulkhead.Builder]) (bulkhead.Config, error) {
	return p.resolve(name, inst, customizer, map[string]bool{})
}

func (p BulkheadProperties) resolve(name string, inst BulkheadInstanceProperties, customizer *CompositeCustomizer[*bulkhead.Builder], seen map[string]bool) (bulkhead.Config, error) {
	b := bulkhead.NewBuilder()

	baseName := inst.BaseConfig
	if baseName == "" && name != registry.DefaultConfigName {
		if _, ok := p.Configs[registry.DefaultConfigName]; ok {
			baseName = registry.DefaultConfigName
		}
	}
	if baseName != "" {
		baseProps, ok := p.Configs[baseName]
		if !ok {
			return bulkhead.Config{}, errors.NotFound("bulkhead configuration", baseName)
		}
		if seen[baseName] {
			return bulkhead.Config{}, errors.InvalidConfiguration("base_config",
				fmt.Sprintf("configuration %q inherits from itself", baseName))
		}
		seen[baseName] = true
		base, err := p.resolve(baseName, baseProps, customizer, seen)
		if err != nil {
			return bulkhead.Config{}, err
		}
		b = bulkhead.BuilderFrom(base)
	}

	inst.apply(b)
	customizer.Customize(name, b)

	cfg, err := b.Build()
	if err != nil {
		return bulkhead.Config{}, fmt.Errorf("bulkhead %q: %w", name, err)
	}
	return cfg, nil
}

// BulkheadDeps are the collaborators of NewBulkheadRegistry. Every field
// is optional.
type BulkheadDeps struct {
	Customizers       []BulkheadConfigCustomizer
	RegistryConsumers []bulkhead.RegistryEventConsumer
	// EventConsumers receives the per-bulkhead ring buffers. Nil creates a
	// new registry.
	EventConsumers *event.ConsumerRegistry[bulkhead.Event]
	Logger         *logger.Logger
}

// Bulkheads is a built bulkhead registry and the ring buffers observing
// its instances.
type Bulkheads struct {
	Registry       *bulkhead.Registry
	EventConsumers *event.ConsumerRegistry[bulkhead.Event]
}

// NewBulkheadRegistry builds a bulkhead registry from props. It returns a
// DISABLED error when props are not enabled, and INVALID_CONFIGURATION or
// NOT_FOUND when a configuration cannot be resolved. Configured instances
// are created before it returns.
func NewBulkheadRegistry(props BulkheadProperties, deps BulkheadDeps) (*Bulkheads, error) {
	if !props.Enabled {
		return nil, errors.Disabled(BulkheadComponentName)
	}
	if err := validation.Validate(props); err != nil {
		return nil, err
	}
	log := logger.OrGlobal(deps.Logger, BulkheadComponentName)
	customizer := NewCompositeCustomizer(deps.Customizers...)

	var defaultCfg *bulkhead.Config
	configs := make(map[string]bulkhead.Config, len(props.Configs))
	for _, name := range sortedKeys(props.Configs) {
		cfg, err := props.Config(name, props.Configs[name], customizer)
		if err != nil {
			return nil, err
		}
		if name == registry.DefaultConfigName {
			defaultCfg = &cfg
			continue
		}
		configs[name] = cfg
	}

	reg, err := bulkhead.NewRegistry(bulkhead.RegistryOptions{
		DefaultConfig: defaultCfg,
		Configs:       configs,
		Tags:          props.Tags,
		Consumers:     deps.RegistryConsumers,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	consumers := deps.EventConsumers
	if consumers == nil {
		consumers = event.NewConsumerRegistry[bulkhead.Event]()
	}
	reg.EventPublisher().SubscribeFunc("bulkhead-event-consumers", func(e bulkhead.RegistryEvent) {
		if e.Type == registry.EventRemoved {
			return
		}
		name := consumerName(BulkheadConsumerPrefix, e.Added.Name())
		e.Added.EventPublisher().Subscribe(name, consumers.Lazy(name, props.EventConsumerBufferSize(e.Added.Name())))
	})

	for _, name := range sortedKeys(props.Instances) {
		inst := props.Instances[name]
		cfg, err := props.Config(name, inst, customizer)
		if err == nil {
			_, err = reg.BulkheadWithConfig(name, cfg, bulkhead.WithTags(inst.Tags))
		}
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
	}

	log.Info("Bulkhead registry created", logger.Fields("instances", len(props.Instances), "configs", len(props.Configs)))
	return &Bulkheads{Registry: reg, EventConsumers: consumers}, nil
}

func consumerName(prefix, name string) string {
	return prefix + "-" + name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
