package autoconfig

import (
	"fmt"
	"time"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
	"github.com/kbukum/bulwark/registry"
	"github.com/kbukum/bulwark/retry"
	"github.com/kbukum/bulwark/validation"
)

// RetryConsumerPrefix prefixes the event consumer name of every retry.
const RetryConsumerPrefix = "Retry"

// RetryComponentName names the retry registry in errors and logs.
const RetryComponentName = "retry"

// RetryProperties configures the retry registry.
type RetryProperties struct {
	Enabled   bool                               `mapstructure:"enabled"`
	Configs   map[string]RetryInstanceProperties `mapstructure:"configs" validate:"dive"`
	Instances map[string]RetryInstanceProperties `mapstructure:"instances" validate:"dive"`
	Tags      map[string]string                  `mapstructure:"tags"`
}

// RetryInstanceProperties configures one retry or shared configuration.
// Nil fields inherit from the base configuration.
type RetryInstanceProperties struct {
	BaseConfig                   string            `mapstructure:"base_config"`
	MaxAttempts                  *int              `mapstructure:"max_attempts" validate:"omitempty,gt=0"`
	WaitDuration                 *time.Duration    `mapstructure:"wait_duration" validate:"omitempty,gte=0"`
	MaxWaitDuration              *time.Duration    `mapstructure:"max_wait_duration" validate:"omitempty,gte=0"`
	ExponentialBackoffMultiplier *float64          `mapstructure:"exponential_backoff_multiplier" validate:"omitempty,gte=1"`
	RandomizedWaitFactor         *float64          `mapstructure:"randomized_wait_factor" validate:"omitempty,gte=0,lte=1"`
	EventConsumerBufferSize      *int              `mapstructure:"event_consumer_buffer_size" validate:"omitempty,gt=0"`
	Tags                         map[string]string `mapstructure:"tags"`
}

func (p RetryInstanceProperties) apply(c *retry.Config) {
	if p.MaxAttempts != nil {
		c.MaxAttempts = *p.MaxAttempts
	}
	if p.WaitDuration != nil {
		c.WaitDuration = *p.WaitDuration
	}
	if p.MaxWaitDuration != nil {
		c.MaxWaitDuration = *p.MaxWaitDuration
	}
	if p.ExponentialBackoffMultiplier != nil {
		c.Multiplier = *p.ExponentialBackoffMultiplier
	}
	if p.RandomizedWaitFactor != nil {
		c.Jitter = *p.RandomizedWaitFactor
	}
}

// EventConsumerBufferSize returns the ring-buffer size for the named
// instance.
func (p RetryProperties) EventConsumerBufferSize(name string) int {
	if inst, ok := p.Instances[name]; ok && inst.EventConsumerBufferSize != nil {
		return *inst.EventConsumerBufferSize
	}
	return DefaultEventConsumerBufferSize
}

// Config resolves the configuration of the named instance or shared
// configuration the same way BulkheadProperties.Config does.
func (p RetryProperties) Config(name string, inst RetryInstanceProperties, customizer *CompositeCustomizer[*retry.Config]) (retry.Config, error) {
	return p.resolve(name, inst, customizer, map[string]bool{})
}

func (p RetryProperties) resolve(name string, inst RetryInstanceProperties, customizer *CompositeCustomizer[*retry.Config], seen map[string]bool) (retry.Config, error) {
	cfg := retry.DefaultConfig()

	baseName := inst.BaseConfig
	if baseName == "" && name != registry.DefaultConfigName {
		if _, ok := p.Configs[registry.DefaultConfigName]; ok {
			baseName = registry.DefaultConfigName
		}
	}
	if baseName != "" {
		baseProps, ok := p.Configs[baseName]
		if !ok {
			return retry.Config{}, errors.NotFound("retry configuration", baseName)
		}
		if seen[baseName] {
			return retry.Config{}, errors.InvalidConfiguration("base_config",
				fmt.Sprintf("configuration %q inherits from itself", baseName))
		}
		seen[baseName] = true
		base, err := p.resolve(baseName, baseProps, customizer, seen)
		if err != nil {
			return retry.Config{}, err
		}
		cfg = base
	}

	inst.apply(&cfg)
	customizer.Customize(name, &cfg)

	if err := cfg.Validate(); err != nil {
		return retry.Config{}, fmt.Errorf("retry %q: %w", name, err)
	}
	return cfg, nil
}

// RetryDeps are the collaborators of NewRetryRegistry. Every field is
// optional.
type RetryDeps struct {
	Customizers       []RetryConfigCustomizer
	RegistryConsumers []retry.RegistryEventConsumer
	EventConsumers    *event.ConsumerRegistry[retry.Event]
	Logger            *logger.Logger
}

// Retries is a built retry registry and the ring buffers observing its
// instances.
type Retries struct {
	Registry       *retry.Registry
	EventConsumers *event.ConsumerRegistry[retry.Event]
}

// NewRetryRegistry builds a retry registry from props, mirroring
// NewBulkheadRegistry. Event consumers are named "Retry-<name>".
func NewRetryRegistry(props RetryProperties, deps RetryDeps) (*Retries, error) {
	if !props.Enabled {
		return nil, errors.Disabled(RetryComponentName)
	}
	if err := validation.Validate(props); err != nil {
		return nil, err
	}
	log := logger.OrGlobal(deps.Logger, RetryComponentName)
	customizer := NewCompositeCustomizer(deps.Customizers...)

	var defaultCfg *retry.Config
	configs := make(map[string]retry.Config, len(props.Configs))
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

	reg, err := retry.NewRegistry(retry.RegistryOptions{
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
		consumers = event.NewConsumerRegistry[retry.Event]()
	}
	reg.EventPublisher().SubscribeFunc("retry-event-consumers", func(e retry.RegistryEvent) {
		if e.Type == registry.EventRemoved {
			return
		}
		name := consumerName(RetryConsumerPrefix, e.Added.Name())
		e.Added.EventPublisher().Subscribe(name, consumers.Lazy(name, props.EventConsumerBufferSize(e.Added.Name())))
	})

	for _, name := range sortedKeys(props.Instances) {
		inst := props.Instances[name]
		cfg, err := props.Config(name, inst, customizer)
		if err != nil {
			return nil, err
		}
		if _, err := reg.RetryWithConfig(name, cfg, retry.WithTags(inst.Tags)); err != nil {
			return nil, err
		}
	}

	log.Info("Retry registry created", logger.Fields("instances", len(props.Instances), "configs", len(props.Configs)))
	return &Retries{Registry: reg, EventConsumers: consumers}, nil
}
