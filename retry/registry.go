package retry

import (
	"fmt"
	"strings"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
	"github.com/kbukum/bulwark/registry"
)

// RegistryEvent is an entry event of a retry Registry.
type RegistryEvent = registry.Event[*Retry]

// RegistryEventConsumer observes retries being added, removed or replaced.
type RegistryEventConsumer = registry.EventConsumer[*Retry]

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// DefaultConfig backs retries created without a configuration. Nil
	// means DefaultConfig().
	DefaultConfig *Config
	Configs       map[string]Config
	Tags          map[string]string
	Consumers     []RegistryEventConsumer
	Logger        *logger.Logger
}

// Registry creates and owns named retries.
type Registry struct {
	core *registry.Registry[*Retry, Config]
	log  *logger.Logger
}

// NewRegistry validates every configuration and creates an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	defaultCfg := DefaultConfig()
	if opts.DefaultConfig != nil {
		defaultCfg = *opts.DefaultConfig
	}
	if err := defaultCfg.Validate(); err != nil {
		return nil, fmt.Errorf("default retry config: %w", err)
	}
	for name, cfg := range opts.Configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("retry config %q: %w", name, err)
		}
	}

	log := logger.OrGlobal(opts.Logger, "retry-registry")
	return &Registry{
		core: registry.New(registry.Options[*Retry, Config]{
			Kind:          "retry",
			DefaultConfig: defaultCfg,
			Configs:       opts.Configs,
			Tags:          opts.Tags,
			Consumer:      registry.NewCompositeEventConsumer(log, opts.Consumers...),
			Logger:        log,
		}),
		log: log,
	}, nil
}

// Retry returns the retry named name, creating it from the default
// configuration on first use.
func (r *Registry) Retry(name string, opts ...Option) (*Retry, error) {
	return r.computeIfAbsent(name, r.core.DefaultConfig(), opts)
}

// RetryWithConfig returns the retry named name, creating it with cfg if
// absent. An existing retry keeps its configuration; use Replace to swap it.
func (r *Registry) RetryWithConfig(name string, cfg Config, opts ...Option) (*Retry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return r.computeIfAbsent(name, cfg, opts)
}

// RetryWithConfigName returns the retry named name, creating it from the
// named configuration. An unknown configuration name is NOT_FOUND.
func (r *Registry) RetryWithConfigName(name, configName string, opts ...Option) (*Retry, error) {
	cfg, ok := r.core.Configuration(configName)
	if !ok {
		return nil, errors.NotFound("retry configuration", configName)
	}
	return r.computeIfAbsent(name, cfg, opts)
}

func (r *Registry) computeIfAbsent(name string, cfg Config, opts []Option) (*Retry, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidConfiguration("name", "retry name must not be empty")
	}
	rt, _, err := r.core.ComputeIfAbsent(name, func() (*Retry, error) {
		var o options
		for _, opt := range opts {
			opt(&o)
		}
		return New(name, cfg, WithTags(r.core.MergeTags(o.tags)), WithLogger(r.log))
	})
	return rt, err
}

// Find returns the retry named name, or NOT_FOUND.
func (r *Registry) Find(name string) (*Retry, error) { return r.core.MustFind(name) }

// Replace registers rt under name.
func (r *Registry) Replace(name string, rt *Retry) { r.core.Replace(name, rt) }

// Remove unregisters the retry named name. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) { r.core.Remove(name) }

// AllRetries returns every retry, ordered by name.
func (r *Registry) AllRetries() []*Retry { return r.core.All() }

// Names returns every retry name in sorted order.
func (r *Registry) Names() []string { return r.core.Names() }

// AddConfiguration stores a named configuration. "default" is reserved.
func (r *Registry) AddConfiguration(name string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return r.core.AddConfiguration(name, cfg)
}

// Configuration returns the named configuration.
func (r *Registry) Configuration(name string) (Config, bool) { return r.core.Configuration(name) }

// DefaultConfig returns the registry's default configuration.
func (r *Registry) DefaultConfig() Config { return r.core.DefaultConfig() }

// Tags returns the registry-wide tags.
func (r *Registry) Tags() map[string]string { return r.core.Tags() }

// EventPublisher returns the publisher of registry entry events.
func (r *Registry) EventPublisher() *event.Publisher[RegistryEvent] { return r.core.EventPublisher() }
