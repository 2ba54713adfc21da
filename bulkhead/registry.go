package bulkhead

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kbukum/bulwark/component"
	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
	"github.com/kbukum/bulwark/registry"
)

// RegistryEvent is an entry event of a bulkhead Registry.
type RegistryEvent = registry.Event[*Bulkhead]

// RegistryEventConsumer observes bulkheads being added, removed or replaced.
type RegistryEventConsumer = registry.EventConsumer[*Bulkhead]

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// DefaultConfig backs bulkheads created without a configuration. Nil
	// means DefaultConfig().
	DefaultConfig *Config
	// Configs are named configurations instances can refer to.
	Configs map[string]Config
	// Tags are merged into every bulkhead's tags.
	Tags map[string]string
	// Consumers observe registry entry events, in order.
	Consumers []RegistryEventConsumer
	Logger    *logger.Logger
}

// Registry creates and owns named bulkheads.
type Registry struct {
	core *registry.Registry[*Bulkhead, Config]
	log  *logger.Logger
}

// NewRegistry validates every configuration and creates an empty registry.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	defaultCfg := DefaultConfig()
	if opts.DefaultConfig != nil {
		defaultCfg = *opts.DefaultConfig
	}
	if err := defaultCfg.Validate(); err != nil {
		return nil, fmt.Errorf("default bulkhead config: %w", err)
	}
	for name, cfg := range opts.Configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("bulkhead config %q: %w", name, err)
		}
	}

	log := logger.OrGlobal(opts.Logger, "bulkhead-registry")
	return &Registry{
		core: registry.New(registry.Options[*Bulkhead, Config]{
			Kind:          "bulkhead",
			DefaultConfig: defaultCfg,
			Configs:       opts.Configs,
			Tags:          opts.Tags,
			Consumer:      registry.NewCompositeEventConsumer(log, opts.Consumers...),
			Logger:        log,
		}),
		log: log,
	}, nil
}

// Bulkhead returns the bulkhead named name, creating it from the default
// configuration on first use. Concurrent first calls create exactly one.
func (r *Registry) Bulkhead(name string, opts ...Option) (*Bulkhead, error) {
	return r.computeIfAbsent(name, func() (Config, error) { return r.core.DefaultConfig(), nil }, opts)
}

// BulkheadWithConfig returns the bulkhead named name, creating it with cfg
// if absent. An existing bulkhead whose configuration differs from cfg is
// reconfigured in place; the last caller's configuration wins.
func (r *Registry) BulkheadWithConfig(name string, cfg Config, opts ...Option) (*Bulkhead, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := r.computeIfAbsent(name, func() (Config, error) { return cfg, nil }, opts)
	if err != nil {
		return nil, err
	}
	if b.Config() != cfg {
		if err := b.Reconfigure(cfg); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// BulkheadWithSupplier returns the bulkhead named name, calling supplier
// for its configuration only if the bulkhead has to be created.
func (r *Registry) BulkheadWithSupplier(name string, supplier func() (Config, error), opts ...Option) (*Bulkhead, error) {
	return r.computeIfAbsent(name, supplier, opts)
}

// BulkheadWithConfigName returns the bulkhead named name, creating it from
// the named configuration. An unknown configuration name is NOT_FOUND.
func (r *Registry) BulkheadWithConfigName(name, configName string, opts ...Option) (*Bulkhead, error) {
	cfg, ok := r.core.Configuration(configName)
	if !ok {
		return nil, errors.NotFound("bulkhead configuration", configName)
	}
	return r.computeIfAbsent(name, func() (Config, error) { return cfg, nil }, opts)
}

func (r *Registry) computeIfAbsent(name string, supplier func() (Config, error), opts []Option) (*Bulkhead, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidConfiguration("name", "bulkhead name must not be empty")
	}
	b, _, err := r.core.ComputeIfAbsent(name, func() (*Bulkhead, error) {
		cfg, err := supplier()
		if err != nil {
			return nil, err
		}
		var o options
		for _, opt := range opts {
			opt(&o)
		}
		return New(name, cfg, WithTags(r.core.MergeTags(o.tags)), WithLogger(r.log))
	})
	return b, err
}

// Find returns the bulkhead named name, or NOT_FOUND.
func (r *Registry) Find(name string) (*Bulkhead, error) {
	return r.core.MustFind(name)
}

// Replace registers b under name. A displaced bulkhead is closed and
// finishes its admitted calls.
func (r *Registry) Replace(name string, b *Bulkhead) {
	if prev, replaced := r.core.Replace(name, b); replaced && prev != b {
		_ = prev.Close()
	}
}

// Remove closes and unregisters the bulkhead named name. Removing an
// unknown or already removed name is a no-op.
func (r *Registry) Remove(name string) {
	if b, ok := r.core.Remove(name); ok {
		_ = b.Close()
	}
}

// AllBulkheads returns every bulkhead, ordered by name.
func (r *Registry) AllBulkheads() []*Bulkhead { return r.core.All() }

// Names returns every bulkhead name in sorted order.
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

// Close removes and closes every bulkhead.
func (r *Registry) Close() error {
	for _, b := range r.core.Drain() {
		_ = b.Close()
	}
	return nil
}

// Shutdown removes every bulkhead and waits for all of them to terminate.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, b := range r.core.Drain() {
		if err := b.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bulkhead %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// --- component.Component ---

var _ component.Component = (*Registry)(nil)

// Name implements component.Component.
func (r *Registry) Name() string { return "bulkhead-registry" }

// Start implements component.Component. Bulkheads are created on demand,
// so there is nothing to start.
func (r *Registry) Start(ctx context.Context) error { return nil }

// Stop implements component.Component.
func (r *Registry) Stop(ctx context.Context) error { return r.Shutdown(ctx) }

// Health reports degraded while any bulkhead is saturated.
func (r *Registry) Health(ctx context.Context) component.Health {
	h := component.Health{Name: r.Name(), Status: component.StatusHealthy}
	var saturated []string
	for _, b := range r.core.All() {
		if b.Metrics().Saturated() {
			saturated = append(saturated, b.Name())
		}
	}
	if len(saturated) > 0 {
		sort.Strings(saturated)
		h.Status = component.StatusDegraded
		h.Message = "saturated: " + strings.Join(saturated, ", ")
	}
	return h
}

// Describe implements component.Describable.
func (r *Registry) Describe() component.Description {
	return component.Description{
		Name:    "Bulkheads",
		Type:    "bulkhead",
		Details: fmt.Sprintf("instances=%d configs=%d", len(r.core.Names()), len(r.core.ConfigurationNames())),
	}
}
