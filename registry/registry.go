package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
)

// DefaultConfigName is the reserved name of the registry's default configuration.
const DefaultConfigName = "default"

// Options configures a Registry.
type Options[T, C any] struct {
	// Kind names the instance type in logs and errors, e.g. "bulkhead".
	Kind string
	// DefaultConfig backs instances created without an explicit config.
	DefaultConfig C
	// Configs are named configurations. An entry named "default" replaces DefaultConfig.
	Configs map[string]C
	// Tags are merged into every instance's tags.
	Tags map[string]string
	// Consumer receives entry events before EventPublisher subscribers.
	Consumer *CompositeEventConsumer[T]
	Logger   *logger.Logger
}

// Registry maps names to live instances of T configured by C.
type Registry[T, C any] struct {
	kind      string
	log       *logger.Logger
	consumer  *CompositeEventConsumer[T]
	publisher *event.Publisher[Event[T]]
	tags      map[string]string

	mu      sync.RWMutex
	entries map[string]T
	configs map[string]C
}

// New creates a registry from opts.
func New[T, C any](opts Options[T, C]) *Registry[T, C] {
	kind := opts.Kind
	if kind == "" {
		kind = "instance"
	}
	log := logger.OrGlobal(opts.Logger, "registry")

	configs := make(map[string]C, len(opts.Configs)+1)
	configs[DefaultConfigName] = opts.DefaultConfig
	for name, cfg := range opts.Configs {
		configs[name] = cfg
	}

	consumer := opts.Consumer
	if consumer == nil {
		consumer = NewCompositeEventConsumer[T](log)
	}

	return &Registry[T, C]{
		kind:      kind,
		log:       log,
		consumer:  consumer,
		publisher: event.NewPublisher[Event[T]](kind+"-registry", log),
		tags:      copyTags(opts.Tags),
		entries:   make(map[string]T),
		configs:   configs,
	}
}

// ComputeIfAbsent returns the instance registered under name, or calls
// create and registers its result. create runs under the registry's write
// lock, so for a given name it runs at most once no matter how many callers
// race, and never when the name is already present. created reports whether
// this call registered the instance.
func (r *Registry[T, C]) ComputeIfAbsent(name string, create func() (T, error)) (instance T, created bool, err error) {
	r.mu.RLock()
	instance, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return instance, false, nil
	}

	r.mu.Lock()
	if instance, ok = r.entries[name]; ok {
		r.mu.Unlock()
		return instance, false, nil
	}
	instance, err = create()
	if err != nil {
		r.mu.Unlock()
		var zero T
		return zero, false, err
	}
	r.entries[name] = instance
	r.mu.Unlock()

	r.log.Debug("Registry entry added", logger.Fields(logger.FieldComponent, r.kind, logger.FieldInstance, name))
	r.emit(Event[T]{Type: EventAdded, Name: name, Added: instance})
	return instance, true, nil
}

// Find returns the instance registered under name.
func (r *Registry[T, C]) Find(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instance, ok := r.entries[name]
	return instance, ok
}

// MustFind returns the instance registered under name or a NOT_FOUND error.
func (r *Registry[T, C]) MustFind(name string) (T, error) {
	if instance, ok := r.Find(name); ok {
		return instance, nil
	}
	var zero T
	return zero, errors.NotFound(r.kind, name)
}

// Replace registers instance under name. It returns the instance it
// displaced, if any, and emits REPLACED or ADDED accordingly.
func (r *Registry[T, C]) Replace(name string, instance T) (previous T, replaced bool) {
	r.mu.Lock()
	previous, replaced = r.entries[name]
	r.entries[name] = instance
	r.mu.Unlock()

	if replaced {
		r.emit(Event[T]{Type: EventReplaced, Name: name, Added: instance, Removed: previous})
	} else {
		r.emit(Event[T]{Type: EventAdded, Name: name, Added: instance})
	}
	return previous, replaced
}

// Remove unregisters name and returns the removed instance. Removing an
// absent name returns false and emits nothing.
func (r *Registry[T, C]) Remove(name string) (T, bool) {
	r.mu.Lock()
	instance, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()

	if ok {
		r.log.Debug("Registry entry removed", logger.Fields(logger.FieldComponent, r.kind, logger.FieldInstance, name))
		r.emit(Event[T]{Type: EventRemoved, Name: name, Removed: instance})
	}
	return instance, ok
}

// Drain removes every instance, emitting REMOVED for each in name order,
// and returns them.
func (r *Registry[T, C]) Drain() []T {
	r.mu.Lock()
	names := sortedKeys(r.entries)
	removed := make([]T, len(names))
	for i, name := range names {
		removed[i] = r.entries[name]
	}
	r.entries = make(map[string]T)
	r.mu.Unlock()

	for i, name := range names {
		r.emit(Event[T]{Type: EventRemoved, Name: name, Removed: removed[i]})
	}
	return removed
}

// Names returns registered instance names in sorted order.
func (r *Registry[T, C]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.entries)
}

// All returns registered instances ordered by name.
func (r *Registry[T, C]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := sortedKeys(r.entries)
	out := make([]T, len(names))
	for i, name := range names {
		out[i] = r.entries[name]
	}
	return out
}

// Len returns the number of registered instances.
func (r *Registry[T, C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AddConfiguration stores a named configuration. The name "default" is reserved.
func (r *Registry[T, C]) AddConfiguration(name string, cfg C) error {
	if name == DefaultConfigName {
		return errors.InvalidConfiguration("name", "you cannot use 'default' as a configuration name as it is preserved for default configuration")
	}
	if name == "" {
		return errors.InvalidConfiguration("name", "configuration name must not be empty")
	}
	r.mu.Lock()
	r.configs[name] = cfg
	r.mu.Unlock()
	return nil
}

// Configuration returns the named configuration.
func (r *Registry[T, C]) Configuration(name string) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// DefaultConfig returns the registry's default configuration.
func (r *Registry[T, C]) DefaultConfig() C {
	cfg, _ := r.Configuration(DefaultConfigName)
	return cfg
}

// ConfigurationNames returns stored configuration names in sorted order,
// including "default".
func (r *Registry[T, C]) ConfigurationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.configs)
}

// Tags returns a copy of the registry-wide tags.
func (r *Registry[T, C]) Tags() map[string]string {
	return copyTags(r.tags)
}

// MergeTags overlays instance tags on the registry tags; instance tags win
// on key conflicts.
func (r *Registry[T, C]) MergeTags(instanceTags map[string]string) map[string]string {
	merged := make(map[string]string, len(r.tags)+len(instanceTags))
	for k, v := range r.tags {
		merged[k] = v
	}
	for k, v := range instanceTags {
		merged[k] = v
	}
	return merged
}

// EventPublisher returns the publisher of entry events.
func (r *Registry[T, C]) EventPublisher() *event.Publisher[Event[T]] {
	return r.publisher
}

// Kind returns the instance kind given at construction.
func (r *Registry[T, C]) Kind() string { return r.kind }

func (r *Registry[T, C]) emit(e Event[T]) {
	e.CreatedAt = time.Now()
	Dispatch[T](r.consumer, e)
	r.publisher.Publish(e)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
