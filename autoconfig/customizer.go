package autoconfig

import (
	"sort"

	"github.com/kbukum/bulwark/bulkhead"
	"github.com/kbukum/bulwark/retry"
)

// Customizer adjusts the configuration of the named instance before it is
// built.
type Customizer[B any] interface {
	Name() string
	Customize(B)
}

// BulkheadConfigCustomizer customizes one bulkhead's configuration builder.
type BulkheadConfigCustomizer = Customizer[*bulkhead.Builder]

// RetryConfigCustomizer customizes one retry's configuration.
type RetryConfigCustomizer = Customizer[*retry.Config]

type customizerFunc[B any] struct {
	name string
	fn   func(B)
}

func (c customizerFunc[B]) Name() string  { return c.name }
func (c customizerFunc[B]) Customize(b B) { c.fn(b) }

// CustomizerFunc adapts fn to a Customizer for the instance or
// configuration called name.
func CustomizerFunc[B any](name string, fn func(B)) Customizer[B] {
	return customizerFunc[B]{name: name, fn: fn}
}

// CompositeCustomizer groups customizers by target name. Customizers for
// the same name run in registration order.
type CompositeCustomizer[B any] struct {
	byName map[string][]Customizer[B]
}

// NewCompositeCustomizer groups customizers, skipping nil entries.
func NewCompositeCustomizer[B any](customizers ...Customizer[B]) *CompositeCustomizer[B] {
	c := &CompositeCustomizer[B]{byName: make(map[string][]Customizer[B])}
	for _, cz := range customizers {
		if cz == nil {
			continue
		}
		c.byName[cz.Name()] = append(c.byName[cz.Name()], cz)
	}
	return c
}

// Customize applies every customizer registered for name to b and reports
// whether there was any.
func (c *CompositeCustomizer[B]) Customize(name string, b B) bool {
	if c == nil {
		return false
	}
	cs := c.byName[name]
	for _, cz := range cs {
		cz.Customize(b)
	}
	return len(cs) > 0
}

// Names returns the targeted names in sorted order.
func (c *CompositeCustomizer[B]) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
