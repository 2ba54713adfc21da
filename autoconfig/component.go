package autoconfig

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/bulwark/component"
	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/logger"
)

// BulkheadComponentName names the bulkhead component in errors and logs.
const BulkheadComponentName = "thread-pool-bulkhead"

// BulkheadComponent builds the bulkhead registry on Start and shuts it down
// on Stop. A disabled component starts as a no-op.
type BulkheadComponent struct {
	props BulkheadProperties
	deps  BulkheadDeps
	log   *logger.Logger

	mu        sync.RWMutex
	bulkheads *Bulkheads
	disabled  bool
}

// NewBulkheadComponent creates a bulkhead component for use with the
// component registry.
func NewBulkheadComponent(props BulkheadProperties, deps BulkheadDeps) *BulkheadComponent {
	log := logger.OrGlobal(deps.Logger, BulkheadComponentName)
	deps.Logger = log
	return &BulkheadComponent{props: props, deps: deps, log: log}
}

// Bulkheads returns the built registry, or nil before Start or when disabled.
func (c *BulkheadComponent) Bulkheads() *Bulkheads {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bulkheads
}

// ensure BulkheadComponent satisfies component.Component
var _ component.Component = (*BulkheadComponent)(nil)

// Name returns the component name.
func (c *BulkheadComponent) Name() string { return BulkheadComponentName }

// Start builds the registry and its configured instances.
func (c *BulkheadComponent) Start(ctx context.Context) error {
	b, err := NewBulkheadRegistry(c.props, c.deps)
	if errors.Is(err, errors.ErrDisabled) {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.log.Info("Bulkhead component disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bulkhead start: %w", err)
	}

	c.mu.Lock()
	c.bulkheads = b
	c.mu.Unlock()
	c.log.Info("Bulkhead component started", logger.Fields("instances", len(b.Registry.Names())))
	return nil
}

// Stop shuts every bulkhead down, waiting for admitted calls until ctx is done.
func (c *BulkheadComponent) Stop(ctx context.Context) error {
	c.mu.Lock()
	b := c.bulkheads
	c.bulkheads = nil
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	c.log.Info("Bulkhead component stopping")
	return b.Registry.Shutdown(ctx)
}

// Health reports the registry's health.
func (c *BulkheadComponent) Health(ctx context.Context) component.Health {
	c.mu.RLock()
	b, disabled := c.bulkheads, c.disabled
	c.mu.RUnlock()

	switch {
	case disabled:
		return component.Health{Name: c.Name(), Status: component.StatusHealthy, Message: "disabled"}
	case b == nil:
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "bulkhead registry not initialized"}
	}
	h := b.Registry.Health(ctx)
	h.Name = c.Name()
	return h
}

// Describe returns summary info for the bootstrap display.
func (c *BulkheadComponent) Describe() component.Description {
	return component.Description{
		Name:    "Thread-pool bulkheads",
		Type:    "bulkhead",
		Details: fmt.Sprintf("enabled=%t instances=%d configs=%d", c.props.Enabled, len(c.props.Instances), len(c.props.Configs)),
	}
}
