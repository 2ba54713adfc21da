package observability

import (
	"context"

	"github.com/kbukum/bulwark/component"
)

// HealthStatus represents the health state of a service.
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDown     HealthStatus = "down"
	HealthStatusDegraded HealthStatus = "degraded"
)

// ServiceHealth describes the overall health of a service and its components.
type ServiceHealth struct {
	Service    string             `json:"service"`
	Status     HealthStatus       `json:"status"`
	Version    string             `json:"version,omitempty"`
	Components []component.Health `json:"components,omitempty"`
}

// HealthChecker is implemented by anything that can report its health,
// component.Component included.
type HealthChecker interface {
	Health(ctx context.Context) component.Health
}

// NewServiceHealth creates a ServiceHealth with status up.
func NewServiceHealth(service, version string) *ServiceHealth {
	return &ServiceHealth{
		Service: service,
		Status:  HealthStatusUp,
		Version: version,
	}
}

// AddComponent adds a component health result and degrades overall status if needed.
func (sh *ServiceHealth) AddComponent(ch component.Health) {
	sh.Components = append(sh.Components, ch)

	switch ch.Status {
	case component.StatusUnhealthy:
		sh.Status = HealthStatusDown
	case component.StatusDegraded:
		if sh.Status != HealthStatusDown {
			sh.Status = HealthStatusDegraded
		}
	}
}

// AddComponents adds every result in order.
func (sh *ServiceHealth) AddComponents(results ...component.Health) {
	for _, ch := range results {
		sh.AddComponent(ch)
	}
}

// Check asks each checker for its health and adds the results.
func (sh *ServiceHealth) Check(ctx context.Context, checkers ...HealthChecker) *ServiceHealth {
	for _, c := range checkers {
		sh.AddComponent(c.Health(ctx))
	}
	return sh
}
