package services

import (
	"context"
)

// Provider is an external dependency the engine needs to serve traffic
type Provider interface {
	// Type returns the dependency kind, e.g. "postgres" or "redis"
	Type() string

	// HealthCheck checks if the dependency is available
	HealthCheck(ctx context.Context) error
}

// BaseProvider provides common functionality for providers
type BaseProvider struct {
	serviceType string
}

// Type returns the service type
func (p *BaseProvider) Type() string {
	return p.serviceType
}

// CheckFunc adapts a ping function into a Provider
type CheckFunc struct {
	BaseProvider
	check func(ctx context.Context) error
}

// NewCheckFunc wraps check as a Provider of the given type
func NewCheckFunc(serviceType string, check func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{
		BaseProvider: BaseProvider{serviceType: serviceType},
		check:        check,
	}
}

// HealthCheck runs the wrapped check
func (c *CheckFunc) HealthCheck(ctx context.Context) error {
	return c.check(ctx)
}
