package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/tagflow/internal/runtime/config"
	tferrors "github.com/drblury/tagflow/internal/runtime/errors"
	transportpkg "github.com/drblury/tagflow/transport"

	// Built-in transports register themselves on import.
	_ "github.com/drblury/tagflow/transport/transports"
)

// Transport is the broker connection produced by a Factory.
type Transport = transportpkg.Transport

// Capabilities describes what a transport backend supports.
type Capabilities = transportpkg.Capabilities

// CapabilitiesOf returns the capabilities registered for a pubsub system, or
// the zero value when it is unknown.
func CapabilitiesOf(system string) Capabilities {
	return transportpkg.GetCapabilities(system)
}

// Factory abstracts how tagflow initialises the broker connection.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the default transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

// RegistryFactory returns a factory that builds from registry.
func RegistryFactory(registry *transportpkg.Registry) Factory {
	return defaultFactory{registry: registry}
}

type defaultFactory struct {
	registry *transportpkg.Registry
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, tferrors.ErrConfigRequired
	}
	registry := f.registry
	if registry == nil {
		registry = transportpkg.DefaultRegistry
	}
	return registry.Build(ctx, conf, logger)
}
