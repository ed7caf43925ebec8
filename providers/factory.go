package providers

import (
	"github.com/goliatone/go-wearables/core"
)

// Constructor builds one adapter instance from a validated config.
type Constructor func(cfg core.ProviderConfig, shared Shared) (core.FitnessProvider, error)

// Factory adapts a Constructor to core.ProviderFactory, carrying the shared
// resources every instance is wired with.
type Factory struct {
	defaults  core.ProviderConfig
	push      bool
	shared    Shared
	construct Constructor
}

func NewFactory(defaults core.ProviderConfig, shared Shared, construct Constructor) *Factory {
	return &Factory{defaults: defaults.Clone(), shared: shared.Normalize(), construct: construct}
}

// NewPushFactory marks the provider as webhook fed in its descriptor.
func NewPushFactory(defaults core.ProviderConfig, shared Shared, construct Constructor) *Factory {
	factory := NewFactory(defaults, shared, construct)
	factory.push = true
	return factory
}

func (f *Factory) Create(cfg core.ProviderConfig) (core.FitnessProvider, error) {
	if cfg.Name == "" {
		cfg.Name = f.defaults.Name
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return f.construct(cfg, f.shared)
}

func (f *Factory) SupportedProviders() []string {
	return []string{f.defaults.Name}
}

func (f *Factory) Descriptor() core.ProviderDescriptor {
	return core.ProviderDescriptor{
		Name:         f.defaults.Name,
		DisplayName:  f.defaults.DisplayName,
		Capabilities: f.defaults.Capabilities,
		UsePKCE:      f.defaults.UsePKCE,
		Push:         f.push,
	}
}

func (f *Factory) DefaultConfig() core.ProviderConfig {
	return f.defaults.Clone()
}

var _ core.ProviderFactory = (*Factory)(nil)
