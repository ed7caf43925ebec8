package wearables

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/providers/fitbit"
	"github.com/goliatone/go-wearables/providers/garmin"
	"github.com/goliatone/go-wearables/providers/strava"
	"github.com/goliatone/go-wearables/providers/synthetic"
	"github.com/goliatone/go-wearables/providers/terra"
	"github.com/goliatone/go-wearables/providers/whoop"
)

// BuiltinFactories returns a factory per bundled provider. Terra is left out
// when cache is nil since it cannot serve reads without one.
func BuiltinFactories(shared providers.Shared, cache terra.Cache) []core.ProviderFactory {
	factories := []core.ProviderFactory{
		strava.NewFactory(shared),
		fitbit.NewFactory(shared),
		whoop.NewFactory(shared),
		garmin.NewFactory(shared),
		synthetic.NewFactory(shared),
	}
	if cache != nil {
		factories = append(factories, terra.NewFactory(shared, cache))
	}
	return factories
}

// NewBuiltinRegistry registers every bundled provider not disabled in cfg and
// layers the per-provider settings over each default config.
func NewBuiltinRegistry(cfg Config, shared providers.Shared, cache terra.Cache) (*core.ProviderRegistry, error) {
	registry := core.NewProviderRegistry()
	for _, factory := range BuiltinFactories(shared, cache) {
		if err := registerWithSettings(registry, cfg, factory); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func registerWithSettings(registry *core.ProviderRegistry, cfg Config, factory core.ProviderFactory) error {
	defaults := factory.DefaultConfig()
	name := strings.TrimSpace(defaults.Name)
	settings, ok := cfg.ProviderSettingsFor(name)
	if ok && settings.Disabled {
		return nil
	}
	if err := registry.RegisterFactory(factory); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := registry.SetDefaultConfig(name, defaults.WithOverrides(settings)); err != nil {
		return fmt.Errorf("wearables: apply %s settings: %w", name, err)
	}
	return nil
}

func StravaProvider(cfg core.ProviderConfig, shared providers.Shared) core.FitnessProvider {
	return strava.New(cfg, shared)
}

func FitbitProvider(cfg core.ProviderConfig, shared providers.Shared) core.FitnessProvider {
	return fitbit.New(cfg, shared)
}

func WhoopProvider(cfg core.ProviderConfig, shared providers.Shared) core.FitnessProvider {
	return whoop.New(cfg, shared)
}

func GarminProvider(cfg core.ProviderConfig, shared providers.Shared) core.FitnessProvider {
	return garmin.New(cfg, shared)
}

func SyntheticProvider(cfg core.ProviderConfig, opts ...synthetic.Option) core.FitnessProvider {
	return synthetic.New(cfg, opts...)
}
