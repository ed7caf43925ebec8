package wearables

import (
	"slices"
	"testing"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/providers/terra"
)

func TestNewBuiltinRegistry_RegistersBundledProviders(t *testing.T) {
	cfg := DefaultConfig()
	registry, err := NewBuiltinRegistry(cfg, providers.NewShared(cfg), terra.NewMemoryCache(terra.CacheConfig{}))
	if err != nil {
		t.Fatalf("builtin registry: %v", err)
	}
	want := []string{"fitbit", "garmin", "strava", "synthetic", "terra", "whoop"}
	if got := registry.SupportedProviders(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	descriptor, ok := registry.Descriptor("terra")
	if !ok || !descriptor.Push {
		t.Fatalf("expected terra to be described as push fed, got %+v", descriptor)
	}
	descriptor, ok = registry.Descriptor("fitbit")
	if !ok || descriptor.Push || !descriptor.UsePKCE {
		t.Fatalf("expected fitbit pull adapter with pkce, got %+v", descriptor)
	}
}

func TestNewBuiltinRegistry_AppliesSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]core.ProviderSettings{
		"strava": {ClientID: "strava-client", ClientSecret: "strava-secret", RedirectURI: "https://app.test/cb"},
		"garmin": {Disabled: true},
	}
	registry, err := NewBuiltinRegistry(cfg, providers.NewShared(cfg), nil)
	if err != nil {
		t.Fatalf("builtin registry: %v", err)
	}
	if registry.IsSupported("garmin") {
		t.Fatalf("expected disabled provider to be skipped")
	}
	if registry.IsSupported("terra") {
		t.Fatalf("expected terra to be skipped without a cache")
	}

	defaults, ok := registry.DefaultConfig("strava")
	if !ok {
		t.Fatalf("expected strava defaults")
	}
	if defaults.ClientID != "strava-client" || defaults.RedirectURI != "https://app.test/cb" {
		t.Fatalf("expected settings overlay, got %+v", defaults)
	}
	if defaults.AuthURL == "" || defaults.TokenURL == "" {
		t.Fatalf("expected bundled endpoints to survive the overlay")
	}
}

func TestProviderConstructors(t *testing.T) {
	shared := providers.Shared{}.Normalize()
	constructed := []core.FitnessProvider{
		StravaProvider(mustDefault(t, "strava").WithOverrides(core.ProviderSettings{ClientID: "c"}), shared),
		FitbitProvider(mustDefault(t, "fitbit"), shared),
		WhoopProvider(mustDefault(t, "whoop"), shared),
		GarminProvider(mustDefault(t, "garmin"), shared),
		SyntheticProvider(mustDefault(t, "synthetic")),
	}
	for _, provider := range constructed {
		if provider == nil || provider.Name() == "" {
			t.Fatalf("expected named provider, got %#v", provider)
		}
	}
}

func mustDefault(t *testing.T, name string) core.ProviderConfig {
	t.Helper()
	for _, factory := range BuiltinFactories(providers.Shared{}, nil) {
		if cfg := factory.DefaultConfig(); cfg.Name == name {
			return cfg
		}
	}
	t.Fatalf("no builtin factory for %s", name)
	return core.ProviderConfig{}
}
