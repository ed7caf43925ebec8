package wearables

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-wearables/core"
)

// ProviderPack groups out-of-tree provider factories registered as a unit.
type ProviderPack struct {
	Name      string
	Factories []core.ProviderFactory
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// FactoryRegistrar is the registration half of core.ProviderRegistry.
type FactoryRegistrar interface {
	RegisterFactory(factory core.ProviderFactory) error
}

type ExtensionHooks struct {
	mu sync.RWMutex

	providerPacks map[string]ProviderPack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providerPacks: map[string]ProviderPack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("wearables: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("wearables: provider pack name is required")
	}
	if len(pack.Factories) == 0 {
		return fmt.Errorf("wearables: provider pack %q has no factories", name)
	}
	for _, factory := range pack.Factories {
		if factory == nil {
			return fmt.Errorf("wearables: provider pack %q contains a nil factory", name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[name]; exists {
		return fmt.Errorf("wearables: provider pack %q already registered", name)
	}
	h.providerPacks[name] = ProviderPack{
		Name:      name,
		Factories: append([]core.ProviderFactory(nil), pack.Factories...),
	}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(name string, factory CommandQueryBundleFactory) error {
	if h == nil {
		return fmt.Errorf("wearables: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("wearables: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("wearables: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("wearables: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyProviderPacks registers every pack factory in pack-name order. A name
// clash with a builtin provider fails the whole call.
func (h *ExtensionHooks) ApplyProviderPacks(registry FactoryRegistrar) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("wearables: registry is required")
	}
	for _, pack := range h.ProviderPacks() {
		for _, factory := range pack.Factories {
			if err := registry.RegisterFactory(factory); err != nil {
				return fmt.Errorf("wearables: provider pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(service CommandQueryService) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("wearables: command/query service is required")
	}

	h.mu.RLock()
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(factories))
	for _, name := range sortedKeys(factories) {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ProviderPack, 0, len(h.providerPacks))
	for _, name := range sortedKeys(h.providerPacks) {
		pack := h.providerPacks[name]
		out = append(out, ProviderPack{
			Name:      pack.Name,
			Factories: append([]core.ProviderFactory(nil), pack.Factories...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
