package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrProviderNotFound = errors.New("core: provider not found")

// ProviderRegistry maps provider names to factories and default configs.
type ProviderRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
	defaults  map[string]ProviderConfig
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		factories: make(map[string]ProviderFactory),
		defaults:  make(map[string]ProviderConfig),
	}
}

// RegisterFactory binds every name the factory supports. A name already
// registered by another factory is rejected.
func (r *ProviderRegistry) RegisterFactory(factory ProviderFactory) error {
	if factory == nil {
		return fmt.Errorf("core: provider factory is nil")
	}
	names := factory.SupportedProviders()
	if len(names) == 0 {
		return fmt.Errorf("core: provider factory supports no providers")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		key := normalizeProviderName(name)
		if key == "" {
			return fmt.Errorf("core: provider name is required")
		}
		if _, exists := r.factories[key]; exists {
			return fmt.Errorf("core: provider already registered: %s", key)
		}
	}
	defaultConfig := factory.DefaultConfig()
	for _, name := range names {
		key := normalizeProviderName(name)
		r.factories[key] = factory
		if _, ok := r.defaults[key]; !ok {
			cfg := defaultConfig.Clone()
			if normalizeProviderName(cfg.Name) != key {
				cfg.Name = key
			}
			r.defaults[key] = cfg
		}
	}
	return nil
}

// SetDefaultConfig replaces the default config used by Create for name.
func (r *ProviderRegistry) SetDefaultConfig(name string, cfg ProviderConfig) error {
	key := normalizeProviderName(name)
	if key == "" {
		return fmt.Errorf("core: provider name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[key]; !ok {
		return NewProviderNotFoundError(key)
	}
	r.defaults[key] = cfg.Clone()
	return nil
}

func (r *ProviderRegistry) SupportedProviders() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (r *ProviderRegistry) IsSupported(name string) bool {
	r.mu.RLock()
	_, ok := r.factories[normalizeProviderName(name)]
	r.mu.RUnlock()
	return ok
}

func (r *ProviderRegistry) Descriptor(name string) (ProviderDescriptor, bool) {
	key := normalizeProviderName(name)
	r.mu.RLock()
	factory, ok := r.factories[key]
	cfg, hasConfig := r.defaults[key]
	r.mu.RUnlock()
	if !ok {
		return ProviderDescriptor{}, false
	}
	descriptor := factory.Descriptor()
	descriptor.Name = key
	if hasConfig {
		if strings.TrimSpace(cfg.DisplayName) != "" {
			descriptor.DisplayName = cfg.DisplayName
		}
		descriptor.Capabilities = cfg.Capabilities
		descriptor.UsePKCE = cfg.UsePKCE
	}
	return descriptor, true
}

func (r *ProviderRegistry) DefaultConfig(name string) (ProviderConfig, bool) {
	r.mu.RLock()
	cfg, ok := r.defaults[normalizeProviderName(name)]
	r.mu.RUnlock()
	if !ok {
		return ProviderConfig{}, false
	}
	return cfg.Clone(), true
}

func (r *ProviderRegistry) Create(name string) (FitnessProvider, error) {
	key := normalizeProviderName(name)
	cfg, ok := r.DefaultConfig(key)
	if !ok {
		if !r.IsSupported(key) {
			return nil, NewProviderNotFoundError(key)
		}
		return nil, NewConfigurationError(fmt.Sprintf("core: no default configuration for provider %s", key))
	}
	return r.CreateWithConfig(key, cfg)
}

func (r *ProviderRegistry) CreateWithConfig(name string, cfg ProviderConfig) (FitnessProvider, error) {
	key := normalizeProviderName(name)
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, NewProviderNotFoundError(key)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return factory.Create(cfg.Clone())
}

func (r *ProviderRegistry) CreateTenantProvider(name string, tenantID string, userID string) (*TenantProvider, error) {
	provider, err := r.Create(name)
	if err != nil {
		return nil, err
	}
	return NewTenantProvider(provider, tenantID, userID)
}

func (r *ProviderRegistry) CreateTenantProviderWithConfig(name string, cfg ProviderConfig, tenantID string, userID string) (*TenantProvider, error) {
	provider, err := r.CreateWithConfig(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewTenantProvider(provider, tenantID, userID)
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

var _ Registry = (*ProviderRegistry)(nil)
