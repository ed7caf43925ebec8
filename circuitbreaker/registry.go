package circuitbreaker

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry hands out one breaker per provider name, created on first use.
type Registry struct {
	mu        sync.Mutex
	defaults  Config
	overrides map[string]Config
	breakers  map[string]*Breaker
	opts      []Option
}

func NewRegistry(defaults Config, opts ...Option) *Registry {
	return &Registry{
		defaults:  defaults.normalized(),
		overrides: map[string]Config{},
		breakers:  map[string]*Breaker{},
		opts:      opts,
	}
}

// Configure sets a provider-specific config. It only affects breakers that
// have not been created yet.
func (r *Registry) Configure(name string, cfg Config) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	r.overrides[key] = cfg.normalized()
	r.mu.Unlock()
}

func (r *Registry) Get(name string) *Breaker {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if breaker, ok := r.breakers[key]; ok {
		return breaker
	}
	cfg := r.defaults
	if override, ok := r.overrides[key]; ok {
		cfg = override
	}
	breaker := New(key, cfg, r.opts...)
	r.breakers[key] = breaker
	return breaker
}

func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		breakers = append(breakers, breaker)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(breakers))
	for _, breaker := range breakers {
		snapshots = append(snapshots, breaker.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})
	return snapshots
}

// OpenProviders lists providers currently rejecting calls with their cooldown.
func (r *Registry) OpenProviders() map[string]time.Duration {
	out := map[string]time.Duration{}
	for _, snapshot := range r.Snapshot() {
		if snapshot.State == StateOpen {
			out[snapshot.Name] = snapshot.RetryAfter
		}
	}
	return out
}
