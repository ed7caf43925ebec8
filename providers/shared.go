package providers

import (
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-wearables/circuitbreaker"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/ratelimit"
	"github.com/goliatone/go-wearables/transport"
)

// Shared bundles the process scoped resources every adapter is built with.
// One Shared value is created at startup and handed to each factory, so
// breakers and rate budgets are per provider rather than per tenant.
type Shared struct {
	Transport        transport.Adapter
	Breakers         *circuitbreaker.Registry
	Limiter          *ratelimit.WindowLimiter
	Policy           *ratelimit.AdaptivePolicy
	Logger           core.Logger
	LoggerProvider   core.LoggerProvider
	Now              func() time.Time
	RefreshLookahead time.Duration
}

// NewShared derives shared resources from runtime configuration.
func NewShared(cfg core.Config) Shared {
	breakers := circuitbreaker.NewRegistry(circuitbreaker.FromCoreConfig(cfg.CircuitBreaker))
	limiter := ratelimit.NewWindowLimiter(ratelimit.WindowConfigFrom(cfg.RateLimit))
	for name, settings := range cfg.Providers {
		if settings.FailureThreshold > 0 {
			override := circuitbreaker.FromCoreConfig(cfg.CircuitBreaker)
			override.FailureThreshold = settings.FailureThreshold
			breakers.Configure(name, override)
		}
		if settings.RequestsPerWindow > 0 {
			window := ratelimit.WindowConfigFrom(cfg.RateLimit)
			window.RequestsPerWindow = settings.RequestsPerWindow
			limiter.Configure(name, window)
		}
	}
	policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	policy.InitialBackoff = cfg.Retry.InitialBackoff
	policy.MaxBackoff = cfg.Retry.MaxBackoff
	return Shared{
		Transport:        transport.NewRESTAdapter(nil),
		Breakers:         breakers,
		Limiter:          limiter,
		Policy:           policy,
		RefreshLookahead: cfg.Credentials.RefreshLeadWindow,
	}.Normalize()
}

// Normalize fills every unset field with a working default.
func (s Shared) Normalize() Shared {
	if s.Transport == nil {
		s.Transport = transport.NewRESTAdapter(nil)
	}
	if s.Breakers == nil {
		s.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	}
	if s.Limiter == nil {
		s.Limiter = ratelimit.NewWindowLimiter(ratelimit.WindowConfig{})
	}
	if s.Policy == nil {
		s.Policy = ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	}
	if s.Now == nil {
		s.Now = func() time.Time { return time.Now().UTC() }
	}
	if s.RefreshLookahead <= 0 {
		s.RefreshLookahead = core.DefaultCredentialRefreshLeadWindow
	}
	return s
}

// LoggerFor resolves a named logger the same way services do.
func (s Shared) LoggerFor(name string) core.Logger {
	loggerName := "wearables.providers." + name
	provider, logger := glog.Resolve(loggerName, s.LoggerProvider, s.Logger)
	if provider != nil {
		if named := provider.GetLogger(loggerName); named != nil {
			return glog.Ensure(named)
		}
	}
	return glog.Ensure(logger)
}
