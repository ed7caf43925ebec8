package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goliatone/go-wearables/core"
)

const defaultMaxWait = 2 * time.Second

// WindowConfig expresses a quota as N requests per window, e.g. 100 per 15m.
type WindowConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

func WindowConfigFrom(cfg core.RateLimitConfig) WindowConfig {
	return WindowConfig{
		RequestsPerWindow: cfg.RequestsPerWindow,
		Window:            cfg.Window,
		Burst:             cfg.Burst,
	}
}

func (c WindowConfig) limiter() *rate.Limiter {
	if c.RequestsPerWindow <= 0 || c.Window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	if burst > c.RequestsPerWindow {
		burst = c.RequestsPerWindow
	}
	return rate.NewLimiter(rate.Every(c.Window/time.Duration(c.RequestsPerWindow)), burst)
}

// WindowLimiter keeps one token bucket per provider. Calls that would wait
// longer than MaxWait are refused with a rate-limited error instead.
type WindowLimiter struct {
	mu        sync.Mutex
	defaults  WindowConfig
	overrides map[string]WindowConfig
	limiters  map[string]*rate.Limiter
	MaxWait   time.Duration
}

func NewWindowLimiter(defaults WindowConfig) *WindowLimiter {
	return &WindowLimiter{
		defaults:  defaults,
		overrides: map[string]WindowConfig{},
		limiters:  map[string]*rate.Limiter{},
		MaxWait:   defaultMaxWait,
	}
}

// Configure sets a provider-specific budget and resets its bucket.
func (l *WindowLimiter) Configure(provider string, cfg WindowConfig) {
	key := strings.ToLower(strings.TrimSpace(provider))
	l.mu.Lock()
	l.overrides[key] = cfg
	delete(l.limiters, key)
	l.mu.Unlock()
}

func (l *WindowLimiter) limiterFor(provider string) *rate.Limiter {
	key := strings.ToLower(strings.TrimSpace(provider))
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[key]; ok {
		return limiter
	}
	cfg := l.defaults
	if override, ok := l.overrides[key]; ok {
		cfg = override
	}
	limiter := cfg.limiter()
	l.limiters[key] = limiter
	return limiter
}

// Acquire takes one slot for provider, waiting up to MaxWait.
func (l *WindowLimiter) Acquire(ctx context.Context, provider string) error {
	if l == nil {
		return nil
	}
	limiter := l.limiterFor(provider)
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return core.NewRateLimitedError(provider, l.maxWait())
	}
	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}
	if delay > l.maxWait() {
		reservation.Cancel()
		return core.NewRateLimitedError(provider, delay)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *WindowLimiter) maxWait() time.Duration {
	if l.MaxWait <= 0 {
		return defaultMaxWait
	}
	return l.MaxWait
}
