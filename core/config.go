package core

import (
	"fmt"
	"strings"
	"time"
)

type CredentialsConfig struct {
	RefreshLeadWindow time.Duration `koanf:"refresh_lead_window" mapstructure:"refresh_lead_window"`
	TokenTable        string        `koanf:"token_table" mapstructure:"token_table"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `koanf:"recovery_timeout" mapstructure:"recovery_timeout"`
	SuccessThreshold int           `koanf:"success_threshold" mapstructure:"success_threshold"`
}

type RateLimitConfig struct {
	RequestsPerWindow int           `koanf:"requests_per_window" mapstructure:"requests_per_window"`
	Window            time.Duration `koanf:"window" mapstructure:"window"`
	Burst             int           `koanf:"burst" mapstructure:"burst"`
}

type RetryConfig struct {
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
}

// WebhookCacheConfig sizes the cache that backs push providers. Backend is
// "memory" or "redis".
type WebhookCacheConfig struct {
	TTL             time.Duration `koanf:"ttl" mapstructure:"ttl"`
	MaxItemsPerType int           `koanf:"max_items_per_type" mapstructure:"max_items_per_type"`
	Backend         string        `koanf:"backend" mapstructure:"backend"`
	RedisAddr       string        `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword   string        `koanf:"redis_password" mapstructure:"redis_password"`
	RedisDB         int           `koanf:"redis_db" mapstructure:"redis_db"`
	KeyPrefix       string        `koanf:"key_prefix" mapstructure:"key_prefix"`
}

// ProviderSettings are per-deployment overrides layered over a provider default config.
type ProviderSettings struct {
	ClientID          string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret      string   `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI       string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes            []string `koanf:"scopes" mapstructure:"scopes"`
	AuthURL           string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL          string   `koanf:"token_url" mapstructure:"token_url"`
	RevokeURL         string   `koanf:"revoke_url" mapstructure:"revoke_url"`
	APIBaseURL        string   `koanf:"api_base_url" mapstructure:"api_base_url"`
	FailureThreshold  int      `koanf:"failure_threshold" mapstructure:"failure_threshold"`
	RequestsPerWindow int      `koanf:"requests_per_window" mapstructure:"requests_per_window"`
	WebhookSecret     string   `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	Disabled          bool     `koanf:"disabled" mapstructure:"disabled"`
}

type Config struct {
	ServiceName    string                      `koanf:"service_name" mapstructure:"service_name"`
	Credentials    CredentialsConfig           `koanf:"credentials" mapstructure:"credentials"`
	CircuitBreaker CircuitBreakerConfig        `koanf:"circuit_breaker" mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig             `koanf:"rate_limit" mapstructure:"rate_limit"`
	Retry          RetryConfig                 `koanf:"retry" mapstructure:"retry"`
	WebhookCache   WebhookCacheConfig          `koanf:"webhook_cache" mapstructure:"webhook_cache"`
	Providers      map[string]ProviderSettings `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "wearables",
		Credentials: CredentialsConfig{
			RefreshLeadWindow: DefaultCredentialRefreshLeadWindow,
			TokenTable:        DefaultTokenTable,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 1,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 100,
			Window:            15 * time.Minute,
			Burst:             10,
		},
		Retry: RetryConfig{
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			MaxAttempts:    3,
		},
		WebhookCache: WebhookCacheConfig{
			TTL:             7 * 24 * time.Hour,
			MaxItemsPerType: 1000,
			Backend:         "memory",
			KeyPrefix:       "wearables:webhook",
		},
		Providers: map[string]ProviderSettings{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Credentials.RefreshLeadWindow < 0 {
		return fmt.Errorf("core: credentials.refresh_lead_window must be >= 0")
	}
	if c.CircuitBreaker.FailureThreshold < 0 || c.CircuitBreaker.SuccessThreshold < 0 {
		return fmt.Errorf("core: circuit_breaker thresholds must be >= 0")
	}
	if c.CircuitBreaker.RecoveryTimeout < 0 {
		return fmt.Errorf("core: circuit_breaker.recovery_timeout must be >= 0")
	}
	if c.RateLimit.RequestsPerWindow < 0 || c.RateLimit.Window < 0 {
		return fmt.Errorf("core: rate_limit values must be >= 0")
	}
	if c.WebhookCache.MaxItemsPerType < 0 {
		return fmt.Errorf("core: webhook_cache.max_items_per_type must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.WebhookCache.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.WebhookCache.RedisAddr) == "" {
			return fmt.Errorf("core: webhook_cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("core: unknown webhook_cache.backend %q", c.WebhookCache.Backend)
	}
	for name := range c.Providers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("core: provider settings key is required")
		}
	}
	return nil
}

// ProviderSettingsFor returns the settings registered for a provider, if any.
func (c Config) ProviderSettingsFor(name string) (ProviderSettings, bool) {
	if len(c.Providers) == 0 {
		return ProviderSettings{}, false
	}
	settings, ok := c.Providers[strings.ToLower(strings.TrimSpace(name))]
	return settings, ok
}
