package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	oauthStateStore   OAuthStateStore
	registry          Registry
	connectionStore   ConnectionStore
	tokenStore        TokenStore
	tokenCipher       TokenCipher
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithOAuthStateStore(store OAuthStateStore) Option {
	return func(b *serviceBuilder) {
		b.oauthStateStore = store
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithTokenStore(store TokenStore) Option {
	return func(b *serviceBuilder) {
		b.tokenStore = store
	}
}

func WithTokenCipher(cipher TokenCipher) Option {
	return func(b *serviceBuilder) {
		b.tokenCipher = cipher
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("wearables", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		oauthStateStore: NewMemoryOAuthStateStore(defaultOAuthStateTTL),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return MapError(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.Values), nil
}

// NewStaticRawConfigLoader serves a fixed raw map, typically decoded from a file.
func NewStaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config and runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	credentials := map[string]any{}
	if includeZero || cfg.Credentials.RefreshLeadWindow > 0 {
		credentials["refresh_lead_window"] = cfg.Credentials.RefreshLeadWindow
	}
	if includeZero || strings.TrimSpace(cfg.Credentials.TokenTable) != "" {
		credentials["token_table"] = cfg.Credentials.TokenTable
	}
	putSection(layer, "credentials", credentials)

	breaker := map[string]any{}
	if includeZero || cfg.CircuitBreaker.FailureThreshold > 0 {
		breaker["failure_threshold"] = cfg.CircuitBreaker.FailureThreshold
	}
	if includeZero || cfg.CircuitBreaker.RecoveryTimeout > 0 {
		breaker["recovery_timeout"] = cfg.CircuitBreaker.RecoveryTimeout
	}
	if includeZero || cfg.CircuitBreaker.SuccessThreshold > 0 {
		breaker["success_threshold"] = cfg.CircuitBreaker.SuccessThreshold
	}
	putSection(layer, "circuit_breaker", breaker)

	rateLimit := map[string]any{}
	if includeZero || cfg.RateLimit.RequestsPerWindow > 0 {
		rateLimit["requests_per_window"] = cfg.RateLimit.RequestsPerWindow
	}
	if includeZero || cfg.RateLimit.Window > 0 {
		rateLimit["window"] = cfg.RateLimit.Window
	}
	if includeZero || cfg.RateLimit.Burst > 0 {
		rateLimit["burst"] = cfg.RateLimit.Burst
	}
	putSection(layer, "rate_limit", rateLimit)

	retry := map[string]any{}
	if includeZero || cfg.Retry.InitialBackoff > 0 {
		retry["initial_backoff"] = cfg.Retry.InitialBackoff
	}
	if includeZero || cfg.Retry.MaxBackoff > 0 {
		retry["max_backoff"] = cfg.Retry.MaxBackoff
	}
	if includeZero || cfg.Retry.MaxAttempts > 0 {
		retry["max_attempts"] = cfg.Retry.MaxAttempts
	}
	putSection(layer, "retry", retry)

	webhookCache := map[string]any{}
	if includeZero || cfg.WebhookCache.TTL > 0 {
		webhookCache["ttl"] = cfg.WebhookCache.TTL
	}
	if includeZero || cfg.WebhookCache.MaxItemsPerType > 0 {
		webhookCache["max_items_per_type"] = cfg.WebhookCache.MaxItemsPerType
	}
	if includeZero || strings.TrimSpace(cfg.WebhookCache.Backend) != "" {
		webhookCache["backend"] = cfg.WebhookCache.Backend
	}
	if includeZero || strings.TrimSpace(cfg.WebhookCache.RedisAddr) != "" {
		webhookCache["redis_addr"] = cfg.WebhookCache.RedisAddr
	}
	if includeZero || cfg.WebhookCache.RedisPassword != "" {
		webhookCache["redis_password"] = cfg.WebhookCache.RedisPassword
	}
	if includeZero || cfg.WebhookCache.RedisDB > 0 {
		webhookCache["redis_db"] = cfg.WebhookCache.RedisDB
	}
	if includeZero || strings.TrimSpace(cfg.WebhookCache.KeyPrefix) != "" {
		webhookCache["key_prefix"] = cfg.WebhookCache.KeyPrefix
	}
	putSection(layer, "webhook_cache", webhookCache)

	if includeZero || len(cfg.Providers) > 0 {
		providers := make(map[string]any, len(cfg.Providers))
		for name, settings := range cfg.Providers {
			providers[strings.ToLower(strings.TrimSpace(name))] = providerSettingsToMap(settings)
		}
		layer["providers"] = providers
	}
	return layer
}

func providerSettingsToMap(settings ProviderSettings) map[string]any {
	return map[string]any{
		"client_id":           settings.ClientID,
		"client_secret":       settings.ClientSecret,
		"redirect_uri":        settings.RedirectURI,
		"scopes":              append([]string(nil), settings.Scopes...),
		"auth_url":            settings.AuthURL,
		"token_url":           settings.TokenURL,
		"revoke_url":          settings.RevokeURL,
		"api_base_url":        settings.APIBaseURL,
		"failure_threshold":   settings.FailureThreshold,
		"requests_per_window": settings.RequestsPerWindow,
		"webhook_secret":      settings.WebhookSecret,
		"disabled":            settings.Disabled,
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) == 0 {
		return
	}
	layer[key] = section
}
