package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	wearables "github.com/goliatone/go-wearables"
	"github.com/goliatone/go-wearables/adapters/promrecorder"
	"github.com/goliatone/go-wearables/adapters/zaplogger"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/providers/terra"
	"github.com/goliatone/go-wearables/ratelimit"
	"github.com/goliatone/go-wearables/security"
	sqlstore "github.com/goliatone/go-wearables/store/sql"
)

// runtime is everything serve needs, built once from flags and config.
type runtime struct {
	cfg      core.Config
	logger   *zaplogger.Logger
	client   *persistence.Client
	stores   *sqlstore.RepositoryFactory
	cache    terra.Cache
	registry *core.ProviderRegistry
	service  *core.Service
	metrics  *prometheus.Registry
	closers  []func() error
}

func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := zaplogger.NewProduction(logLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger}
	rt.closers = append(rt.closers, func() error {
		// stderr reports EINVAL on sync under most terminals.
		_ = logger.Sync()
		return nil
	})

	rt.metrics = prometheus.NewRegistry()
	rt.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := promrecorder.New(rt.metrics)

	client, dialect, err := openDatabase(databaseDriver, databaseDSN)
	if err != nil {
		return nil, rt.fail(err)
	}
	rt.client = client
	rt.closers = append(rt.closers, client.Close)
	logger.Info("database opened", "dialect", dialect)

	rt.stores, err = sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, rt.fail(fmt.Errorf("build stores: %w", err))
	}

	rt.cache = newWebhookCache(cfg.WebhookCache)
	if closer, ok := rt.cache.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, closer.Close)
	}

	shared := providers.NewShared(cfg)
	shared.Logger = logger
	shared.LoggerProvider = logger.Provider()
	policy := ratelimit.NewAdaptivePolicy(rt.stores.RateLimitStateStore())
	policy.InitialBackoff = cfg.Retry.InitialBackoff
	policy.MaxBackoff = cfg.Retry.MaxBackoff
	shared.Policy = policy

	rt.registry, err = wearables.NewBuiltinRegistry(cfg, shared, rt.cache)
	if err != nil {
		return nil, rt.fail(fmt.Errorf("provider registry: %w", err))
	}

	cipher, err := newTokenCipher()
	if err != nil {
		return nil, rt.fail(err)
	}

	rt.service, err = wearables.NewService(cfg,
		wearables.WithLogger(logger),
		wearables.WithLoggerProvider(shared.LoggerProvider),
		wearables.WithMetricsRecorder(recorder),
		wearables.WithRegistry(rt.registry),
		wearables.WithPersistenceClient(client),
		wearables.WithRepositoryFactory(rt.stores),
		wearables.WithTokenCipher(cipher),
	)
	if err != nil {
		return nil, rt.fail(fmt.Errorf("connection service: %w", err))
	}
	return rt, nil
}

func newWebhookCache(cfg core.WebhookCacheConfig) terra.Cache {
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "redis") {
		return terra.NewRedisCacheFromConfig(cfg)
	}
	return terra.NewMemoryCache(terra.CacheConfigFrom(cfg))
}

func newTokenCipher() (*security.TokenCipher, error) {
	encoded := resolveEncryptionKey(encryptionKey)
	if encoded == "" {
		return nil, fmt.Errorf("an encryption key is required (--encryption-key or $%s)", encryptionKeyEnv)
	}
	key, err := security.KeyFromBase64(encoded)
	if err != nil {
		return nil, err
	}
	return security.NewTokenCipherFromKey(encryptionKeyID, key)
}

func (rt *runtime) fail(err error) error {
	return errors.Join(err, rt.Close())
}

// Close releases resources in reverse acquisition order.
func (rt *runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
