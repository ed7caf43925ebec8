package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/ratelimit"
)

type FactoryOption func(*RepositoryFactory)

// WithCacheService fronts connection and rate-limit state reads with the
// given cache service.
func WithCacheService(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cache = cacheService
	}
}

type RepositoryFactory struct {
	db    *bun.DB
	cache repositorycache.CacheService

	connectionStore     core.ConnectionStore
	tokenStore          *TokenStore
	rateLimitStateStore ratelimit.StateStore
	webhookDeliveries   *WebhookDeliveryStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.tokenStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) TokenStore() core.TokenStore {
	if f == nil || f.tokenStore == nil {
		return nil
	}
	return f.tokenStore
}

// RateLimitStateStore backs ratelimit.AdaptivePolicy with the same database.
func (f *RepositoryFactory) RateLimitStateStore() ratelimit.StateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

// WebhookDeliveryStore is the durable ledger for webhook dedupe.
func (f *RepositoryFactory) WebhookDeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.webhookDeliveries
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionStore, err := NewConnectionStore(f.db)
	if err != nil {
		return err
	}
	tokenStore, err := NewTokenStore(f.db)
	if err != nil {
		return err
	}
	rateLimitStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	webhookDeliveries, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}

	f.connectionStore = connectionStore
	f.tokenStore = tokenStore
	f.rateLimitStateStore = rateLimitStore
	f.webhookDeliveries = webhookDeliveries
	if f.cache == nil {
		return nil
	}

	cachedConnections, err := NewCachedConnectionStore(connectionStore, f.cache)
	if err != nil {
		return err
	}
	cachedRateLimits, err := NewCachedRateLimitStateStore(rateLimitStore, f.cache)
	if err != nil {
		return err
	}
	f.connectionStore = cachedConnections
	f.rateLimitStateStore = cachedRateLimits
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
