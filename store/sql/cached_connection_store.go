package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-wearables/core"
)

const connectionCacheKeyPrefix = "go-wearables::connection::v1"

// CachedConnectionStore serves connection lookups from a cache service and
// invalidates the entry on every write for that key.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(
	base core.ConnectionStore,
	cacheService repositorycache.CacheService,
) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns go-wearables::connection::v1::<tenant>::<user>::<provider>.
func ConnectionCacheKey(key core.ConnectionKey) (string, error) {
	normalized := normalizeConnectionKey(key)
	if err := normalized.Validate(); err != nil {
		return "", core.NewBadInputError(err.Error())
	}
	segments := []string{normalized.TenantID, normalized.UserID, normalized.Provider}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{connectionCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedConnectionStore) Upsert(ctx context.Context, connection core.ProviderConnection) (core.ProviderConnection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProviderConnection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	saved, err := s.base.Upsert(ctx, connection)
	if err != nil {
		return core.ProviderConnection{}, err
	}
	if err := s.invalidate(ctx, connectionKeyOf(saved)); err != nil {
		return core.ProviderConnection{}, err
	}
	return saved, nil
}

func (s *CachedConnectionStore) Get(ctx context.Context, key core.ConnectionKey) (core.ProviderConnection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.ProviderConnection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	normalized := normalizeConnectionKey(key)
	cacheKey, err := ConnectionCacheKey(normalized)
	if err != nil {
		return core.ProviderConnection{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.ProviderConnection, error) {
		return s.base.Get(ctx, normalized)
	})
}

// ListByUser always reads through; list results are not cached.
func (s *CachedConnectionStore) ListByUser(ctx context.Context, tenantID string, userID string) ([]core.ProviderConnection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.ListByUser(ctx, tenantID, userID)
}

func (s *CachedConnectionStore) UpdateStatus(
	ctx context.Context,
	key core.ConnectionKey,
	status core.ConnectionStatus,
	reason string,
) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.UpdateStatus(ctx, key, status, reason); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, key core.ConnectionKey) error {
	cacheKey, err := ConnectionCacheKey(key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.ConnectionStore = (*CachedConnectionStore)(nil)
