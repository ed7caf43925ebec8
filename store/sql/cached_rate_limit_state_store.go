package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-wearables/ratelimit"
)

const rateLimitStateCacheKeyPrefix = "go-wearables::ratelimit_state::v1"

type CachedRateLimitStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(
	base ratelimit.StateStore,
	cacheService repositorycache.CacheService,
) (*CachedRateLimitStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitStateStore{base: base, cache: cacheService}, nil
}

// RateLimitStateCacheKey returns go-wearables::ratelimit_state::v1::<provider>::<tenant>::<bucket>
// with each segment URL-path escaped after normalization.
func RateLimitStateCacheKey(key ratelimit.Key) (string, error) {
	normalized := normalizeRateLimitKey(key)
	if err := validateRateLimitKey(normalized); err != nil {
		return "", err
	}
	segments := []string{normalized.Provider, normalized.TenantID, normalized.Bucket}
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(append([]string{rateLimitStateCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.State, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	normalized := normalizeRateLimitKey(key)
	cacheKey, err := RateLimitStateCacheKey(normalized)
	if err != nil {
		return ratelimit.State{}, err
	}

	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.State, error) {
		fetched, fetchErr := s.base.Get(ctx, normalized)
		if fetchErr != nil {
			return ratelimit.State{}, fetchErr
		}
		return cloneRateLimitState(fetched), nil
	})
	if err != nil {
		return ratelimit.State{}, err
	}
	return cloneRateLimitState(state), nil
}

func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	state.Key = normalizeRateLimitKey(state.Key)
	cacheKey, err := RateLimitStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneRateLimitState(state ratelimit.State) ratelimit.State {
	cloned := state
	cloned.Key = normalizeRateLimitKey(state.Key)
	cloned.ResetAt = copyTimePointer(state.ResetAt)
	cloned.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
	if state.RetryAfter != nil {
		value := *state.RetryAfter
		cloned.RetryAfter = &value
	}
	return cloned
}

var _ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
