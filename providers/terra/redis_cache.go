package terra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers"
)

const (
	kindActivities = "activities"
	kindSleep      = "sleep"
	kindHealth     = "health"
	kindRecovery   = "recovery"
)

var cacheKinds = []string{kindActivities, kindSleep, kindHealth, kindRecovery}

// RedisCache shares webhook records between processes. Each record type of a
// user is a sorted set of ids scored by record time plus a hash holding the
// JSON encoded records.
type RedisCache struct {
	client redis.UniversalClient
	config CacheConfig
	prefix string
	now    func() time.Time
}

type RedisCacheOption func(*RedisCache)

func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			c.prefix = strings.TrimRight(prefix, ":")
		}
	}
}

func WithRedisClock(now func() time.Time) RedisCacheOption {
	return func(c *RedisCache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewRedisCache(client redis.UniversalClient, config CacheConfig, opts ...RedisCacheOption) *RedisCache {
	cache := &RedisCache{
		client: client,
		config: config.normalized(),
		prefix: "wearables:webhook",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// NewRedisCacheFromConfig dials the server named in cfg.
func NewRedisCacheFromConfig(cfg core.WebhookCacheConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisCache(client, CacheConfigFrom(cfg), WithKeyPrefix(cfg.KeyPrefix))
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

func (c *RedisCache) indexKey(userID string, kind string) string {
	return c.key("user", userID, kind, "index")
}

func (c *RedisCache) dataKey(userID string, kind string) string {
	return c.key("user", userID, kind, "data")
}

type redisEnvelope[T any] struct {
	CachedAt int64 `json:"cached_at"`
	Value    T     `json:"value"`
}

func (c *RedisCache) expired(cachedAtMillis int64) bool {
	return c.now().Sub(time.UnixMilli(cachedAtMillis)) > c.config.TTL
}

func redisPut[T any](ctx context.Context, c *RedisCache, userID string, kind string, k keying[T], value T) error {
	id := k.identity(value)
	encoded, err := json.Marshal(redisEnvelope[T]{CachedAt: c.now().UnixMilli(), Value: value})
	if err != nil {
		return fmt.Errorf("terra: encode %s record: %w", kind, err)
	}
	indexKey, dataKey := c.indexKey(userID, kind), c.dataKey(userID, kind)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, dataKey, id, encoded)
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(k.at(value).UnixMilli()), Member: id})
		pipe.SAdd(ctx, c.key("users"), userID)
		pipe.Expire(ctx, dataKey, c.config.TTL)
		pipe.Expire(ctx, indexKey, c.config.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("terra: store %s record: %w", kind, err)
	}
	return c.trim(ctx, indexKey, dataKey)
}

// trim evicts the lowest scored ids beyond the item budget.
func (c *RedisCache) trim(ctx context.Context, indexKey string, dataKey string) error {
	count, err := c.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("terra: count cache entries: %w", err)
	}
	overflow := count - int64(c.config.MaxItemsPerType)
	if overflow <= 0 {
		return nil
	}
	ids, err := c.client.ZRange(ctx, indexKey, 0, overflow-1).Result()
	if err != nil {
		return fmt.Errorf("terra: list evicted entries: %w", err)
	}
	return c.remove(ctx, indexKey, dataKey, ids)
}

func (c *RedisCache) remove(ctx context.Context, indexKey string, dataKey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, indexKey, members...)
		pipe.HDel(ctx, dataKey, ids...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("terra: evict cache entries: %w", err)
	}
	return nil
}

// redisLoad reads ids from a kind's hash, skipping expired or missing ones.
func redisLoad[T any](ctx context.Context, c *RedisCache, userID string, kind string, ids []string) ([]T, error) {
	out := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	values, err := c.client.HMGet(ctx, c.dataKey(userID, kind), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("terra: load %s records: %w", kind, err)
	}
	for _, raw := range values {
		encoded, ok := raw.(string)
		if !ok {
			continue
		}
		var envelope redisEnvelope[T]
		if err := json.Unmarshal([]byte(encoded), &envelope); err != nil {
			return nil, fmt.Errorf("terra: decode %s record: %w", kind, err)
		}
		if c.expired(envelope.CachedAt) {
			continue
		}
		out = append(out, envelope.Value)
	}
	return out, nil
}

func redisRange[T any](ctx context.Context, c *RedisCache, userID string, kind string, dateRange core.DateRange) ([]T, error) {
	ids, err := c.client.ZRevRangeByScore(ctx, c.indexKey(userID, kind), &redis.ZRangeBy{
		Min: strconv.FormatInt(dateRange.Start.UnixMilli(), 10),
		Max: strconv.FormatInt(dateRange.End.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("terra: range %s records: %w", kind, err)
	}
	return redisLoad[T](ctx, c, userID, kind, ids)
}

func (c *RedisCache) RegisterUserMapping(ctx context.Context, referenceID string, platformUserID string) error {
	if err := c.client.HSet(ctx, c.key("references"), referenceID, platformUserID).Err(); err != nil {
		return fmt.Errorf("terra: register user mapping: %w", err)
	}
	return nil
}

func (c *RedisCache) PlatformUserID(ctx context.Context, referenceID string) (string, bool, error) {
	userID, err := c.client.HGet(ctx, c.key("references"), referenceID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("terra: lookup user mapping: %w", err)
	}
	return userID, true, nil
}

func (c *RedisCache) StoreActivity(ctx context.Context, userID string, activity core.Activity) error {
	return redisPut(ctx, c, userID, kindActivities, activityKeying, activity)
}

func (c *RedisCache) GetActivities(ctx context.Context, userID string, limit int, offset int) ([]core.Activity, error) {
	ids, err := c.client.ZRevRange(ctx, c.indexKey(userID, kindActivities), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("terra: list activities: %w", err)
	}
	activities, err := redisLoad[core.Activity](ctx, c, userID, kindActivities, ids)
	if err != nil {
		return nil, err
	}
	pagination.SortNewestFirst(activities, providers.ActivityKey)
	return window(activities, limit, offset), nil
}

func (c *RedisCache) GetActivity(ctx context.Context, userID string, id string) (core.Activity, bool, error) {
	activities, err := redisLoad[core.Activity](ctx, c, userID, kindActivities, []string{id})
	if err != nil || len(activities) == 0 {
		return core.Activity{}, false, err
	}
	return activities[0], true, nil
}

func (c *RedisCache) StoreSleepSession(ctx context.Context, userID string, session core.SleepSession) error {
	return redisPut(ctx, c, userID, kindSleep, sleepKeying, session)
}

func (c *RedisCache) GetSleepSessions(ctx context.Context, userID string, dateRange core.DateRange) ([]core.SleepSession, error) {
	sessions, err := redisRange[core.SleepSession](ctx, c, userID, kindSleep, dateRange)
	if err != nil {
		return nil, err
	}
	pagination.SortNewestFirst(sessions, providers.SleepKey)
	return sessions, nil
}

func (c *RedisCache) GetLatestSleepSession(ctx context.Context, userID string) (core.SleepSession, bool, error) {
	// walk from the newest id; expired entries are skipped
	ids, err := c.client.ZRevRange(ctx, c.indexKey(userID, kindSleep), 0, -1).Result()
	if err != nil {
		return core.SleepSession{}, false, fmt.Errorf("terra: list sleep sessions: %w", err)
	}
	for _, id := range ids {
		sessions, err := redisLoad[core.SleepSession](ctx, c, userID, kindSleep, []string{id})
		if err != nil {
			return core.SleepSession{}, false, err
		}
		if len(sessions) > 0 {
			return sessions[0], true, nil
		}
	}
	return core.SleepSession{}, false, nil
}

func (c *RedisCache) StoreHealthMetrics(ctx context.Context, userID string, metric core.HealthMetrics) error {
	return redisPut(ctx, c, userID, kindHealth, healthKeying, metric)
}

func (c *RedisCache) GetHealthMetrics(ctx context.Context, userID string, dateRange core.DateRange) ([]core.HealthMetrics, error) {
	metrics, err := redisRange[core.HealthMetrics](ctx, c, userID, kindHealth, dateRange)
	if err != nil {
		return nil, err
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Date.After(metrics[j].Date) })
	return metrics, nil
}

func (c *RedisCache) StoreRecoveryMetrics(ctx context.Context, userID string, metric core.RecoveryMetrics) error {
	return redisPut(ctx, c, userID, kindRecovery, recoveryKeying, metric)
}

func (c *RedisCache) GetRecoveryMetrics(ctx context.Context, userID string, dateRange core.DateRange) ([]core.RecoveryMetrics, error) {
	metrics, err := redisRange[core.RecoveryMetrics](ctx, c, userID, kindRecovery, dateRange)
	if err != nil {
		return nil, err
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Date.After(metrics[j].Date) })
	return metrics, nil
}

func (c *RedisCache) CleanupExpired(ctx context.Context) (int, error) {
	users, err := c.client.SMembers(ctx, c.key("users")).Result()
	if err != nil {
		return 0, fmt.Errorf("terra: list cached users: %w", err)
	}
	removed := 0
	for _, userID := range users {
		remaining := int64(0)
		for _, kind := range cacheKinds {
			indexKey, dataKey := c.indexKey(userID, kind), c.dataKey(userID, kind)
			entries, err := c.client.HGetAll(ctx, dataKey).Result()
			if err != nil {
				return removed, fmt.Errorf("terra: scan %s entries: %w", kind, err)
			}
			var stale []string
			for id, encoded := range entries {
				var envelope redisEnvelope[json.RawMessage]
				if json.Unmarshal([]byte(encoded), &envelope) != nil || c.expired(envelope.CachedAt) {
					stale = append(stale, id)
				}
			}
			if err := c.remove(ctx, indexKey, dataKey, stale); err != nil {
				return removed, err
			}
			removed += len(stale)
			remaining += int64(len(entries) - len(stale))
		}
		if remaining == 0 {
			if err := c.client.SRem(ctx, c.key("users"), userID).Err(); err != nil {
				return removed, fmt.Errorf("terra: drop cached user: %w", err)
			}
		}
	}
	return removed, nil
}

func (c *RedisCache) Stats(ctx context.Context) (CacheStats, error) {
	users, err := c.client.SMembers(ctx, c.key("users")).Result()
	if err != nil {
		return CacheStats{}, fmt.Errorf("terra: list cached users: %w", err)
	}
	stats := CacheStats{Users: len(users)}
	for _, userID := range users {
		for _, kind := range cacheKinds {
			count, err := c.client.ZCard(ctx, c.indexKey(userID, kind)).Result()
			if err != nil {
				return CacheStats{}, fmt.Errorf("terra: count %s entries: %w", kind, err)
			}
			switch kind {
			case kindActivities:
				stats.Activities += int(count)
			case kindSleep:
				stats.SleepSessions += int(count)
			case kindHealth:
				stats.HealthMetrics += int(count)
			case kindRecovery:
				stats.RecoveryMetrics += int(count)
			}
		}
	}
	return stats, nil
}

var _ Cache = (*RedisCache)(nil)
