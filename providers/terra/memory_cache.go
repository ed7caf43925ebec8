package terra

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers"
)

type cachedEntry[T any] struct {
	value    T
	cachedAt time.Time
}

// keying tells a series how records are identified and ordered.
type keying[T any] struct {
	identity func(T) string
	at       func(T) time.Time
}

var (
	activityKeying = keying[core.Activity]{
		identity: func(a core.Activity) string { return a.ID },
		at:       func(a core.Activity) time.Time { return a.StartDate },
	}
	sleepKeying = keying[core.SleepSession]{
		identity: func(s core.SleepSession) string { return s.ID },
		at:       func(s core.SleepSession) time.Time { return s.StartTime },
	}
	healthKeying = keying[core.HealthMetrics]{
		identity: func(m core.HealthMetrics) string { return dayKey(m.Date) },
		at:       func(m core.HealthMetrics) time.Time { return m.Date },
	}
	recoveryKeying = keying[core.RecoveryMetrics]{
		identity: func(m core.RecoveryMetrics) string { return dayKey(m.Date) },
		at:       func(m core.RecoveryMetrics) time.Time { return m.Date },
	}
)

type series[T any] map[string]cachedEntry[T]

func (s series[T]) put(k keying[T], value T, now time.Time, maxItems int) {
	s[k.identity(value)] = cachedEntry[T]{value: value, cachedAt: now}
	if len(s) <= maxItems {
		return
	}
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return k.at(s[ids[i]].value).Before(k.at(s[ids[j]].value))
	})
	for _, id := range ids[:len(s)-maxItems] {
		delete(s, id)
	}
}

func (s series[T]) live(ttl time.Duration, now time.Time, keep func(T) bool) []T {
	out := make([]T, 0, len(s))
	for _, entry := range s {
		if now.Sub(entry.cachedAt) > ttl {
			continue
		}
		if keep == nil || keep(entry.value) {
			out = append(out, entry.value)
		}
	}
	return out
}

func (s series[T]) expire(ttl time.Duration, now time.Time) int {
	removed := 0
	for id, entry := range s {
		if now.Sub(entry.cachedAt) > ttl {
			delete(s, id)
			removed++
		}
	}
	return removed
}

type userCache struct {
	activities series[core.Activity]
	sleep      series[core.SleepSession]
	health     series[core.HealthMetrics]
	recovery   series[core.RecoveryMetrics]
}

func newUserCache() *userCache {
	return &userCache{
		activities: series[core.Activity]{},
		sleep:      series[core.SleepSession]{},
		health:     series[core.HealthMetrics]{},
		recovery:   series[core.RecoveryMetrics]{},
	}
}

func (u *userCache) empty() bool {
	return len(u.activities) == 0 && len(u.sleep) == 0 && len(u.health) == 0 && len(u.recovery) == 0
}

// MemoryCache is a process local Cache. Entries expire TTL after they were
// stored.
type MemoryCache struct {
	config CacheConfig
	now    func() time.Time

	mu         sync.RWMutex
	users      map[string]*userCache
	references map[string]string
}

func NewMemoryCache(config CacheConfig) *MemoryCache {
	return &MemoryCache{
		config:     config.normalized(),
		now:        func() time.Time { return time.Now().UTC() },
		users:      map[string]*userCache{},
		references: map[string]string{},
	}
}

// WithClock replaces the clock used for expiry.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *MemoryCache) RegisterUserMapping(_ context.Context, referenceID string, platformUserID string) error {
	c.mu.Lock()
	c.references[referenceID] = platformUserID
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) PlatformUserID(_ context.Context, referenceID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID, ok := c.references[referenceID]
	return userID, ok, nil
}

func (c *MemoryCache) user(userID string) *userCache {
	cache, ok := c.users[userID]
	if !ok {
		cache = newUserCache()
		c.users[userID] = cache
	}
	return cache
}

func (c *MemoryCache) read(userID string, fn func(*userCache)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cache, ok := c.users[userID]; ok {
		fn(cache)
	}
}

func (c *MemoryCache) StoreActivity(_ context.Context, userID string, activity core.Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user(userID).activities.put(activityKeying, activity, c.now(), c.config.MaxItemsPerType)
	return nil
}

func (c *MemoryCache) GetActivities(_ context.Context, userID string, limit int, offset int) ([]core.Activity, error) {
	activities := []core.Activity{}
	c.read(userID, func(cache *userCache) {
		activities = cache.activities.live(c.config.TTL, c.now(), nil)
	})
	pagination.SortNewestFirst(activities, providers.ActivityKey)
	return window(activities, limit, offset), nil
}

func (c *MemoryCache) GetActivity(_ context.Context, userID string, id string) (core.Activity, bool, error) {
	var (
		activity core.Activity
		found    bool
	)
	c.read(userID, func(cache *userCache) {
		entry, ok := cache.activities[id]
		if ok && c.now().Sub(entry.cachedAt) <= c.config.TTL {
			activity, found = entry.value, true
		}
	})
	return activity, found, nil
}

func (c *MemoryCache) StoreSleepSession(_ context.Context, userID string, session core.SleepSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user(userID).sleep.put(sleepKeying, session, c.now(), c.config.MaxItemsPerType)
	return nil
}

func (c *MemoryCache) GetSleepSessions(_ context.Context, userID string, dateRange core.DateRange) ([]core.SleepSession, error) {
	sessions := []core.SleepSession{}
	c.read(userID, func(cache *userCache) {
		sessions = cache.sleep.live(c.config.TTL, c.now(), func(s core.SleepSession) bool {
			return dateRange.Contains(s.StartTime)
		})
	})
	pagination.SortNewestFirst(sessions, providers.SleepKey)
	return sessions, nil
}

func (c *MemoryCache) GetLatestSleepSession(_ context.Context, userID string) (core.SleepSession, bool, error) {
	var sessions []core.SleepSession
	c.read(userID, func(cache *userCache) {
		sessions = cache.sleep.live(c.config.TTL, c.now(), nil)
	})
	if len(sessions) == 0 {
		return core.SleepSession{}, false, nil
	}
	pagination.SortNewestFirst(sessions, providers.SleepKey)
	return sessions[0], true, nil
}

func (c *MemoryCache) StoreHealthMetrics(_ context.Context, userID string, metric core.HealthMetrics) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user(userID).health.put(healthKeying, metric, c.now(), c.config.MaxItemsPerType)
	return nil
}

func (c *MemoryCache) GetHealthMetrics(_ context.Context, userID string, dateRange core.DateRange) ([]core.HealthMetrics, error) {
	metrics := []core.HealthMetrics{}
	c.read(userID, func(cache *userCache) {
		metrics = cache.health.live(c.config.TTL, c.now(), func(m core.HealthMetrics) bool {
			return dateRange.Contains(m.Date)
		})
	})
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Date.After(metrics[j].Date) })
	return metrics, nil
}

func (c *MemoryCache) StoreRecoveryMetrics(_ context.Context, userID string, metric core.RecoveryMetrics) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user(userID).recovery.put(recoveryKeying, metric, c.now(), c.config.MaxItemsPerType)
	return nil
}

func (c *MemoryCache) GetRecoveryMetrics(_ context.Context, userID string, dateRange core.DateRange) ([]core.RecoveryMetrics, error) {
	metrics := []core.RecoveryMetrics{}
	c.read(userID, func(cache *userCache) {
		metrics = cache.recovery.live(c.config.TTL, c.now(), func(m core.RecoveryMetrics) bool {
			return dateRange.Contains(m.Date)
		})
	})
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Date.After(metrics[j].Date) })
	return metrics, nil
}

func (c *MemoryCache) CleanupExpired(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for userID, cache := range c.users {
		removed += cache.activities.expire(c.config.TTL, now)
		removed += cache.sleep.expire(c.config.TTL, now)
		removed += cache.health.expire(c.config.TTL, now)
		removed += cache.recovery.expire(c.config.TTL, now)
		if cache.empty() {
			delete(c.users, userID)
		}
	}
	return removed, nil
}

func (c *MemoryCache) Stats(context.Context) (CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := CacheStats{Users: len(c.users)}
	for _, cache := range c.users {
		stats.Activities += len(cache.activities)
		stats.SleepSessions += len(cache.sleep)
		stats.HealthMetrics += len(cache.health)
		stats.RecoveryMetrics += len(cache.recovery)
	}
	return stats, nil
}

var _ Cache = (*MemoryCache)(nil)
