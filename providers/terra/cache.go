package terra

import (
	"context"
	"time"

	"github.com/goliatone/go-wearables/core"
)

const (
	DefaultCacheTTL             = 7 * 24 * time.Hour
	DefaultCacheMaxItemsPerType = 1000
)

// Cache holds webhook delivered records per platform user until the
// provider reads them. Activities and sleep sessions are unique by id;
// health and recovery records are unique per calendar day, newer deliveries
// replacing older ones. When a type exceeds its item budget the entries
// with the oldest timestamps are evicted.
type Cache interface {
	RegisterUserMapping(ctx context.Context, referenceID string, platformUserID string) error
	PlatformUserID(ctx context.Context, referenceID string) (string, bool, error)

	StoreActivity(ctx context.Context, userID string, activity core.Activity) error
	// GetActivities returns newest first; limit <= 0 means all.
	GetActivities(ctx context.Context, userID string, limit int, offset int) ([]core.Activity, error)
	GetActivity(ctx context.Context, userID string, id string) (core.Activity, bool, error)

	StoreSleepSession(ctx context.Context, userID string, session core.SleepSession) error
	GetSleepSessions(ctx context.Context, userID string, dateRange core.DateRange) ([]core.SleepSession, error)
	GetLatestSleepSession(ctx context.Context, userID string) (core.SleepSession, bool, error)

	StoreHealthMetrics(ctx context.Context, userID string, metric core.HealthMetrics) error
	GetHealthMetrics(ctx context.Context, userID string, dateRange core.DateRange) ([]core.HealthMetrics, error)

	StoreRecoveryMetrics(ctx context.Context, userID string, metric core.RecoveryMetrics) error
	GetRecoveryMetrics(ctx context.Context, userID string, dateRange core.DateRange) ([]core.RecoveryMetrics, error)

	// CleanupExpired drops entries older than the TTL and reports how many.
	CleanupExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (CacheStats, error)
}

type CacheConfig struct {
	TTL             time.Duration
	MaxItemsPerType int
}

func CacheConfigFrom(cfg core.WebhookCacheConfig) CacheConfig {
	return CacheConfig{TTL: cfg.TTL, MaxItemsPerType: cfg.MaxItemsPerType}
}

func (c CacheConfig) normalized() CacheConfig {
	if c.TTL <= 0 {
		c.TTL = DefaultCacheTTL
	}
	if c.MaxItemsPerType <= 0 {
		c.MaxItemsPerType = DefaultCacheMaxItemsPerType
	}
	return c
}

type CacheStats struct {
	Users           int
	Activities      int
	SleepSessions   int
	HealthMetrics   int
	RecoveryMetrics int
}

func dayKey(value time.Time) string {
	return value.UTC().Format("2006-01-02")
}

func window[T any](items []T, limit int, offset int) []T {
	offset = min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 {
		end = min(offset+limit, end)
	}
	return items[offset:end]
}
