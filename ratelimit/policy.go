// Package ratelimit keeps provider calls inside upstream quotas. The
// adaptive policy learns from response headers; the window limiter enforces
// the configured request budget before a call leaves the process.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wearables/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one quota bucket. Most providers meter per application, so
// TenantID is optional.
type Key struct {
	Provider string
	TenantID string
	Bucket   string
}

// ResponseMeta is the slice of an upstream response the policy inspects.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	Provider   string
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: provider %q bucket %q throttled for %s",
		strings.TrimSpace(e.Provider),
		strings.TrimSpace(e.Bucket),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	return core.NewRateLimitedError(e.Provider, e.RetryAfter)
}

type AdaptivePolicy struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

// BeforeCall rejects with a rate-limited error while a throttle window learned
// from a previous response is still active.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{Provider: state.Key.Provider, Bucket: state.Key.Bucket, RetryAfter: until.Sub(now)}.ToServiceError()
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return ThrottledError{Provider: state.Key.Provider, Bucket: state.Key.Bucket, RetryAfter: state.ResetAt.Sub(now)}.ToServiceError()
	}
	return nil
}

// AfterCall records quota headers and, for throttled responses, the window
// during which further calls are refused. It returns the retry hint it
// derived so callers can surface it.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res ResponseMeta) (time.Duration, error) {
	if p == nil || p.Store == nil {
		return 0, nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return 0, err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	limit, hasLimit := parseHeaderInt(res.Headers, "x-ratelimit-limit")
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := parseHeaderInt(res.Headers, "x-ratelimit-remaining")
	if !hasRemaining {
		// some providers report usage against a comma separated list of limits
		remaining, hasRemaining = remainingFromUsage(res.Headers)
	}
	if hasRemaining {
		state.Remaining = remaining
	}
	resetAt, hasResetAt := parseHeaderResetAt(res.Headers, now)
	if hasResetAt {
		state.ResetAt = &resetAt
	}

	calculatedRetryAfter, hasRetryAfter := parseRetryAfter(res, now)
	if hasRetryAfter {
		state.RetryAfter = &calculatedRetryAfter
	} else {
		state.RetryAfter = nil
	}

	if isThrottledResponse(res.StatusCode, state.Remaining, hasRemaining, hasResetAt, hasLimit, hasRetryAfter) {
		state.Attempts++
		delay := calculatedRetryAfter
		if !hasRetryAfter {
			if hasResetAt && resetAt.After(now) {
				delay = resetAt.Sub(now)
			} else {
				delay = p.nextBackoff(state.Attempts)
			}
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		if err := p.Store.Upsert(ctx, state); err != nil {
			return delay, err
		}
		return delay, nil
	}

	state.Attempts = 0
	state.ThrottledUntil = nil
	if err := p.Store.Upsert(ctx, state); err != nil {
		return 0, err
	}
	return 0, nil
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if attempt <= 0 {
		return initial
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay <= 0 {
		return p.defaultRetryHint()
	}
	return delay
}

func (p *AdaptivePolicy) defaultRetryHint() time.Duration {
	if p != nil && p.DefaultRetryHint > 0 {
		return p.DefaultRetryHint
	}
	return 5 * time.Second
}

func isThrottledResponse(
	statusCode int,
	remaining int,
	hasRemaining bool,
	hasResetAt bool,
	hasLimit bool,
	hasRetryAfter bool,
) bool {
	if statusCode == 429 {
		return true
	}
	if statusCode >= 500 {
		return false
	}
	return remaining <= 0 && hasRemaining && (hasResetAt || hasLimit || hasRetryAfter)
}

func parseRetryAfter(res ResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	return ParseRetryAfterHeader(headerValue(res.Headers, "retry-after"), now)
}

// ParseRetryAfterHeader accepts delta-seconds or an HTTP date.
func ParseRetryAfterHeader(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := httpDate(raw); err == nil {
		if retryAt.After(now) {
			return retryAt.Sub(now), true
		}
	}
	return 0, false
}

// parseHeaderInt reads an integer header; for comma separated values
// (short and long windows) the first entry wins.
func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	first, _, _ := strings.Cut(value, ",")
	parsed, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func remainingFromUsage(headers map[string]string) (int, bool) {
	limits := splitInts(headerValue(headers, "x-ratelimit-limit"))
	usage := splitInts(headerValue(headers, "x-ratelimit-usage"))
	if len(limits) == 0 || len(limits) != len(usage) {
		return 0, false
	}
	remaining := limits[0] - usage[0]
	for i := 1; i < len(limits); i++ {
		if left := limits[i] - usage[i]; left < remaining {
			remaining = left
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

func splitInts(value string) []int {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		parsed, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil
		}
		out = append(out, parsed)
	}
	return out
}

// parseHeaderResetAt accepts epoch seconds or a relative seconds count.
func parseHeaderResetAt(headers map[string]string, now time.Time) (time.Time, bool) {
	value := headerValue(headers, "x-ratelimit-reset")
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	if unix < 1_000_000_000 {
		return now.Add(time.Duration(unix) * time.Second), true
	}
	return time.Unix(unix, 0).UTC(), true
}

func httpDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("ratelimit: empty date")
	}
	if parsed, err := time.Parse(time.RFC1123, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("ratelimit: invalid http date")
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeKey(key Key) Key {
	return Key{
		Provider: strings.TrimSpace(strings.ToLower(key.Provider)),
		TenantID: strings.TrimSpace(key.TenantID),
		Bucket:   strings.TrimSpace(strings.ToLower(key.Bucket)),
	}
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	normalized := normalizeKey(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalized)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

func stateKey(key Key) string {
	return key.Provider + "|" + key.TenantID + "|" + key.Bucket
}
