package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

func TestAdaptivePolicy_BeforeCallAllowsWhenNoState(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())

	err := policy.BeforeCall(context.Background(), Key{Provider: "strava", Bucket: "api"})
	if err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
}

func TestAdaptivePolicy_AfterCallParsesHeadersAndPersistsState(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := Key{Provider: "fitbit", TenantID: "t1", Bucket: "api"}
	resetAt := now.Add(45 * time.Second)
	if _, err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"X-RateLimit-Limit":     "150",
			"X-RateLimit-Remaining": "149",
			"X-RateLimit-Reset":     "1700000045",
		},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 150 || state.Remaining != 149 {
		t.Fatalf("unexpected quota state %+v", state)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(resetAt) {
		t.Fatalf("expected reset at %s, got %+v", resetAt, state.ResetAt)
	}
	if state.ThrottledUntil != nil {
		t.Fatalf("expected no throttle window for a healthy response")
	}
}

func TestAdaptivePolicy_ThrottlesOn429WithRetryAfter(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	key := Key{Provider: "whoop", Bucket: "api"}

	delay, err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusTooManyRequests,
		Headers:    map[string]string{"Retry-After": "60"},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}
	if delay != time.Minute {
		t.Fatalf("expected 60s delay, got %s", delay)
	}

	err = policy.BeforeCall(context.Background(), key)
	if !core.HasTextCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	retryAfter, ok := core.RetryAfter(err)
	if !ok || retryAfter != time.Minute {
		t.Fatalf("expected retry after 60s, got %s", retryAfter)
	}

	now = now.Add(61 * time.Second)
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("expected throttle window to expire, got %v", err)
	}
}

func TestAdaptivePolicy_BacksOffExponentiallyWithoutHints(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	key := Key{Provider: "garmin"}

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		delay, err := policy.AfterCall(context.Background(), key, ResponseMeta{StatusCode: http.StatusTooManyRequests})
		if err != nil {
			t.Fatalf("after call: %v", err)
		}
		delays = append(delays, delay)
	}
	if delays[0] != time.Second || delays[1] != 2*time.Second || delays[2] != 4*time.Second {
		t.Fatalf("unexpected backoff sequence %v", delays)
	}
}

func TestAdaptivePolicy_UsageHeadersDeriveRemaining(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }
	key := Key{Provider: "strava"}

	if _, err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"X-RateLimit-Limit": "200,2000",
			"X-RateLimit-Usage": "150,1990",
		},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, _ := store.Get(context.Background(), key)
	if state.Remaining != 10 {
		t.Fatalf("expected remaining from the tightest window (10), got %d", state.Remaining)
	}
	if state.Limit != 200 {
		t.Fatalf("expected short window limit 200, got %d", state.Limit)
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{raw: "30", want: 30 * time.Second, ok: true},
		{raw: "0", ok: false},
		{raw: "", ok: false},
		{raw: "Mon, 01 Jan 2024 12:00:10 GMT", want: 10 * time.Second, ok: true},
		{raw: "soon", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseRetryAfterHeader(tc.raw, now)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%q: expected (%s, %v), got (%s, %v)", tc.raw, tc.want, tc.ok, got, ok)
		}
	}
}
