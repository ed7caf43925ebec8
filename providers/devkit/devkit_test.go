package devkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/transport"
)

func TestFakeTransportAdapter_ScriptsAndCapturesRequests(t *testing.T) {
	adapter := NewFakeTransportAdapter(
		StatusScript(429, map[string]string{"Retry-After": "5"}),
		JSONScript(`{"ok":true}`),
	)

	first, err := adapter.Do(context.Background(), transport.Request{Method: "GET", URL: "https://api.example.test/items"})
	if err != nil {
		t.Fatalf("first fake call: %v", err)
	}
	if first.StatusCode != 429 || first.Header("Retry-After") != "5" {
		t.Fatalf("expected first scripted 429 with retry hint, got %+v", first)
	}

	second, err := adapter.Do(context.Background(), transport.Request{Method: "GET", URL: "https://api.example.test/items"})
	if err != nil {
		t.Fatalf("second fake call: %v", err)
	}
	if second.StatusCode != 200 {
		t.Fatalf("expected second scripted status 200, got %d", second.StatusCode)
	}

	// the last script repeats
	third, _ := adapter.Do(context.Background(), transport.Request{Method: "GET", URL: "https://api.example.test/items"})
	if third.StatusCode != 200 {
		t.Fatalf("expected last script to repeat, got %d", third.StatusCode)
	}
	if got := len(adapter.Requests()); got != 3 {
		t.Fatalf("expected three captured requests, got %d", got)
	}
}

func TestFakeTransportAdapter_RoutesPreferLongestSuffix(t *testing.T) {
	adapter := NewFakeTransportAdapter().
		Route("/activities", JSONScript(`[]`)).
		Route("/athlete/activities", JSONScript(`[{"id":1}]`), StatusScript(500, nil))

	res, err := adapter.Do(context.Background(), transport.Request{URL: "https://api.example.test/v3/athlete/activities?page=1"})
	if err != nil {
		t.Fatalf("routed call: %v", err)
	}
	if string(res.Body) != `[{"id":1}]` {
		t.Fatalf("expected longest suffix route, got %s", res.Body)
	}
	res, _ = adapter.Do(context.Background(), transport.Request{URL: "https://api.example.test/v3/athlete/activities"})
	if res.StatusCode != 500 {
		t.Fatalf("expected second routed script, got %d", res.StatusCode)
	}
	res, _ = adapter.Do(context.Background(), transport.Request{URL: "https://api.example.test/v3/activities"})
	if string(res.Body) != `[]` {
		t.Fatalf("expected shorter route, got %s", res.Body)
	}
	res, _ = adapter.Do(context.Background(), transport.Request{URL: "https://api.example.test/unknown"})
	if res.StatusCode != 404 {
		t.Fatalf("expected 404 for unrouted path, got %d", res.StatusCode)
	}
}

func TestFakeTransportAdapter_CapturedRequestsAreCopies(t *testing.T) {
	adapter := NewFakeTransportAdapter(JSONScript(`{}`))
	headers := map[string]string{"Authorization": "Bearer a"}
	if _, err := adapter.Do(context.Background(), transport.Request{URL: "https://x.test/", Headers: headers}); err != nil {
		t.Fatalf("call: %v", err)
	}
	headers["Authorization"] = "Bearer b"
	if got := adapter.Requests()[0].Headers["Authorization"]; got != "Bearer a" {
		t.Fatalf("expected captured header to be isolated, got %q", got)
	}
}

func TestActivityFixtures_TieBreaksAndOrder(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	activities := ActivityFixtures("strava", start, 6)
	if len(activities) != 6 {
		t.Fatalf("expected 6 fixtures, got %d", len(activities))
	}
	if !activities[2].StartDate.Equal(activities[1].StartDate) {
		t.Fatalf("expected every third fixture to share a start time")
	}
	for i := 1; i < len(activities); i++ {
		if activities[i].StartDate.After(activities[i-1].StartDate) {
			t.Fatalf("expected newest first ordering at %d", i)
		}
	}
}

func TestCredentialsExpiringIn(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	credentials := CredentialsExpiringIn(now, 3*time.Minute)
	if credentials.ExpiresAt == nil || !credentials.ExpiresAt.Equal(now.Add(3*time.Minute)) {
		t.Fatalf("unexpected expiry %+v", credentials.ExpiresAt)
	}
	if !core.NeedsRefresh(now, credentials.ExpiresAt, core.DefaultCredentialRefreshLeadWindow) {
		t.Fatalf("expected a token three minutes from expiry to need refresh")
	}
}

// stubProvider is a minimal adapter used to exercise the conformance checks.
type stubProvider struct {
	authenticated bool
	sleep         []core.SleepSession
	health        []core.HealthMetrics
	disconnectErr error
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Config() core.ProviderConfig {
	return core.ProviderConfig{Name: "stub"}
}
func (s *stubProvider) SetCredentials(context.Context, core.OAuth2Credentials) error {
	s.authenticated = true
	return nil
}
func (s *stubProvider) IsAuthenticated(context.Context) bool       { return s.authenticated }
func (s *stubProvider) RefreshTokenIfNeeded(context.Context) error { return nil }
func (s *stubProvider) guard() error {
	if !s.authenticated {
		return core.NewNotAuthenticatedError("stub")
	}
	return nil
}
func (s *stubProvider) GetAthlete(context.Context) (core.Athlete, error) {
	return core.Athlete{}, s.guard()
}
func (s *stubProvider) GetActivities(context.Context, int, int) ([]core.Activity, error) {
	return nil, s.guard()
}
func (s *stubProvider) GetActivitiesWithParams(context.Context, core.ActivityQueryParams) ([]core.Activity, error) {
	return nil, s.guard()
}
func (s *stubProvider) GetActivitiesCursor(context.Context, pagination.Params) (pagination.Page[core.Activity], error) {
	return pagination.Page[core.Activity]{}, s.guard()
}
func (s *stubProvider) GetActivity(context.Context, string) (core.Activity, error) {
	return core.Activity{}, s.guard()
}
func (s *stubProvider) GetStats(context.Context) (core.Stats, error) { return core.Stats{}, s.guard() }
func (s *stubProvider) GetPersonalRecords(context.Context) ([]core.PersonalRecord, error) {
	return nil, s.guard()
}
func (s *stubProvider) GetSleepSessions(context.Context, core.DateRange) ([]core.SleepSession, error) {
	return s.sleep, s.guard()
}
func (s *stubProvider) GetLatestSleepSession(context.Context) (core.SleepSession, error) {
	return core.SleepSession{}, s.guard()
}
func (s *stubProvider) GetRecoveryMetrics(context.Context, core.DateRange) ([]core.RecoveryMetrics, error) {
	return nil, s.guard()
}
func (s *stubProvider) GetHealthMetrics(context.Context, core.DateRange) ([]core.HealthMetrics, error) {
	return s.health, s.guard()
}
func (s *stubProvider) Disconnect(context.Context) error {
	s.authenticated = false
	return s.disconnectErr
}

func TestConformance_Unauthenticated(t *testing.T) {
	if err := ValidateUnauthenticatedConformance(context.Background(), &stubProvider{}); err != nil {
		t.Fatalf("expected stub to conform: %v", err)
	}
	if err := ValidateUnauthenticatedConformance(context.Background(), &stubProvider{authenticated: true}); err == nil {
		t.Fatalf("expected authenticated stub to be rejected")
	}
	if err := ValidateUnauthenticatedConformance(context.Background(), nil); err == nil {
		t.Fatalf("expected nil provider to be rejected")
	}
}

func TestConformance_Disconnect(t *testing.T) {
	if err := ValidateDisconnectConformance(context.Background(), &stubProvider{authenticated: true}); err != nil {
		t.Fatalf("expected disconnect conformance: %v", err)
	}
	failing := &stubProvider{authenticated: true, disconnectErr: errors.New("boom")}
	if err := ValidateDisconnectConformance(context.Background(), failing); err == nil {
		t.Fatalf("expected failing disconnect to be reported")
	}
}

func TestConformance_Range(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	dateRange := core.LastDays(now, 7)
	inside := &stubProvider{
		authenticated: true,
		sleep:         []core.SleepSession{{ID: "s1", StartTime: now.AddDate(0, 0, -2)}},
		health:        []core.HealthMetrics{{Date: core.DayStart(dateRange.Start)}},
	}
	if err := ValidateRangeConformance(context.Background(), inside, dateRange); err != nil {
		t.Fatalf("expected in-range records to conform: %v", err)
	}
	outside := &stubProvider{
		authenticated: true,
		sleep:         []core.SleepSession{{ID: "old", StartTime: now.AddDate(0, 0, -30)}},
	}
	if err := ValidateRangeConformance(context.Background(), outside, dateRange); err == nil {
		t.Fatalf("expected out-of-range sleep to be reported")
	}
}
