package query

import (
	"context"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers/synthetic"
)

type stubConnectionReader struct {
	connections []core.ProviderConnection
}

func (s stubConnectionReader) Connections(_ context.Context, tenantID string, userID string) ([]core.ProviderConnection, error) {
	out := make([]core.ProviderConnection, 0, len(s.connections))
	for _, connection := range s.connections {
		if connection.TenantID == tenantID && connection.UserID == userID {
			out = append(out, connection)
		}
	}
	return out, nil
}

type stubResolver struct {
	provider *core.TenantProvider
	err      error
	keys     []core.ConnectionKey
}

func (s *stubResolver) Provider(_ context.Context, key core.ConnectionKey) (*core.TenantProvider, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return nil, s.err
	}
	return s.provider, nil
}

type stubCatalog map[string]core.ProviderDescriptor

func (c stubCatalog) SupportedProviders() []string {
	return []string{"fitbit", "strava", "retired"}
}

func (c stubCatalog) Descriptor(name string) (core.ProviderDescriptor, bool) {
	descriptor, ok := c[name]
	return descriptor, ok
}

func fixedNow() time.Time {
	return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
}

func newSyntheticResolver(t *testing.T) *stubResolver {
	t.Helper()
	adapter := synthetic.New(synthetic.DefaultConfig(), synthetic.WithClock(fixedNow))
	adapter.Seed(25, 7)
	adapter.AddSleepSession(core.SleepSession{
		ID:                "sleep-1",
		StartTime:         fixedNow().Add(-10 * time.Hour),
		EndTime:           fixedNow().Add(-2 * time.Hour),
		TotalSleepMinutes: 420,
	})
	tenantProvider, err := core.NewTenantProvider(adapter, "t1", "u1")
	if err != nil {
		t.Fatalf("tenant provider: %v", err)
	}
	return &stubResolver{provider: tenantProvider}
}

func TestListConnectionsQuery_FiltersByUser(t *testing.T) {
	reader := stubConnectionReader{connections: []core.ProviderConnection{
		{TenantID: "t1", UserID: "u1", Provider: "strava"},
		{TenantID: "t1", UserID: "u2", Provider: "fitbit"},
	}}
	out, err := NewListConnectionsQuery(reader).Query(context.Background(), ListConnectionsMessage{TenantID: "t1", UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].Provider != "strava" {
		t.Fatalf("unexpected connections %#v", out)
	}
}

func TestListProvidersQuery_SkipsProvidersWithoutDescriptor(t *testing.T) {
	catalog := stubCatalog{
		"fitbit": {Name: "fitbit", DisplayName: "Fitbit"},
		"strava": {Name: "strava", DisplayName: "Strava", UsePKCE: false},
	}
	out, err := NewListProvidersQuery(catalog).Query(context.Background(), ListProvidersMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 || out[0].Name != "fitbit" || out[1].Name != "strava" {
		t.Fatalf("unexpected descriptors %#v", out)
	}
}

func TestGetActivitiesQuery_PagesThroughResolvedProvider(t *testing.T) {
	resolver := newSyntheticResolver(t)
	query := NewGetActivitiesQuery(resolver)
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "synthetic"}

	seen := map[string]bool{}
	params := pagination.Params{Limit: 10}
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatalf("pagination did not terminate")
		}
		msg := GetActivitiesMessage{Key: key, Params: params}
		if err := msg.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		page, err := query.Query(context.Background(), msg)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, activity := range page.Items {
			if seen[activity.ID] {
				t.Fatalf("activity %s returned twice", activity.ID)
			}
			seen[activity.ID] = true
		}
		if !page.HasMore {
			break
		}
		params.Cursor = page.NextCursor
	}
	if len(seen) != 25 {
		t.Fatalf("expected 25 activities across pages, got %d", len(seen))
	}
	if len(resolver.keys) == 0 || resolver.keys[0] != key {
		t.Fatalf("expected resolver to receive the connection key, got %#v", resolver.keys)
	}
}

func TestRangeQueries_DelegateToProvider(t *testing.T) {
	resolver := newSyntheticResolver(t)
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "synthetic"}
	dateRange := core.DateRange{Start: fixedNow().Add(-24 * time.Hour), End: fixedNow()}

	sleep, err := NewGetSleepSessionsQuery(resolver).Query(context.Background(), GetSleepSessionsMessage{Key: key, Range: dateRange})
	if err != nil {
		t.Fatalf("sleep query: %v", err)
	}
	if len(sleep) != 1 || sleep[0].ID != "sleep-1" {
		t.Fatalf("unexpected sleep sessions %#v", sleep)
	}

	if _, err := NewGetRecoveryMetricsQuery(resolver).Query(context.Background(), GetRecoveryMetricsMessage{Key: key, Range: dateRange}); err != nil {
		t.Fatalf("recovery query: %v", err)
	}
	if _, err := NewGetHealthMetricsQuery(resolver).Query(context.Background(), GetHealthMetricsMessage{Key: key, Range: dateRange}); err != nil {
		t.Fatalf("health query: %v", err)
	}
	athlete, err := NewGetAthleteQuery(resolver).Query(context.Background(), GetAthleteMessage{Key: key})
	if err != nil {
		t.Fatalf("athlete query: %v", err)
	}
	if athlete.ID != synthetic.AthleteID {
		t.Fatalf("unexpected athlete %#v", athlete)
	}
}

func TestProviderQueries_PropagateResolverErrors(t *testing.T) {
	resolver := &stubResolver{err: core.NewNotAuthenticatedError("fitbit")}
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "fitbit"}
	_, err := NewGetActivitiesQuery(resolver).Query(context.Background(), GetActivitiesMessage{Key: key})
	if !core.HasTextCode(err, core.ErrorNotAuthenticated) {
		t.Fatalf("expected not authenticated error, got %v", err)
	}
}

func TestMessages_ValidateReturnsRichErrors(t *testing.T) {
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "strava"}
	tests := []struct {
		name  string
		msg   interface{ Validate() error }
		field string
	}{
		{name: "connections tenant", msg: ListConnectionsMessage{}, field: "tenant_id"},
		{name: "connections user", msg: ListConnectionsMessage{TenantID: "t1"}, field: "user_id"},
		{name: "activities provider", msg: GetActivitiesMessage{Key: core.ConnectionKey{TenantID: "t1", UserID: "u1"}}, field: "provider"},
		{name: "activities limit", msg: GetActivitiesMessage{Key: key, Params: pagination.Params{Limit: -1}}, field: "limit"},
		{name: "activities direction", msg: GetActivitiesMessage{Key: key, Params: pagination.Params{Direction: "sideways"}}, field: "direction"},
		{name: "activities cursor", msg: GetActivitiesMessage{Key: key, Params: pagination.Params{Cursor: "%%%"}}, field: "cursor"},
		{name: "sleep range", msg: GetSleepSessionsMessage{Key: key}, field: "range"},
		{name: "health range order", msg: GetHealthMetricsMessage{Key: key, Range: core.DateRange{
			Start: fixedNow(),
			End:   fixedNow().Add(-time.Hour),
		}}, field: "range"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", err)
			}
			if rich.TextCode != core.ErrorBadInput || rich.Code != http.StatusBadRequest {
				t.Fatalf("unexpected envelope %q/%d", rich.TextCode, rich.Code)
			}
			fields := rich.AllValidationErrors()
			if len(fields) == 0 || fields[0].Field != tc.field {
				t.Fatalf("expected field %q, got %#v", tc.field, fields)
			}
		})
	}
}

func TestQueries_NilDependenciesReturnRichError(t *testing.T) {
	var q *GetActivitiesQuery
	_, err := q.Query(context.Background(), GetActivitiesMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorInternal {
		t.Fatalf("unexpected envelope %q/%q", rich.Category, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d, got %d", http.StatusInternalServerError, rich.Code)
	}
}
