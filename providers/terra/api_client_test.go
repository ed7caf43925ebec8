package terra

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

type terraAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	status   int
}

func (a *terraAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.requests = append(a.requests, r.Clone(context.Background()))
	a.bodies = append(a.bodies, string(body))
	status := a.status
	a.mu.Unlock()

	if r.Header.Get("x-api-key") != "key-123" || r.Header.Get("dev-id") != "dev-abc" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v2/auth/generateWidgetSession":
		_, _ = w.Write([]byte(`{"status":"success","session_id":"sess-1","url":"https://widget.tryterra.co/session/sess-1"}`))
	case "/v2/auth/deauthenticateUser":
		_, _ = w.Write([]byte(`{"status":"success"}`))
	case "/v2/userInfo":
		_, _ = w.Write([]byte(`{"status":"success","user":{"user_id":"` + r.URL.Query().Get("user_id") + `","provider":"GARMIN","reference_id":"platform-42"}}`))
	case "/v2/activity", "/v2/sleep", "/v2/body", "/v2/daily":
		_, _ = w.Write([]byte(`{"status":"success","message":"sent to webhook"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *terraAPI) respondWith(status int) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

func (a *terraAPI) captured() []*http.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*http.Request(nil), a.requests...)
}

func newTerraAPI(t *testing.T) (*terraAPI, core.ProviderConfig) {
	t.Helper()
	api := &terraAPI{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	cfg := DefaultConfig()
	cfg.APIBaseURL = server.URL + "/v2"
	cfg.ClientID = "dev-abc"
	cfg.ClientSecret = "key-123"
	return api, cfg
}

func TestAPIClient_GenerateWidgetSession(t *testing.T) {
	api, cfg := newTerraAPI(t)
	client := NewAPIClient(cfg, providers.Shared{})

	session, err := client.GenerateWidgetSession(context.Background(), WidgetSessionRequest{
		ReferenceID:            "platform-42",
		Providers:              []string{"GARMIN", "OURA"},
		AuthSuccessRedirectURL: "https://app.example.test/done",
	})
	if err != nil {
		t.Fatalf("generate widget session: %v", err)
	}
	if session.SessionID != "sess-1" || session.URL == "" {
		t.Fatalf("unexpected session %+v", session)
	}

	requests := api.captured()
	if len(requests) != 1 || requests[0].Method != http.MethodPost {
		t.Fatalf("expected one POST, got %d", len(requests))
	}
	var sent map[string]any
	api.mu.Lock()
	sentBody := api.bodies[0]
	api.mu.Unlock()
	if err := json.Unmarshal([]byte(sentBody), &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent["reference_id"] != "platform-42" || sent["auth_success_redirect_url"] != "https://app.example.test/done" {
		t.Fatalf("unexpected request body %v", sent)
	}
	if _, ok := sent["auth_failure_redirect_url"]; ok {
		t.Fatalf("expected empty fields to be omitted, got %v", sent)
	}

	if _, err := client.GenerateWidgetSession(context.Background(), WidgetSessionRequest{}); !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input without reference id, got %v", err)
	}
}

func TestAPIClient_UserInfoAndDeauth(t *testing.T) {
	api, cfg := newTerraAPI(t)
	client := NewAPIClient(cfg, providers.Shared{})

	user, err := client.UserInfo(context.Background(), "terra-u1")
	if err != nil {
		t.Fatalf("user info: %v", err)
	}
	if user.UserID != "terra-u1" || user.ReferenceID != "platform-42" {
		t.Fatalf("unexpected user %+v", user)
	}
	if err := client.DeauthenticateUser(context.Background(), "terra-u1"); err != nil {
		t.Fatalf("deauthenticate: %v", err)
	}
	requests := api.captured()
	last := requests[len(requests)-1]
	if last.Method != http.MethodDelete || last.URL.Query().Get("user_id") != "terra-u1" {
		t.Fatalf("unexpected deauth request %s %s", last.Method, last.URL)
	}
}

func TestAPIClient_RequestHistoricalData(t *testing.T) {
	api, cfg := newTerraAPI(t)
	client := NewAPIClient(cfg, providers.Shared{})
	dateRange := core.DateRange{
		Start: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC),
	}

	if err := client.RequestHistoricalData(context.Background(), HistoricalDataRequest{UserID: "terra-u1", DataType: DataSleep, DateRange: dateRange}); err != nil {
		t.Fatalf("historical data: %v", err)
	}
	request := api.captured()[0]
	query := request.URL.Query()
	if request.URL.Path != "/v2/sleep" || query.Get("start_date") != "2024-08-01" || query.Get("end_date") != "2024-08-31" || query.Get("to_webhook") != "true" {
		t.Fatalf("unexpected historical request %s", request.URL)
	}

	err := client.RequestHistoricalData(context.Background(), HistoricalDataRequest{UserID: "terra-u1", DataType: "nutrition", DateRange: dateRange})
	if !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected unsupported data type rejected, got %v", err)
	}
	err = client.RequestHistoricalData(context.Background(), HistoricalDataRequest{UserID: "terra-u1"})
	if !core.HasTextCode(err, core.ErrorBadInput) {
		t.Fatalf("expected empty range rejected, got %v", err)
	}
}

func TestAPIClient_MapsStatusErrors(t *testing.T) {
	api, cfg := newTerraAPI(t)
	client := NewAPIClient(cfg, providers.Shared{})

	api.respondWith(http.StatusTooManyRequests)
	_, err := client.UserInfo(context.Background(), "terra-u1")
	if !core.HasTextCode(err, core.ErrorRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if retryAfter, ok := core.RetryAfter(err); !ok || retryAfter != time.Minute {
		t.Fatalf("expected default one minute retry hint, got %s", retryAfter)
	}

	api.respondWith(0)
	cfg.ClientSecret = "wrong"
	_, err = NewAPIClient(cfg, providers.Shared{}).UserInfo(context.Background(), "terra-u1")
	if !core.HasTextCode(err, core.ErrorTokenExpired) {
		t.Fatalf("expected rejected api key to map to token expired, got %v", err)
	}
}
