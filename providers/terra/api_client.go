package terra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/circuitbreaker"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/ratelimit"
	"github.com/goliatone/go-wearables/transport"
)

const (
	DefaultAPIBaseURL = "https://api.tryterra.co/v2"

	headerAPIKey = "x-api-key"
	headerDevID  = "dev-id"
)

// Data types accepted by RequestHistoricalData.
const (
	DataActivity = "activity"
	DataSleep    = "sleep"
	DataBody     = "body"
	DataDaily    = "daily"
)

// APIClient calls the aggregator REST API. Data itself arrives by webhook;
// the API covers connection management and backfill requests. The dev id
// is read from ClientID and the api key from ClientSecret.
type APIClient struct {
	baseURL string
	devID   string
	apiKey  string
	http    transport.Adapter
	breaker *circuitbreaker.Breaker
	limiter *ratelimit.WindowLimiter
	now     func() time.Time
}

func NewAPIClient(cfg core.ProviderConfig, shared providers.Shared) *APIClient {
	shared = shared.Normalize()
	baseURL := strings.TrimSpace(cfg.APIBaseURL)
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		devID:   cfg.ClientID,
		apiKey:  cfg.ClientSecret,
		http:    shared.Transport,
		breaker: shared.Breakers.Get(Name),
		limiter: shared.Limiter,
		now:     shared.Now,
	}
}

type WidgetSessionRequest struct {
	ReferenceID            string   `json:"reference_id"`
	Providers              []string `json:"providers,omitempty"`
	AuthSuccessRedirectURL string   `json:"auth_success_redirect_url,omitempty"`
	AuthFailureRedirectURL string   `json:"auth_failure_redirect_url,omitempty"`
}

type WidgetSession struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Message   string `json:"message,omitempty"`
}

type HistoricalDataRequest struct {
	UserID    string
	DataType  string
	DateRange core.DateRange
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// GenerateWidgetSession returns the hosted connect page a user is sent to.
func (c *APIClient) GenerateWidgetSession(ctx context.Context, req WidgetSessionRequest) (WidgetSession, error) {
	if strings.TrimSpace(req.ReferenceID) == "" {
		return WidgetSession{}, core.NewBadInputError("terra: reference id is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return WidgetSession{}, core.NewInternalError(err, "terra: encode widget session request")
	}
	res, err := c.do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     "auth/generateWidgetSession",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		return WidgetSession{}, err
	}
	var session WidgetSession
	if err := res.DecodeJSON(&session); err != nil {
		return WidgetSession{}, err
	}
	if session.URL == "" {
		return WidgetSession{}, core.NewExternalError(Name, res.StatusCode, "widget session response carried no url", false)
	}
	return session, nil
}

// DeauthenticateUser revokes the aggregator connection of userID.
func (c *APIClient) DeauthenticateUser(ctx context.Context, userID string) error {
	_, err := c.do(ctx, transport.Request{
		Method: http.MethodDelete,
		URL:    "auth/deauthenticateUser",
		Query:  url.Values{"user_id": []string{userID}},
	})
	return err
}

func (c *APIClient) UserInfo(ctx context.Context, userID string) (User, error) {
	res, err := c.do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    "userInfo",
		Query:  url.Values{"user_id": []string{userID}},
	})
	if err != nil {
		return User{}, err
	}
	var payload struct {
		Status string `json:"status"`
		User   *User  `json:"user"`
	}
	if err := res.DecodeJSON(&payload); err != nil {
		return User{}, err
	}
	if payload.User == nil {
		return User{}, core.NewNotFoundError(Name, "user", userID)
	}
	return *payload.User, nil
}

// RequestHistoricalData asks for a backfill that is delivered to the
// webhook endpoint.
func (c *APIClient) RequestHistoricalData(ctx context.Context, req HistoricalDataRequest) error {
	dataType := req.DataType
	switch dataType {
	case "":
		dataType = DataActivity
	case DataActivity, DataSleep, DataBody, DataDaily:
	default:
		return core.NewBadInputError(fmt.Sprintf("terra: unsupported data type %q", req.DataType))
	}
	if err := req.DateRange.Validate(); err != nil {
		return core.NewBadInputError(err.Error())
	}
	res, err := c.do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    dataType,
		Query: url.Values{
			"user_id":    []string{req.UserID},
			"start_date": []string{req.DateRange.Start.UTC().Format(time.DateOnly)},
			"end_date":   []string{req.DateRange.End.UTC().Format(time.DateOnly)},
			"to_webhook": []string{"true"},
		},
	})
	if err != nil {
		return err
	}
	var status statusResponse
	if len(res.Body) > 0 {
		if err := res.DecodeJSON(&status); err != nil {
			return err
		}
	}
	if strings.EqualFold(status.Status, "error") {
		return core.NewExternalError(Name, res.StatusCode, status.Message, false)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, req transport.Request) (transport.Response, error) {
	if err := c.limiter.Acquire(ctx, Name); err != nil {
		return transport.Response{}, err
	}
	if err := c.breaker.Allow(); err != nil {
		return transport.Response{}, err
	}
	req.URL = c.baseURL + "/" + strings.TrimLeft(req.URL, "/")
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers[headerAPIKey] = c.apiKey
	req.Headers[headerDevID] = c.devID

	res, err := c.http.Do(ctx, req)
	if err != nil {
		c.breaker.RecordFailure(err)
		return transport.Response{}, err
	}
	if !res.Success() {
		callErr := providers.StatusError(Name, res, 0, time.Minute, c.now(), req.URL)
		c.breaker.RecordFailure(callErr)
		return res, callErr
	}
	c.breaker.RecordSuccess()
	return res, nil
}
