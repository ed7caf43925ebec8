package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-wearables/circuitbreaker"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/ratelimit"
	"github.com/goliatone/go-wearables/transport"
)

const refreshFlightKey = "refresh"

// ErrorParser turns a provider specific error body into a typed error. It
// returns nil when the body carries nothing more specific than the status.
type ErrorParser func(res transport.Response) error

// RevokeFunc performs the upstream half of a disconnect.
type RevokeFunc func(ctx context.Context, credentials core.OAuth2Credentials) error

type PullConfig struct {
	Provider   core.ProviderConfig
	AuthStyle  ClientAuthStyle
	ParseError ErrorParser
	// DefaultRetryAfter applies to 429 responses without a usable hint.
	DefaultRetryAfter time.Duration
}

// PullClient is the shared base for adapters that call a provider REST API
// with a bearer token. Credential reads take the read lock; refresh and
// disconnect swap credentials under the write lock.
type PullClient struct {
	cfg               core.ProviderConfig
	oauth             *OAuth2Client
	http              transport.Adapter
	breaker           *circuitbreaker.Breaker
	limiter           *ratelimit.WindowLimiter
	policy            *ratelimit.AdaptivePolicy
	logger            core.Logger
	now               func() time.Time
	lookahead         time.Duration
	parseError        ErrorParser
	defaultRetryAfter time.Duration

	mu         sync.RWMutex
	creds      core.OAuth2Credentials
	generation uint64
	observer   core.CredentialsObserver
	refreshes  singleflight.Group
}

func NewPullClient(shared Shared, pc PullConfig) *PullClient {
	shared = shared.Normalize()
	cfg := pc.Provider.Clone()
	retryAfter := pc.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}
	return &PullClient{
		cfg: cfg,
		oauth: NewOAuth2Client(cfg,
			WithAuthStyle(pc.AuthStyle),
			WithTokenTransport(shared.Transport),
			WithTokenClock(shared.Now),
		),
		http:              shared.Transport,
		breaker:           shared.Breakers.Get(cfg.Name),
		limiter:           shared.Limiter,
		policy:            shared.Policy,
		logger:            shared.LoggerFor(cfg.Name),
		now:               shared.Now,
		lookahead:         shared.RefreshLookahead,
		parseError:        pc.ParseError,
		defaultRetryAfter: retryAfter,
	}
}

func (c *PullClient) Name() string {
	return c.cfg.Name
}

func (c *PullClient) Config() core.ProviderConfig {
	return c.cfg.Clone()
}

func (c *PullClient) Logger() core.Logger {
	return c.logger
}

func (c *PullClient) Now() time.Time {
	return c.now().UTC()
}

func (c *PullClient) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

func (c *PullClient) OAuth() *OAuth2Client {
	return c.oauth
}

func (c *PullClient) SetCredentials(_ context.Context, credentials core.OAuth2Credentials) error {
	credentials = credentials.Clone()
	if credentials.ClientID == "" {
		credentials.ClientID = c.cfg.ClientID
	}
	if credentials.ClientSecret == "" {
		credentials.ClientSecret = c.cfg.ClientSecret
	}
	c.mu.Lock()
	c.creds = credentials
	c.generation++
	c.mu.Unlock()
	return nil
}

// Credentials returns a copy of the current credentials.
func (c *PullClient) Credentials() core.OAuth2Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.Clone()
}

func (c *PullClient) ObserveCredentials(observer core.CredentialsObserver) {
	c.mu.Lock()
	c.observer = observer
	c.mu.Unlock()
}

// IsAuthenticated is true while an access token is held that is either
// unexpired or can be refreshed.
func (c *PullClient) IsAuthenticated(context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.creds.HasAccessToken() {
		return false
	}
	if c.creds.ExpiresAt == nil || c.creds.ExpiresAt.After(c.Now()) {
		return true
	}
	return strings.TrimSpace(c.creds.RefreshToken) != ""
}

// RefreshTokenIfNeeded refreshes when expiry falls inside the lookahead
// window. Concurrent callers share a single in-flight refresh.
func (c *PullClient) RefreshTokenIfNeeded(ctx context.Context) error {
	c.mu.RLock()
	current := c.creds.Clone()
	c.mu.RUnlock()

	if !current.HasAccessToken() {
		return core.NewNotAuthenticatedError(c.cfg.Name)
	}
	if !core.NeedsRefresh(c.Now(), current.ExpiresAt, c.lookahead) {
		return nil
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		if current.ExpiresAt != nil && !current.ExpiresAt.After(c.Now()) {
			return core.NewTokenExpiredError(c.cfg.Name)
		}
		return nil
	}

	// the flight outlives a cancelled first caller so waiters are not failed by it
	flightCtx := context.WithoutCancel(ctx)
	result := c.refreshes.DoChan(refreshFlightKey, func() (any, error) {
		return nil, c.refresh(flightCtx)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-result:
		return res.Err
	}
}

func (c *PullClient) refresh(ctx context.Context) error {
	c.mu.RLock()
	current := c.creds.Clone()
	generation := c.generation
	c.mu.RUnlock()

	// a flight that just finished may already have rotated the token
	if !current.HasAccessToken() {
		return core.NewNotAuthenticatedError(c.cfg.Name)
	}
	if !core.NeedsRefresh(c.Now(), current.ExpiresAt, c.lookahead) {
		return nil
	}

	token, err := c.oauth.Refresh(ctx, current.RefreshToken)
	if err != nil {
		c.logger.Warn("token refresh failed", "provider", c.cfg.Name, "error", err.Error())
		return err
	}
	updated := token.Credentials(current)

	c.mu.Lock()
	if c.generation != generation {
		// credentials were replaced or cleared while the request was in flight
		c.mu.Unlock()
		if !c.IsAuthenticated(ctx) {
			return core.NewNotAuthenticatedError(c.cfg.Name)
		}
		return nil
	}
	c.creds = updated
	c.generation++
	observer := c.observer
	c.mu.Unlock()

	c.logger.Debug("token refreshed", "provider", c.cfg.Name)
	if observer != nil {
		if err := observer(ctx, updated.Clone()); err != nil {
			c.logger.Error("persisting refreshed credentials failed", "provider", c.cfg.Name, "error", err.Error())
		}
	}
	return nil
}

// ClearCredentials drops local credential state.
func (c *PullClient) ClearCredentials() {
	c.mu.Lock()
	c.creds = core.OAuth2Credentials{ClientID: c.cfg.ClientID, ClientSecret: c.cfg.ClientSecret}
	c.generation++
	c.mu.Unlock()
}

// Disconnect revokes upstream when possible and always clears local state.
// It is safe to call repeatedly.
func (c *PullClient) Disconnect(ctx context.Context, revoke RevokeFunc) error {
	credentials := c.Credentials()
	if credentials.HasAccessToken() && revoke != nil {
		if err := revoke(ctx, credentials); err != nil {
			c.logger.Warn("upstream revoke failed; clearing local credentials anyway",
				"provider", c.cfg.Name,
				"error", err.Error(),
			)
		}
	}
	c.ClearCredentials()
	return nil
}

func (c *PullClient) BeginAuthorization(state string) (core.AuthorizationRequest, error) {
	var pkce *core.PKCE
	if c.cfg.UsePKCE {
		generated := NewPKCE()
		pkce = &generated
	}
	authURL, err := c.oauth.AuthorizationURL(state, pkce)
	if err != nil {
		return core.AuthorizationRequest{}, err
	}
	return core.AuthorizationRequest{URL: authURL, State: state, PKCE: pkce}, nil
}

// CompleteAuthorization exchanges the code and adopts the resulting credentials.
func (c *PullClient) CompleteAuthorization(ctx context.Context, code string, pkce *core.PKCE) (core.OAuth2Credentials, error) {
	token, err := c.oauth.ExchangeCode(ctx, code, pkce)
	if err != nil {
		return core.OAuth2Credentials{}, err
	}
	credentials := token.Credentials(core.OAuth2Credentials{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})
	if err := c.SetCredentials(ctx, credentials); err != nil {
		return core.OAuth2Credentials{}, err
	}
	return credentials, nil
}

// GetJSON performs an authenticated GET against the API base url and
// decodes the response into out.
func (c *PullClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	res, err := c.Call(ctx, transport.Request{Method: http.MethodGet, URL: path, Query: query})
	if err != nil {
		return err
	}
	return res.DecodeJSON(out)
}

// Call runs one authenticated request through refresh, rate limiting and the
// circuit breaker. Relative urls resolve against the API base url.
func (c *PullClient) Call(ctx context.Context, req transport.Request) (transport.Response, error) {
	if err := c.RefreshTokenIfNeeded(ctx); err != nil {
		return transport.Response{}, err
	}
	c.mu.RLock()
	accessToken := c.creds.AccessToken
	c.mu.RUnlock()
	if strings.TrimSpace(accessToken) == "" {
		return transport.Response{}, core.NewNotAuthenticatedError(c.cfg.Name)
	}

	key := ratelimit.Key{Provider: c.cfg.Name, Bucket: "api"}
	if err := c.policy.BeforeCall(ctx, key); err != nil {
		return transport.Response{}, err
	}
	if err := c.limiter.Acquire(ctx, c.cfg.Name); err != nil {
		return transport.Response{}, err
	}
	if err := c.breaker.Allow(); err != nil {
		return transport.Response{}, err
	}

	req.URL = c.resolveURL(req.URL)
	headers := make(map[string]string, len(req.Headers)+1)
	for name, value := range req.Headers {
		headers[name] = value
	}
	headers["Authorization"] = "Bearer " + accessToken
	req.Headers = headers

	res, err := c.http.Do(ctx, req)
	if err != nil {
		c.breaker.RecordFailure(err)
		return transport.Response{}, err
	}

	hint, policyErr := c.policy.AfterCall(ctx, key, ratelimit.ResponseMeta{StatusCode: res.StatusCode, Headers: res.Headers})
	if policyErr != nil {
		c.logger.Debug("rate limit state update failed", "provider", c.cfg.Name, "error", policyErr.Error())
	}
	if !res.Success() {
		callErr := c.classify(res, hint, req.URL)
		c.breaker.RecordFailure(callErr)
		return res, callErr
	}
	c.breaker.RecordSuccess()
	return res, nil
}

// Send performs an authenticated request outside the breaker, for revoke
// calls that must not be blocked by an open circuit.
func (c *PullClient) Send(ctx context.Context, req transport.Request, credentials core.OAuth2Credentials) error {
	req.URL = c.resolveURL(req.URL)
	headers := make(map[string]string, len(req.Headers)+1)
	for name, value := range req.Headers {
		headers[name] = value
	}
	if _, ok := headers["Authorization"]; !ok && credentials.HasAccessToken() {
		headers["Authorization"] = "Bearer " + credentials.AccessToken
	}
	req.Headers = headers
	res, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	if !res.Success() {
		return c.classify(res, 0, req.URL)
	}
	return nil
}

func (c *PullClient) resolveURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return strings.TrimRight(c.cfg.APIBaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
}

func (c *PullClient) classify(res transport.Response, hint time.Duration, target string) error {
	if c.parseError != nil {
		if err := c.parseError(res); err != nil {
			return err
		}
	}
	return StatusError(c.cfg.Name, res, hint, c.defaultRetryAfter, c.Now(), target)
}

// StatusError maps a non-2xx response to the error taxonomy by status code.
func StatusError(
	provider string,
	res transport.Response,
	hint time.Duration,
	fallbackRetryAfter time.Duration,
	now time.Time,
	target string,
) error {
	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return core.NewTokenExpiredError(provider)
	case res.StatusCode == http.StatusForbidden:
		return core.NewInsufficientScopeError(provider, "access to the resource was denied")
	case res.StatusCode == http.StatusNotFound:
		return core.NewNotFoundError(provider, "resource", resourcePath(target))
	case res.StatusCode == http.StatusTooManyRequests:
		retryAfter, ok := ratelimit.ParseRetryAfterHeader(res.Header("Retry-After"), now)
		if !ok {
			// without a header the provider default is a floor for the backoff hint
			retryAfter = max(hint, fallbackRetryAfter)
		}
		return core.NewRateLimitedError(provider, retryAfter)
	case res.StatusCode >= http.StatusInternalServerError:
		return core.NewExternalError(provider, res.StatusCode, fmt.Sprintf("%s returned %d", provider, res.StatusCode), true)
	default:
		return core.NewExternalError(provider, res.StatusCode, fmt.Sprintf("%s returned %d", provider, res.StatusCode), false)
	}
}

func resourcePath(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return parsed.Path
}
