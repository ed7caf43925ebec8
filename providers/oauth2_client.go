package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/ratelimit"
	"github.com/goliatone/go-wearables/transport"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

// ClientAuthStyle selects how client credentials reach the token endpoint.
type ClientAuthStyle int

const (
	// AuthStyleInBody sends client_id and client_secret as form fields.
	AuthStyleInBody ClientAuthStyle = iota
	// AuthStyleBasic sends them as an HTTP Basic authorization header.
	AuthStyleBasic
)

// Token is a parsed token endpoint response with an absolute expiry.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
	Scopes       []string
	// Extra holds provider specific fields such as an embedded athlete or user id.
	Extra map[string]any
}

func (t Token) ExpiresWithin(now time.Time, window time.Duration) bool {
	return core.NeedsRefresh(now, t.ExpiresAt, window)
}

// Credentials merges the token into credentials for the given client.
// An empty refresh token keeps the previous one, since some providers only
// rotate it occasionally.
func (t Token) Credentials(previous core.OAuth2Credentials) core.OAuth2Credentials {
	out := previous.Clone()
	out.AccessToken = t.AccessToken
	if strings.TrimSpace(t.RefreshToken) != "" {
		out.RefreshToken = t.RefreshToken
	}
	out.ExpiresAt = t.ExpiresAt
	if len(t.Scopes) > 0 {
		out.Scopes = append([]string(nil), t.Scopes...)
	}
	return out
}

// OAuth2Client runs the authorization-code and refresh grants for one provider.
type OAuth2Client struct {
	cfg       core.ProviderConfig
	authStyle ClientAuthStyle
	http      transport.Adapter
	now       func() time.Time
	timeout   time.Duration
}

type OAuth2Option func(*OAuth2Client)

func WithAuthStyle(style ClientAuthStyle) OAuth2Option {
	return func(c *OAuth2Client) {
		c.authStyle = style
	}
}

func WithTokenTransport(adapter transport.Adapter) OAuth2Option {
	return func(c *OAuth2Client) {
		if adapter != nil {
			c.http = adapter
		}
	}
}

func WithTokenClock(now func() time.Time) OAuth2Option {
	return func(c *OAuth2Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewOAuth2Client(cfg core.ProviderConfig, opts ...OAuth2Option) *OAuth2Client {
	client := &OAuth2Client{
		cfg:     cfg.Clone(),
		http:    transport.NewRESTAdapter(nil),
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultTokenRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

func (c *OAuth2Client) Config() core.ProviderConfig {
	return c.cfg.Clone()
}

// AuthorizationURL builds the consent redirect. A non-nil pkce adds the S256
// challenge; the verifier stays with the caller until ExchangeCode.
func (c *OAuth2Client) AuthorizationURL(state string, pkce *core.PKCE) (string, error) {
	if strings.TrimSpace(c.cfg.AuthURL) == "" {
		return "", core.NewConfigurationError(fmt.Sprintf("providers: %s auth url is not configured", c.cfg.Name))
	}
	if strings.TrimSpace(c.cfg.ClientID) == "" {
		return "", core.NewConfigurationError(fmt.Sprintf("providers: %s client id is not configured", c.cfg.Name))
	}
	if strings.TrimSpace(state) == "" {
		return "", core.NewBadInputError("providers: oauth state is required")
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.cfg.ClientID)
	if redirect := strings.TrimSpace(c.cfg.RedirectURI); redirect != "" {
		values.Set("redirect_uri", redirect)
	}
	if len(c.cfg.DefaultScopes) > 0 {
		values.Set("scope", strings.Join(c.cfg.DefaultScopes, c.scopeSeparator()))
	}
	values.Set("state", state)
	for key, value := range c.cfg.ExtraAuthParams {
		if strings.TrimSpace(key) != "" {
			values.Set(key, value)
		}
	}
	if pkce != nil {
		method := pkce.ChallengeMethod
		if method == "" {
			method = PKCEMethodS256
		}
		values.Set("code_challenge", pkce.Challenge)
		values.Set("code_challenge_method", method)
	}

	separator := "?"
	if strings.Contains(c.cfg.AuthURL, "?") {
		separator = "&"
	}
	return c.cfg.AuthURL + separator + values.Encode(), nil
}

func (c *OAuth2Client) ExchangeCode(ctx context.Context, code string, pkce *core.PKCE) (Token, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Token{}, core.NewBadInputError("providers: authorization code is required")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirect := strings.TrimSpace(c.cfg.RedirectURI); redirect != "" {
		form.Set("redirect_uri", redirect)
	}
	if pkce != nil && pkce.Verifier != "" {
		form.Set("code_verifier", pkce.Verifier)
	}
	return c.fetchToken(ctx, form)
}

func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Token{}, core.NewAuthFailedError(c.cfg.Name, "no refresh token available")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.fetchToken(ctx, form)
}

func (c *OAuth2Client) fetchToken(ctx context.Context, form url.Values) (Token, error) {
	if strings.TrimSpace(c.cfg.TokenURL) == "" {
		return Token{}, core.NewConfigurationError(fmt.Sprintf("providers: %s token url is not configured", c.cfg.Name))
	}
	headers := map[string]string{"Accept": "application/json"}
	switch c.authStyle {
	case AuthStyleBasic:
		headers["Authorization"] = basicAuthHeader(c.cfg.ClientID, c.cfg.ClientSecret)
	default:
		form.Set("client_id", c.cfg.ClientID)
		if c.cfg.ClientSecret != "" {
			form.Set("client_secret", c.cfg.ClientSecret)
		}
	}

	res, err := c.http.Do(ctx, transport.Request{
		Method:               http.MethodPost,
		URL:                  c.cfg.TokenURL,
		Headers:              headers,
		Form:                 form,
		Timeout:              c.timeout,
		MaxResponseBodyBytes: maxTokenResponseBodyBytes,
	})
	if err != nil {
		return Token{}, err
	}

	payload, parseErr := parseTokenPayload(res.Body, res.Header("Content-Type"))
	if !res.Success() {
		return Token{}, c.tokenEndpointError(res, payload)
	}
	if parseErr != nil {
		return Token{}, core.NewExternalError(c.cfg.Name, res.StatusCode, "providers: decode token response", false)
	}
	if payload.errorCode != "" {
		return Token{}, core.NewAuthFailedError(c.cfg.Name, describeTokenError(payload))
	}
	if strings.TrimSpace(payload.accessToken) == "" {
		return Token{}, core.NewAuthFailedError(c.cfg.Name, "token response missing access token")
	}
	return payload.token(c.now().UTC(), c.scopeSeparator()), nil
}

func (c *OAuth2Client) tokenEndpointError(res transport.Response, payload tokenPayload) error {
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		retryAfter, ok := ratelimit.ParseRetryAfterHeader(res.Header("Retry-After"), c.now())
		if !ok {
			retryAfter = time.Minute
		}
		return core.NewRateLimitedError(c.cfg.Name, retryAfter)
	case res.StatusCode >= http.StatusInternalServerError:
		return core.NewExternalError(c.cfg.Name, res.StatusCode, fmt.Sprintf("token endpoint returned %d", res.StatusCode), true)
	default:
		return core.NewAuthFailedError(c.cfg.Name, describeTokenError(payload))
	}
}

// basicAuthHeader escapes both parts as RFC 6749 section 2.3.1 requires.
func basicAuthHeader(clientID string, clientSecret string) string {
	raw := url.QueryEscape(clientID) + ":" + url.QueryEscape(clientSecret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func (c *OAuth2Client) scopeSeparator() string {
	if c.cfg.ScopeSeparator != "" {
		return c.cfg.ScopeSeparator
	}
	return " "
}

type tokenPayload struct {
	accessToken      string
	tokenType        string
	refreshToken     string
	scope            string
	expiresIn        int64
	expiresAt        int64
	errorCode        string
	errorDescription string
	extra            map[string]any
}

func (p tokenPayload) token(now time.Time, separator string) Token {
	token := Token{
		AccessToken:  strings.TrimSpace(p.accessToken),
		RefreshToken: strings.TrimSpace(p.refreshToken),
		TokenType:    normalizeTokenType(p.tokenType),
		Scopes:       parseScopeList(p.scope, separator),
		Extra:        p.extra,
	}
	switch {
	case p.expiresAt > 0:
		expiresAt := time.Unix(p.expiresAt, 0).UTC()
		token.ExpiresAt = &expiresAt
	case p.expiresIn > 0:
		expiresAt := now.Add(time.Duration(p.expiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	return token
}

var knownTokenFields = map[string]struct{}{
	"access_token": {}, "token_type": {}, "refresh_token": {}, "scope": {},
	"expires_in": {}, "expires_at": {}, "error": {}, "error_description": {},
}

func describeTokenError(payload tokenPayload) string {
	if strings.TrimSpace(payload.errorDescription) != "" {
		return strings.TrimSpace(payload.errorDescription)
	}
	if strings.TrimSpace(payload.errorCode) != "" {
		return strings.TrimSpace(payload.errorCode)
	}
	return "token request rejected"
}

func parseTokenPayload(body []byte, contentType string) (tokenPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	} else if strings.Contains(contentType, "json") {
		return tokenPayload{}, err
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenPayload{}, err
	}
	extra := map[string]any{}
	for key, value := range decoded {
		if _, known := knownTokenFields[key]; !known {
			extra[key] = value
		}
	}
	return tokenPayload{
		accessToken:      readAnyString(decoded["access_token"]),
		tokenType:        readAnyString(decoded["token_type"]),
		refreshToken:     readAnyString(decoded["refresh_token"]),
		scope:            readAnyString(decoded["scope"]),
		expiresIn:        readAnyInt64(decoded["expires_in"]),
		expiresAt:        readAnyInt64(decoded["expires_at"]),
		errorCode:        readAnyString(decoded["error"]),
		errorDescription: readAnyString(decoded["error_description"]),
		extra:            extra,
	}, nil
}

func parseTokenPayloadForm(body []byte) (tokenPayload, error) {
	if strings.TrimSpace(string(body)) == "" {
		return tokenPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	expiresAt, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_at")), 10, 64)
	return tokenPayload{
		accessToken:      strings.TrimSpace(values.Get("access_token")),
		tokenType:        strings.TrimSpace(values.Get("token_type")),
		refreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		scope:            strings.TrimSpace(values.Get("scope")),
		expiresIn:        expiresIn,
		expiresAt:        expiresAt,
		errorCode:        strings.TrimSpace(values.Get("error")),
		errorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func parseScopeList(value string, separator string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if separator != "" && separator != " " {
		trimmed = strings.ReplaceAll(trimmed, separator, " ")
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return int64(parsed)
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
