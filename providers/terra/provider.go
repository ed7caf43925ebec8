// Package terra is the push adapter for the Terra aggregator. Terra delivers
// data by webhook; the Ingestor writes it to a Cache and the Provider serves
// reads from that cache for one platform user.
package terra

import (
	"context"
	"strings"
	"sync"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers"
)

const Name = "terra"

func DefaultConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:           Name,
		DisplayName:    "Terra (150+ Wearables)",
		AuthURL:        DefaultAPIBaseURL + "/auth/generateWidgetSession",
		TokenURL:       DefaultAPIBaseURL + "/auth/authenticateUser",
		RevokeURL:      DefaultAPIBaseURL + "/auth/deauthenticateUser",
		APIBaseURL:     DefaultAPIBaseURL,
		DefaultScopes:  []string{"activity", "sleep", "body", "daily"},
		ScopeSeparator: ",",
		Capabilities:   core.FullHealthCapabilities(),
	}
}

// NewFactory builds providers that share cache. An API client is attached
// when the config carries an api key.
func NewFactory(shared providers.Shared, cache Cache) *providers.Factory {
	return providers.NewPushFactory(DefaultConfig(), shared, func(cfg core.ProviderConfig, shared providers.Shared) (core.FitnessProvider, error) {
		if cache == nil {
			return nil, core.NewConfigurationError("terra: webhook cache is required")
		}
		var api *APIClient
		if strings.TrimSpace(cfg.ClientSecret) != "" {
			api = NewAPIClient(cfg, shared)
		}
		return New(cfg, cache, api, shared.LoggerFor(Name)), nil
	})
}

type Provider struct {
	config core.ProviderConfig
	cache  Cache
	api    *APIClient
	logger core.Logger

	mu     sync.RWMutex
	userID string
}

// New binds nothing yet; reads fail until a platform user is bound. api may
// be nil, in which case disconnect only clears local state.
func New(cfg core.ProviderConfig, cache Cache, api *APIClient, logger core.Logger) *Provider {
	if cfg.Name == "" {
		cfg = DefaultConfig()
	}
	return &Provider{config: cfg.Clone(), cache: cache, api: api, logger: glog.Ensure(logger)}
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Config() core.ProviderConfig {
	return p.config.Clone()
}

// BindPlatformUser points reads at the cache entries of userID.
func (p *Provider) BindPlatformUser(userID string) {
	p.mu.Lock()
	p.userID = strings.TrimSpace(userID)
	p.mu.Unlock()
}

// BindReference resolves referenceID through the webhook mapping.
func (p *Provider) BindReference(ctx context.Context, referenceID string) error {
	userID, ok, err := p.cache.PlatformUserID(ctx, referenceID)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewNotFoundError(Name, "user", referenceID)
	}
	p.BindPlatformUser(userID)
	return nil
}

// PlatformUserID returns the bound user, or "".
func (p *Provider) PlatformUserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

// SetCredentials treats the access token as the platform user id.
func (p *Provider) SetCredentials(_ context.Context, credentials core.OAuth2Credentials) error {
	p.BindPlatformUser(credentials.AccessToken)
	return nil
}

func (p *Provider) IsAuthenticated(context.Context) bool {
	return p.PlatformUserID() != ""
}

func (p *Provider) RefreshTokenIfNeeded(context.Context) error {
	return nil
}

func (p *Provider) user() (string, error) {
	userID := p.PlatformUserID()
	if userID == "" {
		return "", core.NewNotAuthenticatedError(Name)
	}
	return userID, nil
}

// ConnectURL opens a widget session for referenceID.
func (p *Provider) ConnectURL(ctx context.Context, referenceID string, redirectURI string) (WidgetSession, error) {
	if p.api == nil {
		return WidgetSession{}, core.NewConfigurationError("terra: api key is not configured")
	}
	return p.api.GenerateWidgetSession(ctx, WidgetSessionRequest{
		ReferenceID:            referenceID,
		AuthSuccessRedirectURL: redirectURI,
		AuthFailureRedirectURL: redirectURI,
	})
}

// Backfill asks for historical data of every type over dateRange.
func (p *Provider) Backfill(ctx context.Context, dateRange core.DateRange) error {
	userID, err := p.user()
	if err != nil {
		return err
	}
	if p.api == nil {
		return core.NewConfigurationError("terra: api key is not configured")
	}
	for _, dataType := range []string{DataActivity, DataSleep, DataBody, DataDaily} {
		if err := p.api.RequestHistoricalData(ctx, HistoricalDataRequest{
			UserID:    userID,
			DataType:  dataType,
			DateRange: dateRange,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) GetAthlete(ctx context.Context) (core.Athlete, error) {
	userID, err := p.user()
	if err != nil {
		return core.Athlete{}, err
	}
	if p.api != nil {
		info, err := p.api.UserInfo(ctx, userID)
		if err == nil {
			return core.Athlete{ID: info.UserID, Username: info.ReferenceID, Provider: sourceName(info)}, nil
		}
		p.logger.Debug("terra user info lookup failed", "user_id", userID, "error", err.Error())
	}
	return core.Athlete{ID: userID, Username: userID, Provider: Name}, nil
}

func (p *Provider) allActivities(ctx context.Context) ([]core.Activity, error) {
	userID, err := p.user()
	if err != nil {
		return nil, err
	}
	return p.cache.GetActivities(ctx, userID, 0, 0)
}

func (p *Provider) GetActivities(ctx context.Context, limit int, offset int) ([]core.Activity, error) {
	userID, err := p.user()
	if err != nil {
		return nil, err
	}
	return p.cache.GetActivities(ctx, userID, providers.ClampLimit(limit, pagination.MaxLimit), max(offset, 0))
}

func (p *Provider) GetActivitiesWithParams(ctx context.Context, params core.ActivityQueryParams) ([]core.Activity, error) {
	activities, err := p.allActivities(ctx)
	if err != nil {
		return nil, err
	}
	activities = providers.FilterActivities(activities, params)
	return window(activities, providers.ClampLimit(params.Limit, pagination.MaxLimit), max(params.Offset, 0)), nil
}

func (p *Provider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[core.Activity], error) {
	activities, err := p.allActivities(ctx)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	return pagination.PaginateSorted(activities, params, providers.ActivityKey)
}

func (p *Provider) GetActivity(ctx context.Context, id string) (core.Activity, error) {
	userID, err := p.user()
	if err != nil {
		return core.Activity{}, err
	}
	activity, ok, err := p.cache.GetActivity(ctx, userID, id)
	if err != nil {
		return core.Activity{}, err
	}
	if !ok {
		return core.Activity{}, core.NewNotFoundError(Name, "activity", id)
	}
	return activity, nil
}

func (p *Provider) GetStats(ctx context.Context) (core.Stats, error) {
	activities, err := p.allActivities(ctx)
	if err != nil {
		return core.Stats{}, err
	}
	return core.StatsFromActivities(activities), nil
}

func (p *Provider) GetPersonalRecords(ctx context.Context) ([]core.PersonalRecord, error) {
	activities, err := p.allActivities(ctx)
	if err != nil {
		return nil, err
	}
	return core.PersonalRecordsFromActivities(activities), nil
}

func (p *Provider) GetSleepSessions(ctx context.Context, dateRange core.DateRange) ([]core.SleepSession, error) {
	userID, err := p.user()
	if err != nil {
		return nil, err
	}
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	return p.cache.GetSleepSessions(ctx, userID, dateRange)
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (core.SleepSession, error) {
	userID, err := p.user()
	if err != nil {
		return core.SleepSession{}, err
	}
	session, ok, err := p.cache.GetLatestSleepSession(ctx, userID)
	if err != nil {
		return core.SleepSession{}, err
	}
	if !ok {
		return core.SleepSession{}, core.NewNotFoundError(Name, "sleep_session", "latest")
	}
	return session, nil
}

func (p *Provider) GetRecoveryMetrics(ctx context.Context, dateRange core.DateRange) ([]core.RecoveryMetrics, error) {
	userID, err := p.user()
	if err != nil {
		return nil, err
	}
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	return p.cache.GetRecoveryMetrics(ctx, userID, dateRange)
}

func (p *Provider) GetHealthMetrics(ctx context.Context, dateRange core.DateRange) ([]core.HealthMetrics, error) {
	userID, err := p.user()
	if err != nil {
		return nil, err
	}
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	return p.cache.GetHealthMetrics(ctx, userID, dateRange)
}

// Disconnect deauthenticates upstream when an api client is attached and
// always drops the binding. Cached records expire on their own.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	userID := p.userID
	p.userID = ""
	p.mu.Unlock()

	if userID != "" && p.api != nil {
		if err := p.api.DeauthenticateUser(ctx, userID); err != nil {
			p.logger.Warn("upstream deauthentication failed; clearing local binding anyway",
				"provider", Name,
				"user_id", userID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

var _ core.FitnessProvider = (*Provider)(nil)
