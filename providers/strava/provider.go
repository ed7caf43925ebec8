// Package strava adapts the Strava v3 API. Strava only exposes activity
// data; sleep, recovery and health reads return empty results.
package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/transport"
)

const (
	Name       = "strava"
	maxPerPage = 200
	// recent window scanned when deriving personal records
	recordsWindow = 200
)

func DefaultConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:           Name,
		DisplayName:    "Strava",
		AuthURL:        "https://www.strava.com/oauth/authorize",
		TokenURL:       "https://www.strava.com/oauth/token",
		RevokeURL:      "https://www.strava.com/oauth/deauthorize",
		APIBaseURL:     "https://www.strava.com/api/v3",
		DefaultScopes:  []string{"read", "activity:read_all"},
		ScopeSeparator: ",",
		Capabilities:   core.ActivityOnlyCapabilities(),
		ExtraAuthParams: map[string]string{
			"approval_prompt": "auto",
		},
	}
}

func NewFactory(shared providers.Shared) *providers.Factory {
	return providers.NewFactory(DefaultConfig(), shared, func(cfg core.ProviderConfig, shared providers.Shared) (core.FitnessProvider, error) {
		return New(cfg, shared), nil
	})
}

type Provider struct {
	*providers.PullClient

	athleteMu sync.Mutex
	athleteID string
}

func New(cfg core.ProviderConfig, shared providers.Shared) *Provider {
	return &Provider{
		PullClient: providers.NewPullClient(shared, providers.PullConfig{
			Provider:   cfg,
			AuthStyle:  providers.AuthStyleInBody,
			ParseError: parseError,
		}),
	}
}

func (p *Provider) GetAthlete(ctx context.Context) (core.Athlete, error) {
	var athlete athleteResponse
	if err := p.GetJSON(ctx, "athlete", nil, &athlete); err != nil {
		return core.Athlete{}, err
	}
	id := strconv.FormatInt(athlete.ID, 10)
	p.athleteMu.Lock()
	p.athleteID = id
	p.athleteMu.Unlock()
	return core.Athlete{
		ID:             id,
		Username:       athlete.Username,
		FirstName:      athlete.FirstName,
		LastName:       athlete.LastName,
		ProfilePicture: athlete.ProfileMedium,
		Provider:       Name,
	}, nil
}

// GetActivities maps offset/limit onto Strava's page/per_page.
func (p *Provider) GetActivities(ctx context.Context, limit int, offset int) ([]core.Activity, error) {
	return p.GetActivitiesWithParams(ctx, core.ActivityQueryParams{Limit: limit, Offset: offset})
}

func (p *Provider) GetActivitiesWithParams(ctx context.Context, params core.ActivityQueryParams) ([]core.Activity, error) {
	limit := providers.ClampLimit(params.Limit, maxPerPage)
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(limit))
	query.Set("page", strconv.Itoa(providers.OffsetPage(limit, params.Offset)))
	if params.After != nil {
		query.Set("after", strconv.FormatInt(params.After.Unix(), 10))
	}
	if params.Before != nil {
		query.Set("before", strconv.FormatInt(params.Before.Unix(), 10))
	}
	return p.fetchActivities(ctx, query)
}

// GetActivitiesCursor pages by keyset: the cursor time becomes Strava's
// before bound and ties inside the same second are resolved locally by id.
func (p *Provider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[core.Activity], error) {
	position, err := providers.DecodePosition(params)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	limit := params.NormalizedLimit()
	window := limit + 1
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(window))
	query.Set("page", "1")
	if position != nil {
		query.Set("before", strconv.FormatInt(position.SortKey.Unix()+1, 10))
	}
	activities, err := p.fetchActivities(ctx, query)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	return providers.KeysetPage(activities, position, limit, len(activities) >= window), nil
}

func (p *Provider) fetchActivities(ctx context.Context, query url.Values) ([]core.Activity, error) {
	var payload []activityResponse
	if err := p.GetJSON(ctx, "athlete/activities", query, &payload); err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "activity", payload, convertActivity), nil
}

func (p *Provider) GetActivity(ctx context.Context, id string) (core.Activity, error) {
	if id == "" {
		return core.Activity{}, core.NewBadInputError("strava: activity id is required")
	}
	var payload activityResponse
	if err := p.GetJSON(ctx, "activities/"+url.PathEscape(id), nil, &payload); err != nil {
		return core.Activity{}, err
	}
	activity, err := convertActivity(payload)
	if err != nil {
		return core.Activity{}, core.NewExternalError(Name, http.StatusOK, "strava: malformed activity: "+err.Error(), false)
	}
	return activity, nil
}

// GetStats sums the all-time ride and run totals.
func (p *Provider) GetStats(ctx context.Context) (core.Stats, error) {
	athleteID, err := p.resolveAthleteID(ctx)
	if err != nil {
		return core.Stats{}, err
	}
	var payload statsResponse
	if err := p.GetJSON(ctx, "athletes/"+athleteID+"/stats", nil, &payload); err != nil {
		return core.Stats{}, err
	}
	stats := core.Stats{}
	for _, totals := range []*totalsResponse{payload.AllRideTotals, payload.AllRunTotals} {
		if totals == nil {
			continue
		}
		stats.TotalActivities += totals.Count
		stats.TotalDistance += totals.Distance
		stats.TotalDuration += totals.MovingTime
		stats.TotalElevationGain += totals.ElevationGain
	}
	return stats, nil
}

// GetPersonalRecords derives records from recent activities since Strava
// has no records endpoint.
func (p *Provider) GetPersonalRecords(ctx context.Context) ([]core.PersonalRecord, error) {
	activities, err := p.GetActivities(ctx, recordsWindow, 0)
	if err != nil {
		return nil, err
	}
	return core.PersonalRecordsFromActivities(activities), nil
}

func (p *Provider) GetSleepSessions(context.Context, core.DateRange) ([]core.SleepSession, error) {
	return []core.SleepSession{}, nil
}

func (p *Provider) GetLatestSleepSession(context.Context) (core.SleepSession, error) {
	return core.SleepSession{}, core.NewUnsupportedError(Name, "sleep data")
}

func (p *Provider) GetRecoveryMetrics(context.Context, core.DateRange) ([]core.RecoveryMetrics, error) {
	return []core.RecoveryMetrics{}, nil
}

func (p *Provider) GetHealthMetrics(context.Context, core.DateRange) ([]core.HealthMetrics, error) {
	return []core.HealthMetrics{}, nil
}

// Disconnect posts the access token to the deauthorize endpoint.
func (p *Provider) Disconnect(ctx context.Context) error {
	err := p.PullClient.Disconnect(ctx, func(ctx context.Context, credentials core.OAuth2Credentials) error {
		revokeURL := p.Config().RevokeURL
		if revokeURL == "" {
			return nil
		}
		return p.Send(ctx, transport.Request{
			Method: http.MethodPost,
			URL:    revokeURL,
			Form:   url.Values{"access_token": {credentials.AccessToken}},
		}, credentials)
	})
	p.athleteMu.Lock()
	p.athleteID = ""
	p.athleteMu.Unlock()
	return err
}

func (p *Provider) resolveAthleteID(ctx context.Context) (string, error) {
	p.athleteMu.Lock()
	id := p.athleteID
	p.athleteMu.Unlock()
	if id != "" {
		return id, nil
	}
	athlete, err := p.GetAthlete(ctx)
	if err != nil {
		return "", err
	}
	return athlete.ID, nil
}

type athleteResponse struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	FirstName     string `json:"firstname"`
	LastName      string `json:"lastname"`
	ProfileMedium string `json:"profile_medium"`
}

type activityResponse struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          string    `json:"start_date"`
	Distance           *float64  `json:"distance"`
	ElapsedTime        *int64    `json:"elapsed_time"`
	TotalElevationGain *float64  `json:"total_elevation_gain"`
	AverageSpeed       *float64  `json:"average_speed"`
	MaxSpeed           *float64  `json:"max_speed"`
	AverageHeartrate   *float64  `json:"average_heartrate"`
	MaxHeartrate       *float64  `json:"max_heartrate"`
	AverageCadence     *float64  `json:"average_cadence"`
	AverageWatts       *float64  `json:"average_watts"`
	MaxWatts           *float64  `json:"max_watts"`
	SufferScore        *float64  `json:"suffer_score"`
	Calories           *float64  `json:"calories"`
	StartLatLng        []float64 `json:"start_latlng"`
	LocationCity       string    `json:"location_city"`
	LocationCountry    string    `json:"location_country"`
}

type statsResponse struct {
	AllRideTotals *totalsResponse `json:"all_ride_totals"`
	AllRunTotals  *totalsResponse `json:"all_run_totals"`
}

type totalsResponse struct {
	Count         int64   `json:"count"`
	Distance      float64 `json:"distance"`
	MovingTime    int64   `json:"moving_time"`
	ElevationGain float64 `json:"elevation_gain"`
}

type errorResponse struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

func convertActivity(in activityResponse) (core.Activity, error) {
	if in.ID == 0 {
		return core.Activity{}, fmt.Errorf("activity id is missing")
	}
	startDate, err := time.Parse(time.RFC3339, in.StartDate)
	if err != nil {
		return core.Activity{}, fmt.Errorf("activity %d start date: %w", in.ID, err)
	}
	label := in.SportType
	if label == "" {
		label = in.Type
	}
	activity := core.Activity{
		ID:               strconv.FormatInt(in.ID, 10),
		Name:             in.Name,
		SportType:        core.ParseSportType(label),
		SportTypeDetail:  label,
		StartDate:        startDate.UTC(),
		AverageSpeed:     in.AverageSpeed,
		MaxSpeed:         in.MaxSpeed,
		AverageHeartRate: in.AverageHeartrate,
		MaxHeartRate:     in.MaxHeartrate,
		AverageCadence:   in.AverageCadence,
		AveragePower:     in.AverageWatts,
		MaxPower:         in.MaxWatts,
		SufferScore:      in.SufferScore,
		Calories:         in.Calories,
		City:             in.LocationCity,
		Country:          in.LocationCountry,
		Provider:         Name,
	}
	if in.Distance != nil {
		activity.DistanceMeters = *in.Distance
	}
	if in.ElapsedTime != nil {
		activity.DurationSeconds = *in.ElapsedTime
	}
	if in.TotalElevationGain != nil {
		activity.ElevationGain = *in.TotalElevationGain
	}
	if len(in.StartLatLng) == 2 {
		activity.StartLatitude = core.Float64Ptr(in.StartLatLng[0])
		activity.StartLongitude = core.Float64Ptr(in.StartLatLng[1])
	}
	return activity, nil
}

// parseError recognizes Strava's {message, errors[]} body.
func parseError(res transport.Response) error {
	var body errorResponse
	if len(res.Body) == 0 || res.DecodeJSON(&body) != nil {
		return nil
	}
	if res.StatusCode == http.StatusUnauthorized {
		for _, item := range body.Errors {
			if item.Code == "invalid" && item.Field == "access_token" {
				return core.NewTokenExpiredError(Name)
			}
		}
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		for _, item := range body.Errors {
			if item.Field == "activity:read_permission" || item.Code == "missing" {
				return core.NewInsufficientScopeError(Name, body.Message)
			}
		}
	}
	return nil
}

var (
	_ core.FitnessProvider       = (*Provider)(nil)
	_ core.OAuthAuthorizer       = (*Provider)(nil)
	_ core.CredentialsObservable = (*Provider)(nil)
)
