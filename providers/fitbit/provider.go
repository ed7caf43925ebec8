// Package fitbit adapts the Fitbit Web API. Authorization uses PKCE and
// HTTP Basic client authentication at the token endpoint.
package fitbit

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
	Name     = "fitbit"
	maxLimit = 100

	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"

	// lifetime stats report floors, not meters
	metersPerFloor = 3.0
	hrvHigh        = 50.0
	hrvNormal      = 30.0
	defaultWindow  = 30 * 24 * time.Hour
)

func DefaultConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:           Name,
		DisplayName:    "Fitbit",
		AuthURL:        "https://www.fitbit.com/oauth2/authorize",
		TokenURL:       "https://api.fitbit.com/oauth2/token",
		RevokeURL:      "https://api.fitbit.com/oauth2/revoke",
		APIBaseURL:     "https://api.fitbit.com/1",
		DefaultScopes:  []string{"activity", "heartrate", "sleep", "weight", "profile"},
		ScopeSeparator: " ",
		UsePKCE:        true,
		Capabilities:   core.FullHealthCapabilities(),
	}
}

func NewFactory(shared providers.Shared) *providers.Factory {
	return providers.NewFactory(DefaultConfig(), shared, func(cfg core.ProviderConfig, shared providers.Shared) (core.FitnessProvider, error) {
		return New(cfg, shared), nil
	})
}

type Provider struct {
	*providers.PullClient
}

func New(cfg core.ProviderConfig, shared providers.Shared) *Provider {
	return &Provider{
		PullClient: providers.NewPullClient(shared, providers.PullConfig{
			Provider:   cfg,
			AuthStyle:  providers.AuthStyleBasic,
			ParseError: parseError,
		}),
	}
}

func (p *Provider) GetAthlete(ctx context.Context) (core.Athlete, error) {
	var payload profileResponse
	if err := p.GetJSON(ctx, "user/-/profile.json", nil, &payload); err != nil {
		return core.Athlete{}, err
	}
	return core.Athlete{
		ID:             payload.User.EncodedID,
		Username:       payload.User.DisplayName,
		FirstName:      payload.User.FirstName,
		LastName:       payload.User.LastName,
		ProfilePicture: payload.User.Avatar,
		Provider:       Name,
	}, nil
}

func (p *Provider) GetActivities(ctx context.Context, limit int, offset int) ([]core.Activity, error) {
	return p.GetActivitiesWithParams(ctx, core.ActivityQueryParams{Limit: limit, Offset: offset})
}

// GetActivitiesWithParams lists activities inside a date window. Without
// bounds the window is the last 30 days.
func (p *Provider) GetActivitiesWithParams(ctx context.Context, params core.ActivityQueryParams) ([]core.Activity, error) {
	now := p.Now()
	query := url.Values{}
	if params.Before != nil {
		query.Set("beforeDate", params.Before.UTC().Format(dateTimeLayout))
	} else {
		query.Set("beforeDate", now.AddDate(0, 0, 1).Format(dateLayout))
	}
	switch {
	case params.After != nil:
		query.Set("afterDate", params.After.UTC().Format(dateTimeLayout))
	case params.Before != nil:
		query.Set("afterDate", params.Before.UTC().AddDate(-1, 0, 0).Format(dateLayout))
	default:
		query.Set("afterDate", now.Add(-defaultWindow).Format(dateLayout))
	}
	query.Set("sort", "desc")
	query.Set("limit", strconv.Itoa(providers.ClampLimit(params.Limit, maxLimit)))
	query.Set("offset", strconv.Itoa(max(params.Offset, 0)))

	activities, err := p.listActivities(ctx, query)
	if err != nil {
		return nil, err
	}
	return providers.FilterActivities(activities, params), nil
}

// GetActivitiesCursor pages by keyset with beforeDate as the upper bound.
func (p *Provider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[core.Activity], error) {
	position, err := providers.DecodePosition(params)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	limit := min(params.NormalizedLimit(), maxLimit-1)
	window := limit + 1

	before := p.Now().AddDate(0, 0, 1).Format(dateLayout)
	if position != nil {
		before = position.SortKey.Add(time.Second).UTC().Format(dateTimeLayout)
	}
	query := url.Values{}
	query.Set("beforeDate", before)
	query.Set("sort", "desc")
	query.Set("limit", strconv.Itoa(window))
	query.Set("offset", "0")

	activities, err := p.listActivities(ctx, query)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	return providers.KeysetPage(activities, position, limit, len(activities) >= window), nil
}

func (p *Provider) listActivities(ctx context.Context, query url.Values) ([]core.Activity, error) {
	var payload activitiesResponse
	if err := p.GetJSON(ctx, "user/-/activities/list.json", query, &payload); err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "activity", payload.Activities, convertActivity), nil
}

func (p *Provider) GetActivity(ctx context.Context, id string) (core.Activity, error) {
	if id == "" {
		return core.Activity{}, core.NewBadInputError("fitbit: activity id is required")
	}
	var payload activitiesResponse
	if err := p.GetJSON(ctx, "user/-/activities/"+url.PathEscape(id)+".json", nil, &payload); err != nil {
		return core.Activity{}, err
	}
	if len(payload.Activities) == 0 {
		return core.Activity{}, core.NewNotFoundError(Name, "activity", id)
	}
	activity, err := convertActivity(payload.Activities[0])
	if err != nil {
		return core.Activity{}, core.NewExternalError(Name, http.StatusOK, "fitbit: malformed activity: "+err.Error(), false)
	}
	return activity, nil
}

// GetStats reads lifetime totals. Fitbit reports no activity count or
// duration there, so those stay zero.
func (p *Provider) GetStats(ctx context.Context) (core.Stats, error) {
	var payload lifetimeResponse
	if err := p.GetJSON(ctx, "user/-/activities.json", nil, &payload); err != nil {
		return core.Stats{}, err
	}
	return core.Stats{
		TotalDistance:      payload.Lifetime.Total.Distance * 1000,
		TotalElevationGain: payload.Lifetime.Total.Floors * metersPerFloor,
	}, nil
}

func (p *Provider) GetPersonalRecords(context.Context) ([]core.PersonalRecord, error) {
	return []core.PersonalRecord{}, nil
}

func (p *Provider) GetSleepSessions(ctx context.Context, dateRange core.DateRange) ([]core.SleepSession, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	query := url.Values{}
	query.Set("beforeDate", dateRange.End.UTC().AddDate(0, 0, 1).Format(dateLayout))
	query.Set("afterDate", dateRange.Start.UTC().AddDate(0, 0, -1).Format(dateLayout))
	query.Set("sort", "desc")
	query.Set("limit", strconv.Itoa(maxLimit))
	query.Set("offset", "0")

	var payload sleepResponse
	if err := p.GetJSON(ctx, "user/-/sleep/list.json", query, &payload); err != nil {
		return nil, err
	}
	sessions := providers.ConvertAll(p.Logger(), Name, "sleep", payload.Sleep, convertSleep)
	out := sessions[:0]
	for _, session := range sessions {
		if !session.StartTime.Before(core.DayStart(dateRange.Start)) && !session.StartTime.After(dateRange.End) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (core.SleepSession, error) {
	sessions, err := p.GetSleepSessions(ctx, core.LastDays(p.Now(), 7))
	if err != nil {
		return core.SleepSession{}, err
	}
	return providers.LatestSleep(Name, sessions)
}

// GetRecoveryMetrics joins daily HRV and resting heart rate. The two series
// are fetched concurrently; a failed series leaves its fields empty.
func (p *Provider) GetRecoveryMetrics(ctx context.Context, dateRange core.DateRange) ([]core.RecoveryMetrics, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	span := dateRange.Start.UTC().Format(dateLayout) + "/" + dateRange.End.UTC().Format(dateLayout)

	var (
		hrv      hrvResponse
		heart    heartResponse
		hrvErr   error
		heartErr error
		wg       sync.WaitGroup
	)
	// each series fails independently, so neither cancels the other
	wg.Go(func() {
		hrvErr = p.GetJSON(ctx, "user/-/hrv/date/"+span+".json", nil, &hrv)
	})
	wg.Go(func() {
		heartErr = p.GetJSON(ctx, "user/-/activities/heart/date/"+span+".json", nil, &heart)
	})
	wg.Wait()

	if hrvErr != nil && heartErr != nil {
		return nil, hrvErr
	}
	for series, err := range map[string]error{"hrv": hrvErr, "resting_heart_rate": heartErr} {
		if err != nil {
			p.Logger().Warn("recovery series unavailable", "provider", Name, "series", series, "error", err.Error())
		}
	}

	rmssdByDay := map[string]float64{}
	for _, entry := range hrv.HRV {
		if entry.Value.DailyRMSSD != nil {
			rmssdByDay[entry.DateTime] = *entry.Value.DailyRMSSD
		}
	}
	restingByDay := map[string]float64{}
	for _, entry := range heart.ActivitiesHeart {
		if entry.Value.RestingHeartRate != nil {
			restingByDay[entry.DateTime] = *entry.Value.RestingHeartRate
		}
	}

	metrics := []core.RecoveryMetrics{}
	for day := core.DayStart(dateRange.Start); !day.After(dateRange.End); day = day.AddDate(0, 0, 1) {
		key := day.Format(dateLayout)
		rmssd, hasHRV := rmssdByDay[key]
		resting, hasResting := restingByDay[key]
		if !hasHRV && !hasResting {
			continue
		}
		metric := core.RecoveryMetrics{Date: day, Provider: Name}
		if hasHRV {
			metric.HRV = core.Float64Ptr(rmssd)
			metric.HRVStatus = providers.HRVBand(rmssd, hrvHigh, hrvNormal)
			metric.RecoveryScore = core.Float64Ptr(min(rmssd, 100))
		}
		if hasResting {
			metric.RestingHeartRate = core.Float64Ptr(resting)
		}
		metrics = append(metrics, metric)
	}
	return metrics, nil
}

func (p *Provider) GetHealthMetrics(ctx context.Context, dateRange core.DateRange) ([]core.HealthMetrics, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	span := dateRange.Start.UTC().Format(dateLayout) + "/" + dateRange.End.UTC().Format(dateLayout)
	var payload weightResponse
	if err := p.GetJSON(ctx, "user/-/body/log/weight/date/"+span+".json", nil, &payload); err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "weight", payload.Weight, convertWeight), nil
}

// Disconnect revokes the access token, then clears local state.
func (p *Provider) Disconnect(ctx context.Context) error {
	return p.PullClient.Disconnect(ctx, func(ctx context.Context, credentials core.OAuth2Credentials) error {
		revokeURL := p.Config().RevokeURL
		if revokeURL == "" {
			return nil
		}
		return p.Send(ctx, transport.Request{
			Method: http.MethodPost,
			URL:    revokeURL,
			Form:   url.Values{"token": {credentials.AccessToken}},
		}, credentials)
	})
}

type profileResponse struct {
	User struct {
		EncodedID   string `json:"encodedId"`
		DisplayName string `json:"displayName"`
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
		Avatar      string `json:"avatar"`
	} `json:"user"`
}

type activitiesResponse struct {
	Activities []activityRecord `json:"activities"`
}

type activityRecord struct {
	LogID             int64    `json:"logId"`
	ActivityName      string   `json:"activityName"`
	ActivityTypeID    int64    `json:"activityTypeId"`
	StartTime         string   `json:"startTime"`
	OriginalStartTime string   `json:"originalStartTime"`
	Duration          int64    `json:"duration"`
	Distance          *float64 `json:"distance"`
	Steps             *int64   `json:"steps"`
	Calories          *float64 `json:"calories"`
	ElevationGain     *float64 `json:"elevationGain"`
	AverageHeartRate  *float64 `json:"averageHeartRate"`
}

type lifetimeResponse struct {
	Lifetime struct {
		Total struct {
			Distance float64 `json:"distance"`
			Floors   float64 `json:"floors"`
		} `json:"total"`
	} `json:"lifetime"`
}

type sleepResponse struct {
	Sleep []sleepRecord `json:"sleep"`
}

type stageSummary struct {
	Minutes int64 `json:"minutes"`
}

type sleepRecord struct {
	LogID         int64  `json:"logId"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	TimeInBed     int64  `json:"timeInBed"`
	MinutesAsleep int64  `json:"minutesAsleep"`
	Efficiency    int64  `json:"efficiency"`
	Levels        *struct {
		Summary *struct {
			Deep  *stageSummary `json:"deep"`
			Light *stageSummary `json:"light"`
			REM   *stageSummary `json:"rem"`
			Wake  *stageSummary `json:"wake"`
		} `json:"summary"`
	} `json:"levels"`
}

type hrvResponse struct {
	HRV []struct {
		DateTime string `json:"dateTime"`
		Value    struct {
			DailyRMSSD *float64 `json:"dailyRmssd"`
		} `json:"value"`
	} `json:"hrv"`
}

type heartResponse struct {
	ActivitiesHeart []struct {
		DateTime string `json:"dateTime"`
		Value    struct {
			RestingHeartRate *float64 `json:"restingHeartRate"`
		} `json:"value"`
	} `json:"activities-heart"`
}

type weightResponse struct {
	Weight []weightRecord `json:"weight"`
}

type weightRecord struct {
	Date   string   `json:"date"`
	Weight float64  `json:"weight"`
	Fat    *float64 `json:"fat"`
}

type errorResponse struct {
	Errors []struct {
		ErrorType string `json:"errorType"`
		Message   string `json:"message"`
	} `json:"errors"`
}

var sportsByTypeID = map[int64]core.SportType{
	90009: core.SportRun,
	90019: core.SportRun,
	3001:  core.SportRun,
	90001: core.SportWalk,
	1:     core.SportRide,
	1071:  core.SportRide,
	90024: core.SportSwim,
	18120: core.SportSwim,
	90013: core.SportHike,
	17180: core.SportHike,
	52001: core.SportYoga,
	17190: core.SportYoga,
	15680: core.SportStrength,
	15000: core.SportWorkout,
	15010: core.SportWorkout,
	15020: core.SportWorkout,
}

func sportType(typeID int64, name string) core.SportType {
	if sport, ok := sportsByTypeID[typeID]; ok {
		return sport
	}
	return core.ParseSportType(name)
}

func convertActivity(in activityRecord) (core.Activity, error) {
	raw := in.OriginalStartTime
	if raw == "" {
		raw = in.StartTime
	}
	start, err := providers.ParseTimestamp(raw)
	if err != nil {
		return core.Activity{}, fmt.Errorf("activity %d: %w", in.LogID, err)
	}
	durationSeconds := in.Duration / 1000
	activity := core.Activity{
		ID:               strconv.FormatInt(in.LogID, 10),
		Name:             in.ActivityName,
		SportType:        sportType(in.ActivityTypeID, in.ActivityName),
		SportTypeDetail:  in.ActivityName,
		StartDate:        start,
		DurationSeconds:  durationSeconds,
		AverageHeartRate: in.AverageHeartRate,
		Calories:         in.Calories,
		Steps:            in.Steps,
		Provider:         Name,
	}
	if in.Distance != nil {
		activity.DistanceMeters = *in.Distance * 1000
		if durationSeconds > 0 {
			activity.AverageSpeed = core.Float64Ptr(activity.DistanceMeters / float64(durationSeconds))
		}
	}
	if in.ElevationGain != nil {
		activity.ElevationGain = *in.ElevationGain
	}
	return activity, nil
}

func convertSleep(in sleepRecord) (core.SleepSession, error) {
	start, err := providers.ParseTimestamp(in.StartTime)
	if err != nil {
		return core.SleepSession{}, fmt.Errorf("sleep %d start: %w", in.LogID, err)
	}
	end, err := providers.ParseTimestamp(in.EndTime)
	if err != nil {
		return core.SleepSession{}, fmt.Errorf("sleep %d end: %w", in.LogID, err)
	}
	efficiency := float64(in.Efficiency)
	if in.TimeInBed > 0 {
		efficiency = float64(in.MinutesAsleep) / float64(in.TimeInBed) * 100
	}
	session := core.SleepSession{
		ID:                strconv.FormatInt(in.LogID, 10),
		StartTime:         start,
		EndTime:           end,
		TimeInBedMinutes:  in.TimeInBed,
		TotalSleepMinutes: in.MinutesAsleep,
		Efficiency:        core.Float64Ptr(efficiency),
		Provider:          Name,
	}
	// summaries carry totals only, so every stage starts with the session
	if in.Levels != nil && in.Levels.Summary != nil {
		summary := in.Levels.Summary
		for _, stage := range []struct {
			kind    core.SleepStageType
			summary *stageSummary
		}{
			{core.SleepStageDeep, summary.Deep},
			{core.SleepStageLight, summary.Light},
			{core.SleepStageREM, summary.REM},
			{core.SleepStageAwake, summary.Wake},
		} {
			if stage.summary == nil {
				continue
			}
			session.Stages = append(session.Stages, core.SleepStage{
				Stage:           stage.kind,
				StartTime:       start,
				DurationMinutes: stage.summary.Minutes,
			})
		}
	}
	return session, nil
}

func convertWeight(in weightRecord) (core.HealthMetrics, error) {
	day, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return core.HealthMetrics{}, fmt.Errorf("weight log date: %w", err)
	}
	return core.HealthMetrics{
		Date:           day.UTC(),
		WeightKg:       core.Float64Ptr(in.Weight),
		BodyFatPercent: in.Fat,
		Provider:       Name,
	}, nil
}

// parseError reads Fitbit's {errors:[{errorType,message}]} body.
func parseError(res transport.Response) error {
	var body errorResponse
	if len(res.Body) == 0 || res.DecodeJSON(&body) != nil {
		return nil
	}
	for _, item := range body.Errors {
		switch item.ErrorType {
		case "expired_token", "invalid_token":
			return core.NewTokenExpiredError(Name)
		case "insufficient_scope", "insufficient_permissions":
			return core.NewInsufficientScopeError(Name, item.Message)
		}
	}
	return nil
}

var (
	_ core.FitnessProvider       = (*Provider)(nil)
	_ core.OAuthAuthorizer       = (*Provider)(nil)
	_ core.CredentialsObservable = (*Provider)(nil)
)
