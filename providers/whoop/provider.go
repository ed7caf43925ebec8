// Package whoop adapts the WHOOP developer API. Collections page with an
// opaque next_token, which GetActivitiesCursor carries inside its cursor.
package whoop

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/transport"
)

const (
	Name       = "whoop"
	maxPerPage = 50
	// range reads follow next_token at most this many times
	maxPages = 10

	kilojouleToKcal = 0.239
	hrvHigh         = 100.0
	hrvNormal       = 50.0
	timeLayout      = "2006-01-02T15:04:05.000Z"
)

func DefaultConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:           Name,
		DisplayName:    "WHOOP",
		AuthURL:        "https://api.prod.whoop.com/oauth/oauth2/auth",
		TokenURL:       "https://api.prod.whoop.com/oauth/oauth2/token",
		RevokeURL:      "https://api.prod.whoop.com/developer/v1/user/access",
		APIBaseURL:     "https://api.prod.whoop.com/developer/v1",
		DefaultScopes:  []string{"offline", "read:profile", "read:workout", "read:sleep", "read:recovery", "read:body_measurement"},
		ScopeSeparator: " ",
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
			Provider:          cfg,
			AuthStyle:         providers.AuthStyleInBody,
			DefaultRetryAfter: time.Minute,
		}),
	}
}

type page[T any] struct {
	Records   []T    `json:"records"`
	NextToken string `json:"next_token"`
}

func (p *Provider) GetAthlete(ctx context.Context) (core.Athlete, error) {
	var profile profileResponse
	if err := p.GetJSON(ctx, "user/profile/basic", nil, &profile); err != nil {
		return core.Athlete{}, err
	}
	return core.Athlete{
		ID:        strconv.FormatInt(profile.UserID, 10),
		Username:  profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Provider:  Name,
	}, nil
}

func (p *Provider) GetActivities(ctx context.Context, limit int, offset int) ([]core.Activity, error) {
	return p.GetActivitiesWithParams(ctx, core.ActivityQueryParams{Limit: limit, Offset: offset})
}

// GetActivitiesWithParams emulates offset by walking next_token pages.
func (p *Provider) GetActivitiesWithParams(ctx context.Context, params core.ActivityQueryParams) ([]core.Activity, error) {
	limit := providers.ClampLimit(params.Limit, maxPerPage)
	skip := max(params.Offset, 0)
	query := url.Values{}
	query.Set("limit", strconv.Itoa(maxPerPage))
	if params.After != nil {
		query.Set("start", params.After.UTC().Format(timeLayout))
	}
	if params.Before != nil {
		query.Set("end", params.Before.UTC().Format(timeLayout))
	}

	out := make([]core.Activity, 0, limit)
	for pages := 0; pages < maxPages && len(out) < limit; pages++ {
		var payload page[workoutRecord]
		if err := p.GetJSON(ctx, "activity/workout", query, &payload); err != nil {
			return nil, err
		}
		for _, activity := range providers.ConvertAll(p.Logger(), Name, "workout", payload.Records, convertWorkout) {
			if skip > 0 {
				skip--
				continue
			}
			if len(out) < limit {
				out = append(out, activity)
			}
		}
		if payload.NextToken == "" {
			break
		}
		query.Set("nextToken", payload.NextToken)
	}
	return out, nil
}

// GetActivitiesCursor passes WHOOP's next_token through. The returned
// cursor holds the last start time and the native token as its id. WHOOP
// only pages forward, so PrevCursor stays empty.
func (p *Provider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[core.Activity], error) {
	if params.NormalizedDirection() == pagination.Backward {
		return pagination.Page[core.Activity]{}, core.NewUnsupportedError(Name, "backward activity paging")
	}
	position, err := providers.DecodePosition(params)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(min(params.NormalizedLimit(), maxPerPage)))
	if position != nil {
		query.Set("nextToken", position.ID)
	}
	var payload page[workoutRecord]
	if err := p.GetJSON(ctx, "activity/workout", query, &payload); err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	items := providers.ConvertAll(p.Logger(), Name, "workout", payload.Records, convertWorkout)
	result := pagination.Page[core.Activity]{Items: items, Count: len(items), HasMore: payload.NextToken != ""}
	if result.HasMore {
		sortKey := p.Now()
		if len(items) > 0 {
			sortKey = items[len(items)-1].StartDate
		}
		result.NextCursor = pagination.NewCursor(sortKey, payload.NextToken).Encode()
	}
	return result, nil
}

func (p *Provider) GetActivity(ctx context.Context, id string) (core.Activity, error) {
	if id == "" {
		return core.Activity{}, core.NewBadInputError("whoop: workout id is required")
	}
	var workout workoutRecord
	if err := p.GetJSON(ctx, "activity/workout/"+url.PathEscape(id), nil, &workout); err != nil {
		return core.Activity{}, err
	}
	activity, err := convertWorkout(workout)
	if err != nil {
		return core.Activity{}, core.NewExternalError(Name, http.StatusOK, "whoop: malformed workout: "+err.Error(), false)
	}
	return activity, nil
}

// GetStats aggregates the most recent workouts; WHOOP has no totals endpoint.
func (p *Provider) GetStats(ctx context.Context) (core.Stats, error) {
	activities, err := p.GetActivities(ctx, maxPerPage, 0)
	if err != nil {
		return core.Stats{}, err
	}
	return core.StatsFromActivities(activities), nil
}

func (p *Provider) GetPersonalRecords(context.Context) ([]core.PersonalRecord, error) {
	return []core.PersonalRecord{}, nil
}

func (p *Provider) GetSleepSessions(ctx context.Context, dateRange core.DateRange) ([]core.SleepSession, error) {
	records, err := collect[sleepRecord](ctx, p, "activity/sleep", dateRange)
	if err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "sleep", records, convertSleep), nil
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (core.SleepSession, error) {
	var payload page[sleepRecord]
	if err := p.GetJSON(ctx, "activity/sleep", url.Values{"limit": {"1"}}, &payload); err != nil {
		return core.SleepSession{}, err
	}
	return providers.LatestSleep(Name, providers.ConvertAll(p.Logger(), Name, "sleep", payload.Records, convertSleep))
}

// GetRecoveryMetrics reads physiological cycles; each scored cycle yields one day.
func (p *Provider) GetRecoveryMetrics(ctx context.Context, dateRange core.DateRange) ([]core.RecoveryMetrics, error) {
	records, err := collect[cycleRecord](ctx, p, "cycle", dateRange)
	if err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "cycle", records, convertCycle), nil
}

// GetHealthMetrics returns the current body measurement when today falls
// inside dateRange. WHOOP keeps no measurement history.
func (p *Provider) GetHealthMetrics(ctx context.Context, dateRange core.DateRange) ([]core.HealthMetrics, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	today := core.DayStart(p.Now())
	if today.Before(core.DayStart(dateRange.Start)) || today.After(dateRange.End) {
		return []core.HealthMetrics{}, nil
	}
	var body bodyResponse
	if err := p.GetJSON(ctx, "user/measurement/body", nil, &body); err != nil {
		return nil, err
	}
	if body.WeightKilogram == nil {
		return []core.HealthMetrics{}, nil
	}
	return []core.HealthMetrics{{
		Date:     today,
		WeightKg: body.WeightKilogram,
		Provider: Name,
	}}, nil
}

// Disconnect deletes the user's access grant, then clears local state.
func (p *Provider) Disconnect(ctx context.Context) error {
	return p.PullClient.Disconnect(ctx, func(ctx context.Context, credentials core.OAuth2Credentials) error {
		revokeURL := p.Config().RevokeURL
		if revokeURL == "" {
			return nil
		}
		return p.Send(ctx, transport.Request{Method: http.MethodDelete, URL: revokeURL}, credentials)
	})
}

func collect[T any](ctx context.Context, p *Provider, path string, dateRange core.DateRange) ([]T, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	query := url.Values{}
	query.Set("start", dateRange.Start.UTC().Format(timeLayout))
	query.Set("end", dateRange.End.UTC().Format(timeLayout))
	query.Set("limit", "25")

	var records []T
	for pages := 0; pages < maxPages; pages++ {
		var payload page[T]
		if err := p.GetJSON(ctx, path, query, &payload); err != nil {
			return nil, err
		}
		records = append(records, payload.Records...)
		if payload.NextToken == "" {
			return records, nil
		}
		query.Set("nextToken", payload.NextToken)
	}
	p.Logger().Warn("range read truncated", "provider", Name, "path", path, "pages", maxPages)
	return records, nil
}

type profileResponse struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type bodyResponse struct {
	HeightMeter    *float64 `json:"height_meter"`
	WeightKilogram *float64 `json:"weight_kilogram"`
	MaxHeartRate   *int64   `json:"max_heart_rate"`
}

type workoutRecord struct {
	ID      string `json:"id"`
	Start   string `json:"start"`
	End     string `json:"end"`
	SportID int    `json:"sport_id"`
	Score   *struct {
		Strain            *float64 `json:"strain"`
		AverageHeartRate  *float64 `json:"average_heart_rate"`
		MaxHeartRate      *float64 `json:"max_heart_rate"`
		Kilojoule         *float64 `json:"kilojoule"`
		DistanceMeter     *float64 `json:"distance_meter"`
		AltitudeGainMeter *float64 `json:"altitude_gain_meter"`
	} `json:"score"`
}

type sleepRecord struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
	Nap   bool   `json:"nap"`
	Score *struct {
		StageSummary *struct {
			TotalInBedTimeMilli         int64  `json:"total_in_bed_time_milli"`
			TotalAwakeTimeMilli         int64  `json:"total_awake_time_milli"`
			TotalLightSleepTimeMilli    int64  `json:"total_light_sleep_time_milli"`
			TotalSlowWaveSleepTimeMilli int64  `json:"total_slow_wave_sleep_time_milli"`
			TotalREMSleepTimeMilli      int64  `json:"total_rem_sleep_time_milli"`
			DisturbanceCount            *int64 `json:"disturbance_count"`
		} `json:"stage_summary"`
		RespiratoryRate            *float64 `json:"respiratory_rate"`
		SleepPerformancePercentage *float64 `json:"sleep_performance_percentage"`
		SleepEfficiencyPercentage  *float64 `json:"sleep_efficiency_percentage"`
	} `json:"score"`
}

type cycleRecord struct {
	ID    int64  `json:"id"`
	Start string `json:"start"`
	Score *struct {
		Strain   *float64 `json:"strain"`
		Recovery *struct {
			RecoveryScore    *float64 `json:"recovery_score"`
			RestingHeartRate *float64 `json:"resting_heart_rate"`
			HRVRMSSDMilli    *float64 `json:"hrv_rmssd_milli"`
			SkinTempCelsius  *float64 `json:"skin_temp_celsius"`
		} `json:"recovery"`
	} `json:"score"`
}

var sportsByID = map[int]core.SportType{
	0:  core.SportWorkout,
	1:  core.SportRun,
	33: core.SportRun,
	34: core.SportVirtualRun,
	16: core.SportRide,
	17: core.SportVirtualRide,
	18: core.SportMountainBikeRide,
	43: core.SportSwim,
	44: core.SportSwim,
	46: core.SportAlpineSki,
	47: core.SportNordicSki,
	48: core.SportRowing,
	50: core.SportWalk,
	52: core.SportHike,
	63: core.SportYoga,
	64: core.SportPilates,
	71: core.SportStrength,
}

func sportType(id int) core.SportType {
	if sport, ok := sportsByID[id]; ok {
		return sport
	}
	return core.SportOther
}

func convertWorkout(in workoutRecord) (core.Activity, error) {
	start, err := time.Parse(time.RFC3339Nano, in.Start)
	if err != nil {
		return core.Activity{}, fmt.Errorf("workout %s start: %w", in.ID, err)
	}
	end, err := time.Parse(time.RFC3339Nano, in.End)
	if err != nil {
		return core.Activity{}, fmt.Errorf("workout %s end: %w", in.ID, err)
	}
	duration := end.Sub(start)
	if duration < 0 {
		duration = -duration
	}
	sport := sportType(in.SportID)
	activity := core.Activity{
		ID:              in.ID,
		Name:            "WHOOP " + string(sport),
		SportType:       sport,
		SportTypeDetail: "whoop_sport_" + strconv.Itoa(in.SportID),
		StartDate:       start.UTC(),
		DurationSeconds: int64(duration / time.Second),
		Provider:        Name,
	}
	if score := in.Score; score != nil {
		activity.AverageHeartRate = score.AverageHeartRate
		activity.MaxHeartRate = score.MaxHeartRate
		activity.TrainingStress = score.Strain
		if score.DistanceMeter != nil {
			activity.DistanceMeters = *score.DistanceMeter
		}
		if score.AltitudeGainMeter != nil {
			activity.ElevationGain = *score.AltitudeGainMeter
		}
		if score.Kilojoule != nil {
			activity.Calories = core.Float64Ptr(*score.Kilojoule * kilojouleToKcal)
		}
	}
	return activity, nil
}

func convertSleep(in sleepRecord) (core.SleepSession, error) {
	start, err := time.Parse(time.RFC3339Nano, in.Start)
	if err != nil {
		return core.SleepSession{}, fmt.Errorf("sleep %s start: %w", in.ID, err)
	}
	end, err := time.Parse(time.RFC3339Nano, in.End)
	if err != nil {
		return core.SleepSession{}, fmt.Errorf("sleep %s end: %w", in.ID, err)
	}
	start = start.UTC()
	session := core.SleepSession{
		ID:        in.ID,
		StartTime: start,
		EndTime:   end.UTC(),
		Provider:  Name,
	}
	if in.Score == nil {
		return session, nil
	}
	score := in.Score
	session.Score = score.SleepPerformancePercentage
	session.RespiratoryRate = score.RespiratoryRate
	if summary := score.StageSummary; summary != nil {
		session.TimeInBedMinutes = summary.TotalInBedTimeMilli / 60_000
		session.TotalSleepMinutes = max(session.TimeInBedMinutes-summary.TotalAwakeTimeMilli/60_000, 0)
		session.WakeCount = summary.DisturbanceCount
		for _, stage := range []struct {
			kind   core.SleepStageType
			millis int64
		}{
			{core.SleepStageAwake, summary.TotalAwakeTimeMilli},
			{core.SleepStageLight, summary.TotalLightSleepTimeMilli},
			{core.SleepStageDeep, summary.TotalSlowWaveSleepTimeMilli},
			{core.SleepStageREM, summary.TotalREMSleepTimeMilli},
		} {
			if stage.millis <= 0 {
				continue
			}
			session.Stages = append(session.Stages, core.SleepStage{
				Stage:           stage.kind,
				StartTime:       start,
				DurationMinutes: stage.millis / 60_000,
			})
		}
	}
	switch {
	case score.SleepEfficiencyPercentage != nil:
		session.Efficiency = score.SleepEfficiencyPercentage
	case session.TimeInBedMinutes > 0:
		session.Efficiency = core.Float64Ptr(float64(session.TotalSleepMinutes) / float64(session.TimeInBedMinutes) * 100)
	}
	return session, nil
}

func convertCycle(in cycleRecord) (core.RecoveryMetrics, error) {
	start, err := time.Parse(time.RFC3339Nano, in.Start)
	if err != nil {
		return core.RecoveryMetrics{}, fmt.Errorf("cycle %d start: %w", in.ID, err)
	}
	metric := core.RecoveryMetrics{Date: core.DayStart(start), Provider: Name}
	if in.Score == nil {
		return metric, nil
	}
	metric.TrainingLoad = in.Score.Strain
	if recovery := in.Score.Recovery; recovery != nil {
		metric.RecoveryScore = recovery.RecoveryScore
		metric.ReadinessScore = recovery.RecoveryScore
		metric.RestingHeartRate = recovery.RestingHeartRate
		metric.BodyTemperature = recovery.SkinTempCelsius
		if recovery.HRVRMSSDMilli != nil {
			metric.HRV = recovery.HRVRMSSDMilli
			metric.HRVStatus = providers.HRVBand(*recovery.HRVRMSSDMilli, hrvHigh, hrvNormal)
		}
	}
	return metric, nil
}

var (
	_ core.FitnessProvider       = (*Provider)(nil)
	_ core.OAuthAuthorizer       = (*Provider)(nil)
	_ core.CredentialsObservable = (*Provider)(nil)
)
