// Package garmin adapts the Garmin Health (wellness) API. Summary endpoints
// accept upload windows of at most 24 hours, so reads walk day sized windows.
package garmin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/transport"
)

const (
	Name = "garmin"

	window = 24 * time.Hour
	// list and cursor reads look back at most this many windows
	lookbackWindows = 30
)

func DefaultConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:           Name,
		DisplayName:    "Garmin Connect",
		AuthURL:        "https://connect.garmin.com/oauthConfirm",
		TokenURL:       "https://connectapi.garmin.com/oauth-service/oauth/access_token",
		RevokeURL:      "https://connectapi.garmin.com/oauth-service/oauth/revoke",
		APIBaseURL:     "https://apis.garmin.com/wellness-api/rest",
		DefaultScopes:  []string{"activity:read", "sleep:read", "health:read", "user_metrics:read"},
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
			Provider:  cfg,
			AuthStyle: providers.AuthStyleInBody,
		}),
	}
}

func (p *Provider) GetAthlete(ctx context.Context) (core.Athlete, error) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := p.GetJSON(ctx, "user/id", nil, &payload); err != nil {
		return core.Athlete{}, err
	}
	return core.Athlete{ID: payload.UserID, Provider: Name}, nil
}

func (p *Provider) GetActivities(ctx context.Context, limit int, offset int) ([]core.Activity, error) {
	return p.GetActivitiesWithParams(ctx, core.ActivityQueryParams{Limit: limit, Offset: offset})
}

func (p *Provider) GetActivitiesWithParams(ctx context.Context, params core.ActivityQueryParams) ([]core.Activity, error) {
	limit := providers.ClampLimit(params.Limit, pagination.MaxLimit)
	offset := max(params.Offset, 0)
	end := p.Now()
	if params.Before != nil {
		end = params.Before.UTC()
	}
	activities, _, err := p.scanActivities(ctx, end, params.After, offset+limit)
	if err != nil {
		return nil, err
	}
	activities = providers.FilterActivities(activities, params)
	if offset >= len(activities) {
		return []core.Activity{}, nil
	}
	return activities[offset:min(offset+limit, len(activities))], nil
}

// GetActivitiesCursor walks windows backwards from the cursor time.
func (p *Provider) GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[core.Activity], error) {
	position, err := providers.DecodePosition(params)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	limit := params.NormalizedLimit()
	end := p.Now()
	if position != nil {
		end = position.SortKey.Add(time.Millisecond)
	}
	activities, full, err := p.scanActivities(ctx, end, nil, limit+1)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	return providers.KeysetPage(activities, position, limit, full), nil
}

// scanActivities collects activities starting before end, newest window
// first, until need records are found or the lookback is exhausted. full
// reports whether it stopped because need was reached.
func (p *Provider) scanActivities(ctx context.Context, end time.Time, after *time.Time, need int) ([]core.Activity, bool, error) {
	var out []core.Activity
	seen := map[string]struct{}{}
	for i := 0; i < lookbackWindows; i++ {
		windowEnd := end.Add(-time.Duration(i) * window)
		windowStart := windowEnd.Add(-window)
		if after != nil && !windowEnd.After(*after) {
			break
		}
		var records []activityRecord
		if err := p.GetJSON(ctx, "activities", windowQuery(windowStart, windowEnd), &records); err != nil {
			return nil, false, err
		}
		for _, activity := range providers.ConvertAll(p.Logger(), Name, "activity", records, convertActivity) {
			if !activity.StartDate.Before(end) {
				continue
			}
			if _, dup := seen[activity.ID]; dup {
				continue
			}
			seen[activity.ID] = struct{}{}
			out = append(out, activity)
		}
		if len(out) >= need {
			pagination.SortNewestFirst(out, providers.ActivityKey)
			return out, true, nil
		}
	}
	pagination.SortNewestFirst(out, providers.ActivityKey)
	return out, false, nil
}

// GetActivity searches the lookback windows; the wellness API has no
// single activity lookup.
func (p *Provider) GetActivity(ctx context.Context, id string) (core.Activity, error) {
	if id == "" {
		return core.Activity{}, core.NewBadInputError("garmin: activity id is required")
	}
	activities, _, err := p.scanActivities(ctx, p.Now(), nil, int(^uint(0)>>1))
	if err != nil {
		return core.Activity{}, err
	}
	for _, activity := range activities {
		if activity.ID == id {
			return activity, nil
		}
	}
	return core.Activity{}, core.NewNotFoundError(Name, "activity", id)
}

func (p *Provider) recentActivities(ctx context.Context) ([]core.Activity, error) {
	activities, _, err := p.scanActivities(ctx, p.Now(), nil, int(^uint(0)>>1))
	return activities, err
}

// GetStats aggregates the lookback horizon.
func (p *Provider) GetStats(ctx context.Context) (core.Stats, error) {
	activities, err := p.recentActivities(ctx)
	if err != nil {
		return core.Stats{}, err
	}
	return core.StatsFromActivities(activities), nil
}

func (p *Provider) GetPersonalRecords(ctx context.Context) ([]core.PersonalRecord, error) {
	activities, err := p.recentActivities(ctx)
	if err != nil {
		return nil, err
	}
	return core.PersonalRecordsFromActivities(activities), nil
}

func (p *Provider) GetSleepSessions(ctx context.Context, dateRange core.DateRange) ([]core.SleepSession, error) {
	records, err := collectRange[sleepRecord](ctx, p, "sleeps", dateRange)
	if err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "sleep", records, convertSleep), nil
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (core.SleepSession, error) {
	sessions, err := p.GetSleepSessions(ctx, core.LastDays(p.Now(), 2))
	if err != nil {
		return core.SleepSession{}, err
	}
	return providers.LatestSleep(Name, sessions)
}

// GetRecoveryMetrics maps daily summaries: resting heart rate and stress.
func (p *Provider) GetRecoveryMetrics(ctx context.Context, dateRange core.DateRange) ([]core.RecoveryMetrics, error) {
	records, err := collectRange[dailyRecord](ctx, p, "dailies", dateRange)
	if err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "daily", records, convertDaily), nil
}

func (p *Provider) GetHealthMetrics(ctx context.Context, dateRange core.DateRange) ([]core.HealthMetrics, error) {
	records, err := collectRange[bodyCompRecord](ctx, p, "bodyComps", dateRange)
	if err != nil {
		return nil, err
	}
	return providers.ConvertAll(p.Logger(), Name, "body_composition", records, convertBodyComp), nil
}

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

func windowQuery(start time.Time, end time.Time) url.Values {
	query := url.Values{}
	query.Set("uploadStartTimeInSeconds", strconv.FormatInt(start.Unix(), 10))
	query.Set("uploadEndTimeInSeconds", strconv.FormatInt(end.Unix(), 10))
	return query
}

// collectRange reads every window covering dateRange, oldest first.
func collectRange[T any](ctx context.Context, p *Provider, path string, dateRange core.DateRange) ([]T, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	var out []T
	for start := dateRange.Start.UTC(); start.Before(dateRange.End); start = start.Add(window) {
		end := start.Add(window)
		if end.After(dateRange.End) {
			end = dateRange.End.UTC()
		}
		var records []T
		if err := p.GetJSON(ctx, path, windowQuery(start, end), &records); err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

type activityRecord struct {
	SummaryID                      string   `json:"summaryId"`
	ActivityID                     int64    `json:"activityId"`
	ActivityName                   string   `json:"activityName"`
	ActivityType                   string   `json:"activityType"`
	StartTimeInSeconds             int64    `json:"startTimeInSeconds"`
	DurationInSeconds              int64    `json:"durationInSeconds"`
	DistanceInMeters               *float64 `json:"distanceInMeters"`
	TotalElevationGainInMeters     *float64 `json:"totalElevationGainInMeters"`
	AverageSpeedInMetersPerSecond  *float64 `json:"averageSpeedInMetersPerSecond"`
	MaxSpeedInMetersPerSecond      *float64 `json:"maxSpeedInMetersPerSecond"`
	AverageHeartRateInBeatsPerMin  *float64 `json:"averageHeartRateInBeatsPerMinute"`
	MaxHeartRateInBeatsPerMinute   *float64 `json:"maxHeartRateInBeatsPerMinute"`
	AverageRunCadenceInStepsPerMin *float64 `json:"averageRunCadenceInStepsPerMinute"`
	ActiveKilocalories             *float64 `json:"activeKilocalories"`
	Steps                          *int64   `json:"steps"`
}

type sleepRecord struct {
	SummaryID                  string `json:"summaryId"`
	CalendarDate               string `json:"calendarDate"`
	StartTimeInSeconds         int64  `json:"startTimeInSeconds"`
	DurationInSeconds          int64  `json:"durationInSeconds"`
	DeepSleepDurationInSeconds int64  `json:"deepSleepDurationInSeconds"`
	LightSleepDurationInSecond int64  `json:"lightSleepDurationInSeconds"`
	RemSleepInSeconds          int64  `json:"remSleepInSeconds"`
	AwakeDurationInSeconds     int64  `json:"awakeDurationInSeconds"`
	OverallSleepScore          *struct {
		Value float64 `json:"value"`
	} `json:"overallSleepScore"`
}

type dailyRecord struct {
	SummaryID                        string   `json:"summaryId"`
	CalendarDate                     string   `json:"calendarDate"`
	RestingHeartRateInBeatsPerMinute *float64 `json:"restingHeartRateInBeatsPerMinute"`
	AverageStressLevel               *float64 `json:"averageStressLevel"`
}

type bodyCompRecord struct {
	SummaryID                string   `json:"summaryId"`
	MeasurementTimeInSeconds int64    `json:"measurementTimeInSeconds"`
	WeightInGrams            *float64 `json:"weightInGrams"`
	BodyFatInPercent         *float64 `json:"bodyFatInPercent"`
	MuscleMassInGrams        *float64 `json:"muscleMassInGrams"`
	BoneMassInGrams          *float64 `json:"boneMassInGrams"`
	BodyWaterInPercent       *float64 `json:"bodyWaterInPercent"`
}

var sportsByType = map[string]core.SportType{
	"running":                 core.SportRun,
	"track_running":           core.SportRun,
	"trail_running":           core.SportRun,
	"treadmill_running":       core.SportVirtualRun,
	"cycling":                 core.SportRide,
	"road_biking":             core.SportRide,
	"cyclocross":              core.SportRide,
	"mountain_biking":         core.SportMountainBikeRide,
	"indoor_cycling":          core.SportVirtualRide,
	"virtual_ride":            core.SportVirtualRide,
	"gravel_cycling":          core.SportGravelRide,
	"e_bike_fitness":          core.SportEbikeRide,
	"lap_swimming":            core.SportSwim,
	"open_water_swimming":     core.SportSwim,
	"walking":                 core.SportWalk,
	"casual_walking":          core.SportWalk,
	"hiking":                  core.SportHike,
	"resort_skiing_snowboard": core.SportAlpineSki,
	"cross_country_skiing":    core.SportNordicSki,
	"rowing":                  core.SportRowing,
	"indoor_rowing":           core.SportRowing,
	"kayaking":                core.SportKayaking,
	"strength_training":       core.SportStrength,
	"yoga":                    core.SportYoga,
	"pilates":                 core.SportPilates,
	"elliptical":              core.SportElliptical,
	"cardio":                  core.SportWorkout,
	"fitness_equipment":       core.SportWorkout,
}

func sportType(raw string) core.SportType {
	key := strings.ToLower(strings.TrimSpace(raw))
	if sport, ok := sportsByType[key]; ok {
		return sport
	}
	return core.ParseSportType(key)
}

func convertActivity(in activityRecord) (core.Activity, error) {
	if in.StartTimeInSeconds <= 0 {
		return core.Activity{}, fmt.Errorf("activity %s has no start time", in.SummaryID)
	}
	id := in.SummaryID
	if in.ActivityID != 0 {
		id = strconv.FormatInt(in.ActivityID, 10)
	}
	if id == "" {
		return core.Activity{}, fmt.Errorf("activity id is missing")
	}
	name := in.ActivityName
	if name == "" {
		name = in.ActivityType
	}
	activity := core.Activity{
		ID:               id,
		Name:             name,
		SportType:        sportType(in.ActivityType),
		SportTypeDetail:  in.ActivityType,
		StartDate:        time.Unix(in.StartTimeInSeconds, 0).UTC(),
		DurationSeconds:  in.DurationInSeconds,
		AverageSpeed:     in.AverageSpeedInMetersPerSecond,
		MaxSpeed:         in.MaxSpeedInMetersPerSecond,
		AverageHeartRate: in.AverageHeartRateInBeatsPerMin,
		MaxHeartRate:     in.MaxHeartRateInBeatsPerMinute,
		AverageCadence:   in.AverageRunCadenceInStepsPerMin,
		Calories:         in.ActiveKilocalories,
		Steps:            in.Steps,
		Provider:         Name,
	}
	if in.DistanceInMeters != nil {
		activity.DistanceMeters = *in.DistanceInMeters
	}
	if in.TotalElevationGainInMeters != nil {
		activity.ElevationGain = *in.TotalElevationGainInMeters
	}
	return activity, nil
}

func convertSleep(in sleepRecord) (core.SleepSession, error) {
	if in.StartTimeInSeconds <= 0 {
		return core.SleepSession{}, fmt.Errorf("sleep %s has no start time", in.SummaryID)
	}
	start := time.Unix(in.StartTimeInSeconds, 0).UTC()
	asleep := in.DeepSleepDurationInSeconds + in.LightSleepDurationInSecond + in.RemSleepInSeconds
	session := core.SleepSession{
		ID:                in.SummaryID,
		StartTime:         start,
		EndTime:           start.Add(time.Duration(in.DurationInSeconds) * time.Second),
		TimeInBedMinutes:  in.DurationInSeconds / 60,
		TotalSleepMinutes: asleep / 60,
		Provider:          Name,
	}
	if in.DurationInSeconds > 0 {
		session.Efficiency = core.Float64Ptr(float64(asleep) / float64(in.DurationInSeconds) * 100)
	}
	if in.OverallSleepScore != nil {
		session.Score = core.Float64Ptr(in.OverallSleepScore.Value)
	}
	for _, stage := range []struct {
		kind    core.SleepStageType
		seconds int64
	}{
		{core.SleepStageDeep, in.DeepSleepDurationInSeconds},
		{core.SleepStageLight, in.LightSleepDurationInSecond},
		{core.SleepStageREM, in.RemSleepInSeconds},
		{core.SleepStageAwake, in.AwakeDurationInSeconds},
	} {
		if stage.seconds > 0 {
			session.Stages = append(session.Stages, core.SleepStage{Stage: stage.kind, StartTime: start, DurationMinutes: stage.seconds / 60})
		}
	}
	return session, nil
}

func convertDaily(in dailyRecord) (core.RecoveryMetrics, error) {
	day, err := time.Parse("2006-01-02", in.CalendarDate)
	if err != nil {
		return core.RecoveryMetrics{}, fmt.Errorf("daily %s calendar date: %w", in.SummaryID, err)
	}
	metric := core.RecoveryMetrics{
		Date:             day.UTC(),
		RestingHeartRate: in.RestingHeartRateInBeatsPerMinute,
		Provider:         Name,
	}
	// negative stress values flag insufficient data
	if in.AverageStressLevel != nil && *in.AverageStressLevel >= 0 {
		metric.StressLevel = in.AverageStressLevel
	}
	return metric, nil
}

func convertBodyComp(in bodyCompRecord) (core.HealthMetrics, error) {
	if in.MeasurementTimeInSeconds <= 0 {
		return core.HealthMetrics{}, fmt.Errorf("body composition %s has no measurement time", in.SummaryID)
	}
	return core.HealthMetrics{
		Date:           core.DayStart(time.Unix(in.MeasurementTimeInSeconds, 0)),
		WeightKg:       gramsToKilograms(in.WeightInGrams),
		BodyFatPercent: in.BodyFatInPercent,
		MuscleMassKg:   gramsToKilograms(in.MuscleMassInGrams),
		BoneMassKg:     gramsToKilograms(in.BoneMassInGrams),
		BodyWaterPct:   in.BodyWaterInPercent,
		Provider:       Name,
	}, nil
}

func gramsToKilograms(grams *float64) *float64 {
	if grams == nil {
		return nil
	}
	return core.Float64Ptr(*grams / 1000)
}

var (
	_ core.FitnessProvider       = (*Provider)(nil)
	_ core.OAuthAuthorizer       = (*Provider)(nil)
	_ core.CredentialsObservable = (*Provider)(nil)
)
