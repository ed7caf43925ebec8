package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConnectionType   = errors.New("core: invalid connection type")
	ErrInvalidConnectionStatus = errors.New("core: invalid connection status")
	ErrInvalidDateRange        = errors.New("core: invalid date range")
)

// DefaultTokenTable is the storage table name bound into the encryption context.
const DefaultTokenTable = "user_oauth_tokens"

type Capability uint8

const (
	CapabilityOAuth Capability = 1 << iota
	CapabilityActivities
	CapabilitySleep
	CapabilityRecovery
	CapabilityHealth
)

type ProviderCapabilities struct {
	Set Capability
}

func ActivityOnlyCapabilities() ProviderCapabilities {
	return ProviderCapabilities{Set: CapabilityOAuth | CapabilityActivities}
}

func FullHealthCapabilities() ProviderCapabilities {
	return ProviderCapabilities{
		Set: CapabilityOAuth | CapabilityActivities | CapabilitySleep | CapabilityRecovery | CapabilityHealth,
	}
}

func (c ProviderCapabilities) Has(capability Capability) bool {
	return c.Set&capability == capability
}

func (c ProviderCapabilities) Names() []string {
	names := make([]string, 0, 5)
	for _, entry := range []struct {
		capability Capability
		name       string
	}{
		{CapabilityOAuth, "oauth"},
		{CapabilityActivities, "activities"},
		{CapabilitySleep, "sleep"},
		{CapabilityRecovery, "recovery"},
		{CapabilityHealth, "health"},
	} {
		if c.Has(entry.capability) {
			names = append(names, entry.name)
		}
	}
	return names
}

// ProviderConfig is immutable once handed to a factory; overrides produce copies.
type ProviderConfig struct {
	Name            string
	DisplayName     string
	AuthURL         string
	TokenURL        string
	RevokeURL       string
	APIBaseURL      string
	DefaultScopes   []string
	ScopeSeparator  string
	UsePKCE         bool
	Capabilities    ProviderCapabilities
	ClientID        string
	ClientSecret    string
	RedirectURI     string
	ExtraAuthParams map[string]string
}

func (c ProviderConfig) Clone() ProviderConfig {
	out := c
	out.DefaultScopes = append([]string(nil), c.DefaultScopes...)
	if len(c.ExtraAuthParams) > 0 {
		out.ExtraAuthParams = make(map[string]string, len(c.ExtraAuthParams))
		for key, value := range c.ExtraAuthParams {
			out.ExtraAuthParams[key] = value
		}
	}
	return out
}

// WithOverrides applies non-empty settings on top of a copy of the config.
func (c ProviderConfig) WithOverrides(settings ProviderSettings) ProviderConfig {
	out := c.Clone()
	if value := strings.TrimSpace(settings.ClientID); value != "" {
		out.ClientID = value
	}
	if value := strings.TrimSpace(settings.ClientSecret); value != "" {
		out.ClientSecret = value
	}
	if value := strings.TrimSpace(settings.RedirectURI); value != "" {
		out.RedirectURI = value
	}
	if value := strings.TrimSpace(settings.AuthURL); value != "" {
		out.AuthURL = value
	}
	if value := strings.TrimSpace(settings.TokenURL); value != "" {
		out.TokenURL = value
	}
	if value := strings.TrimSpace(settings.RevokeURL); value != "" {
		out.RevokeURL = value
	}
	if value := strings.TrimSpace(settings.APIBaseURL); value != "" {
		out.APIBaseURL = value
	}
	if len(settings.Scopes) > 0 {
		out.DefaultScopes = append([]string(nil), settings.Scopes...)
	}
	return out
}

func (c ProviderConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return NewConfigurationError("core: provider config name is required")
	}
	if c.Capabilities.Has(CapabilityOAuth) {
		if strings.TrimSpace(c.AuthURL) == "" || strings.TrimSpace(c.TokenURL) == "" {
			return NewConfigurationError(fmt.Sprintf("core: provider %s requires auth and token urls", c.Name))
		}
	}
	return nil
}

type ProviderDescriptor struct {
	Name         string
	DisplayName  string
	Capabilities ProviderCapabilities
	UsePKCE      bool
	Push         bool
}

// OAuth2Credentials are owned by exactly one adapter instance.
type OAuth2Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

func (c OAuth2Credentials) Clone() OAuth2Credentials {
	out := c
	out.Scopes = append([]string(nil), c.Scopes...)
	if c.ExpiresAt != nil {
		expiresAt := c.ExpiresAt.UTC()
		out.ExpiresAt = &expiresAt
	}
	return out
}

func (c OAuth2Credentials) HasAccessToken() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// PKCE holds a verifier and its S256 challenge.
type PKCE struct {
	Verifier        string
	Challenge       string
	ChallengeMethod string
}

type AuthorizationRequest struct {
	URL   string
	State string
	PKCE  *PKCE
}

type ConnectionType string

const (
	ConnectionTypeOAuth     ConnectionType = "oauth"
	ConnectionTypeSynthetic ConnectionType = "synthetic"
	ConnectionTypeManual    ConnectionType = "manual"
	ConnectionTypeWebhook   ConnectionType = "webhook"
)

func (t ConnectionType) Validate() error {
	switch t {
	case ConnectionTypeOAuth, ConnectionTypeSynthetic, ConnectionTypeManual, ConnectionTypeWebhook:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidConnectionType, t)
	}
}

type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusError        ConnectionStatus = "error"
)

func (s ConnectionStatus) Validate() error {
	switch s {
	case ConnectionStatusConnected, ConnectionStatusDisconnected, ConnectionStatusError:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidConnectionStatus, s)
	}
}

// ProviderConnection binds a (tenant, user) pair to one provider account.
type ProviderConnection struct {
	ID             string
	TenantID       string
	UserID         string
	Provider       string
	ConnectionType ConnectionType
	ExternalUserID string
	Status         ConnectionStatus
	LastError      string
	ConnectedAt    time.Time
	UpdatedAt      time.Time
}

type ConnectionKey struct {
	TenantID string
	UserID   string
	Provider string
}

func (k ConnectionKey) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" {
		return fmt.Errorf("core: tenant id is required")
	}
	if strings.TrimSpace(k.UserID) == "" {
		return fmt.Errorf("core: user id is required")
	}
	if strings.TrimSpace(k.Provider) == "" {
		return fmt.Errorf("core: provider is required")
	}
	return nil
}

func (k ConnectionKey) String() string {
	return k.TenantID + "|" + k.UserID + "|" + k.Provider
}

// ID is an unambiguous encoding of the key: each field is length-prefixed,
// so separators inside tenant or user ids cannot collide with another key.
func (k ConnectionKey) ID() string {
	return fmt.Sprintf("%d:%s%d:%s%d:%s", len(k.TenantID), k.TenantID, len(k.UserID), k.UserID, len(k.Provider), k.Provider)
}

// CredentialContext is bound into the AEAD associated data.
type CredentialContext struct {
	TenantID string
	UserID   string
	Provider string
	Table    string
}

// AAD encodes every field as a uvarint length followed by its bytes.
func (c CredentialContext) AAD() []byte {
	out := make([]byte, 0, len(c.TenantID)+len(c.UserID)+len(c.Provider)+len(c.Table)+8)
	for _, field := range []string{c.TenantID, c.UserID, c.Provider, c.Table} {
		out = binary.AppendUvarint(out, uint64(len(field)))
		out = append(out, field...)
	}
	return out
}

func (k ConnectionKey) CredentialContext(table string) CredentialContext {
	if strings.TrimSpace(table) == "" {
		table = DefaultTokenTable
	}
	return CredentialContext{TenantID: k.TenantID, UserID: k.UserID, Provider: k.Provider, Table: table}
}

type DecryptedToken struct {
	AccessToken  string
	RefreshToken string
}

// EncryptedToken holds independently sealed access and refresh tokens.
type EncryptedToken struct {
	AccessToken  string
	RefreshToken string
	KeyID        string
}

type StoredToken struct {
	TenantID  string
	UserID    string
	Provider  string
	Token     EncryptedToken
	ExpiresAt *time.Time
	Scopes    []string
	UpdatedAt time.Time
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidDateRange)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end before start", ErrInvalidDateRange)
	}
	return nil
}

func (r DateRange) Contains(value time.Time) bool {
	return !value.Before(r.Start) && !value.After(r.End)
}

// LastDays returns the range ending at now and covering the previous n days.
func LastDays(now time.Time, days int) DateRange {
	if days <= 0 {
		days = 1
	}
	return DateRange{Start: now.AddDate(0, 0, -days), End: now}
}

type ActivityQueryParams struct {
	Limit  int
	Offset int
	After  *time.Time
	Before *time.Time
}

type SportType string

const (
	SportRun              SportType = "Run"
	SportRide             SportType = "Ride"
	SportSwim             SportType = "Swim"
	SportWalk             SportType = "Walk"
	SportHike             SportType = "Hike"
	SportVirtualRide      SportType = "VirtualRide"
	SportVirtualRun       SportType = "VirtualRun"
	SportWorkout          SportType = "Workout"
	SportYoga             SportType = "Yoga"
	SportEbikeRide        SportType = "EbikeRide"
	SportMountainBikeRide SportType = "MountainBikeRide"
	SportGravelRide       SportType = "GravelRide"
	SportAlpineSki        SportType = "AlpineSki"
	SportNordicSki        SportType = "NordicSki"
	SportRowing           SportType = "Rowing"
	SportKayaking         SportType = "Kayaking"
	SportStrength         SportType = "StrengthTraining"
	SportCrossfit         SportType = "Crossfit"
	SportPilates          SportType = "Pilates"
	SportElliptical       SportType = "Elliptical"
	SportOther            SportType = "Other"
)

var sportTypeAliases = map[string]SportType{
	"run":                  SportRun,
	"running":              SportRun,
	"trail_running":        SportRun,
	"treadmill_running":    SportRun,
	"ride":                 SportRide,
	"cycling":              SportRide,
	"road_biking":          SportRide,
	"biking":               SportRide,
	"bike":                 SportRide,
	"swim":                 SportSwim,
	"swimming":             SportSwim,
	"lap_swimming":         SportSwim,
	"open_water_swimming":  SportSwim,
	"walk":                 SportWalk,
	"walking":              SportWalk,
	"hike":                 SportHike,
	"hiking":               SportHike,
	"virtualride":          SportVirtualRide,
	"virtual_ride":         SportVirtualRide,
	"indoor_cycling":       SportVirtualRide,
	"virtualrun":           SportVirtualRun,
	"virtual_run":          SportVirtualRun,
	"workout":              SportWorkout,
	"yoga":                 SportYoga,
	"ebikeride":            SportEbikeRide,
	"e_bike":               SportEbikeRide,
	"mountainbikeride":     SportMountainBikeRide,
	"mountain_biking":      SportMountainBikeRide,
	"gravelride":           SportGravelRide,
	"gravel_cycling":       SportGravelRide,
	"alpineski":            SportAlpineSki,
	"resort_skiing":        SportAlpineSki,
	"nordicski":            SportNordicSki,
	"cross_country_skiing": SportNordicSki,
	"rowing":               SportRowing,
	"rowing_v2":            SportRowing,
	"kayaking":             SportKayaking,
	"weighttraining":       SportStrength,
	"strength_training":    SportStrength,
	"weightlifting":        SportStrength,
	"crossfit":             SportCrossfit,
	"pilates":              SportPilates,
	"elliptical":           SportElliptical,
}

// ParseSportType maps a provider sport label to the canonical type, falling back to Other.
func ParseSportType(value string) SportType {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if sport, ok := sportTypeAliases[key]; ok {
		return sport
	}
	if sport, ok := sportTypeAliases[strings.ReplaceAll(key, "_", "")]; ok {
		return sport
	}
	return SportOther
}

type Activity struct {
	ID               string
	Name             string
	SportType        SportType
	SportTypeDetail  string
	StartDate        time.Time
	DurationSeconds  int64
	DistanceMeters   float64
	ElevationGain    float64
	AverageHeartRate *float64
	MaxHeartRate     *float64
	AverageSpeed     *float64
	MaxSpeed         *float64
	Calories         *float64
	Steps            *int64
	AveragePower     *float64
	MaxPower         *float64
	AverageCadence   *float64
	HRV              *float64
	SpO2             *float64
	TrainingStress   *float64
	SufferScore      *float64
	StartLatitude    *float64
	StartLongitude   *float64
	City             string
	Country          string
	Provider         string
}

type SleepStageType string

const (
	SleepStageAwake SleepStageType = "awake"
	SleepStageLight SleepStageType = "light"
	SleepStageDeep  SleepStageType = "deep"
	SleepStageREM   SleepStageType = "rem"
)

type SleepStage struct {
	Stage           SleepStageType
	StartTime       time.Time
	DurationMinutes int64
}

type SleepSession struct {
	ID                       string
	StartTime                time.Time
	EndTime                  time.Time
	TimeInBedMinutes         int64
	TotalSleepMinutes        int64
	Efficiency               *float64
	Score                    *float64
	Stages                   []SleepStage
	HRVDuringSleep           *float64
	RespiratoryRate          *float64
	TemperatureVariation     *float64
	WakeCount                *int64
	SleepOnsetLatencyMinutes *int64
	Provider                 string
}

type HRVStatus string

const (
	HRVStatusLow    HRVStatus = "low"
	HRVStatusNormal HRVStatus = "normal"
	HRVStatusHigh   HRVStatus = "high"
)

// RecoveryMetrics are keyed by calendar date (UTC midnight).
type RecoveryMetrics struct {
	Date                   time.Time
	RecoveryScore          *float64
	ReadinessScore         *float64
	HRVStatus              HRVStatus
	HRV                    *float64
	SleepScore             *float64
	StressLevel            *float64
	TrainingLoad           *float64
	RestingHeartRate       *float64
	BodyTemperature        *float64
	RestingRespiratoryRate *float64
	Provider               string
}

type BloodPressure struct {
	Systolic  float64
	Diastolic float64
}

type HealthMetrics struct {
	Date           time.Time
	WeightKg       *float64
	BodyFatPercent *float64
	MuscleMassKg   *float64
	BoneMassKg     *float64
	BodyWaterPct   *float64
	BMR            *float64
	BloodPressure  *BloodPressure
	BloodGlucose   *float64
	VO2Max         *float64
	Provider       string
}

type Athlete struct {
	ID             string
	Username       string
	FirstName      string
	LastName       string
	ProfilePicture string
	Provider       string
}

type Stats struct {
	TotalActivities    int64
	TotalDistance      float64
	TotalDuration      int64
	TotalElevationGain float64
}

type PRMetric string

const (
	PRFastestPace      PRMetric = "fastest_pace"
	PRLongestDistance  PRMetric = "longest_distance"
	PRHighestElevation PRMetric = "highest_elevation"
	PRFastestTime      PRMetric = "fastest_time"
)

type PersonalRecord struct {
	ActivityID string
	Metric     PRMetric
	Value      float64
	Date       time.Time
}

// StatsFromActivities aggregates totals over the given activities.
func StatsFromActivities(activities []Activity) Stats {
	stats := Stats{}
	for _, activity := range activities {
		stats.TotalActivities++
		stats.TotalDistance += activity.DistanceMeters
		stats.TotalDuration += activity.DurationSeconds
		stats.TotalElevationGain += activity.ElevationGain
	}
	return stats
}

// PersonalRecordsFromActivities derives fastest pace, longest distance,
// highest elevation and fastest time records.
func PersonalRecordsFromActivities(activities []Activity) []PersonalRecord {
	var (
		fastestPace, longest, highest, fastestTime *PersonalRecord
	)
	for _, activity := range activities {
		if activity.DistanceMeters > 0 && activity.DurationSeconds > 0 {
			pace := float64(activity.DurationSeconds) / activity.DistanceMeters
			if fastestPace == nil || pace < fastestPace.Value {
				fastestPace = &PersonalRecord{ActivityID: activity.ID, Metric: PRFastestPace, Value: pace, Date: activity.StartDate}
			}
		}
		if activity.DistanceMeters > 0 && (longest == nil || activity.DistanceMeters > longest.Value) {
			longest = &PersonalRecord{ActivityID: activity.ID, Metric: PRLongestDistance, Value: activity.DistanceMeters, Date: activity.StartDate}
		}
		if activity.ElevationGain > 0 && (highest == nil || activity.ElevationGain > highest.Value) {
			highest = &PersonalRecord{ActivityID: activity.ID, Metric: PRHighestElevation, Value: activity.ElevationGain, Date: activity.StartDate}
		}
		if activity.DurationSeconds > 0 && (fastestTime == nil || float64(activity.DurationSeconds) < fastestTime.Value) {
			fastestTime = &PersonalRecord{ActivityID: activity.ID, Metric: PRFastestTime, Value: float64(activity.DurationSeconds), Date: activity.StartDate}
		}
	}
	records := make([]PersonalRecord, 0, 4)
	for _, record := range []*PersonalRecord{fastestPace, longest, highest, fastestTime} {
		if record != nil {
			records = append(records, *record)
		}
	}
	return records
}

// DayStart truncates to UTC midnight.
func DayStart(value time.Time) time.Time {
	value = value.UTC()
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

func Float64Ptr(value float64) *float64 {
	return &value
}

func Int64Ptr(value int64) *int64 {
	return &value
}
