// Package synthetic is an in-memory provider for demos, seeding and tests.
// It needs no credentials and never calls out.
package synthetic

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
	"github.com/goliatone/go-wearables/providers"
)

const (
	Name = "synthetic"

	AthleteID = "synthetic_athlete_001"
)

func DefaultConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:         Name,
		DisplayName:  "Synthetic",
		Capabilities: core.ProviderCapabilities{Set: core.CapabilityActivities | core.CapabilitySleep | core.CapabilityRecovery | core.CapabilityHealth},
	}
}

func NewFactory(shared providers.Shared) *providers.Factory {
	return providers.NewFactory(DefaultConfig(), shared, func(cfg core.ProviderConfig, shared providers.Shared) (core.FitnessProvider, error) {
		return New(cfg, WithClock(shared.Now)), nil
	})
}

type Option func(*Provider)

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func WithActivities(activities ...core.Activity) Option {
	return func(p *Provider) {
		for _, activity := range activities {
			p.addActivityLocked(activity)
		}
	}
}

type Provider struct {
	config core.ProviderConfig
	now    func() time.Time

	mu         sync.RWMutex
	activities map[string]core.Activity
	sleep      []core.SleepSession
	recovery   []core.RecoveryMetrics
	health     []core.HealthMetrics
}

func New(cfg core.ProviderConfig, opts ...Option) *Provider {
	if cfg.Name == "" {
		cfg = DefaultConfig()
	}
	p := &Provider{
		config:     cfg.Clone(),
		now:        func() time.Time { return time.Now().UTC() },
		activities: map[string]core.Activity{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// AddActivity stores activity, replacing any record with the same id. An
// empty id gets a generated one, which is returned.
func (p *Provider) AddActivity(activity core.Activity) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addActivityLocked(activity)
}

func (p *Provider) addActivityLocked(activity core.Activity) string {
	if strings.TrimSpace(activity.ID) == "" {
		activity.ID = uuid.NewString()
	}
	activity.Provider = Name
	p.activities[activity.ID] = activity
	return activity.ID
}

// SetActivities replaces the whole activity set.
func (p *Provider) SetActivities(activities []core.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activities = make(map[string]core.Activity, len(activities))
	for _, activity := range activities {
		p.addActivityLocked(activity)
	}
}

// Seed replaces the activities with count generated ones ending today.
func (p *Provider) Seed(count int, seed uint64) {
	p.SetActivities(Generate(p.now(), count, seed))
}

func (p *Provider) ActivityCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.activities)
}

func (p *Provider) AddSleepSession(session core.SleepSession) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Provider = Name
	p.mu.Lock()
	p.sleep = append(p.sleep, session)
	p.mu.Unlock()
}

func (p *Provider) AddRecoveryMetrics(metric core.RecoveryMetrics) {
	metric.Provider = Name
	p.mu.Lock()
	p.recovery = append(p.recovery, metric)
	p.mu.Unlock()
}

func (p *Provider) AddHealthMetrics(metric core.HealthMetrics) {
	metric.Provider = Name
	p.mu.Lock()
	p.health = append(p.health, metric)
	p.mu.Unlock()
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Config() core.ProviderConfig {
	return p.config.Clone()
}

func (p *Provider) SetCredentials(context.Context, core.OAuth2Credentials) error {
	return nil
}

func (p *Provider) IsAuthenticated(context.Context) bool {
	return true
}

func (p *Provider) RefreshTokenIfNeeded(context.Context) error {
	return nil
}

func (p *Provider) GetAthlete(context.Context) (core.Athlete, error) {
	return core.Athlete{
		ID:        AthleteID,
		Username:  "synthetic_athlete",
		FirstName: "Synthetic",
		LastName:  "Athlete",
		Provider:  Name,
	}, nil
}

// sorted returns a newest first snapshot of the activities.
func (p *Provider) sorted() []core.Activity {
	p.mu.RLock()
	out := make([]core.Activity, 0, len(p.activities))
	for _, activity := range p.activities {
		out = append(out, activity)
	}
	p.mu.RUnlock()
	pagination.SortNewestFirst(out, providers.ActivityKey)
	return out
}

func (p *Provider) GetActivities(ctx context.Context, limit int, offset int) ([]core.Activity, error) {
	return p.GetActivitiesWithParams(ctx, core.ActivityQueryParams{Limit: limit, Offset: offset})
}

func (p *Provider) GetActivitiesWithParams(_ context.Context, params core.ActivityQueryParams) ([]core.Activity, error) {
	activities := providers.FilterActivities(p.sorted(), params)
	offset := min(max(params.Offset, 0), len(activities))
	limit := providers.ClampLimit(params.Limit, pagination.MaxLimit)
	end := min(offset+limit, len(activities))
	return activities[offset:end], nil
}

func (p *Provider) GetActivitiesCursor(_ context.Context, params pagination.Params) (pagination.Page[core.Activity], error) {
	return pagination.PaginateSorted(p.sorted(), params, providers.ActivityKey)
}

func (p *Provider) GetActivity(_ context.Context, id string) (core.Activity, error) {
	p.mu.RLock()
	activity, ok := p.activities[id]
	p.mu.RUnlock()
	if !ok {
		return core.Activity{}, core.NewNotFoundError(Name, "activity", id)
	}
	return activity, nil
}

func (p *Provider) GetStats(context.Context) (core.Stats, error) {
	return core.StatsFromActivities(p.sorted()), nil
}

func (p *Provider) GetPersonalRecords(context.Context) ([]core.PersonalRecord, error) {
	return core.PersonalRecordsFromActivities(p.sorted()), nil
}

func (p *Provider) GetSleepSessions(_ context.Context, dateRange core.DateRange) ([]core.SleepSession, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	p.mu.RLock()
	out := make([]core.SleepSession, 0, len(p.sleep))
	for _, session := range p.sleep {
		if dateRange.Contains(session.StartTime) {
			out = append(out, session)
		}
	}
	p.mu.RUnlock()
	pagination.SortNewestFirst(out, providers.SleepKey)
	return out, nil
}

func (p *Provider) GetLatestSleepSession(ctx context.Context) (core.SleepSession, error) {
	p.mu.RLock()
	sessions := append([]core.SleepSession(nil), p.sleep...)
	p.mu.RUnlock()
	return providers.LatestSleep(Name, sessions)
}

func (p *Provider) GetRecoveryMetrics(_ context.Context, dateRange core.DateRange) ([]core.RecoveryMetrics, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	p.mu.RLock()
	out := make([]core.RecoveryMetrics, 0, len(p.recovery))
	for _, metric := range p.recovery {
		if dateRange.Contains(metric.Date) {
			out = append(out, metric)
		}
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (p *Provider) GetHealthMetrics(_ context.Context, dateRange core.DateRange) ([]core.HealthMetrics, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	p.mu.RLock()
	out := make([]core.HealthMetrics, 0, len(p.health))
	for _, metric := range p.health {
		if dateRange.Contains(metric.Date) {
			out = append(out, metric)
		}
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Disconnect has nothing to revoke; stored data is kept.
func (p *Provider) Disconnect(context.Context) error {
	return nil
}

var _ core.FitnessProvider = (*Provider)(nil)
