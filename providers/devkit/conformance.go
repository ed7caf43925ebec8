package devkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
)

// ValidateUnauthenticatedConformance checks the contract of a freshly built
// adapter that holds no credentials: data reads fail with a typed
// not-authenticated error and disconnect is a harmless no-op.
func ValidateUnauthenticatedConformance(ctx context.Context, provider core.FitnessProvider) error {
	if provider == nil {
		return fmt.Errorf("devkit: provider is required")
	}
	name := strings.TrimSpace(provider.Name())
	if name == "" {
		return fmt.Errorf("devkit: provider name is required")
	}
	if provider.Config().Name != name {
		return fmt.Errorf("devkit: config name %q does not match provider name %q", provider.Config().Name, name)
	}
	if provider.IsAuthenticated(ctx) {
		return fmt.Errorf("devkit: %s reports authenticated without credentials", name)
	}

	checks := map[string]func() error{
		"GetAthlete": func() error {
			_, err := provider.GetAthlete(ctx)
			return err
		},
		"GetActivities": func() error {
			_, err := provider.GetActivities(ctx, 10, 0)
			return err
		},
		"GetActivitiesCursor": func() error {
			_, err := provider.GetActivitiesCursor(ctx, pagination.Params{Limit: 10})
			return err
		},
	}
	for operation, check := range checks {
		if err := check(); !core.HasTextCode(err, core.ErrorNotAuthenticated) {
			return fmt.Errorf("devkit: %s %s without credentials returned %v", name, operation, err)
		}
	}

	for i := 0; i < 2; i++ {
		if err := provider.Disconnect(ctx); err != nil {
			return fmt.Errorf("devkit: %s disconnect without credentials: %w", name, err)
		}
	}
	return nil
}

// ValidateDisconnectConformance expects an authenticated provider and checks
// that disconnect leaves it unauthenticated and stays idempotent.
func ValidateDisconnectConformance(ctx context.Context, provider core.FitnessProvider) error {
	if !provider.IsAuthenticated(ctx) {
		return fmt.Errorf("devkit: %s must be authenticated before disconnect", provider.Name())
	}
	for i := 0; i < 2; i++ {
		if err := provider.Disconnect(ctx); err != nil {
			return fmt.Errorf("devkit: %s disconnect %d: %w", provider.Name(), i, err)
		}
		if provider.IsAuthenticated(ctx) {
			return fmt.Errorf("devkit: %s still authenticated after disconnect", provider.Name())
		}
	}
	return nil
}

// ValidateRangeConformance checks that range queries only return records
// inside the requested range.
func ValidateRangeConformance(ctx context.Context, provider core.FitnessProvider, dateRange core.DateRange) error {
	sessions, err := provider.GetSleepSessions(ctx, dateRange)
	if err != nil {
		return fmt.Errorf("devkit: %s sleep sessions: %w", provider.Name(), err)
	}
	for _, session := range sessions {
		if !inRange(dateRange, session.StartTime) {
			return fmt.Errorf("devkit: %s sleep session %s outside range", provider.Name(), session.ID)
		}
	}
	health, err := provider.GetHealthMetrics(ctx, dateRange)
	if err != nil {
		return fmt.Errorf("devkit: %s health metrics: %w", provider.Name(), err)
	}
	for _, metric := range health {
		if !inRange(dateRange, metric.Date) {
			return fmt.Errorf("devkit: %s health metric %s outside range", provider.Name(), metric.Date)
		}
	}
	return nil
}

func inRange(dateRange core.DateRange, at time.Time) bool {
	return !at.Before(core.DayStart(dateRange.Start)) && !at.After(dateRange.End.Add(24*time.Hour))
}
