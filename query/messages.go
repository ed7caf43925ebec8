package query

import (
	"strings"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
)

const (
	TypeListConnections    = "wearables.query.connections.list"
	TypeListProviders      = "wearables.query.providers.list"
	TypeGetAthlete         = "wearables.query.athlete.get"
	TypeGetActivities      = "wearables.query.activities.page"
	TypeGetSleepSessions   = "wearables.query.sleep.list"
	TypeGetRecoveryMetrics = "wearables.query.recovery.list"
	TypeGetHealthMetrics   = "wearables.query.health.list"
)

type ListConnectionsMessage struct {
	TenantID string
	UserID   string
}

func (ListConnectionsMessage) Type() string { return TypeListConnections }

func (m ListConnectionsMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

// ListProvidersMessage lists every registered provider. It carries no input.
type ListProvidersMessage struct{}

func (ListProvidersMessage) Type() string { return TypeListProviders }

func (ListProvidersMessage) Validate() error { return nil }

type GetAthleteMessage struct {
	Key core.ConnectionKey
}

func (GetAthleteMessage) Type() string { return TypeGetAthlete }

func (m GetAthleteMessage) Validate() error {
	return validateKey(m.Key)
}

type GetActivitiesMessage struct {
	Key    core.ConnectionKey
	Params pagination.Params
}

func (GetActivitiesMessage) Type() string { return TypeGetActivities }

func (m GetActivitiesMessage) Validate() error {
	if err := validateKey(m.Key); err != nil {
		return err
	}
	if m.Params.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	switch m.Params.Direction {
	case "", pagination.Forward, pagination.Backward:
	default:
		return queryValidationError("direction", "direction must be forward or backward")
	}
	if m.Params.HasCursor() {
		if _, err := pagination.DecodeCursor(m.Params.Cursor); err != nil {
			return queryValidationError("cursor", "cursor is malformed")
		}
	}
	return nil
}

type GetSleepSessionsMessage struct {
	Key   core.ConnectionKey
	Range core.DateRange
}

func (GetSleepSessionsMessage) Type() string { return TypeGetSleepSessions }

func (m GetSleepSessionsMessage) Validate() error {
	return validateRange(m.Key, m.Range)
}

type GetRecoveryMetricsMessage struct {
	Key   core.ConnectionKey
	Range core.DateRange
}

func (GetRecoveryMetricsMessage) Type() string { return TypeGetRecoveryMetrics }

func (m GetRecoveryMetricsMessage) Validate() error {
	return validateRange(m.Key, m.Range)
}

type GetHealthMetricsMessage struct {
	Key   core.ConnectionKey
	Range core.DateRange
}

func (GetHealthMetricsMessage) Type() string { return TypeGetHealthMetrics }

func (m GetHealthMetricsMessage) Validate() error {
	return validateRange(m.Key, m.Range)
}

func validateKey(key core.ConnectionKey) error {
	switch {
	case strings.TrimSpace(key.TenantID) == "":
		return queryValidationError("tenant_id", "tenant id is required")
	case strings.TrimSpace(key.UserID) == "":
		return queryValidationError("user_id", "user id is required")
	case strings.TrimSpace(key.Provider) == "":
		return queryValidationError("provider", "provider is required")
	}
	return nil
}

func validateRange(key core.ConnectionKey, dateRange core.DateRange) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := dateRange.Validate(); err != nil {
		return queryValidationError("range", err.Error())
	}
	return nil
}
