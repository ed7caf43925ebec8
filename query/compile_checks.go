package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
)

var (
	_ gocmd.Querier[ListConnectionsMessage, []core.ProviderConnection]    = (*ListConnectionsQuery)(nil)
	_ gocmd.Querier[ListProvidersMessage, []core.ProviderDescriptor]      = (*ListProvidersQuery)(nil)
	_ gocmd.Querier[GetAthleteMessage, core.Athlete]                      = (*GetAthleteQuery)(nil)
	_ gocmd.Querier[GetActivitiesMessage, pagination.Page[core.Activity]] = (*GetActivitiesQuery)(nil)
	_ gocmd.Querier[GetSleepSessionsMessage, []core.SleepSession]         = (*GetSleepSessionsQuery)(nil)
	_ gocmd.Querier[GetRecoveryMetricsMessage, []core.RecoveryMetrics]    = (*GetRecoveryMetricsQuery)(nil)
	_ gocmd.Querier[GetHealthMetricsMessage, []core.HealthMetrics]        = (*GetHealthMetricsQuery)(nil)

	_ ConnectionReader = (*core.Service)(nil)
	_ ProviderResolver = (*core.Service)(nil)
	_ ProviderCatalog  = (*core.ProviderRegistry)(nil)
)
