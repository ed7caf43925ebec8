package query

import (
	"context"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/pagination"
)

type ConnectionReader interface {
	Connections(ctx context.Context, tenantID string, userID string) ([]core.ProviderConnection, error)
}

type ProviderCatalog interface {
	SupportedProviders() []string
	Descriptor(name string) (core.ProviderDescriptor, bool)
}

// ProviderResolver hands out the authenticated adapter for a connection.
type ProviderResolver interface {
	Provider(ctx context.Context, key core.ConnectionKey) (*core.TenantProvider, error)
}

type ListConnectionsQuery struct {
	reader ConnectionReader
}

func NewListConnectionsQuery(reader ConnectionReader) *ListConnectionsQuery {
	return &ListConnectionsQuery{reader: reader}
}

func (q *ListConnectionsQuery) Query(ctx context.Context, msg ListConnectionsMessage) ([]core.ProviderConnection, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: connection reader is required")
	}
	return q.reader.Connections(ctx, msg.TenantID, msg.UserID)
}

type ListProvidersQuery struct {
	catalog ProviderCatalog
}

func NewListProvidersQuery(catalog ProviderCatalog) *ListProvidersQuery {
	return &ListProvidersQuery{catalog: catalog}
}

func (q *ListProvidersQuery) Query(_ context.Context, _ ListProvidersMessage) ([]core.ProviderDescriptor, error) {
	if q == nil || q.catalog == nil {
		return nil, queryDependencyError("query: provider catalog is required")
	}
	names := q.catalog.SupportedProviders()
	out := make([]core.ProviderDescriptor, 0, len(names))
	for _, name := range names {
		if descriptor, ok := q.catalog.Descriptor(name); ok {
			out = append(out, descriptor)
		}
	}
	return out, nil
}

type GetAthleteQuery struct {
	resolver ProviderResolver
}

func NewGetAthleteQuery(resolver ProviderResolver) *GetAthleteQuery {
	return &GetAthleteQuery{resolver: resolver}
}

func (q *GetAthleteQuery) Query(ctx context.Context, msg GetAthleteMessage) (core.Athlete, error) {
	if q == nil || q.resolver == nil {
		return core.Athlete{}, queryDependencyError("query: provider resolver is required")
	}
	provider, err := q.resolver.Provider(ctx, msg.Key)
	if err != nil {
		return core.Athlete{}, err
	}
	return provider.GetAthlete(ctx)
}

type GetActivitiesQuery struct {
	resolver ProviderResolver
}

func NewGetActivitiesQuery(resolver ProviderResolver) *GetActivitiesQuery {
	return &GetActivitiesQuery{resolver: resolver}
}

func (q *GetActivitiesQuery) Query(ctx context.Context, msg GetActivitiesMessage) (pagination.Page[core.Activity], error) {
	if q == nil || q.resolver == nil {
		return pagination.Page[core.Activity]{}, queryDependencyError("query: provider resolver is required")
	}
	provider, err := q.resolver.Provider(ctx, msg.Key)
	if err != nil {
		return pagination.Page[core.Activity]{}, err
	}
	return provider.GetActivitiesCursor(ctx, msg.Params)
}

type GetSleepSessionsQuery struct {
	resolver ProviderResolver
}

func NewGetSleepSessionsQuery(resolver ProviderResolver) *GetSleepSessionsQuery {
	return &GetSleepSessionsQuery{resolver: resolver}
}

func (q *GetSleepSessionsQuery) Query(ctx context.Context, msg GetSleepSessionsMessage) ([]core.SleepSession, error) {
	if q == nil || q.resolver == nil {
		return nil, queryDependencyError("query: provider resolver is required")
	}
	provider, err := q.resolver.Provider(ctx, msg.Key)
	if err != nil {
		return nil, err
	}
	return provider.GetSleepSessions(ctx, msg.Range)
}

type GetRecoveryMetricsQuery struct {
	resolver ProviderResolver
}

func NewGetRecoveryMetricsQuery(resolver ProviderResolver) *GetRecoveryMetricsQuery {
	return &GetRecoveryMetricsQuery{resolver: resolver}
}

func (q *GetRecoveryMetricsQuery) Query(ctx context.Context, msg GetRecoveryMetricsMessage) ([]core.RecoveryMetrics, error) {
	if q == nil || q.resolver == nil {
		return nil, queryDependencyError("query: provider resolver is required")
	}
	provider, err := q.resolver.Provider(ctx, msg.Key)
	if err != nil {
		return nil, err
	}
	return provider.GetRecoveryMetrics(ctx, msg.Range)
}

type GetHealthMetricsQuery struct {
	resolver ProviderResolver
}

func NewGetHealthMetricsQuery(resolver ProviderResolver) *GetHealthMetricsQuery {
	return &GetHealthMetricsQuery{resolver: resolver}
}

func (q *GetHealthMetricsQuery) Query(ctx context.Context, msg GetHealthMetricsMessage) ([]core.HealthMetrics, error) {
	if q == nil || q.resolver == nil {
		return nil, queryDependencyError("query: provider resolver is required")
	}
	provider, err := q.resolver.Provider(ctx, msg.Key)
	if err != nil {
		return nil, err
	}
	return provider.GetHealthMetrics(ctx, msg.Range)
}
