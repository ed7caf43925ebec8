package wearables

import (
	"fmt"

	wcommand "github.com/goliatone/go-wearables/command"
	"github.com/goliatone/go-wearables/core"
	wquery "github.com/goliatone/go-wearables/query"
)

// CommandQueryService is the service surface the facade builds handlers over.
// *core.Service implements it.
type CommandQueryService interface {
	wcommand.ConnectionService
	wquery.ConnectionReader
	wquery.ProviderResolver
	Registry() core.Registry
}

type Commands struct {
	BeginConnect       *wcommand.BeginConnectCommand
	CompleteConnect    *wcommand.CompleteConnectCommand
	RegisterConnection *wcommand.RegisterConnectionCommand
	RefreshCredentials *wcommand.RefreshCredentialsCommand
	Disconnect         *wcommand.DisconnectCommand
}

type Queries struct {
	ListConnections    *wquery.ListConnectionsQuery
	ListProviders      *wquery.ListProvidersQuery
	GetAthlete         *wquery.GetAthleteQuery
	GetActivities      *wquery.GetActivitiesQuery
	GetSleepSessions   *wquery.GetSleepSessionsQuery
	GetRecoveryMetrics *wquery.GetRecoveryMetricsQuery
	GetHealthMetrics   *wquery.GetHealthMetricsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	catalog wquery.ProviderCatalog
}

// WithProviderCatalog lists providers from catalog instead of the service registry.
func WithProviderCatalog(catalog wquery.ProviderCatalog) FacadeOption {
	return func(options *facadeOptions) {
		options.catalog = catalog
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("wearables: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	catalog := cfg.catalog
	if catalog == nil {
		registry := service.Registry()
		if registry == nil {
			return nil, fmt.Errorf("wearables: provider registry is required")
		}
		catalog = registry
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		BeginConnect:       wcommand.NewBeginConnectCommand(service),
		CompleteConnect:    wcommand.NewCompleteConnectCommand(service),
		RegisterConnection: wcommand.NewRegisterConnectionCommand(service),
		RefreshCredentials: wcommand.NewRefreshCredentialsCommand(service),
		Disconnect:         wcommand.NewDisconnectCommand(service),
	}
	facade.queries = Queries{
		ListConnections:    wquery.NewListConnectionsQuery(service),
		ListProviders:      wquery.NewListProvidersQuery(catalog),
		GetAthlete:         wquery.NewGetAthleteQuery(service),
		GetActivities:      wquery.NewGetActivitiesQuery(service),
		GetSleepSessions:   wquery.NewGetSleepSessionsQuery(service),
		GetRecoveryMetrics: wquery.NewGetRecoveryMetricsQuery(service),
		GetHealthMetrics:   wquery.NewGetHealthMetricsQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
