package gocommand

import (
	"context"
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	"github.com/goliatone/go-wearables/command"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/query"
)

// Dependencies are the collaborators behind the wearables handlers.
// *core.Service satisfies Connections, Reader and Resolver.
type Dependencies struct {
	Connections command.ConnectionService
	Reader      query.ConnectionReader
	Catalog     query.ProviderCatalog
	Resolver    query.ProviderResolver
}

// ServiceDependencies wires every handler to one service and its registry.
func ServiceDependencies(service *core.Service) Dependencies {
	if service == nil {
		return Dependencies{}
	}
	return Dependencies{
		Connections: service,
		Reader:      service,
		Catalog:     service.Registry(),
		Resolver:    service,
	}
}

// Subscriptions tracks dispatcher subscriptions so they can be released together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		unsubscribe(subscription)
	}
}

// RegisterWearables registers and subscribes every connection command and data query.
func RegisterWearables(adapter *RegistryAdapter, deps Dependencies, runnerOpts ...runner.Option) (Subscriptions, error) {
	if deps.Connections == nil || deps.Reader == nil || deps.Catalog == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("gocommand: wearables dependencies are incomplete")
	}

	var subs Subscriptions
	track := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, subscription)
		return nil
	}

	steps := []func() error{
		func() error {
			return track(RegisterAndSubscribe(adapter, command.NewBeginConnectCommand(deps.Connections), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe(adapter, command.NewCompleteConnectCommand(deps.Connections), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe(adapter, command.NewRegisterConnectionCommand(deps.Connections), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe(adapter, command.NewRefreshCredentialsCommand(deps.Connections), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribe(adapter, command.NewDisconnectCommand(deps.Connections), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, query.NewListConnectionsQuery(deps.Reader), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, query.NewListProvidersQuery(deps.Catalog), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, query.NewGetAthleteQuery(deps.Resolver), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, query.NewGetActivitiesQuery(deps.Resolver), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, query.NewGetSleepSessionsQuery(deps.Resolver), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, query.NewGetRecoveryMetricsQuery(deps.Resolver), runnerOpts...))
		},
		func() error {
			return track(RegisterAndSubscribeQuery(adapter, query.NewGetHealthMetricsQuery(deps.Resolver), runnerOpts...))
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// CommandRefresher sends refresh requests through the dispatcher so queued
// refresh jobs run the same handler as direct callers.
type CommandRefresher struct{}

func (CommandRefresher) RefreshCredentials(ctx context.Context, key core.ConnectionKey) error {
	return Dispatch(ctx, command.RefreshCredentialsMessage{Key: key})
}
