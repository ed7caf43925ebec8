package gocommand

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-wearables/command"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "wearables.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "wearables.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "wearables.command.test" }

type queueMessage struct{}

func (queueMessage) Type() string { return "wearables.command.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(command.RefreshCredentialsMessage{}); err == nil {
		t.Fatalf("expected refresh message without key to fail")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(gocmd.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := gocmd.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	subscription, err := RegisterAndSubscribe(adapter, cmd)
	if err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	t.Cleanup(subscription.Unsubscribe)

	if err := adapter.AddResolver("custom", func(any, gocmd.CommandMeta, *gocmd.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(gocmd.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := gocmd.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("wearables.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterAndSubscribe_RejectsMissingPieces(t *testing.T) {
	if _, err := RegisterAndSubscribe[dispatchMessage](nil, nil); err == nil {
		t.Fatalf("expected nil adapter to fail")
	}
	adapter := NewRegistryAdapter(nil)
	if _, err := RegisterAndSubscribe[dispatchMessage](adapter, nil); err == nil {
		t.Fatalf("expected nil command to fail")
	}
	if err := adapter.AddQueueResolver("queue", nil); err == nil {
		t.Fatalf("expected nil queue registry to fail")
	}
}

type stubConnections struct {
	refreshed []core.ConnectionKey
}

func (s *stubConnections) BeginConnect(context.Context, core.BeginConnectRequest) (core.BeginConnectResponse, error) {
	return core.BeginConnectResponse{}, nil
}

func (s *stubConnections) CompleteConnect(context.Context, core.CompleteConnectRequest) (core.ProviderConnection, error) {
	return core.ProviderConnection{}, nil
}

func (s *stubConnections) RegisterConnection(context.Context, core.RegisterConnectionRequest) (core.ProviderConnection, error) {
	return core.ProviderConnection{}, nil
}

func (s *stubConnections) RefreshCredentials(_ context.Context, key core.ConnectionKey) error {
	s.refreshed = append(s.refreshed, key)
	return nil
}

func (s *stubConnections) Disconnect(context.Context, core.ConnectionKey) error { return nil }

type stubReader struct{}

func (stubReader) Connections(_ context.Context, tenantID string, userID string) ([]core.ProviderConnection, error) {
	return []core.ProviderConnection{{TenantID: tenantID, UserID: userID, Provider: "fitbit", Status: core.ConnectionStatusConnected}}, nil
}

type stubCatalog struct{}

func (stubCatalog) SupportedProviders() []string { return []string{"fitbit", "strava"} }

func (stubCatalog) Descriptor(name string) (core.ProviderDescriptor, bool) {
	return core.ProviderDescriptor{Name: name}, true
}

type stubResolver struct{}

func (stubResolver) Provider(_ context.Context, key core.ConnectionKey) (*core.TenantProvider, error) {
	return nil, core.NewNotAuthenticatedError(key.Provider)
}

func TestRegisterWearables_DispatchesCommandsAndQueries(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	connections := &stubConnections{}
	subs, err := RegisterWearables(adapter, Dependencies{
		Connections: connections,
		Reader:      stubReader{},
		Catalog:     stubCatalog{},
		Resolver:    stubResolver{},
	})
	if err != nil {
		t.Fatalf("register wearables: %v", err)
	}
	t.Cleanup(subs.Unsubscribe)
	if len(subs) != 12 {
		t.Fatalf("expected 12 subscriptions, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	ctx := context.Background()
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "fitbit"}
	if err := Dispatch(ctx, command.RefreshCredentialsMessage{Key: key}); err != nil {
		t.Fatalf("dispatch refresh: %v", err)
	}
	if len(connections.refreshed) != 1 || connections.refreshed[0] != key {
		t.Fatalf("expected refresh for %+v, got %+v", key, connections.refreshed)
	}

	providers, err := Query[query.ListProvidersMessage, []core.ProviderDescriptor](ctx, query.ListProvidersMessage{})
	if err != nil {
		t.Fatalf("query providers: %v", err)
	}
	if len(providers) != 2 || providers[0].Name != "fitbit" {
		t.Fatalf("unexpected providers %+v", providers)
	}

	conns, err := Query[query.ListConnectionsMessage, []core.ProviderConnection](ctx, query.ListConnectionsMessage{TenantID: "t1", UserID: "u1"})
	if err != nil {
		t.Fatalf("query connections: %v", err)
	}
	if len(conns) != 1 || conns[0].TenantID != "t1" {
		t.Fatalf("unexpected connections %+v", conns)
	}

	_, err = Query[query.GetAthleteMessage, core.Athlete](ctx, query.GetAthleteMessage{Key: key})
	if err == nil {
		t.Fatalf("expected resolver error to surface")
	}
}

func TestRegisterWearables_RequiresDependencies(t *testing.T) {
	if _, err := RegisterWearables(NewRegistryAdapter(nil), Dependencies{Connections: &stubConnections{}}); err == nil {
		t.Fatalf("expected incomplete dependencies to fail")
	}
	if deps := ServiceDependencies(nil); deps.Connections != nil || deps.Catalog != nil {
		t.Fatalf("expected empty dependencies for nil service")
	}
}
