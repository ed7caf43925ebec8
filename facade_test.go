package wearables

import (
	"context"
	"testing"

	wcommand "github.com/goliatone/go-wearables/command"
	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/providers/synthetic"
	wquery "github.com/goliatone/go-wearables/query"
)

type stubFacadeService struct {
	registry     core.Registry
	disconnected []core.ConnectionKey
}

func newStubFacadeService(t *testing.T) *stubFacadeService {
	t.Helper()
	registry := core.NewProviderRegistry()
	if err := registry.RegisterFactory(synthetic.NewFactory(providers.Shared{})); err != nil {
		t.Fatalf("register synthetic: %v", err)
	}
	return &stubFacadeService{registry: registry}
}

func (s *stubFacadeService) BeginConnect(context.Context, core.BeginConnectRequest) (core.BeginConnectResponse, error) {
	return core.BeginConnectResponse{}, nil
}

func (s *stubFacadeService) CompleteConnect(context.Context, core.CompleteConnectRequest) (core.ProviderConnection, error) {
	return core.ProviderConnection{}, nil
}

func (s *stubFacadeService) RegisterConnection(context.Context, core.RegisterConnectionRequest) (core.ProviderConnection, error) {
	return core.ProviderConnection{}, nil
}

func (s *stubFacadeService) RefreshCredentials(context.Context, core.ConnectionKey) error { return nil }

func (s *stubFacadeService) Disconnect(_ context.Context, key core.ConnectionKey) error {
	s.disconnected = append(s.disconnected, key)
	return nil
}

func (s *stubFacadeService) Connections(_ context.Context, tenantID string, userID string) ([]core.ProviderConnection, error) {
	return []core.ProviderConnection{{TenantID: tenantID, UserID: userID, Provider: synthetic.Name}}, nil
}

func (s *stubFacadeService) Provider(_ context.Context, key core.ConnectionKey) (*core.TenantProvider, error) {
	return nil, core.NewNotAuthenticatedError(key.Provider)
}

func (s *stubFacadeService) Registry() core.Registry { return s.registry }

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(newStubFacadeService(t))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.BeginConnect == nil || commands.CompleteConnect == nil || commands.RegisterConnection == nil ||
		commands.RefreshCredentials == nil || commands.Disconnect == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.ListConnections == nil || queries.ListProviders == nil || queries.GetAthlete == nil ||
		queries.GetActivities == nil || queries.GetSleepSessions == nil || queries.GetRecoveryMetrics == nil ||
		queries.GetHealthMetrics == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := newStubFacadeService(t)
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: synthetic.Name}

	if err := facade.Commands().Disconnect.Execute(ctx, wcommand.DisconnectMessage{Key: key}); err != nil {
		t.Fatalf("execute disconnect: %v", err)
	}
	if len(svc.disconnected) != 1 || svc.disconnected[0] != key {
		t.Fatalf("unexpected disconnect delegation %+v", svc.disconnected)
	}

	descriptors, err := facade.Queries().ListProviders.Query(ctx, wquery.ListProvidersMessage{})
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].Name != synthetic.Name {
		t.Fatalf("expected registry-backed provider list, got %+v", descriptors)
	}

	connections, err := facade.Queries().ListConnections.Query(ctx, wquery.ListConnectionsMessage{TenantID: "t1", UserID: "u1"})
	if err != nil || len(connections) != 1 {
		t.Fatalf("expected one connection, got %d (%v)", len(connections), err)
	}

	if _, err := facade.Queries().GetAthlete.Query(ctx, wquery.GetAthleteMessage{Key: key}); !core.HasTextCode(err, core.ErrorNotAuthenticated) {
		t.Fatalf("expected resolver error to surface, got %v", err)
	}
}

type fixedCatalog struct{}

func (fixedCatalog) SupportedProviders() []string { return []string{"custom"} }

func (fixedCatalog) Descriptor(name string) (core.ProviderDescriptor, bool) {
	return core.ProviderDescriptor{Name: name}, true
}

func TestNewFacade_OptionsAndGuards(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected nil service to fail")
	}
	if _, err := NewFacade(&stubFacadeService{}); err == nil {
		t.Fatalf("expected missing registry to fail")
	}

	facade, err := NewFacade(&stubFacadeService{}, WithProviderCatalog(fixedCatalog{}))
	if err != nil {
		t.Fatalf("new facade with catalog: %v", err)
	}
	descriptors, err := facade.Queries().ListProviders.Query(context.Background(), wquery.ListProvidersMessage{})
	if err != nil || len(descriptors) != 1 || descriptors[0].Name != "custom" {
		t.Fatalf("expected custom catalog listing, got %+v (%v)", descriptors, err)
	}

	var nilFacade *Facade
	if nilFacade.Service() != nil || nilFacade.Commands().Disconnect != nil {
		t.Fatalf("expected zero values from nil facade")
	}
}
