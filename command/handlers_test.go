package command

import (
	"context"
	"errors"
	"net/http"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-wearables/core"
)

type stubConnectionService struct {
	beginConnectFn       func(context.Context, core.BeginConnectRequest) (core.BeginConnectResponse, error)
	completeConnectFn    func(context.Context, core.CompleteConnectRequest) (core.ProviderConnection, error)
	registerConnectionFn func(context.Context, core.RegisterConnectionRequest) (core.ProviderConnection, error)
	refreshFn            func(context.Context, core.ConnectionKey) error
	disconnectFn         func(context.Context, core.ConnectionKey) error
}

func (s stubConnectionService) BeginConnect(ctx context.Context, req core.BeginConnectRequest) (core.BeginConnectResponse, error) {
	if s.beginConnectFn == nil {
		return core.BeginConnectResponse{}, nil
	}
	return s.beginConnectFn(ctx, req)
}

func (s stubConnectionService) CompleteConnect(ctx context.Context, req core.CompleteConnectRequest) (core.ProviderConnection, error) {
	if s.completeConnectFn == nil {
		return core.ProviderConnection{}, nil
	}
	return s.completeConnectFn(ctx, req)
}

func (s stubConnectionService) RegisterConnection(ctx context.Context, req core.RegisterConnectionRequest) (core.ProviderConnection, error) {
	if s.registerConnectionFn == nil {
		return core.ProviderConnection{}, nil
	}
	return s.registerConnectionFn(ctx, req)
}

func (s stubConnectionService) RefreshCredentials(ctx context.Context, key core.ConnectionKey) error {
	if s.refreshFn == nil {
		return nil
	}
	return s.refreshFn(ctx, key)
}

func (s stubConnectionService) Disconnect(ctx context.Context, key core.ConnectionKey) error {
	if s.disconnectFn == nil {
		return nil
	}
	return s.disconnectFn(ctx, key)
}

func TestBeginConnectCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.BeginConnectResponse{
		Provider:         "strava",
		AuthorizationURL: "https://www.strava.com/oauth/authorize?state=st",
		State:            "st",
	}
	called := false
	svc := stubConnectionService{
		beginConnectFn: func(_ context.Context, req core.BeginConnectRequest) (core.BeginConnectResponse, error) {
			called = true
			if req.Provider != "strava" || req.TenantID != "t1" {
				t.Fatalf("unexpected request %#v", req)
			}
			return expected, nil
		},
	}

	cmd := NewBeginConnectCommand(svc)
	collector := gocmd.NewResult[core.BeginConnectResponse]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	msg := BeginConnectMessage{Request: core.BeginConnectRequest{TenantID: "t1", UserID: "u1", Provider: "strava"}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cmd.Execute(ctx, msg); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !called {
		t.Fatalf("expected service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.AuthorizationURL != expected.AuthorizationURL || result.State != "st" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestConnectionCommands_DelegateToService(t *testing.T) {
	key := core.ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "fitbit"}

	t.Run("complete connect", func(t *testing.T) {
		svc := stubConnectionService{
			completeConnectFn: func(_ context.Context, req core.CompleteConnectRequest) (core.ProviderConnection, error) {
				if req.State != "st" || req.Code != "code-1" {
					t.Fatalf("unexpected request %#v", req)
				}
				return core.ProviderConnection{TenantID: "t1", UserID: "u1", Provider: "fitbit", Status: core.ConnectionStatusConnected}, nil
			},
		}
		collector := gocmd.NewResult[core.ProviderConnection]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := NewCompleteConnectCommand(svc).Execute(ctx, CompleteConnectMessage{Request: core.CompleteConnectRequest{State: "st", Code: "code-1"}}); err != nil {
			t.Fatalf("execute: %v", err)
		}
		connection, ok := collector.Load()
		if !ok || connection.Status != core.ConnectionStatusConnected {
			t.Fatalf("expected stored connection, got %#v (%v)", connection, ok)
		}
	})

	t.Run("register connection", func(t *testing.T) {
		called := false
		svc := stubConnectionService{
			registerConnectionFn: func(_ context.Context, req core.RegisterConnectionRequest) (core.ProviderConnection, error) {
				called = true
				if req.ConnectionType != core.ConnectionTypeSynthetic {
					t.Fatalf("unexpected connection type %q", req.ConnectionType)
				}
				return core.ProviderConnection{Provider: "synthetic"}, nil
			},
		}
		msg := RegisterConnectionMessage{Request: core.RegisterConnectionRequest{
			TenantID:       "t1",
			UserID:         "u1",
			Provider:       "synthetic",
			ConnectionType: core.ConnectionTypeSynthetic,
		}}
		if err := msg.Validate(); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if err := NewRegisterConnectionCommand(svc).Execute(context.Background(), msg); err != nil {
			t.Fatalf("execute: %v", err)
		}
		if !called {
			t.Fatalf("expected register invocation")
		}
	})

	t.Run("refresh and disconnect", func(t *testing.T) {
		var refreshed, disconnected core.ConnectionKey
		svc := stubConnectionService{
			refreshFn: func(_ context.Context, got core.ConnectionKey) error {
				refreshed = got
				return nil
			},
			disconnectFn: func(_ context.Context, got core.ConnectionKey) error {
				disconnected = got
				return nil
			},
		}
		if err := NewRefreshCredentialsCommand(svc).Execute(context.Background(), RefreshCredentialsMessage{Key: key}); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if err := NewDisconnectCommand(svc).Execute(context.Background(), DisconnectMessage{Key: key}); err != nil {
			t.Fatalf("disconnect: %v", err)
		}
		if refreshed != key || disconnected != key {
			t.Fatalf("unexpected keys refresh=%#v disconnect=%#v", refreshed, disconnected)
		}
	})

	t.Run("service errors propagate", func(t *testing.T) {
		expected := core.NewTokenExpiredError("fitbit")
		svc := stubConnectionService{
			refreshFn: func(context.Context, core.ConnectionKey) error { return expected },
		}
		err := NewRefreshCredentialsCommand(svc).Execute(context.Background(), RefreshCredentialsMessage{Key: key})
		if !errors.Is(err, expected) {
			t.Fatalf("expected service error, got %v", err)
		}
	})
}

func TestMessages_ValidateReturnsRichErrors(t *testing.T) {
	tests := []struct {
		name  string
		msg   interface{ Validate() error }
		field string
	}{
		{name: "begin connect tenant", msg: BeginConnectMessage{}, field: "tenant_id"},
		{name: "begin connect provider", msg: BeginConnectMessage{Request: core.BeginConnectRequest{TenantID: "t", UserID: "u"}}, field: "provider"},
		{name: "complete connect state", msg: CompleteConnectMessage{}, field: "state"},
		{name: "complete connect code", msg: CompleteConnectMessage{Request: core.CompleteConnectRequest{State: "st"}}, field: "code"},
		{name: "refresh user", msg: RefreshCredentialsMessage{Key: core.ConnectionKey{TenantID: "t"}}, field: "user_id"},
		{name: "register oauth", msg: RegisterConnectionMessage{Request: core.RegisterConnectionRequest{
			TenantID:       "t",
			UserID:         "u",
			Provider:       "strava",
			ConnectionType: core.ConnectionTypeOAuth,
		}}, field: "connection_type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", err)
			}
			if rich.Category != goerrors.CategoryValidation {
				t.Fatalf("expected validation category, got %q", rich.Category)
			}
			if rich.TextCode != core.ErrorBadInput || rich.Code != http.StatusBadRequest {
				t.Fatalf("unexpected envelope %q/%d", rich.TextCode, rich.Code)
			}
			fields := rich.AllValidationErrors()
			if len(fields) == 0 || fields[0].Field != tc.field {
				t.Fatalf("expected field %q, got %#v", tc.field, fields)
			}
		})
	}
}

func TestRegisterConnectionMessage_InvalidTypeIsWrapped(t *testing.T) {
	err := RegisterConnectionMessage{Request: core.RegisterConnectionRequest{
		TenantID:       "t",
		UserID:         "u",
		Provider:       "manual",
		ConnectionType: core.ConnectionType("carrier-pigeon"),
	}}.Validate()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected wrapped bad input error, got %v", err)
	}
}

func TestCommands_NilServiceReturnsRichError(t *testing.T) {
	var cmd *DisconnectCommand
	err := cmd.Execute(context.Background(), DisconnectMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorInternal {
		t.Fatalf("unexpected envelope %q/%q", rich.Category, rich.TextCode)
	}
}
