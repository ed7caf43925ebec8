package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-wearables/core"
)

// ConnectionService is the slice of core.Service that mutates connections.
type ConnectionService interface {
	BeginConnect(ctx context.Context, req core.BeginConnectRequest) (core.BeginConnectResponse, error)
	CompleteConnect(ctx context.Context, req core.CompleteConnectRequest) (core.ProviderConnection, error)
	RegisterConnection(ctx context.Context, req core.RegisterConnectionRequest) (core.ProviderConnection, error)
	RefreshCredentials(ctx context.Context, key core.ConnectionKey) error
	Disconnect(ctx context.Context, key core.ConnectionKey) error
}

type BeginConnectCommand struct {
	service ConnectionService
}

func NewBeginConnectCommand(service ConnectionService) *BeginConnectCommand {
	return &BeginConnectCommand{service: service}
}

func (c *BeginConnectCommand) Execute(ctx context.Context, msg BeginConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connect service is required")
	}
	out, err := c.service.BeginConnect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteConnectCommand struct {
	service ConnectionService
}

func NewCompleteConnectCommand(service ConnectionService) *CompleteConnectCommand {
	return &CompleteConnectCommand{service: service}
}

func (c *CompleteConnectCommand) Execute(ctx context.Context, msg CompleteConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteConnect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RegisterConnectionCommand struct {
	service ConnectionService
}

func NewRegisterConnectionCommand(service ConnectionService) *RegisterConnectionCommand {
	return &RegisterConnectionCommand{service: service}
}

func (c *RegisterConnectionCommand) Execute(ctx context.Context, msg RegisterConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.RegisterConnection(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCredentialsCommand struct {
	service ConnectionService
}

func NewRefreshCredentialsCommand(service ConnectionService) *RefreshCredentialsCommand {
	return &RefreshCredentialsCommand{service: service}
}

func (c *RefreshCredentialsCommand) Execute(ctx context.Context, msg RefreshCredentialsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	return c.service.RefreshCredentials(ctx, msg.Key)
}

type DisconnectCommand struct {
	service ConnectionService
}

func NewDisconnectCommand(service ConnectionService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.Key)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
