package command

import (
	"strings"

	"github.com/goliatone/go-wearables/core"
)

const (
	TypeBeginConnect       = "wearables.command.connect.begin"
	TypeCompleteConnect    = "wearables.command.connect.complete"
	TypeRegisterConnection = "wearables.command.connection.register"
	TypeRefreshCredentials = "wearables.command.credentials.refresh"
	TypeDisconnect         = "wearables.command.disconnect"
)

type BeginConnectMessage struct {
	Request core.BeginConnectRequest
}

func (BeginConnectMessage) Type() string { return TypeBeginConnect }

func (m BeginConnectMessage) Validate() error {
	return validateKey(core.ConnectionKey{
		TenantID: m.Request.TenantID,
		UserID:   m.Request.UserID,
		Provider: m.Request.Provider,
	})
}

type CompleteConnectMessage struct {
	Request core.CompleteConnectRequest
}

func (CompleteConnectMessage) Type() string { return TypeCompleteConnect }

func (m CompleteConnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type RegisterConnectionMessage struct {
	Request core.RegisterConnectionRequest
}

func (RegisterConnectionMessage) Type() string { return TypeRegisterConnection }

func (m RegisterConnectionMessage) Validate() error {
	if err := validateKey(core.ConnectionKey{
		TenantID: m.Request.TenantID,
		UserID:   m.Request.UserID,
		Provider: m.Request.Provider,
	}); err != nil {
		return err
	}
	if m.Request.ConnectionType == "" {
		return nil
	}
	if err := m.Request.ConnectionType.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid connection type")
	}
	if m.Request.ConnectionType == core.ConnectionTypeOAuth {
		return commandValidationError("connection_type", "oauth connections are created through the connect flow")
	}
	return nil
}

type RefreshCredentialsMessage struct {
	Key core.ConnectionKey
}

func (RefreshCredentialsMessage) Type() string { return TypeRefreshCredentials }

func (m RefreshCredentialsMessage) Validate() error {
	return validateKey(m.Key)
}

type DisconnectMessage struct {
	Key core.ConnectionKey
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	return validateKey(m.Key)
}

func validateKey(key core.ConnectionKey) error {
	switch {
	case strings.TrimSpace(key.TenantID) == "":
		return commandValidationError("tenant_id", "tenant id is required")
	case strings.TrimSpace(key.UserID) == "":
		return commandValidationError("user_id", "user id is required")
	case strings.TrimSpace(key.Provider) == "":
		return commandValidationError("provider", "provider is required")
	}
	return nil
}
