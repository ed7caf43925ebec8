package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-wearables/core"
)

var (
	_ gocmd.Commander[BeginConnectMessage]       = (*BeginConnectCommand)(nil)
	_ gocmd.Commander[CompleteConnectMessage]    = (*CompleteConnectCommand)(nil)
	_ gocmd.Commander[RegisterConnectionMessage] = (*RegisterConnectionCommand)(nil)
	_ gocmd.Commander[RefreshCredentialsMessage] = (*RefreshCredentialsCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]         = (*DisconnectCommand)(nil)

	_ ConnectionService = (*core.Service)(nil)
)
