// Package wearables wires the fitness provider adapters, the connection
// service and its command/query surface into one importable entry point.
package wearables

import "github.com/goliatone/go-wearables/core"

type Config = core.Config

type ProviderSettings = core.ProviderSettings

type Option = core.Option

type Service = core.Service

type OAuthStateStore = core.OAuthStateStore
type ConnectionStore = core.ConnectionStore
type TokenStore = core.TokenStore
type TokenCipher = core.TokenCipher
type MetricsRecorder = core.MetricsRecorder

type ConnectionKey = core.ConnectionKey
type BeginConnectRequest = core.BeginConnectRequest
type CompleteConnectRequest = core.CompleteConnectRequest
type RegisterConnectionRequest = core.RegisterConnectionRequest

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithOAuthStateStore   = core.WithOAuthStateStore
	WithRegistry          = core.WithRegistry
	WithConnectionStore   = core.WithConnectionStore
	WithTokenStore        = core.WithTokenStore
	WithTokenCipher       = core.WithTokenCipher
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
