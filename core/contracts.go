package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-wearables/pagination"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// FitnessProvider is the capability contract every adapter implements.
// Capabilities a platform does not expose return empty results, not errors.
type FitnessProvider interface {
	Name() string
	Config() ProviderConfig
	SetCredentials(ctx context.Context, credentials OAuth2Credentials) error
	IsAuthenticated(ctx context.Context) bool
	RefreshTokenIfNeeded(ctx context.Context) error

	GetAthlete(ctx context.Context) (Athlete, error)
	GetActivities(ctx context.Context, limit int, offset int) ([]Activity, error)
	GetActivitiesWithParams(ctx context.Context, params ActivityQueryParams) ([]Activity, error)
	GetActivitiesCursor(ctx context.Context, params pagination.Params) (pagination.Page[Activity], error)
	GetActivity(ctx context.Context, id string) (Activity, error)
	GetStats(ctx context.Context) (Stats, error)
	GetPersonalRecords(ctx context.Context) ([]PersonalRecord, error)

	GetSleepSessions(ctx context.Context, dateRange DateRange) ([]SleepSession, error)
	GetLatestSleepSession(ctx context.Context) (SleepSession, error)
	GetRecoveryMetrics(ctx context.Context, dateRange DateRange) ([]RecoveryMetrics, error)
	GetHealthMetrics(ctx context.Context, dateRange DateRange) ([]HealthMetrics, error)

	Disconnect(ctx context.Context) error
}

// CredentialsObserver is notified after an adapter rotates its tokens.
type CredentialsObserver func(ctx context.Context, credentials OAuth2Credentials) error

type CredentialsObservable interface {
	ObserveCredentials(observer CredentialsObserver)
}

// OAuthAuthorizer is implemented by adapters that support the authorization-code flow.
type OAuthAuthorizer interface {
	BeginAuthorization(state string) (AuthorizationRequest, error)
	CompleteAuthorization(ctx context.Context, code string, pkce *PKCE) (OAuth2Credentials, error)
}

type ProviderFactory interface {
	Create(cfg ProviderConfig) (FitnessProvider, error)
	SupportedProviders() []string
	Descriptor() ProviderDescriptor
	DefaultConfig() ProviderConfig
}

type Registry interface {
	SupportedProviders() []string
	IsSupported(name string) bool
	Descriptor(name string) (ProviderDescriptor, bool)
	DefaultConfig(name string) (ProviderConfig, bool)
	Create(name string) (FitnessProvider, error)
	CreateWithConfig(name string, cfg ProviderConfig) (FitnessProvider, error)
	CreateTenantProvider(name string, tenantID string, userID string) (*TenantProvider, error)
}

type ConnectionStore interface {
	Upsert(ctx context.Context, connection ProviderConnection) (ProviderConnection, error)
	Get(ctx context.Context, key ConnectionKey) (ProviderConnection, error)
	ListByUser(ctx context.Context, tenantID string, userID string) ([]ProviderConnection, error)
	UpdateStatus(ctx context.Context, key ConnectionKey, status ConnectionStatus, reason string) error
}

type TokenStore interface {
	Save(ctx context.Context, token StoredToken) error
	Get(ctx context.Context, key ConnectionKey) (StoredToken, error)
	Delete(ctx context.Context, key ConnectionKey) error
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	TokenStore() TokenStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// TokenCipher seals and opens token pairs under a per-connection context.
type TokenCipher interface {
	EncryptToken(token DecryptedToken, credentialContext CredentialContext) (EncryptedToken, error)
	DecryptToken(token EncryptedToken, credentialContext CredentialContext) (DecryptedToken, error)
}

type PendingAuthorization struct {
	State       string
	TenantID    string
	UserID      string
	Provider    string
	RedirectURI string
	PKCE        *PKCE
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Metadata    map[string]any
}

type OAuthStateStore interface {
	Save(ctx context.Context, pending PendingAuthorization) error
	Consume(ctx context.Context, state string) (PendingAuthorization, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}
