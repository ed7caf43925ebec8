package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// Service orchestrates connections: it resolves one adapter per
// (tenant, user, provider), keeps stored tokens encrypted, and persists
// rotated tokens reported by adapters.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	observer        Observer
	errorMapper     ErrorMapper
	registry        Registry
	connectionStore ConnectionStore
	tokenStore      TokenStore
	tokenCipher     TokenCipher
	oauthStateStore OAuthStateStore
	now             func() time.Time

	mu          sync.RWMutex
	adapters    map[ConnectionKey]*TenantProvider
	generations map[ConnectionKey]uint64
	loads       singleflight.Group
}

type BeginConnectRequest struct {
	TenantID    string
	UserID      string
	Provider    string
	RedirectURI string
	Metadata    map[string]any
}

type BeginConnectResponse struct {
	Provider         string
	AuthorizationURL string
	State            string
	UsesPKCE         bool
}

type CompleteConnectRequest struct {
	State string
	Code  string
}

type RegisterConnectionRequest struct {
	TenantID       string
	UserID         string
	Provider       string
	ConnectionType ConnectionType
	ExternalUserID string
	Credentials    *OAuth2Credentials
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("wearables", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("wearables"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.oauthStateStore == nil {
		builder.oauthStateStore = NewMemoryOAuthStateStore(defaultOAuthStateTTL)
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.registry == nil {
		return nil, mapBuildError(builder.errorMapper, NewConfigurationError("core: provider registry is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.connectionStore == nil || builder.tokenStore == nil) && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			stores, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			applyStoreProvider(&builder, stores)
		} else if stores, ok := builder.repositoryFactory.(StoreProvider); ok {
			applyStoreProvider(&builder, stores)
		}
	}
	if builder.connectionStore == nil {
		return nil, mapBuildError(builder.errorMapper, NewConfigurationError("core: connection store is required"))
	}
	if builder.tokenStore == nil {
		return nil, mapBuildError(builder.errorMapper, NewConfigurationError("core: token store is required"))
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		observer:        NewObserver(logger, builder.metricsRecorder, "wearables"),
		errorMapper:     builder.errorMapper,
		registry:        builder.registry,
		connectionStore: builder.connectionStore,
		tokenStore:      builder.tokenStore,
		tokenCipher:     builder.tokenCipher,
		oauthStateStore: builder.oauthStateStore,
		now:             builder.now,
		adapters:        map[ConnectionKey]*TenantProvider{},
		generations:     map[ConnectionKey]uint64{},
	}, nil
}

func applyStoreProvider(builder *serviceBuilder, stores StoreProvider) {
	if stores == nil {
		return
	}
	if builder.connectionStore == nil {
		builder.connectionStore = stores.ConnectionStore()
	}
	if builder.tokenStore == nil {
		builder.tokenStore = stores.TokenStore()
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	return s.config
}

func (s *Service) Registry() Registry {
	return s.registry
}

func (s *Service) Logger() Logger {
	return s.logger
}

// BeginConnect starts an authorization-code flow and remembers the state and
// PKCE verifier until the callback arrives.
func (s *Service) BeginConnect(ctx context.Context, req BeginConnectRequest) (resp BeginConnectResponse, err error) {
	startedAt := time.Now()
	key := ConnectionKey{TenantID: req.TenantID, UserID: req.UserID, Provider: normalizeProviderName(req.Provider)}
	defer func() {
		s.observer.Observe(ctx, startedAt, "connect_begin", err, key.fields())
	}()

	if err := key.Validate(); err != nil {
		return BeginConnectResponse{}, s.mapError(err)
	}
	adapter, err := s.createAdapter(key, req.RedirectURI)
	if err != nil {
		return BeginConnectResponse{}, s.mapError(err)
	}
	authorizer, ok := adapter.Unwrap().(OAuthAuthorizer)
	if !ok {
		return BeginConnectResponse{}, NewUnsupportedError(key.Provider, "oauth authorization")
	}

	state, err := generateOAuthState()
	if err != nil {
		return BeginConnectResponse{}, NewInternalError(err, "core: oauth state generation failed")
	}
	authorization, err := authorizer.BeginAuthorization(state)
	if err != nil {
		return BeginConnectResponse{}, s.mapError(err)
	}

	if err := s.oauthStateStore.Save(ctx, PendingAuthorization{
		State:       state,
		TenantID:    key.TenantID,
		UserID:      key.UserID,
		Provider:    key.Provider,
		RedirectURI: strings.TrimSpace(req.RedirectURI),
		PKCE:        authorization.PKCE,
		Metadata:    copyAnyMap(req.Metadata),
	}); err != nil {
		return BeginConnectResponse{}, s.mapError(err)
	}

	return BeginConnectResponse{
		Provider:         key.Provider,
		AuthorizationURL: authorization.URL,
		State:            state,
		UsesPKCE:         authorization.PKCE != nil,
	}, nil
}

// CompleteConnect exchanges the callback code, stores the encrypted tokens
// and marks the connection as connected.
func (s *Service) CompleteConnect(ctx context.Context, req CompleteConnectRequest) (connection ProviderConnection, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		s.observer.Observe(ctx, startedAt, "connect_complete", err, fields)
	}()

	if strings.TrimSpace(req.Code) == "" {
		return ProviderConnection{}, NewBadInputError("core: authorization code is required")
	}
	pending, err := s.oauthStateStore.Consume(ctx, req.State)
	if err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	key := ConnectionKey{TenantID: pending.TenantID, UserID: pending.UserID, Provider: pending.Provider}
	fields = key.fields()

	adapter, err := s.createAdapter(key, pending.RedirectURI)
	if err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	authorizer, ok := adapter.Unwrap().(OAuthAuthorizer)
	if !ok {
		return ProviderConnection{}, NewUnsupportedError(key.Provider, "oauth authorization")
	}
	credentials, err := authorizer.CompleteAuthorization(ctx, req.Code, pending.PKCE)
	if err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	if err := adapter.SetCredentials(ctx, credentials); err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	if err := s.persistCredentials(ctx, key, credentials); err != nil {
		return ProviderConnection{}, err
	}

	externalUserID := ""
	if athlete, athleteErr := adapter.GetAthlete(ctx); athleteErr == nil {
		externalUserID = athlete.ID
	} else {
		s.observer.Warn(ctx, "athlete lookup after connect failed", mergeFields(key.fields(), map[string]any{
			"error": athleteErr.Error(),
		}))
	}

	connection, err = s.connectionStore.Upsert(ctx, ProviderConnection{
		TenantID:       key.TenantID,
		UserID:         key.UserID,
		Provider:       key.Provider,
		ConnectionType: ConnectionTypeOAuth,
		ExternalUserID: externalUserID,
		Status:         ConnectionStatusConnected,
		ConnectedAt:    s.now(),
		UpdatedAt:      s.now(),
	})
	if err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	s.bindAdapter(key, adapter)
	return connection, nil
}

// RegisterConnection records a connection that does not go through the
// authorization-code flow (synthetic, manual or webhook-bridged).
func (s *Service) RegisterConnection(ctx context.Context, req RegisterConnectionRequest) (connection ProviderConnection, err error) {
	startedAt := time.Now()
	key := ConnectionKey{TenantID: req.TenantID, UserID: req.UserID, Provider: normalizeProviderName(req.Provider)}
	defer func() {
		s.observer.Observe(ctx, startedAt, "connection_register", err, key.fields())
	}()

	if err := key.Validate(); err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	connectionType := req.ConnectionType
	if connectionType == "" {
		connectionType = ConnectionTypeManual
	}
	if err := connectionType.Validate(); err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	if !s.registry.IsSupported(key.Provider) {
		return ProviderConnection{}, NewProviderNotFoundError(key.Provider)
	}
	externalUserID := strings.TrimSpace(req.ExternalUserID)
	if connectionType == ConnectionTypeWebhook && externalUserID == "" {
		return ProviderConnection{}, NewBadInputError("core: webhook connections require an external user id")
	}

	adapter, err := s.createAdapter(key, "")
	if err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	if connectionType == ConnectionTypeWebhook {
		if err := bindExternalUser(adapter, externalUserID); err != nil {
			return ProviderConnection{}, s.mapError(err)
		}
	}
	if req.Credentials != nil {
		if err := adapter.SetCredentials(ctx, req.Credentials.Clone()); err != nil {
			return ProviderConnection{}, s.mapError(err)
		}
		if err := s.persistCredentials(ctx, key, *req.Credentials); err != nil {
			return ProviderConnection{}, err
		}
	}

	connection, err = s.connectionStore.Upsert(ctx, ProviderConnection{
		TenantID:       key.TenantID,
		UserID:         key.UserID,
		Provider:       key.Provider,
		ConnectionType: connectionType,
		ExternalUserID: externalUserID,
		Status:         ConnectionStatusConnected,
		ConnectedAt:    s.now(),
		UpdatedAt:      s.now(),
	})
	if err != nil {
		return ProviderConnection{}, s.mapError(err)
	}
	s.bindAdapter(key, adapter)
	return connection, nil
}

// Provider returns the authenticated adapter for a connection, loading and
// decrypting stored tokens on first use.
func (s *Service) Provider(ctx context.Context, key ConnectionKey) (*TenantProvider, error) {
	key.Provider = normalizeProviderName(key.Provider)
	if err := key.Validate(); err != nil {
		return nil, s.mapError(err)
	}
	if adapter, ok := s.cachedAdapter(key); ok {
		return adapter, nil
	}

	// the load outlives a cancelled first caller so joined waiters are not failed by it
	loadCtx := context.WithoutCancel(ctx)
	result := s.loads.DoChan(key.ID(), func() (any, error) {
		if adapter, ok := s.cachedAdapter(key); ok {
			return adapter, nil
		}
		generation := s.generation(key)
		adapter, err := s.loadAdapter(loadCtx, key)
		if err != nil {
			return nil, err
		}
		if !s.bindAdapterAt(key, adapter, generation) {
			return nil, NewNotAuthenticatedError(key.Provider)
		}
		return adapter, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TenantProvider), nil
	}
}

func (s *Service) loadAdapter(ctx context.Context, key ConnectionKey) (*TenantProvider, error) {
	connection, err := s.connectionStore.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotAuthenticatedError(key.Provider)
		}
		return nil, s.mapError(err)
	}
	if connection.Status != ConnectionStatusConnected {
		return nil, NewNotAuthenticatedError(key.Provider)
	}

	adapter, err := s.createAdapter(key, "")
	if err != nil {
		return nil, s.mapError(err)
	}
	switch connection.ConnectionType {
	case ConnectionTypeSynthetic:
		return adapter, nil
	case ConnectionTypeWebhook:
		if err := bindExternalUser(adapter, connection.ExternalUserID); err != nil {
			return nil, s.mapError(err)
		}
		return adapter, nil
	}

	stored, err := s.tokenStore.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotAuthenticatedError(key.Provider)
		}
		return nil, s.mapError(err)
	}
	credentials, err := s.decryptCredentials(key, stored)
	if err != nil {
		return nil, err
	}
	if err := adapter.SetCredentials(ctx, credentials); err != nil {
		return nil, s.mapError(err)
	}
	return adapter, nil
}

// RefreshCredentials forces the lookahead check for one connection.
func (s *Service) RefreshCredentials(ctx context.Context, key ConnectionKey) (err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.Observe(ctx, startedAt, "credentials_refresh", err, key.fields())
	}()
	adapter, err := s.Provider(ctx, key)
	if err != nil {
		return err
	}
	if err := adapter.RefreshTokenIfNeeded(ctx); err != nil {
		if !IsRetryable(err) {
			s.markConnectionError(ctx, key, err)
		}
		return err
	}
	return nil
}

// Disconnect revokes upstream when possible and always clears local state.
// Calling it for an unknown or already disconnected connection is a no-op.
func (s *Service) Disconnect(ctx context.Context, key ConnectionKey) (err error) {
	startedAt := time.Now()
	key.Provider = normalizeProviderName(key.Provider)
	defer func() {
		s.observer.Observe(ctx, startedAt, "disconnect", err, key.fields())
	}()
	if err := key.Validate(); err != nil {
		return s.mapError(err)
	}

	adapter, ok := s.cachedAdapter(key)
	if !ok {
		loaded, loadErr := s.loadAdapter(ctx, key)
		if loadErr == nil {
			adapter = loaded
		} else if !HasTextCode(loadErr, ErrorNotAuthenticated) {
			s.observer.Warn(ctx, "disconnect could not load adapter", mergeFields(key.fields(), map[string]any{
				"error": loadErr.Error(),
			}))
		}
	}
	if adapter != nil {
		if revokeErr := adapter.Disconnect(ctx); revokeErr != nil {
			s.observer.Warn(ctx, "provider disconnect reported an error", mergeFields(key.fields(), map[string]any{
				"error": revokeErr.Error(),
			}))
		}
	}

	s.unbindAdapter(key)
	// loads that read state before the deletes below must not rebind
	defer s.unbindAdapter(key)

	if err := s.tokenStore.Delete(ctx, key); err != nil && !IsNotFound(err) {
		return s.mapError(err)
	}
	if err := s.connectionStore.UpdateStatus(ctx, key, ConnectionStatusDisconnected, ""); err != nil && !IsNotFound(err) {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) Connections(ctx context.Context, tenantID string, userID string) ([]ProviderConnection, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return nil, NewBadInputError("core: tenant id and user id are required")
	}
	connections, err := s.connectionStore.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return connections, nil
}

func (s *Service) createAdapter(key ConnectionKey, redirectURI string) (*TenantProvider, error) {
	cfg, ok := s.registry.DefaultConfig(key.Provider)
	if !ok {
		return nil, NewProviderNotFoundError(key.Provider)
	}
	if settings, ok := s.config.ProviderSettingsFor(key.Provider); ok {
		if settings.Disabled {
			return nil, NewConfigurationError(fmt.Sprintf("core: provider %s is disabled", key.Provider))
		}
		cfg = cfg.WithOverrides(settings)
	}
	if strings.TrimSpace(redirectURI) != "" {
		cfg.RedirectURI = strings.TrimSpace(redirectURI)
	}
	provider, err := s.registry.CreateWithConfig(key.Provider, cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := NewTenantProvider(provider, key.TenantID, key.UserID)
	if err != nil {
		return nil, err
	}
	if observable, ok := provider.(CredentialsObservable); ok {
		observable.ObserveCredentials(func(ctx context.Context, credentials OAuth2Credentials) error {
			return s.persistCredentials(ctx, key, credentials)
		})
	}
	return adapter, nil
}

func (s *Service) persistCredentials(ctx context.Context, key ConnectionKey, credentials OAuth2Credentials) error {
	if s.tokenCipher == nil {
		return NewConfigurationError("core: token cipher is required to store credentials")
	}
	encrypted, err := s.tokenCipher.EncryptToken(DecryptedToken{
		AccessToken:  credentials.AccessToken,
		RefreshToken: credentials.RefreshToken,
	}, key.CredentialContext(s.config.Credentials.TokenTable))
	if err != nil {
		return s.mapError(err)
	}
	if err := s.tokenStore.Save(ctx, StoredToken{
		TenantID:  key.TenantID,
		UserID:    key.UserID,
		Provider:  key.Provider,
		Token:     encrypted,
		ExpiresAt: credentials.Clone().ExpiresAt,
		Scopes:    append([]string(nil), credentials.Scopes...),
		UpdatedAt: s.now(),
	}); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) decryptCredentials(key ConnectionKey, stored StoredToken) (OAuth2Credentials, error) {
	if s.tokenCipher == nil {
		return OAuth2Credentials{}, NewConfigurationError("core: token cipher is required to load credentials")
	}
	decrypted, err := s.tokenCipher.DecryptToken(stored.Token, key.CredentialContext(s.config.Credentials.TokenTable))
	if err != nil {
		return OAuth2Credentials{}, s.mapError(err)
	}
	credentials := OAuth2Credentials{
		AccessToken:  decrypted.AccessToken,
		RefreshToken: decrypted.RefreshToken,
		ExpiresAt:    stored.ExpiresAt,
		Scopes:       append([]string(nil), stored.Scopes...),
	}
	return credentials.Clone(), nil
}

func (s *Service) markConnectionError(ctx context.Context, key ConnectionKey, cause error) {
	if err := s.connectionStore.UpdateStatus(ctx, key, ConnectionStatusError, cause.Error()); err != nil && !IsNotFound(err) {
		s.observer.Warn(ctx, "connection status update failed", mergeFields(key.fields(), map[string]any{
			"error": err.Error(),
		}))
	}
	s.unbindAdapter(key)
}

func (s *Service) cachedAdapter(key ConnectionKey) (*TenantProvider, bool) {
	s.mu.RLock()
	adapter, ok := s.adapters[key]
	s.mu.RUnlock()
	return adapter, ok
}

func (s *Service) bindAdapter(key ConnectionKey, adapter *TenantProvider) {
	s.mu.Lock()
	s.adapters[key] = adapter
	s.mu.Unlock()
}

func (s *Service) generation(key ConnectionKey) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generations[key]
}

// bindAdapterAt binds only when no unbind happened since generation was read.
func (s *Service) bindAdapterAt(key ConnectionKey, adapter *TenantProvider, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[key] != generation {
		return false
	}
	s.adapters[key] = adapter
	return true
}

func (s *Service) unbindAdapter(key ConnectionKey) {
	s.mu.Lock()
	delete(s.adapters, key)
	s.generations[key]++
	s.mu.Unlock()
}

// ExternalUserBinder is implemented by adapters whose data is addressed by
// an upstream user id instead of stored tokens.
type ExternalUserBinder interface {
	BindPlatformUser(userID string)
}

func bindExternalUser(adapter *TenantProvider, externalUserID string) error {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return NewNotAuthenticatedError(adapter.Name())
	}
	binder, ok := adapter.Unwrap().(ExternalUserBinder)
	if !ok {
		return NewConfigurationError(fmt.Sprintf("core: provider %s cannot bind an external user", adapter.Name()))
	}
	binder.BindPlatformUser(externalUserID)
	return nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	if s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (k ConnectionKey) fields() map[string]any {
	return map[string]any{
		"tenant_id": k.TenantID,
		"user_id":   k.UserID,
		"provider":  k.Provider,
	}
}

func mergeFields(base map[string]any, extra map[string]any) map[string]any {
	out := cloneFields(base)
	for key, value := range extra {
		out[key] = value
	}
	return out
}
