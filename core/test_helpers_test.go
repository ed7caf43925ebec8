package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-wearables/pagination"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

type stubLoggerProvider struct {
	logger Logger
}

func (p stubLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

// fakeProvider is an OAuth-capable adapter with scripted behavior.
type fakeProvider struct {
	mu          sync.RWMutex
	cfg         ProviderConfig
	credentials OAuth2Credentials
	observer    CredentialsObserver

	exchangeErr   error
	disconnectErr error
	refreshErr    error
	rotateTo      *OAuth2Credentials
	disconnects   int
	platformUser  string
}

func (p *fakeProvider) Name() string           { return p.cfg.Name }
func (p *fakeProvider) Config() ProviderConfig { return p.cfg.Clone() }

func (p *fakeProvider) SetCredentials(_ context.Context, credentials OAuth2Credentials) error {
	p.mu.Lock()
	p.credentials = credentials.Clone()
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) BindPlatformUser(userID string) {
	p.mu.Lock()
	p.platformUser = userID
	p.mu.Unlock()
}

func (p *fakeProvider) boundUser() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.platformUser
}

func (p *fakeProvider) IsAuthenticated(context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.credentials.HasAccessToken()
}

func (p *fakeProvider) RefreshTokenIfNeeded(ctx context.Context) error {
	if p.refreshErr != nil {
		return p.refreshErr
	}
	if p.rotateTo == nil {
		return nil
	}
	p.mu.Lock()
	p.credentials = p.rotateTo.Clone()
	observer := p.observer
	p.mu.Unlock()
	if observer != nil {
		return observer(ctx, *p.rotateTo)
	}
	return nil
}

func (p *fakeProvider) ObserveCredentials(observer CredentialsObserver) {
	p.mu.Lock()
	p.observer = observer
	p.mu.Unlock()
}

func (p *fakeProvider) BeginAuthorization(state string) (AuthorizationRequest, error) {
	request := AuthorizationRequest{
		URL:   p.cfg.AuthURL + "?state=" + state + "&redirect_uri=" + p.cfg.RedirectURI,
		State: state,
	}
	if p.cfg.UsePKCE {
		request.PKCE = &PKCE{Verifier: "verifier-" + state, Challenge: "challenge", ChallengeMethod: "S256"}
	}
	return request, nil
}

func (p *fakeProvider) CompleteAuthorization(_ context.Context, code string, pkce *PKCE) (OAuth2Credentials, error) {
	if p.exchangeErr != nil {
		return OAuth2Credentials{}, p.exchangeErr
	}
	if p.cfg.UsePKCE && pkce == nil {
		return OAuth2Credentials{}, fmt.Errorf("missing pkce verifier")
	}
	expiresAt := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return OAuth2Credentials{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    &expiresAt,
		Scopes:       []string{"activity"},
	}, nil
}

func (p *fakeProvider) GetAthlete(ctx context.Context) (Athlete, error) {
	if !p.IsAuthenticated(ctx) {
		return Athlete{}, NewNotAuthenticatedError(p.Name())
	}
	return Athlete{ID: "athlete-1", Provider: p.Name()}, nil
}

func (p *fakeProvider) GetActivities(ctx context.Context, _ int, _ int) ([]Activity, error) {
	if !p.IsAuthenticated(ctx) {
		return nil, NewNotAuthenticatedError(p.Name())
	}
	return []Activity{}, nil
}

func (p *fakeProvider) GetActivitiesWithParams(ctx context.Context, params ActivityQueryParams) ([]Activity, error) {
	return p.GetActivities(ctx, params.Limit, params.Offset)
}

func (p *fakeProvider) GetActivitiesCursor(context.Context, pagination.Params) (pagination.Page[Activity], error) {
	return pagination.Page[Activity]{Items: []Activity{}}, nil
}

func (p *fakeProvider) GetActivity(_ context.Context, id string) (Activity, error) {
	return Activity{}, NewNotFoundError(p.Name(), "activity", id)
}

func (p *fakeProvider) GetStats(context.Context) (Stats, error) { return Stats{}, nil }

func (p *fakeProvider) GetPersonalRecords(context.Context) ([]PersonalRecord, error) {
	return []PersonalRecord{}, nil
}

func (p *fakeProvider) GetSleepSessions(context.Context, DateRange) ([]SleepSession, error) {
	return []SleepSession{}, nil
}

func (p *fakeProvider) GetLatestSleepSession(context.Context) (SleepSession, error) {
	return SleepSession{}, NewNotFoundError(p.Name(), "sleep_session", "latest")
}

func (p *fakeProvider) GetRecoveryMetrics(context.Context, DateRange) ([]RecoveryMetrics, error) {
	return []RecoveryMetrics{}, nil
}

func (p *fakeProvider) GetHealthMetrics(context.Context, DateRange) ([]HealthMetrics, error) {
	return []HealthMetrics{}, nil
}

func (p *fakeProvider) Disconnect(context.Context) error {
	p.mu.Lock()
	p.disconnects++
	p.credentials = OAuth2Credentials{}
	p.mu.Unlock()
	return p.disconnectErr
}

// fakeFactory records every adapter it builds so tests can reach them.
type fakeFactory struct {
	mu      sync.Mutex
	name    string
	usePKCE bool
	setup   func(*fakeProvider)
	created []*fakeProvider
}

func (f *fakeFactory) Create(cfg ProviderConfig) (FitnessProvider, error) {
	provider := &fakeProvider{cfg: cfg}
	if f.setup != nil {
		f.setup(provider)
	}
	f.mu.Lock()
	f.created = append(f.created, provider)
	f.mu.Unlock()
	return provider, nil
}

func (f *fakeFactory) SupportedProviders() []string { return []string{f.name} }

func (f *fakeFactory) Descriptor() ProviderDescriptor {
	return ProviderDescriptor{Name: f.name, DisplayName: strings.ToUpper(f.name[:1]) + f.name[1:]}
}

func (f *fakeFactory) DefaultConfig() ProviderConfig {
	return ProviderConfig{
		Name:         f.name,
		AuthURL:      "https://auth.example/" + f.name,
		TokenURL:     "https://token.example/" + f.name,
		UsePKCE:      f.usePKCE,
		Capabilities: FullHealthCapabilities(),
		ClientID:     "client-" + f.name,
	}
}

func (f *fakeFactory) last() *fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type memoryConnectionStore struct {
	mu          sync.Mutex
	connections map[string]ProviderConnection
}

func newMemoryConnectionStore() *memoryConnectionStore {
	return &memoryConnectionStore{connections: map[string]ProviderConnection{}}
}

func (s *memoryConnectionStore) Upsert(_ context.Context, connection ProviderConnection) (ProviderConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ConnectionKey{TenantID: connection.TenantID, UserID: connection.UserID, Provider: connection.Provider}
	if existing, ok := s.connections[key.ID()]; ok {
		connection.ID = existing.ID
	} else {
		connection.ID = fmt.Sprintf("conn-%d", len(s.connections)+1)
	}
	s.connections[key.ID()] = connection
	return connection, nil
}

func (s *memoryConnectionStore) Get(_ context.Context, key ConnectionKey) (ProviderConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.connections[key.ID()]
	if !ok {
		return ProviderConnection{}, NewNotFoundError(key.Provider, "connection", key.TenantID+"/"+key.UserID)
	}
	return connection, nil
}

func (s *memoryConnectionStore) ListByUser(_ context.Context, tenantID string, userID string) ([]ProviderConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []ProviderConnection{}
	for _, connection := range s.connections {
		if connection.TenantID == tenantID && connection.UserID == userID {
			out = append(out, connection)
		}
	}
	return out, nil
}

func (s *memoryConnectionStore) UpdateStatus(_ context.Context, key ConnectionKey, status ConnectionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.connections[key.ID()]
	if !ok {
		return NewNotFoundError(key.Provider, "connection", key.TenantID+"/"+key.UserID)
	}
	connection.Status = status
	connection.LastError = reason
	s.connections[key.ID()] = connection
	return nil
}

type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]StoredToken
	saves  int
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{tokens: map[string]StoredToken{}}
}

func (s *memoryTokenStore) Save(_ context.Context, token StoredToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ConnectionKey{TenantID: token.TenantID, UserID: token.UserID, Provider: token.Provider}
	s.tokens[key.ID()] = token
	s.saves++
	return nil
}

func (s *memoryTokenStore) Get(_ context.Context, key ConnectionKey) (StoredToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[key.ID()]
	if !ok {
		return StoredToken{}, NewNotFoundError(key.Provider, "token", key.TenantID+"/"+key.UserID)
	}
	return token, nil
}

func (s *memoryTokenStore) Delete(_ context.Context, key ConnectionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key.ID())
	return nil
}

// prefixCipher binds the AAD into the stored value so a context mismatch fails.
type prefixCipher struct{}

func (prefixCipher) EncryptToken(token DecryptedToken, credentialContext CredentialContext) (EncryptedToken, error) {
	aad := string(credentialContext.AAD())
	return EncryptedToken{
		AccessToken:  aad + "#" + token.AccessToken,
		RefreshToken: aad + "#" + token.RefreshToken,
		KeyID:        "test",
	}, nil
}

func (prefixCipher) DecryptToken(token EncryptedToken, credentialContext CredentialContext) (DecryptedToken, error) {
	aad := string(credentialContext.AAD()) + "#"
	if !strings.HasPrefix(token.AccessToken, aad) || !strings.HasPrefix(token.RefreshToken, aad) {
		return DecryptedToken{}, NewDecryptionFailedError("")
	}
	return DecryptedToken{
		AccessToken:  strings.TrimPrefix(token.AccessToken, aad),
		RefreshToken: strings.TrimPrefix(token.RefreshToken, aad),
	}, nil
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string) bool {
	for _, item := range items {
		if item.level == level && item.msg == message {
			return true
		}
	}
	return false
}

// gatedTokenStore holds the first Get open until release is closed, returning
// whatever the wrapped store held when the call started.
type gatedTokenStore struct {
	TokenStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedTokenStore(inner TokenStore) *gatedTokenStore {
	return &gatedTokenStore{TokenStore: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedTokenStore) Get(ctx context.Context, key ConnectionKey) (StoredToken, error) {
	token, err := s.TokenStore.Get(ctx, key)
	if s.calls.Add(1) != 1 {
		return token, err
	}
	close(s.entered)
	select {
	case <-s.release:
	case <-ctx.Done():
		return StoredToken{}, ctx.Err()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return StoredToken{}, ctxErr
	}
	return token, err
}
