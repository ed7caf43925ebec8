package wearables_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	wearables "github.com/goliatone/go-wearables"
	"github.com/goliatone/go-wearables/core"
	wearablesmigrations "github.com/goliatone/go-wearables/migrations"
	"github.com/goliatone/go-wearables/providers"
	"github.com/goliatone/go-wearables/providers/synthetic"
	"github.com/goliatone/go-wearables/providers/terra"
	wquery "github.com/goliatone/go-wearables/query"
	"github.com/goliatone/go-wearables/security"
	sqlstore "github.com/goliatone/go-wearables/store/sql"
)

type sqliteConfig struct {
	dsn string
}

func (c sqliteConfig) GetDebug() bool                { return false }
func (c sqliteConfig) GetDriver() string             { return "sqlite3" }
func (c sqliteConfig) GetServer() string             { return c.dsn }
func (c sqliteConfig) GetPingTimeout() time.Duration { return time.Second }
func (c sqliteConfig) GetOtelIdentifier() string     { return "go-wearables-composition" }

func newComposedService(t *testing.T, client *persistence.Client, revokeURL string) (*wearables.Service, *wearables.Facade) {
	t.Helper()
	cfg := wearables.DefaultConfig()
	cfg.Providers = map[string]core.ProviderSettings{
		"fitbit": {
			ClientID:     "fitbit-client",
			ClientSecret: "fitbit-secret",
			RedirectURI:  "https://app.test/callback",
			RevokeURL:    revokeURL,
		},
	}
	registry, err := wearables.NewBuiltinRegistry(cfg, providers.NewShared(cfg), terra.NewMemoryCache(terra.CacheConfig{}))
	if err != nil {
		t.Fatalf("builtin registry: %v", err)
	}
	cipher, err := security.NewTokenCipherFromKey("k1", []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("token cipher: %v", err)
	}
	svc, err := wearables.NewService(cfg,
		wearables.WithRegistry(registry),
		wearables.WithPersistenceClient(client),
		wearables.WithRepositoryFactory(sqlstore.NewRepositoryFactory()),
		wearables.WithTokenCipher(cipher),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	facade, err := wearables.NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return svc, facade
}

func openCompositionDB(t *testing.T) *persistence.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:wearables-composition-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	client, err := persistence.New(sqliteConfig{dsn: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		t.Fatalf("persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := wearablesmigrations.Apply(context.Background(), client, wearablesmigrations.DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

func TestComposition_SQLiteBackedServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := openCompositionDB(t)

	revoked := 0
	revokeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		revoked++
		w.WriteHeader(http.StatusOK)
	}))
	defer revokeServer.Close()

	svc, facade := newComposedService(t, client, revokeServer.URL)

	syntheticKey := core.ConnectionKey{TenantID: "acme", UserID: "runner-1", Provider: synthetic.Name}
	if _, err := svc.RegisterConnection(ctx, core.RegisterConnectionRequest{
		TenantID:       syntheticKey.TenantID,
		UserID:         syntheticKey.UserID,
		Provider:       syntheticKey.Provider,
		ConnectionType: core.ConnectionTypeSynthetic,
	}); err != nil {
		t.Fatalf("register synthetic: %v", err)
	}

	expiresAt := time.Now().Add(2 * time.Hour)
	fitbitKey := core.ConnectionKey{TenantID: "acme", UserID: "runner-1", Provider: "fitbit"}
	if _, err := svc.RegisterConnection(ctx, core.RegisterConnectionRequest{
		TenantID:       fitbitKey.TenantID,
		UserID:         fitbitKey.UserID,
		Provider:       fitbitKey.Provider,
		ConnectionType: core.ConnectionTypeManual,
		Credentials: &core.OAuth2Credentials{
			AccessToken:  "fitbit-access",
			RefreshToken: "fitbit-refresh",
			ExpiresAt:    &expiresAt,
		},
	}); err != nil {
		t.Fatalf("register fitbit: %v", err)
	}

	connections, err := facade.Queries().ListConnections.Query(ctx, wquery.ListConnectionsMessage{TenantID: "acme", UserID: "runner-1"})
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	if len(connections) != 2 {
		t.Fatalf("expected two stored connections, got %d", len(connections))
	}

	athlete, err := facade.Queries().GetAthlete.Query(ctx, wquery.GetAthleteMessage{Key: syntheticKey})
	if err != nil || athlete.ID != synthetic.AthleteID {
		t.Fatalf("expected synthetic athlete, got %+v (%v)", athlete, err)
	}

	// a second service over the same database decrypts what the first stored
	fresh, _ := newComposedService(t, client, revokeServer.URL)
	adapter, err := fresh.Provider(ctx, fitbitKey)
	if err != nil {
		t.Fatalf("load fitbit adapter: %v", err)
	}
	if !adapter.IsAuthenticated(ctx) {
		t.Fatalf("expected decrypted credentials to authenticate the adapter")
	}

	if err := fresh.Disconnect(ctx, fitbitKey); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("expected one revoke call, got %d", revoked)
	}
	if _, err := fresh.Provider(ctx, fitbitKey); !core.HasTextCode(err, core.ErrorNotAuthenticated) {
		t.Fatalf("expected not authenticated after disconnect, got %v", err)
	}
}

func TestComposition_WebhookConnectionSurvivesReload(t *testing.T) {
	ctx := context.Background()
	client := openCompositionDB(t)
	svc, _ := newComposedService(t, client, "")

	key := core.ConnectionKey{TenantID: "acme", UserID: "runner-1", Provider: terra.Name}
	if _, err := svc.RegisterConnection(ctx, core.RegisterConnectionRequest{
		TenantID:       key.TenantID,
		UserID:         key.UserID,
		Provider:       key.Provider,
		ConnectionType: core.ConnectionTypeWebhook,
		ExternalUserID: "terra-user-9",
	}); err != nil {
		t.Fatalf("register terra: %v", err)
	}

	adapter, err := svc.Provider(ctx, key)
	if err != nil {
		t.Fatalf("terra adapter: %v", err)
	}
	if !adapter.IsAuthenticated(ctx) {
		t.Fatalf("expected webhook connection to authenticate in the registering process")
	}

	fresh, _ := newComposedService(t, client, "")
	reloaded, err := fresh.Provider(ctx, key)
	if err != nil {
		t.Fatalf("reload terra adapter: %v", err)
	}
	bound, ok := reloaded.Unwrap().(*terra.Provider)
	if !ok {
		t.Fatalf("expected terra adapter, got %T", reloaded.Unwrap())
	}
	if bound.PlatformUserID() != "terra-user-9" {
		t.Fatalf("expected reloaded adapter bound to terra-user-9, got %q", bound.PlatformUserID())
	}
}
