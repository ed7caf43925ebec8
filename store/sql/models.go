package sqlstore

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-wearables/core"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:wearable_connections,alias:wc"`

	ID             string    `bun:"id,pk"`
	TenantID       string    `bun:"tenant_id,notnull"`
	UserID         string    `bun:"user_id,notnull"`
	Provider       string    `bun:"provider,notnull"`
	ConnectionType string    `bun:"connection_type,notnull"`
	ExternalUserID string    `bun:"external_user_id"`
	Status         string    `bun:"status,notnull"`
	LastError      string    `bun:"last_error"`
	ConnectedAt    time.Time `bun:"connected_at,nullzero,notnull,default:current_timestamp"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// tokenRecord holds ciphertext only; plaintext never reaches this layer.
type tokenRecord struct {
	bun.BaseModel `bun:"table:wearable_tokens,alias:wt"`

	ID              string     `bun:"id,pk"`
	TenantID        string     `bun:"tenant_id,notnull"`
	UserID          string     `bun:"user_id,notnull"`
	Provider        string     `bun:"provider,notnull"`
	AccessToken     string     `bun:"access_token,notnull"`
	RefreshToken    string     `bun:"refresh_token"`
	EncryptionKeyID string     `bun:"encryption_key_id"`
	Scopes          []string   `bun:"scopes,type:jsonb"`
	ExpiresAt       *time.Time `bun:"expires_at,nullzero"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:wearable_rate_limit_state,alias:wrl"`

	ID             string     `bun:"id,pk"`
	Provider       string     `bun:"provider,notnull"`
	TenantID       string     `bun:"tenant_id,notnull"`
	Bucket         string     `bun:"bucket,notnull"`
	Limit          int        `bun:"request_limit,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	RetryAfter     *int       `bun:"retry_after_seconds,nullzero"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	LastStatus     int        `bun:"last_status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:wearable_webhook_deliveries,alias:wwd"`

	ID            string     `bun:"id,pk"`
	Provider      string     `bun:"provider,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	ClaimID       string     `bun:"claim_id"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	LeaseUntil    *time.Time `bun:"lease_until,nullzero"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	LastError     string     `bun:"last_error"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *connectionRecord) toDomain() core.ProviderConnection {
	if r == nil {
		return core.ProviderConnection{}
	}
	return core.ProviderConnection{
		ID:             r.ID,
		TenantID:       r.TenantID,
		UserID:         r.UserID,
		Provider:       r.Provider,
		ConnectionType: core.ConnectionType(r.ConnectionType),
		ExternalUserID: r.ExternalUserID,
		Status:         core.ConnectionStatus(r.Status),
		LastError:      r.LastError,
		ConnectedAt:    r.ConnectedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func (r *tokenRecord) toDomain() core.StoredToken {
	if r == nil {
		return core.StoredToken{}
	}
	return core.StoredToken{
		TenantID: r.TenantID,
		UserID:   r.UserID,
		Provider: r.Provider,
		Token: core.EncryptedToken{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
			KeyID:        r.EncryptionKeyID,
		},
		ExpiresAt: copyTimePointer(r.ExpiresAt),
		Scopes:    append([]string(nil), r.Scopes...),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func normalizeConnectionKey(key core.ConnectionKey) core.ConnectionKey {
	return core.ConnectionKey{
		TenantID: strings.TrimSpace(key.TenantID),
		UserID:   strings.TrimSpace(key.UserID),
		Provider: strings.TrimSpace(strings.ToLower(key.Provider)),
	}
}

func connectionKeyOf(connection core.ProviderConnection) core.ConnectionKey {
	return normalizeConnectionKey(core.ConnectionKey{
		TenantID: connection.TenantID,
		UserID:   connection.UserID,
		Provider: connection.Provider,
	})
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
