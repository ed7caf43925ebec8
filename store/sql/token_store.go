package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-wearables/core"
)

// TokenStore persists encrypted token pairs, one row per connection key.
type TokenStore struct {
	db   *bun.DB
	repo repository.Repository[*tokenRecord]
}

func NewTokenStore(db *bun.DB) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid token repository wiring: %w", err)
		}
	}
	return &TokenStore{db: db, repo: repo}, nil
}

func (s *TokenStore) Save(ctx context.Context, token core.StoredToken) error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	key := normalizeConnectionKey(core.ConnectionKey{
		TenantID: token.TenantID,
		UserID:   token.UserID,
		Provider: token.Provider,
	})
	if err := key.Validate(); err != nil {
		return core.NewBadInputError(err.Error())
	}
	if strings.TrimSpace(token.Token.AccessToken) == "" {
		return core.NewBadInputError("sqlstore: encrypted access token is required")
	}
	updatedAt := token.UpdatedAt.UTC()
	if token.UpdatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findTokenTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			record = &tokenRecord{
				ID:        uuid.NewString(),
				TenantID:  key.TenantID,
				UserID:    key.UserID,
				Provider:  key.Provider,
				CreatedAt: updatedAt,
			}
			applyToken(record, token, updatedAt)
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		}
		applyToken(record, token, updatedAt)
		_, err = tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (s *TokenStore) Get(ctx context.Context, key core.ConnectionKey) (core.StoredToken, error) {
	if s == nil || s.repo == nil {
		return core.StoredToken{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	key = normalizeConnectionKey(key)
	if err := key.Validate(); err != nil {
		return core.StoredToken{}, core.NewBadInputError(err.Error())
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", key.TenantID),
		repository.SelectBy("user_id", "=", key.UserID),
		repository.SelectBy("provider", "=", key.Provider),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.StoredToken{}, err
	}
	if len(records) == 0 {
		return core.StoredToken{}, core.NewNotFoundError(key.Provider, "token", key.TenantID+"/"+key.UserID)
	}
	return records[0].toDomain(), nil
}

// Delete removes the token row. Deleting a missing row is not an error.
func (s *TokenStore) Delete(ctx context.Context, key core.ConnectionKey) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	key = normalizeConnectionKey(key)
	if err := key.Validate(); err != nil {
		return core.NewBadInputError(err.Error())
	}
	_, err := s.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("tenant_id = ?", key.TenantID).
		Where("user_id = ?", key.UserID).
		Where("provider = ?", key.Provider).
		Exec(ctx)
	return err
}

func findTokenTx(ctx context.Context, tx bun.Tx, key core.ConnectionKey) (*tokenRecord, error) {
	record := &tokenRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", key.TenantID).
		Where("?TableAlias.user_id = ?", key.UserID).
		Where("?TableAlias.provider = ?", key.Provider).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func applyToken(record *tokenRecord, token core.StoredToken, updatedAt time.Time) {
	record.AccessToken = token.Token.AccessToken
	record.RefreshToken = token.Token.RefreshToken
	record.EncryptionKeyID = strings.TrimSpace(token.Token.KeyID)
	record.Scopes = append([]string{}, token.Scopes...)
	record.ExpiresAt = copyTimePointer(token.ExpiresAt)
	record.UpdatedAt = updatedAt
}
