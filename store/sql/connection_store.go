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

// ConnectionStore keeps one row per (tenant, user, provider).
type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{db: db, repo: repo}, nil
}

// Upsert inserts the connection or updates the existing row for its key.
// The original ConnectedAt is kept unless the row is re-connected.
func (s *ConnectionStore) Upsert(ctx context.Context, connection core.ProviderConnection) (core.ProviderConnection, error) {
	if s == nil || s.db == nil {
		return core.ProviderConnection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	key := connectionKeyOf(connection)
	if err := key.Validate(); err != nil {
		return core.ProviderConnection{}, core.NewBadInputError(err.Error())
	}
	if strings.TrimSpace(string(connection.ConnectionType)) == "" {
		connection.ConnectionType = core.ConnectionTypeOAuth
	}
	if err := connection.ConnectionType.Validate(); err != nil {
		return core.ProviderConnection{}, core.NewBadInputError(err.Error())
	}
	if strings.TrimSpace(string(connection.Status)) == "" {
		connection.Status = core.ConnectionStatusConnected
	}
	if err := connection.Status.Validate(); err != nil {
		return core.ProviderConnection{}, core.NewBadInputError(err.Error())
	}

	now := time.Now().UTC()
	var saved *connectionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findConnectionTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			record = &connectionRecord{
				ID:          uuid.NewString(),
				TenantID:    key.TenantID,
				UserID:      key.UserID,
				Provider:    key.Provider,
				ConnectedAt: connectedAt(connection.ConnectedAt, now),
				CreatedAt:   now,
			}
			applyConnection(record, connection, now)
			_, err = tx.NewInsert().Model(record).Exec(ctx)
			saved = record
			return err
		}

		reconnected := record.Status != string(core.ConnectionStatusConnected) &&
			connection.Status == core.ConnectionStatusConnected
		applyConnection(record, connection, now)
		if reconnected || !connection.ConnectedAt.IsZero() {
			record.ConnectedAt = connectedAt(connection.ConnectedAt, now)
		}
		_, err = tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		saved = record
		return err
	})
	if err != nil {
		return core.ProviderConnection{}, err
	}
	return saved.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, key core.ConnectionKey) (core.ProviderConnection, error) {
	if s == nil || s.repo == nil {
		return core.ProviderConnection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	key = normalizeConnectionKey(key)
	if err := key.Validate(); err != nil {
		return core.ProviderConnection{}, core.NewBadInputError(err.Error())
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", key.TenantID),
		repository.SelectBy("user_id", "=", key.UserID),
		repository.SelectBy("provider", "=", key.Provider),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.ProviderConnection{}, err
	}
	if len(records) == 0 {
		return core.ProviderConnection{}, connectionNotFound(key)
	}
	return records[0].toDomain(), nil
}

func (s *ConnectionStore) ListByUser(ctx context.Context, tenantID string, userID string) ([]core.ProviderConnection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	if tenantID == "" || userID == "" {
		return nil, core.NewBadInputError("sqlstore: tenant id and user id are required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenantID),
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("provider ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ProviderConnection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ListConnected pages through every connection in the connected state.
func (s *ConnectionStore) ListConnected(ctx context.Context) ([]core.ProviderConnection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	const pageSize = 200
	out := []core.ProviderConnection{}
	for offset := 0; ; offset += pageSize {
		records, _, err := s.repo.List(ctx,
			repository.SelectBy("status", "=", string(core.ConnectionStatusConnected)),
			repository.OrderBy("tenant_id ASC", "user_id ASC", "provider ASC"),
			repository.SelectPaginate(pageSize, offset),
		)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			out = append(out, record.toDomain())
		}
		if len(records) < pageSize {
			return out, nil
		}
	}
}

func (s *ConnectionStore) UpdateStatus(
	ctx context.Context,
	key core.ConnectionKey,
	status core.ConnectionStatus,
	reason string,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	key = normalizeConnectionKey(key)
	if err := key.Validate(); err != nil {
		return core.NewBadInputError(err.Error())
	}
	if err := status.Validate(); err != nil {
		return core.NewBadInputError(err.Error())
	}
	result, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("tenant_id = ?", key.TenantID).
		Where("user_id = ?", key.UserID).
		Where("provider = ?", key.Provider).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return connectionNotFound(key)
	}
	return nil
}

func findConnectionTx(ctx context.Context, tx bun.Tx, key core.ConnectionKey) (*connectionRecord, error) {
	record := &connectionRecord{}
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

func applyConnection(record *connectionRecord, connection core.ProviderConnection, now time.Time) {
	record.ConnectionType = string(connection.ConnectionType)
	record.ExternalUserID = strings.TrimSpace(connection.ExternalUserID)
	record.Status = string(connection.Status)
	record.LastError = strings.TrimSpace(connection.LastError)
	record.UpdatedAt = now
}

func connectedAt(requested time.Time, now time.Time) time.Time {
	if requested.IsZero() {
		return now
	}
	return requested.UTC()
}

func connectionNotFound(key core.ConnectionKey) error {
	return core.NewNotFoundError(key.Provider, "connection", key.TenantID+"/"+key.UserID)
}
