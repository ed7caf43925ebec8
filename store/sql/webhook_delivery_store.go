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
	"github.com/goliatone/go-wearables/webhooks"
)

// WebhookDeliveryStore is the durable webhooks.DeliveryLedger.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	now  func() time.Time
}

type WebhookDeliveryOption func(*WebhookDeliveryStore)

// WithDeliveryClock overrides the clock used for leases and timestamps.
func WithDeliveryClock(now func() time.Time) WebhookDeliveryOption {
	return func(s *WebhookDeliveryStore) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

func NewWebhookDeliveryStore(db *bun.DB, opts ...WebhookDeliveryOption) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	store := &WebhookDeliveryStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *WebhookDeliveryStore) Claim(
	ctx context.Context,
	provider string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	provider = strings.TrimSpace(provider)
	deliveryID = strings.TrimSpace(deliveryID)
	if provider == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, core.NewBadInputError("sqlstore: provider and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	now := s.now()
	leaseUntil := now.Add(lease)

	var (
		claimed bool
		out     *webhookDeliveryRecord
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findDeliveryTx(ctx, tx, provider, deliveryID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &webhookDeliveryRecord{
				ID:         uuid.NewString(),
				Provider:   provider,
				DeliveryID: deliveryID,
				ClaimID:    uuid.NewString(),
				Status:     webhooks.DeliveryStatusProcessing,
				Attempts:   1,
				LeaseUntil: &leaseUntil,
				Payload:    append([]byte(nil), payload...),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if _, err := s.repo.CreateTx(ctx, tx, record); err != nil {
				return err
			}
			claimed, out = true, record
			return nil
		}

		out = record
		switch record.Status {
		case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
			return nil
		case webhooks.DeliveryStatusProcessing:
			if record.LeaseUntil != nil && now.Before(*record.LeaseUntil) {
				return nil
			}
		}

		previousClaim := record.ClaimID
		record.ClaimID = uuid.NewString()
		record.Status = webhooks.DeliveryStatusProcessing
		record.Attempts++
		record.LeaseUntil = &leaseUntil
		record.NextAttemptAt = nil
		record.UpdatedAt = now
		result, err := tx.NewUpdate().
			Model(record).
			Column("claim_id", "status", "attempts", "lease_until", "next_attempt_at", "updated_at").
			Where("id = ?", record.ID).
			Where("claim_id = ?", previousClaim).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
			return nil
		}
		claimed = true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, provider, deliveryID)
			if getErr != nil {
				return webhooks.DeliveryRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return webhooks.DeliveryRecord{}, false, err
	}
	return out.toDomain(), claimed, nil
}

func (s *WebhookDeliveryStore) Get(ctx context.Context, provider string, deliveryID string) (webhooks.DeliveryRecord, error) {
	if s == nil || s.repo == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", strings.TrimSpace(provider)),
		repository.SelectBy("delivery_id", "=", strings.TrimSpace(deliveryID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	if len(records) == 0 {
		return webhooks.DeliveryRecord{}, core.NewNotFoundError(provider, "webhook_delivery", deliveryID)
	}
	return records[0].toDomain(), nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return core.NewBadInputError("sqlstore: claim id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("lease_until = NULL").
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Exec(ctx)
	return err
}

func (s *WebhookDeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return core.NewBadInputError("sqlstore: claim id is required")
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	query := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("lease_until = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Where("status = ?", webhooks.DeliveryStatusProcessing)
	if maxAttempts > 0 {
		query = query.Set(
			"status = CASE WHEN attempts >= ? THEN ? ELSE ? END",
			maxAttempts,
			webhooks.DeliveryStatusDead,
			webhooks.DeliveryStatusRetryReady,
		)
	} else {
		query = query.Set("status = ?", webhooks.DeliveryStatusRetryReady)
	}
	_, err := query.Set("next_attempt_at = ?", nextAttemptAt.UTC()).Exec(ctx)
	return err
}

func (r *webhookDeliveryRecord) toDomain() webhooks.DeliveryRecord {
	if r == nil {
		return webhooks.DeliveryRecord{}
	}
	return webhooks.DeliveryRecord{
		ID:            r.ID,
		ClaimID:       r.ClaimID,
		Provider:      r.Provider,
		DeliveryID:    r.DeliveryID,
		Status:        r.Status,
		Attempts:      r.Attempts,
		NextAttemptAt: copyTimePointer(r.NextAttemptAt),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func findDeliveryTx(ctx context.Context, tx bun.Tx, provider string, deliveryID string) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.delivery_id = ?", deliveryID).
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

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ webhooks.DeliveryLedger = (*WebhookDeliveryStore)(nil)
