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

	"github.com/goliatone/go-wearables/ratelimit"
)

// RateLimitStateStore persists adaptive policy state so throttle windows
// survive restarts and are shared between processes.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.State, error) {
	if s == nil || s.repo == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = normalizeRateLimitKey(key)
	if err := validateRateLimitKey(key); err != nil {
		return ratelimit.State{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", key.Provider),
		repository.SelectBy("tenant_id", "=", key.TenantID),
		repository.SelectBy("bucket", "=", key.Bucket),
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return ratelimit.State{}, err
	}
	if len(records) == 0 {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return records[0].toDomain(), nil
}

func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	state.Key = normalizeRateLimitKey(state.Key)
	if err := validateRateLimitKey(state.Key); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findRateLimitStateTx(ctx, tx, state.Key)
		if err != nil {
			return err
		}
		created := record == nil
		if created {
			record = &rateLimitStateRecord{
				ID:        uuid.NewString(),
				Provider:  state.Key.Provider,
				TenantID:  state.Key.TenantID,
				Bucket:    state.Key.Bucket,
				CreatedAt: state.UpdatedAt.UTC(),
			}
		}
		record.Limit = state.Limit
		record.Remaining = state.Remaining
		record.ResetAt = copyTimePointer(state.ResetAt)
		record.RetryAfter = durationToSecondsPointer(state.RetryAfter)
		record.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
		record.LastStatus = state.LastStatus
		record.Attempts = state.Attempts
		record.UpdatedAt = state.UpdatedAt.UTC()

		if created {
			_, err = s.repo.CreateTx(ctx, tx, record)
			return err
		}
		_, err = tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	state := ratelimit.State{
		Key: ratelimit.Key{
			Provider: r.Provider,
			TenantID: r.TenantID,
			Bucket:   r.Bucket,
		},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        copyTimePointer(r.ResetAt),
		ThrottledUntil: copyTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.RetryAfter != nil && *r.RetryAfter > 0 {
		value := time.Duration(*r.RetryAfter) * time.Second
		state.RetryAfter = &value
	}
	return state
}

func findRateLimitStateTx(ctx context.Context, tx bun.Tx, key ratelimit.Key) (*rateLimitStateRecord, error) {
	record := &rateLimitStateRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", key.Provider).
		Where("?TableAlias.tenant_id = ?", key.TenantID).
		Where("?TableAlias.bucket = ?", key.Bucket).
		OrderExpr("?TableAlias.updated_at DESC").
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

// normalizeRateLimitKey matches the policy's key normalization. An empty
// tenant is the shared deployment-wide scope.
func normalizeRateLimitKey(key ratelimit.Key) ratelimit.Key {
	return ratelimit.Key{
		Provider: strings.TrimSpace(strings.ToLower(key.Provider)),
		TenantID: strings.TrimSpace(key.TenantID),
		Bucket:   strings.TrimSpace(strings.ToLower(key.Bucket)),
	}
}

func validateRateLimitKey(key ratelimit.Key) error {
	if strings.TrimSpace(key.Provider) == "" {
		return fmt.Errorf("sqlstore: rate-limit provider is required")
	}
	return nil
}

func durationToSecondsPointer(input *time.Duration) *int {
	if input == nil || *input <= 0 {
		return nil
	}
	seconds := int(input.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return &seconds
}

var _ ratelimit.StateStore = (*RateLimitStateStore)(nil)
