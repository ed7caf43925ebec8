package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-wearables/core"
)

var nopLogger core.Logger = glog.Nop()

type ledgerEntry struct {
	record     DeliveryRecord
	leaseUntil time.Time
}

// MemoryLedger is a process-local DeliveryLedger. Processed entries are kept
// for Retention and then forgotten.
type MemoryLedger struct {
	mu        sync.Mutex
	entries   map[string]*ledgerEntry
	claims    map[string]string
	Retention time.Duration
	Now       func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries:   map[string]*ledgerEntry{},
		claims:    map[string]string{},
		Retention: 24 * time.Hour,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryLedger) Claim(
	_ context.Context,
	provider string,
	deliveryID string,
	_ []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	if l == nil {
		return DeliveryRecord{}, false, core.NewConfigurationError("webhooks: ledger is nil")
	}
	provider = strings.TrimSpace(provider)
	deliveryID = strings.TrimSpace(deliveryID)
	if provider == "" || deliveryID == "" {
		return DeliveryRecord{}, false, core.NewBadInputError("webhooks: provider and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	now := l.now()
	key := provider + "|" + deliveryID

	l.mu.Lock()
	defer l.mu.Unlock()
	l.evictLocked(now)

	entry, exists := l.entries[key]
	if !exists {
		entry = &ledgerEntry{record: DeliveryRecord{
			ID:         uuid.NewString(),
			Provider:   provider,
			DeliveryID: deliveryID,
			CreatedAt:  now,
		}}
		l.entries[key] = entry
	} else {
		switch entry.record.Status {
		case DeliveryStatusProcessed, DeliveryStatusDead:
			return entry.record, false, nil
		case DeliveryStatusProcessing:
			if now.Before(entry.leaseUntil) {
				return entry.record, false, nil
			}
		}
		delete(l.claims, entry.record.ClaimID)
	}

	claimID := uuid.NewString()
	entry.record.ClaimID = claimID
	entry.record.Status = DeliveryStatusProcessing
	entry.record.Attempts++
	entry.record.NextAttemptAt = nil
	entry.record.UpdatedAt = now
	entry.leaseUntil = now.Add(lease)
	l.claims[claimID] = key
	return entry.record, true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, claimID string) error {
	return l.transition(claimID, func(entry *ledgerEntry, now time.Time) {
		entry.record.Status = DeliveryStatusProcessed
		entry.record.UpdatedAt = now
	})
}

func (l *MemoryLedger) Fail(_ context.Context, claimID string, _ error, nextAttemptAt time.Time, maxAttempts int) error {
	return l.transition(claimID, func(entry *ledgerEntry, now time.Time) {
		entry.record.UpdatedAt = now
		if maxAttempts > 0 && entry.record.Attempts >= maxAttempts {
			entry.record.Status = DeliveryStatusDead
			return
		}
		next := nextAttemptAt.UTC()
		entry.record.Status = DeliveryStatusRetryReady
		entry.record.NextAttemptAt = &next
	})
}

// Get returns the ledger record for a delivery.
func (l *MemoryLedger) Get(provider string, deliveryID string) (DeliveryRecord, bool) {
	if l == nil {
		return DeliveryRecord{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[strings.TrimSpace(provider)+"|"+strings.TrimSpace(deliveryID)]
	if !ok {
		return DeliveryRecord{}, false
	}
	return entry.record, true
}

func (l *MemoryLedger) transition(claimID string, apply func(*ledgerEntry, time.Time)) error {
	if l == nil {
		return core.NewConfigurationError("webhooks: ledger is nil")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return core.NewBadInputError("webhooks: claim id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key, ok := l.claims[claimID]
	if !ok {
		return nil
	}
	delete(l.claims, claimID)
	entry, exists := l.entries[key]
	if !exists || entry.record.ClaimID != claimID || entry.record.Status != DeliveryStatusProcessing {
		return nil
	}
	apply(entry, l.now())
	entry.leaseUntil = time.Time{}
	return nil
}

func (l *MemoryLedger) evictLocked(now time.Time) {
	retention := l.Retention
	if retention <= 0 {
		return
	}
	for key, entry := range l.entries {
		if entry.record.Status != DeliveryStatusProcessed && entry.record.Status != DeliveryStatusDead {
			continue
		}
		if now.Sub(entry.record.UpdatedAt) >= retention {
			delete(l.entries, key)
		}
	}
}

func (l *MemoryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ DeliveryLedger = (*MemoryLedger)(nil)
