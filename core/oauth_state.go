package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultOAuthStateTTL        = 15 * time.Minute
	defaultOAuthStateMaxEntries = 4096
)

// MemoryOAuthStateStore keeps pending authorizations, including PKCE verifiers,
// until the callback consumes them.
type MemoryOAuthStateStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]PendingAuthorization
}

func NewMemoryOAuthStateStore(ttl time.Duration) *MemoryOAuthStateStore {
	return NewMemoryOAuthStateStoreWithLimits(ttl, defaultOAuthStateMaxEntries)
}

func NewMemoryOAuthStateStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryOAuthStateStore {
	if ttl <= 0 {
		ttl = defaultOAuthStateTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultOAuthStateMaxEntries
	}
	return &MemoryOAuthStateStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]PendingAuthorization{},
	}
}

func (s *MemoryOAuthStateStore) Save(_ context.Context, pending PendingAuthorization) error {
	if s == nil {
		return fmt.Errorf("core: oauth state store is not configured")
	}
	state := strings.TrimSpace(pending.State)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}

	now := time.Now().UTC()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}
	if pending.ExpiresAt.IsZero() {
		pending.ExpiresAt = pending.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.entries[state] = clonePendingAuthorization(pending)
	s.evictOverflowLocked()
	return nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, state string) (PendingAuthorization, error) {
	if s == nil {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state is required")
	}

	s.mu.Lock()
	pending, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state not found")
	}
	if !pending.ExpiresAt.IsZero() && time.Now().UTC().After(pending.ExpiresAt) {
		return PendingAuthorization{}, fmt.Errorf("core: oauth state expired")
	}
	return clonePendingAuthorization(pending), nil
}

func (s *MemoryOAuthStateStore) pruneLocked(now time.Time) {
	for state, pending := range s.entries {
		if !pending.ExpiresAt.IsZero() && now.After(pending.ExpiresAt) {
			delete(s.entries, state)
		}
	}
}

func (s *MemoryOAuthStateStore) evictOverflowLocked() {
	overflow := len(s.entries) - s.maxEntries
	if overflow <= 0 {
		return
	}
	states := make([]string, 0, len(s.entries))
	for state := range s.entries {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return s.entries[states[i]].CreatedAt.Before(s.entries[states[j]].CreatedAt)
	})
	for _, state := range states[:overflow] {
		delete(s.entries, state)
	}
}

func generateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func clonePendingAuthorization(pending PendingAuthorization) PendingAuthorization {
	cloned := pending
	if pending.PKCE != nil {
		pkce := *pending.PKCE
		cloned.PKCE = &pkce
	}
	cloned.Metadata = copyAnyMap(pending.Metadata)
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ OAuthStateStore = (*MemoryOAuthStateStore)(nil)
