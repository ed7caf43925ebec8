package core

import (
	"strings"
	"time"
)

const (
	DefaultCredentialExpiringSoonWindow = 5 * time.Minute
	DefaultCredentialRefreshLeadWindow  = 5 * time.Minute
)

// CredentialTokenState captures access/refresh lifecycle state derived from credentials.
type CredentialTokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
	IsExpiringSoon  bool
}

// ResolveCredentialTokenState evaluates expiry flags for credentials.
func ResolveCredentialTokenState(now time.Time, credentials OAuth2Credentials, expiringSoonWindow time.Duration) CredentialTokenState {
	now = normalizeNow(now)
	if expiringSoonWindow <= 0 {
		expiringSoonWindow = DefaultCredentialExpiringSoonWindow
	}

	state := CredentialTokenState{
		HasAccessToken:  strings.TrimSpace(credentials.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(credentials.RefreshToken) != "",
	}
	if credentials.ExpiresAt == nil {
		return state
	}
	expiresAt := credentials.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	if !expiresAt.After(now) {
		state.IsExpired = true
		state.IsExpiringSoon = true
		return state
	}
	state.IsExpiringSoon = !expiresAt.After(now.Add(expiringSoonWindow))
	return state
}

// NeedsRefresh is the lookahead predicate: a token whose expiry falls inside
// [now, now+lookahead] or in the past needs a refresh; unknown expiry does not.
func NeedsRefresh(now time.Time, expiresAt *time.Time, lookahead time.Duration) bool {
	if expiresAt == nil {
		return false
	}
	if lookahead < 0 {
		lookahead = 0
	}
	return !expiresAt.UTC().After(normalizeNow(now).Add(lookahead))
}

// ShouldRefreshCredentials returns true when a refresh should run before a provider call.
func ShouldRefreshCredentials(now time.Time, credentials OAuth2Credentials, lookahead time.Duration) bool {
	if strings.TrimSpace(credentials.RefreshToken) == "" {
		return false
	}
	return NeedsRefresh(now, credentials.ExpiresAt, lookahead)
}

func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
