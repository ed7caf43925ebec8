package core

import (
	"fmt"
	"strings"
)

// TenantProvider binds an adapter instance to one (tenant, user) pair.
// It embeds the adapter so callers use the full FitnessProvider surface.
type TenantProvider struct {
	FitnessProvider
	tenantID string
	userID   string
}

func NewTenantProvider(provider FitnessProvider, tenantID string, userID string) (*TenantProvider, error) {
	if provider == nil {
		return nil, fmt.Errorf("core: tenant provider requires an adapter")
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("core: tenant id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("core: user id is required")
	}
	return &TenantProvider{
		FitnessProvider: provider,
		tenantID:        strings.TrimSpace(tenantID),
		userID:          strings.TrimSpace(userID),
	}, nil
}

func (p *TenantProvider) TenantID() string {
	return p.tenantID
}

func (p *TenantProvider) UserID() string {
	return p.userID
}

func (p *TenantProvider) Key() ConnectionKey {
	return ConnectionKey{TenantID: p.tenantID, UserID: p.userID, Provider: p.Name()}
}

// CredentialContext returns the encryption context for this adapter's token row.
func (p *TenantProvider) CredentialContext(table string) CredentialContext {
	return p.Key().CredentialContext(table)
}

// Unwrap returns the underlying adapter.
func (p *TenantProvider) Unwrap() FitnessProvider {
	return p.FitnessProvider
}
