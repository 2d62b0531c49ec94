package routing

import (
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/identity"
)

// Session scopes.
const (
	ScopePerTenant = "per-tenant"
	ScopeGlobal    = "global"
)

// ResolveSessionKey builds the session key for a user of a tenant.
//
// Scopes:
//   - "per-tenant": one session per tenant and user (default)
//   - "global": one session per user key across tenants
func ResolveSessionKey(tenantID, userKey, scope string) domain.SessionKey {
	key := domain.SessionKey{UserKey: identity.NormalizeKey(userKey)}
	if scope != ScopeGlobal {
		key.TenantID = tenantID
	}
	return key
}
