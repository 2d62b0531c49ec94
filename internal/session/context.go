package session

import "context"

// Binding is the tenant data a turn runs against.
type Binding struct {
	TenantID    string
	CRMStoreRef string
	LeadID      string
	UserKey     string
	Channel     string
}

// AgentContext is the mutable, never-persisted state tools read during a
// run. It lives as long as its session handle and is rebound on every
// Acquire, so it always reflects the current tenant.
type AgentContext struct {
	TenantID    string
	CRMStoreRef string
	LeadID      string
	UserKey     string
	Channel     string

	// Scratch holds per-turn values tools may share; reset on each turn.
	Scratch map[string]string
}

// Rebind replaces the tenant binding. Empty values overwrite too, so a turn
// without a CRM store never sees the previous turn's store.
func (a *AgentContext) Rebind(b Binding) {
	a.TenantID = b.TenantID
	a.CRMStoreRef = b.CRMStoreRef
	a.LeadID = b.LeadID
	a.UserKey = b.UserKey
	a.Channel = b.Channel
	a.Scratch = make(map[string]string)
}

type ctxKey struct{}

// WithAgentContext attaches ac to ctx.
func WithAgentContext(ctx context.Context, ac *AgentContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// AgentContextFrom returns the AgentContext attached to ctx, if any.
func AgentContextFrom(ctx context.Context) (*AgentContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(*AgentContext)
	return ac, ok && ac != nil
}
