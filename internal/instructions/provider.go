// Package instructions loads tenant system prompts with a revision-checked
// cache. Lookups never fail: outages degrade to a fixed default text.
package instructions

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
)

const (
	// DefaultInstructions is served when the document store is unavailable.
	DefaultInstructions = "No se pudieron cargar las instrucciones desde Google Docs"

	// FallbackGreeting is served when a tenant has no instruction doc.
	FallbackGreeting = "Hola, soy tu asistente."
)

// Source is a remote document store.
type Source interface {
	// Revision returns a cheap change token for the document.
	Revision(ctx context.Context, ref string) (string, error)
	// Fetch returns the full document text.
	Fetch(ctx context.Context, ref string) (string, error)
}

type cached struct {
	revision string
	text     string
}

// Provider serves instruction text by reference.
type Provider struct {
	src         Source
	log         *logging.Logger
	metrics     *observability.Metrics
	defaultText string

	mu    sync.RWMutex
	cache map[string]cached
	group singleflight.Group
}

// Option configures a Provider.
type Option func(*Provider)

// WithDefault overrides the text served on fetch failure.
func WithDefault(text string) Option {
	return func(p *Provider) {
		if text != "" {
			p.defaultText = text
		}
	}
}

// NewProvider creates a provider over src.
func NewProvider(src Source, log *logging.Logger, metrics *observability.Metrics, opts ...Option) *Provider {
	p := &Provider{
		src:         src,
		log:         log.Sub("instructions"),
		metrics:     metrics,
		defaultText: DefaultInstructions,
		cache:       make(map[string]cached),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Default returns the text served when nothing can be loaded.
func (p *Provider) Default() string { return p.defaultText }

// Get returns the instruction text for ref.
func (p *Provider) Get(ctx context.Context, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return FallbackGreeting
	}

	p.mu.RLock()
	c, haveCached := p.cache[ref]
	p.mu.RUnlock()

	rev, err := p.src.Revision(ctx, ref)
	if err != nil {
		if haveCached {
			p.log.Warn().Err(err).Str("ref", ref).Msg("revision check failed, serving cached instructions")
			p.metrics.CacheLookup("instructions", "stale")
			return c.text
		}
		p.log.Warn().Err(err).Str("ref", ref).Msg("revision check failed")
	} else if haveCached && c.revision == rev {
		p.metrics.CacheLookup("instructions", "hit")
		return c.text
	}

	v, err, _ := p.group.Do(ref, func() (any, error) {
		text, err := p.src.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		p.mu.Lock()
		p.cache[ref] = cached{revision: rev, text: text}
		p.mu.Unlock()
		return text, nil
	})
	if err != nil {
		p.log.Error().Err(err).Str("ref", ref).Msg("instruction fetch failed")
		p.metrics.CacheLookup("instructions", "error")
		if haveCached {
			return c.text
		}
		return p.defaultText
	}

	p.metrics.CacheLookup("instructions", "miss")
	text := v.(string)
	if text == "" {
		return FallbackGreeting
	}
	p.log.Debug().Str("ref", ref).Str("revision", rev).Int("chars", len(text)).Msg("instructions loaded")
	return text
}

// ForLead picks the role document for the lead's current state and falls
// back to the tenant's general instruction doc.
func (p *Provider) ForLead(ctx context.Context, t domain.Tenant, estado string) string {
	ref := ""
	if col := RoleColumnFor(estado); col != "" {
		ref = t.RoleDoc(col)
	}
	if ref == "" {
		ref = t.InstructionRef
	}
	return p.Get(ctx, ref)
}

// Invalidate drops a cached document.
func (p *Provider) Invalidate(ref string) {
	p.mu.Lock()
	delete(p.cache, strings.TrimSpace(ref))
	p.mu.Unlock()
}

// Len returns the number of cached documents.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

var stateRoles = map[string]string{
	"nuevo":       domain.ColRoleQualifier,
	"seguimiento": domain.ColRoleQualifier,
	"interesado":  domain.ColRoleMeeting,
	"agendado":    domain.ColRoleTracking,
	"negociando":  domain.ColRoleTracking,
	"perdido":     domain.ColRoleTracking,
	"activado":    domain.ColRoleTracking,
	"finalizado":  domain.ColRoleTracking,
	"recurrente":  domain.ColRoleTracking,
}

// RoleColumnFor maps a lead state onto the tenant column holding the role doc.
func RoleColumnFor(estado string) string {
	return stateRoles[strings.ToLower(strings.TrimSpace(estado))]
}
