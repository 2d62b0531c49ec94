// Package tenant maps inbound routing ids onto tenant records kept in the
// credentials spreadsheet.
package tenant

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
)

// ErrNotFound is returned by Lookup when no row carries the routing id.
var ErrNotFound = errors.New("tenant: not found")

type entry struct {
	tenant      domain.Tenant
	fingerprint string
}

// Resolver resolves and caches tenants. A cached tenant is served only while
// the fingerprint of its sheet row is unchanged.
type Resolver struct {
	store         sheets.Store
	spreadsheetID string
	sheet         string
	log           *logging.Logger
	metrics       *observability.Metrics

	mu    sync.RWMutex
	cache map[string]entry
	group singleflight.Group
}

// NewResolver creates a resolver reading the given credentials sheet.
func NewResolver(store sheets.Store, spreadsheetID, sheet string, log *logging.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:         store,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		log:           log.Sub("tenant"),
		metrics:       metrics,
		cache:         make(map[string]entry),
	}
}

// Resolve returns the tenant for routingID. The second result is false when
// no row matches or the store is unavailable.
func (r *Resolver) Resolve(ctx context.Context, routingID string) (domain.Tenant, bool) {
	t, err := r.Lookup(ctx, routingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.log.Info().Str("routingId", routingID).Msg("tenant not found")
			r.metrics.CacheLookup("tenant", "not_found")
		} else {
			r.log.Error().Err(err).Str("routingId", routingID).Msg("tenant lookup failed")
			r.metrics.CacheLookup("tenant", "error")
		}
		return domain.Tenant{}, false
	}
	return t, true
}

// Lookup is Resolve with the failure reason exposed.
func (r *Resolver) Lookup(ctx context.Context, routingID string) (domain.Tenant, error) {
	routingID = strings.TrimSpace(routingID)
	if routingID == "" {
		return domain.Tenant{}, ErrNotFound
	}

	v, err, _ := r.group.Do(routingID, func() (any, error) {
		return r.refresh(ctx, routingID)
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	return v.(domain.Tenant), nil
}

func (r *Resolver) refresh(ctx context.Context, routingID string) (domain.Tenant, error) {
	rows, err := r.store.Rows(ctx, r.spreadsheetID, r.sheet)
	if err != nil {
		return domain.Tenant{}, err
	}

	var row *sheets.Row
	for i := range rows {
		if rows[i].Get(domain.ColPhoneNumberID) == routingID {
			row = &rows[i]
			break
		}
	}
	if row == nil {
		r.mu.Lock()
		delete(r.cache, routingID)
		r.mu.Unlock()
		return domain.Tenant{}, ErrNotFound
	}

	fp := Fingerprint(row.Values)

	r.mu.RLock()
	cached, ok := r.cache[routingID]
	r.mu.RUnlock()
	if ok && cached.fingerprint == fp {
		r.metrics.CacheLookup("tenant", "hit")
		return cached.tenant, nil
	}

	t := FromRow(row.Values)
	t.Fingerprint = fp

	r.mu.Lock()
	r.cache[routingID] = entry{tenant: t, fingerprint: fp}
	r.mu.Unlock()

	if ok {
		r.metrics.CacheLookup("tenant", "refresh")
		r.log.Info().Str("routingId", routingID).Msg("tenant row changed, cache refreshed")
	} else {
		r.metrics.CacheLookup("tenant", "miss")
		r.log.Debug().Str("routingId", routingID).Str("business", t.DisplayName).Msg("tenant cached")
	}
	return t, nil
}

// IsActive reports whether the tenant may be served.
func (r *Resolver) IsActive(t domain.Tenant) bool {
	return IsActive(t)
}

// IsActive reports whether the tenant may be served.
func IsActive(t domain.Tenant) bool {
	return t.Active
}

// Invalidate drops the cached entry for routingID and returns it, so the
// caller can flush caches keyed by the tenant's other references.
func (r *Resolver) Invalidate(routingID string) (domain.Tenant, bool) {
	routingID = strings.TrimSpace(routingID)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[routingID]
	delete(r.cache, routingID)
	return e.tenant, ok
}

// Len returns the number of cached tenants.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Fingerprint hashes the trimmed row values in sorted column order.
func Fingerprint(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strings.TrimSpace(values[k])
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// FromRow maps a credentials row onto a Tenant.
func FromRow(values map[string]string) domain.Tenant {
	get := func(col string) string { return strings.TrimSpace(values[col]) }

	raw := make(map[string]string, len(values))
	for k, v := range values {
		raw[k] = v
	}

	return domain.Tenant{
		RoutingID:      get(domain.ColPhoneNumberID),
		DisplayName:    get(domain.ColBusinessName),
		Active:         domain.IsActiveValue(values[domain.ColStatus]),
		AccessToken:    get(domain.ColAccessToken),
		CRMStoreRef:    get(domain.ColSheetCRMID),
		InstructionRef: get(domain.ColRoleID),
		RoleDocs: map[string]string{
			domain.ColRoleQualifier: get(domain.ColRoleQualifier),
			domain.ColRoleMeeting:   get(domain.ColRoleMeeting),
			domain.ColRoleTracking:  get(domain.ColRoleTracking),
		},
		Raw: raw,
	}
}
