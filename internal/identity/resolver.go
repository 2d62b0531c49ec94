// Package identity finds or creates the lead row for an end user in a
// tenant's CRM sheet.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
)

// TimestampLayout is the format of the Fecha columns.
const TimestampLayout = "02/01/2006 15:04:05"

var (
	ErrNoStore  = errors.New("identity: no store reference")
	ErrEmptyKey = errors.New("identity: empty user key")
	ErrNotFound = errors.New("identity: lead not found")
)

// Resolver reads and writes leads through a sheets.Store.
type Resolver struct {
	store sheets.Store
	sheet string
	loc   *time.Location
	log   *logging.Logger
	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithIDGenerator overrides lead id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Resolver) { r.newID = fn }
}

// NewResolver creates a resolver for the named lead sheet. Timestamps are
// rendered in loc.
func NewResolver(store sheets.Store, sheet string, loc *time.Location, log *logging.Logger, opts ...Option) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	r := &Resolver{
		store: store,
		sheet: sheet,
		loc:   loc,
		log:   log.Sub("identity"),
		now:   time.Now,
		newID: ShortID,
		locks: make(map[string]*keyLock),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ShortID returns the first 8 characters of a random UUID.
func ShortID() string {
	return uuid.NewString()[:8]
}

// NormalizeKey strips formatting from phone-style keys, leaving digits only.
// Keys containing anything else (web session ids) are returned trimmed.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	var b strings.Builder
	for _, r := range key {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == '-' || r == '(' || r == ')' || r == '.' || unicode.IsSpace(r):
		default:
			return key
		}
	}
	if b.Len() == 0 {
		return key
	}
	return b.String()
}

// GetOrCreate returns the lead for userKey, creating it if needed and
// reconciling drifted fields. Any failure yields (nil, false) so the caller
// can continue without personalization.
func (r *Resolver) GetOrCreate(ctx context.Context, userKey, storeRef string, d domain.LeadDefaults) (*domain.Lead, bool) {
	lead, err := r.getOrCreate(ctx, userKey, storeRef, d)
	if err != nil {
		if errors.Is(err, ErrNoStore) {
			r.log.Debug().Str("userKey", userKey).Msg("no CRM store bound, skipping identity")
		} else {
			r.log.Warn().Err(err).Str("userKey", userKey).Str("storeRef", storeRef).Msg("identity resolution failed")
		}
		return nil, false
	}
	return lead, true
}

func (r *Resolver) getOrCreate(ctx context.Context, userKey, storeRef string, d domain.LeadDefaults) (*domain.Lead, error) {
	storeRef = strings.TrimSpace(storeRef)
	if storeRef == "" {
		return nil, ErrNoStore
	}
	key := NormalizeKey(userKey)
	if key == "" {
		return nil, ErrEmptyKey
	}

	lead, err := r.findByPhone(ctx, storeRef, key)
	if err != nil {
		return nil, err
	}

	unlock := r.lock(storeRef + "\x00" + key)
	defer unlock()

	if lead == nil {
		// Re-check under the key lock; another turn may have created the row.
		lead, err = r.findByPhone(ctx, storeRef, key)
		if err != nil {
			return nil, err
		}
		if lead == nil {
			return r.create(ctx, storeRef, key, d)
		}
	}

	patch := Diff(*lead, d)
	if patch.IsEmpty() {
		return lead, nil
	}
	if err := r.store.UpdateCells(ctx, storeRef, r.sheet, lead.RowIndex, patch.Cells()); err != nil {
		return nil, fmt.Errorf("updating lead %s: %w", lead.ID, err)
	}
	patch.Apply(lead)
	r.log.Info().Str("leadId", lead.ID).Int("fields", len(patch.Cells())).Msg("lead updated")
	return lead, nil
}

func (r *Resolver) create(ctx context.Context, storeRef, key string, d domain.LeadDefaults) (*domain.Lead, error) {
	lead := domain.Lead{
		ID:               r.newID(),
		Nombre:           strings.TrimSpace(d.Nombre),
		Telefono:         key,
		Correo:           strings.TrimSpace(d.Correo),
		Tipo:             firstNonEmpty(d.Tipo, domain.DefaultLeadTipo),
		Estado:           firstNonEmpty(d.Estado, domain.DefaultLeadEstado),
		Nota:             strings.TrimSpace(d.Nota),
		Usuario:          strings.TrimSpace(d.Usuario),
		Canal:            strings.TrimSpace(d.Canal),
		FechaAdquisicion: r.now().In(r.loc).Format(TimestampLayout),
	}

	if err := sheets.AppendRecord(ctx, r.store, storeRef, r.sheet, lead.Map()); err != nil {
		return nil, fmt.Errorf("creating lead: %w", err)
	}

	// Locate the new row so later updates can address it.
	if found, err := r.findByPhone(ctx, storeRef, key); err == nil && found != nil {
		lead.RowIndex = found.RowIndex
	}

	r.log.Info().Str("leadId", lead.ID).Str("canal", lead.Canal).Msg("lead created")
	return &lead, nil
}

// Diff computes the minimal patch reconciling l with observed defaults.
// Canal and Usuario are latest-wins; Nombre and Correo are only filled when
// blank. Empty incoming values never overwrite.
func Diff(l domain.Lead, d domain.LeadDefaults) domain.LeadPatch {
	var p domain.LeadPatch
	if v := strings.TrimSpace(d.Canal); v != "" && v != l.Canal {
		p.Canal = domain.Str(v)
	}
	if v := strings.TrimSpace(d.Usuario); v != "" && v != l.Usuario {
		p.Usuario = domain.Str(v)
	}
	if v := strings.TrimSpace(d.Nombre); v != "" && l.Nombre == "" {
		p.Nombre = domain.Str(v)
	}
	if v := strings.TrimSpace(d.Correo); v != "" && l.Correo == "" {
		p.Correo = domain.Str(v)
	}
	return p
}

// Leads returns every lead in the store.
func (r *Resolver) Leads(ctx context.Context, storeRef string) ([]domain.Lead, error) {
	if strings.TrimSpace(storeRef) == "" {
		return nil, ErrNoStore
	}
	rows, err := r.store.Rows(ctx, storeRef, r.sheet)
	if err != nil {
		return nil, err
	}
	leads := make([]domain.Lead, 0, len(rows))
	for _, row := range rows {
		leads = append(leads, domain.LeadFromRow(row.Index, row.Values))
	}
	return leads, nil
}

// Find returns the lead whose Id equals idOrPhone, or whose normalized
// Telefono matches it.
func (r *Resolver) Find(ctx context.Context, storeRef, idOrPhone string) (*domain.Lead, error) {
	idOrPhone = strings.TrimSpace(idOrPhone)
	if idOrPhone == "" {
		return nil, ErrEmptyKey
	}
	leads, err := r.Leads(ctx, storeRef)
	if err != nil {
		return nil, err
	}
	for i := range leads {
		if leads[i].ID == idOrPhone {
			return &leads[i], nil
		}
	}
	key := NormalizeKey(idOrPhone)
	for i := range leads {
		if NormalizeKey(leads[i].Telefono) == key {
			return &leads[i], nil
		}
	}
	return nil, ErrNotFound
}

// Update writes patch to the lead's row and applies it in memory.
func (r *Resolver) Update(ctx context.Context, storeRef string, lead *domain.Lead, patch domain.LeadPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	if err := r.store.UpdateCells(ctx, storeRef, r.sheet, lead.RowIndex, patch.Cells()); err != nil {
		return err
	}
	patch.Apply(lead)
	return nil
}

// Create appends a lead built from explicit fields, bypassing the
// find-first path. Used by CRM tools that register contacts by hand.
func (r *Resolver) Create(ctx context.Context, storeRef string, lead domain.Lead) (*domain.Lead, error) {
	if strings.TrimSpace(storeRef) == "" {
		return nil, ErrNoStore
	}
	if lead.ID == "" {
		lead.ID = r.newID()
	}
	lead.Tipo = firstNonEmpty(lead.Tipo, domain.DefaultLeadTipo)
	lead.Estado = firstNonEmpty(lead.Estado, domain.DefaultLeadEstado)
	if lead.FechaAdquisicion == "" {
		lead.FechaAdquisicion = r.now().In(r.loc).Format(TimestampLayout)
	}
	if err := sheets.AppendRecord(ctx, r.store, storeRef, r.sheet, lead.Map()); err != nil {
		return nil, fmt.Errorf("creating lead: %w", err)
	}
	return &lead, nil
}

// Now returns the current time formatted for Fecha columns.
func (r *Resolver) Now() string {
	return r.now().In(r.loc).Format(TimestampLayout)
}

func (r *Resolver) findByPhone(ctx context.Context, storeRef, key string) (*domain.Lead, error) {
	rows, err := r.store.Rows(ctx, storeRef, r.sheet)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if NormalizeKey(row.Get(domain.LeadTelefono)) == key {
			lead := domain.LeadFromRow(row.Index, row.Values)
			return &lead, nil
		}
	}
	return nil, nil
}

// lock serializes work on one key and returns the unlock func. Entries are
// dropped once no goroutine holds or waits on them.
func (r *Resolver) lock(key string) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
