package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
)

var headers = []string{
	"Phone Number ID", "Access Token", "Sheet CRM ID", "Role ID", "Business Name",
	"Status", "Role Qualifier ID", "Role Meeting ID", "Role Tracking ID",
}

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func newStore(rows ...[]string) *sheets.MemoryStore {
	m := sheets.NewMemoryStore()
	m.AddSheet("creds", "Credentials", headers, rows...)
	return m
}

func TestResolve_Found(t *testing.T) {
	store := newStore(
		[]string{"1111", "tok-a", "crm-a", "doc-a", "Acme", "TRUE", "q-a", "m-a", "t-a"},
		[]string{" 2222 ", "tok-b", "crm-b", "doc-b", "Beta", "FALSE", "", "", ""},
	)
	r := NewResolver(store, "creds", "Credentials", silentLog(), nil)

	tn, ok := r.Resolve(context.Background(), "1111")
	require.True(t, ok)
	assert.Equal(t, "1111", tn.RoutingID)
	assert.Equal(t, "Acme", tn.DisplayName)
	assert.Equal(t, "tok-a", tn.AccessToken)
	assert.Equal(t, "crm-a", tn.CRMStoreRef)
	assert.Equal(t, "doc-a", tn.InstructionRef)
	assert.Equal(t, "m-a", tn.RoleDoc(domain.ColRoleMeeting))
	assert.True(t, r.IsActive(tn))
	assert.NotEmpty(t, tn.Fingerprint)

	tn, ok = r.Resolve(context.Background(), "2222")
	require.True(t, ok, "routing ids are matched trimmed")
	assert.False(t, r.IsActive(tn))
	assert.Equal(t, 2, r.Len())
}

func TestResolve_NotFound(t *testing.T) {
	r := NewResolver(newStore(), "creds", "Credentials", silentLog(), nil)

	_, ok := r.Resolve(context.Background(), "999")
	assert.False(t, ok)

	_, err := r.Lookup(context.Background(), "999")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Lookup(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_StoreError(t *testing.T) {
	store := newStore([]string{"1111", "tok", "crm", "doc", "Acme", "TRUE", "", "", ""})
	store.SetError(errors.New("quota exceeded"))
	metrics := observability.NewMetrics()
	r := NewResolver(store, "creds", "Credentials", silentLog(), metrics)

	_, ok := r.Resolve(context.Background(), "1111")
	assert.False(t, ok)

	_, err := r.Lookup(context.Background(), "1111")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestResolve_FingerprintRefresh(t *testing.T) {
	ctx := context.Background()
	store := newStore([]string{"1111", "tok", "crm-old", "doc", "Acme", "TRUE", "", "", ""})
	r := NewResolver(store, "creds", "Credentials", silentLog(), nil)

	first, ok := r.Resolve(ctx, "1111")
	require.True(t, ok)

	again, ok := r.Resolve(ctx, "1111")
	require.True(t, ok)
	assert.Equal(t, first.Fingerprint, again.Fingerprint)
	assert.Equal(t, "crm-old", again.CRMStoreRef)

	require.NoError(t, store.UpdateCells(ctx, "creds", "Credentials", 2, map[string]string{"Sheet CRM ID": "crm-new"}))

	changed, ok := r.Resolve(ctx, "1111")
	require.True(t, ok)
	assert.Equal(t, "crm-new", changed.CRMStoreRef)
	assert.NotEqual(t, first.Fingerprint, changed.Fingerprint)
	assert.Equal(t, 1, r.Len())
}

func TestResolve_Deactivation(t *testing.T) {
	ctx := context.Background()
	store := newStore([]string{"1111", "tok", "crm", "doc", "Acme", "si", "", "", ""})
	r := NewResolver(store, "creds", "Credentials", silentLog(), nil)

	tn, ok := r.Resolve(ctx, "1111")
	require.True(t, ok)
	assert.True(t, IsActive(tn))

	require.NoError(t, store.UpdateCells(ctx, "creds", "Credentials", 2, map[string]string{"Status": "no"}))
	tn, ok = r.Resolve(ctx, "1111")
	require.True(t, ok)
	assert.False(t, IsActive(tn))
}

func TestResolve_RemovedRowEvicts(t *testing.T) {
	ctx := context.Background()
	store := newStore([]string{"1111", "tok", "crm", "doc", "Acme", "TRUE", "", "", ""})
	r := NewResolver(store, "creds", "Credentials", silentLog(), nil)

	_, ok := r.Resolve(ctx, "1111")
	require.True(t, ok)
	require.Equal(t, 1, r.Len())

	require.NoError(t, store.DeleteRow(ctx, "creds", "Credentials", 2))
	_, ok = r.Resolve(ctx, "1111")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestResolve_Concurrent(t *testing.T) {
	store := newStore([]string{"1111", "tok", "crm", "doc", "Acme", "TRUE", "", "", ""})
	r := NewResolver(store, "creds", "Credentials", silentLog(), nil)

	var wg sync.WaitGroup
	results := make([]domain.Tenant, 25)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Resolve(context.Background(), "1111")
		}(i)
	}
	wg.Wait()

	for _, tn := range results {
		assert.Equal(t, results[0].Fingerprint, tn.Fingerprint)
		assert.Equal(t, "crm", tn.CRMStoreRef)
	}
	assert.LessOrEqual(t, store.Ops(), len(results))
	assert.Equal(t, 1, r.Len())
}

func TestInvalidate(t *testing.T) {
	store := newStore([]string{"1111", "tok", "crm", "doc", "Acme", "TRUE", "", "", ""})
	r := NewResolver(store, "creds", "Credentials", silentLog(), nil)

	_, _ = r.Resolve(context.Background(), "1111")
	require.Equal(t, 1, r.Len())
	evicted, ok := r.Invalidate(" 1111 ")
	require.True(t, ok)
	assert.Equal(t, "doc", evicted.InstructionRef)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Invalidate("1111")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(map[string]string{"B": "2", "A": " 1 "})
	b := Fingerprint(map[string]string{"A": "1", "B": "2"})
	assert.Equal(t, a, b, "order and surrounding whitespace do not matter")
	assert.Len(t, a, 32)

	// md5("1|2")
	assert.Equal(t, "b2595e9d5aa0b6f0be8f792ac7b8547a", a)

	c := Fingerprint(map[string]string{"A": "1", "B": "3"})
	assert.NotEqual(t, a, c)
}
