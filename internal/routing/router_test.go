package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/dispatch"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/identity"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

type fakeTenants map[string]domain.Tenant

func (f fakeTenants) Resolve(_ context.Context, id string) (domain.Tenant, bool) {
	t, ok := f[id]
	return t, ok
}

// spyIdentities wraps the real resolver and counts calls.
type spyIdentities struct {
	inner    *identity.Resolver
	calls    int
	storeRef []string
}

func (s *spyIdentities) GetOrCreate(ctx context.Context, key, ref string, d domain.LeadDefaults) (*domain.Lead, bool) {
	s.calls++
	s.storeRef = append(s.storeRef, ref)
	return s.inner.GetOrCreate(ctx, key, ref, d)
}

type spyInstructions struct {
	calls  int
	estado []string
}

func (s *spyInstructions) ForLead(_ context.Context, t domain.Tenant, estado string) string {
	s.calls++
	s.estado = append(s.estado, estado)
	return "instrucciones de " + t.DisplayName
}

func (s *spyInstructions) Default() string {
	s.calls++
	return "instrucciones por defecto"
}

type spyDispatcher struct {
	reqs []dispatch.Request
	res  dispatch.Result
}

func (s *spyDispatcher) Run(_ context.Context, req dispatch.Request) dispatch.Result {
	s.reqs = append(s.reqs, req)
	return s.res
}

type spyDelivery struct {
	sent []domain.OutboundMessage
	ok   bool
}

func (s *spyDelivery) Deliver(_ context.Context, msg domain.OutboundMessage) bool {
	s.sent = append(s.sent, msg)
	return s.ok
}

type fakeChannels struct {
	mu      sync.Mutex
	typed   []domain.OutboundMessage
	body    string // replaces inbound body when set
	handler func(domain.InboundMessage)
}

func (f *fakeChannels) PrepareInbound(_ context.Context, msg domain.InboundMessage, _ string) domain.InboundMessage {
	if f.body != "" {
		msg.Body = f.body
	}
	return msg
}

func (f *fakeChannels) SendTyping(_ context.Context, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed = append(f.typed, msg)
	return nil
}

func (f *fakeChannels) OnMessage(h func(domain.InboundMessage)) { f.handler = h }

func (f *fakeChannels) typedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typed)
}

type fixture struct {
	store        *sheets.MemoryStore
	identities   *spyIdentities
	instructions *spyInstructions
	dispatcher   *spyDispatcher
	delivery     *spyDelivery
	channels     *fakeChannels
	hooks        *hooks.Manager
	router       *Router
}

var activeTenant = domain.Tenant{
	RoutingID:      "T1",
	DisplayName:    "Salón Ana",
	Active:         true,
	AccessToken:    "tok",
	CRMStoreRef:    "crm-1",
	InstructionRef: "doc-1",
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := sheets.NewMemoryStore()
	store.AddSheet("crm-1", "Lead", domain.LeadColumns)

	disabled := activeTenant
	disabled.RoutingID, disabled.Active = "T2", false
	noToken := activeTenant
	noToken.RoutingID, noToken.AccessToken = "T3", ""

	f := &fixture{
		store:        store,
		identities:   &spyIdentities{inner: identity.NewResolver(store, "Lead", time.UTC, testLogger())},
		instructions: &spyInstructions{},
		dispatcher:   &spyDispatcher{res: dispatch.Result{FinalOutput: "¡Hola! ¿En qué te ayudo?"}},
		delivery:     &spyDelivery{ok: true},
		channels:     &fakeChannels{},
		hooks:        hooks.NewManager(testLogger()),
	}
	f.router = NewRouter(cfg, Deps{
		Tenants:      fakeTenants{"T1": activeTenant, "T2": disabled, "T3": noToken},
		Identities:   f.identities,
		Instructions: f.instructions,
		Dispatcher:   f.dispatcher,
		Delivery:     f.delivery,
		Channels:     f.channels,
		Hooks:        f.hooks,
	}, testLogger())
	return f
}

func whatsappMsg(tenantID, from, name, body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:        "wamid.1",
		Type:      domain.MessageText,
		ChannelID: domain.ChannelWhatsApp,
		TenantID:  tenantID,
		From:      from,
		FromName:  name,
		Body:      body,
		ReplyToID: "wamid.1",
	}
}

func webMsg(tenantID, session, body, callback string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:          "w1",
		Type:        domain.MessageText,
		ChannelID:   domain.ChannelWeb,
		TenantID:    tenantID,
		From:        session,
		FromName:    "Usuario Web",
		Body:        body,
		CallbackURL: callback,
	}
}

// Scenario A: a new user gets a lead, one dispatch and one delivery.
func TestHandleInbound_NewUser(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.router.HandleInbound(context.Background(), whatsappMsg("T1", "5551234567", "", "Hola"))
	assert.Equal(t, StatusReplied, out.Status)
	assert.Equal(t, "T1:5551234567", out.SessionKey)
	assert.Equal(t, "Salón Ana", out.BusinessName)
	assert.True(t, out.Delivered)

	rows, err := f.store.Rows(context.Background(), "crm-1", "Lead")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "5551234567", rows[0].Get("Telefono"))
	assert.Equal(t, "Nuevo", rows[0].Get("Estado"))
	assert.Len(t, rows[0].Get("Id"), 8)

	require.Len(t, f.dispatcher.reqs, 1)
	req := f.dispatcher.reqs[0]
	assert.Equal(t, "Hola", req.Message)
	assert.Equal(t, "instrucciones de Salón Ana", req.Instructions)
	assert.Equal(t, domain.SessionKey{TenantID: "T1", UserKey: "5551234567"}, req.SessionKey)
	assert.Equal(t, "Nuevo", req.UserData["Estado"])
	assert.Equal(t, "crm-1", req.Binding.CRMStoreRef)
	assert.Equal(t, rows[0].Get("Id"), req.Binding.LeadID)
	assert.Equal(t, []string{"Nuevo"}, f.instructions.estado)

	require.Len(t, f.delivery.sent, 1)
	sent := f.delivery.sent[0]
	assert.Equal(t, domain.ChannelWhatsApp, sent.ChannelID)
	assert.Equal(t, "5551234567", sent.To)
	assert.Equal(t, "¡Hola! ¿En qué te ayudo?", sent.Body)
	assert.Equal(t, "tok", sent.AccessToken)
	assert.Equal(t, "wamid.1", sent.ReplyToID)

	assert.Eventually(t, func() bool { return f.channels.typedCount() == 1 }, time.Second, 5*time.Millisecond)
}

// Scenario B: a returning user with a name only fills the blank Nombre.
func TestHandleInbound_ReturningUser(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.router.HandleInbound(ctx, whatsappMsg("T1", "5551234567", "", "Hola"))
	f.router.HandleInbound(ctx, whatsappMsg("T1", "5551234567", "Ana", "Otra vez"))

	rows, err := f.store.Rows(ctx, "crm-1", "Lead")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0].Get("Nombre"))
	assert.Equal(t, "5551234567", rows[0].Get("Telefono"))
	assert.Equal(t, "Nuevo", rows[0].Get("Estado"))
	assert.Equal(t, f.dispatcher.reqs[0].SessionKey, f.dispatcher.reqs[1].SessionKey)
}

// P5: an inactive tenant never reaches instructions, identity or dispatch.
func TestHandleInbound_DisabledTenant(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.router.HandleInbound(context.Background(), whatsappMsg("T2", "5551234567", "Ana", "Hola"))
	assert.Equal(t, StatusDisabled, out.Status)
	assert.Zero(t, f.identities.calls)
	assert.Zero(t, f.instructions.calls)
	assert.Empty(t, f.dispatcher.reqs)
	assert.Empty(t, f.delivery.sent)
	assert.Zero(t, f.channels.typedCount())

	out = f.router.HandleInbound(context.Background(), webMsg("T2", "s1", "Hola", "http://cb"))
	assert.Equal(t, StatusDisabled, out.Status)
	assert.Equal(t, DisabledNotice, out.Reply)
	assert.True(t, out.Delivered)
	require.Len(t, f.delivery.sent, 1)
	assert.Equal(t, DisabledNotice, f.delivery.sent[0].Body)
	assert.Equal(t, "disabled", f.delivery.sent[0].Metadata["status"])
	assert.Zero(t, f.identities.calls)
	assert.Empty(t, f.dispatcher.reqs)
}

// Scenario D: an unknown tenant falls back to default instructions and no store.
func TestHandleInbound_UnknownTenantFallback(t *testing.T) {
	f := newFixture(t, Config{FallbackToDefault: true})

	out := f.router.HandleInbound(context.Background(), whatsappMsg("999", "5551234567", "Ana", "Hola"))
	assert.Equal(t, StatusReplied, out.Status)
	assert.Equal(t, []string{""}, f.identities.storeRef)
	assert.Nil(t, out.UserData)

	require.Len(t, f.dispatcher.reqs, 1)
	req := f.dispatcher.reqs[0]
	assert.Equal(t, "instrucciones por defecto", req.Instructions)
	assert.Empty(t, req.Binding.CRMStoreRef)
	assert.Empty(t, req.UserData)
	assert.Equal(t, "999:5551234567", req.SessionKey.String())
}

func TestHandleInbound_UnknownTenant(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.router.HandleInbound(context.Background(), whatsappMsg("999", "5551234567", "", "Hola"))
	assert.Equal(t, StatusNotFound, out.Status)
	assert.Zero(t, f.identities.calls)
	assert.Empty(t, f.dispatcher.reqs)
}

func TestHandleInbound_IncompleteCredentials(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.router.HandleInbound(context.Background(), whatsappMsg("T3", "5551234567", "", "Hola"))
	assert.Equal(t, StatusIncomplete, out.Status)
	assert.Empty(t, f.dispatcher.reqs)

	// Web replies need no WhatsApp token.
	out = f.router.HandleInbound(context.Background(), webMsg("T3", "s1", "Hola", ""))
	assert.Equal(t, StatusReplied, out.Status)
}

func TestHandleInbound_WebReplyMetadata(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.router.HandleInbound(context.Background(), webMsg("T1", "sess-abc", "Hola", "http://cb"))
	assert.Equal(t, StatusReplied, out.Status)
	assert.Equal(t, "T1:sess-abc", out.SessionKey)
	assert.Equal(t, "web", out.UserData["Canal"])

	require.Len(t, f.delivery.sent, 1)
	sent := f.delivery.sent[0]
	assert.Equal(t, "http://cb", sent.CallbackURL)
	assert.Equal(t, "sess-abc", sent.To)
	assert.Equal(t, "Salón Ana", sent.Metadata["business_name"])
	assert.Equal(t, "T1", sent.Metadata["phone_number_id"])
	assert.Equal(t, "Usuario Web", sent.Metadata["user_name"])
}

func TestHandleInbound_BlockedAndFailedDelivery(t *testing.T) {
	f := newFixture(t, Config{})
	f.dispatcher.res = dispatch.Result{FinalOutput: dispatch.BlockMessage, Blocked: true}
	f.delivery.ok = false

	out := f.router.HandleInbound(context.Background(), whatsappMsg("T1", "5551234567", "", "contenido ilegal"))
	assert.Equal(t, StatusReplied, out.Status)
	assert.True(t, out.Blocked)
	assert.False(t, out.Delivered)
	assert.Equal(t, dispatch.BlockMessage, f.delivery.sent[0].Body)
}

func TestHandleInbound_EmptyBodyIgnored(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.router.HandleInbound(context.Background(), whatsappMsg("T1", "5551234567", "", ""))
	assert.Equal(t, StatusIgnored, out.Status)
	assert.Empty(t, f.dispatcher.reqs)

	f.channels.body = "transcripción"
	msg := whatsappMsg("T1", "5551234567", "", "")
	msg.Type = domain.MessageAudio
	out = f.router.HandleInbound(context.Background(), msg)
	assert.Equal(t, StatusReplied, out.Status)
	assert.Equal(t, "transcripción", f.dispatcher.reqs[0].Message)
}

func TestHandleInbound_FailedTranscription(t *testing.T) {
	f := newFixture(t, Config{})

	msg := whatsappMsg("T1", "5551234567", "", "")
	msg.Type = domain.MessageAudio
	out := f.router.HandleInbound(context.Background(), msg)
	assert.Equal(t, StatusReplied, out.Status)
	require.Len(t, f.dispatcher.reqs, 1)
	assert.Equal(t, AudioFailedNotice, f.dispatcher.reqs[0].Message)
}

func TestHandleInbound_Hooks(t *testing.T) {
	f := newFixture(t, Config{})
	var events []string
	f.hooks.On(hooks.EventMessageReceived, "spy", func(_ context.Context, p hooks.Payload) error {
		events = append(events, p.Data["tenantId"].(string))
		return nil
	})

	f.router.HandleInbound(context.Background(), whatsappMsg("T1", "5551234567", "", "Hola"))
	f.router.HandleInbound(context.Background(), whatsappMsg("T2", "5551234567", "", "Hola"))
	assert.Equal(t, []string{"T1", "T2"}, events)
}

func TestRouter_Wire(t *testing.T) {
	f := newFixture(t, Config{})
	f.router.Wire()
	require.NotNil(t, f.channels.handler)

	f.channels.handler(whatsappMsg("T1", "5551234567", "", "Hola"))
	assert.Len(t, f.dispatcher.reqs, 1)
}

func TestResolveSessionKey(t *testing.T) {
	tests := []struct {
		name   string
		tenant string
		user   string
		scope  string
		want   string
	}{
		{"per tenant", "T1", "+54 9 11 5555-1234", ScopePerTenant, "T1:5491155551234"},
		{"default scope", "T1", "5551234567", "", "T1:5551234567"},
		{"global", "T1", "5551234567", ScopeGlobal, "5551234567"},
		{"web session id", "T1", " sess-abc ", ScopePerTenant, "T1:sess-abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveSessionKey(tt.tenant, tt.user, tt.scope).String())
		})
	}
}
