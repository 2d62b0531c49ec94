package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

// mockChannel is a test double for domain.Channel.
type mockChannel struct {
	id       string
	typing   bool
	started  bool
	stopped  bool
	sent     []domain.OutboundMessage
	typed    []domain.OutboundMessage
	handler  func(domain.InboundMessage)
	startErr error
	stopErr  error
	sendErr  error
}

func (m *mockChannel) ID() string { return m.id }
func (m *mockChannel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{Typing: m.typing}
}
func (m *mockChannel) Start(_ context.Context) error {
	m.started = true
	return m.startErr
}
func (m *mockChannel) Stop(_ context.Context) error {
	m.stopped = true
	return m.stopErr
}
func (m *mockChannel) Send(_ context.Context, msg domain.OutboundMessage) error {
	m.sent = append(m.sent, msg)
	return m.sendErr
}
func (m *mockChannel) OnMessage(handler func(domain.InboundMessage)) {
	m.handler = handler
}
func (m *mockChannel) SendTyping(_ context.Context, msg domain.OutboundMessage) error {
	m.typed = append(m.typed, msg)
	return nil
}
func (m *mockChannel) Status() domain.ChannelStatus {
	return domain.ChannelStatus{
		ChannelID: m.id,
		Connected: m.started && !m.stopped,
		Running:   m.started && !m.stopped,
	}
}

// preparingChannel rewrites inbound bodies.
type preparingChannel struct{ mockChannel }

func (p *preparingChannel) PrepareInbound(_ context.Context, msg domain.InboundMessage, token string) domain.InboundMessage {
	msg.Body = "prepared with " + token
	return msg
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: domain.ChannelWhatsApp})

	got, ok := reg.Get(domain.ChannelWhatsApp)
	require.True(t, ok)
	assert.Equal(t, domain.ChannelWhatsApp, got.ID())

	_, ok = reg.Get("telegram")
	assert.False(t, ok)
}

func TestRegistry_ListAndCount(t *testing.T) {
	reg := NewRegistry(testLogger())
	assert.Equal(t, 0, reg.Count())

	reg.Register(&mockChannel{id: domain.ChannelWhatsApp})
	reg.Register(&mockChannel{id: domain.ChannelWeb})
	assert.Equal(t, []string{"web", "whatsapp"}, reg.List())
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_Send(t *testing.T) {
	reg := NewRegistry(testLogger())
	wa := &mockChannel{id: domain.ChannelWhatsApp}
	reg.Register(wa)

	msg := domain.OutboundMessage{ChannelID: domain.ChannelWhatsApp, To: "1", Body: "hola"}
	require.NoError(t, reg.Send(context.Background(), msg))
	assert.Equal(t, []domain.OutboundMessage{msg}, wa.sent)

	wa.sendErr = assert.AnError
	assert.ErrorIs(t, reg.Send(context.Background(), msg), assert.AnError)

	err := reg.Send(context.Background(), domain.OutboundMessage{ChannelID: "sms"})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestRegistry_SendTyping(t *testing.T) {
	reg := NewRegistry(testLogger())
	wa := &mockChannel{id: domain.ChannelWhatsApp, typing: true}
	web := &mockChannel{id: domain.ChannelWeb}
	reg.Register(wa)
	reg.Register(web)

	require.NoError(t, reg.SendTyping(context.Background(), domain.OutboundMessage{ChannelID: domain.ChannelWhatsApp}))
	require.NoError(t, reg.SendTyping(context.Background(), domain.OutboundMessage{ChannelID: domain.ChannelWeb}))
	assert.Len(t, wa.typed, 1)
	assert.Empty(t, web.typed, "channel without typing capability is skipped")

	assert.ErrorIs(t, reg.SendTyping(context.Background(), domain.OutboundMessage{ChannelID: "sms"}), ErrUnknownChannel)
}

func TestRegistry_PrepareInbound(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&preparingChannel{mockChannel{id: domain.ChannelWhatsApp}})
	reg.Register(&mockChannel{id: domain.ChannelWeb})

	got := reg.PrepareInbound(context.Background(), domain.InboundMessage{ChannelID: domain.ChannelWhatsApp, Body: "x"}, "tok")
	assert.Equal(t, "prepared with tok", got.Body)

	got = reg.PrepareInbound(context.Background(), domain.InboundMessage{ChannelID: domain.ChannelWeb, Body: "x"}, "tok")
	assert.Equal(t, "x", got.Body)
}

func TestRegistry_OnMessage(t *testing.T) {
	reg := NewRegistry(testLogger())
	wa := &mockChannel{id: domain.ChannelWhatsApp}
	web := &mockChannel{id: domain.ChannelWeb}
	reg.Register(wa)
	reg.Register(web)

	var got []string
	reg.OnMessage(func(msg domain.InboundMessage) { got = append(got, msg.ID) })
	wa.handler(domain.InboundMessage{ID: "a"})
	web.handler(domain.InboundMessage{ID: "b"})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRegistry_Status(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&mockChannel{id: domain.ChannelWhatsApp})
	reg.Register(&mockChannel{id: domain.ChannelWeb})
	require.NoError(t, reg.StartAll(context.Background()))

	statuses := reg.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, domain.ChannelWeb, statuses[0].ChannelID)
	assert.True(t, statuses[1].Running)
}

func TestRegistry_StartAll_Error(t *testing.T) {
	reg := NewRegistry(testLogger())
	ok := &mockChannel{id: domain.ChannelWeb}
	broken := &mockChannel{id: domain.ChannelWhatsApp, startErr: assert.AnError}
	reg.Register(ok)
	reg.Register(broken)

	err := reg.StartAll(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, ok.started)
	assert.True(t, broken.started)
}

func TestRegistry_StopAll(t *testing.T) {
	reg := NewRegistry(testLogger())
	ch1 := &mockChannel{id: domain.ChannelWhatsApp, stopErr: assert.AnError}
	ch2 := &mockChannel{id: domain.ChannelWeb}
	reg.Register(ch1)
	reg.Register(ch2)

	reg.StopAll(context.Background())
	assert.True(t, ch1.stopped)
	assert.True(t, ch2.stopped)
}
