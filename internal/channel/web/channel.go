// Package web implements the web chat channel. Messages arrive as JSON
// over HTTP; replies go to the caller's webhook URL or, when none was
// given, to WebSocket subscribers of the session.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

// Channel implements domain.Channel for web chat. Outbound messages are
// addressed by TenantID (phone_number_id) and To (session_id).
type Channel struct {
	client *Client
	hub    *Hub
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	lastErr string
}

func New(client *Client, hub *Hub, log *logging.Logger) *Channel {
	return &Channel{client: client, hub: hub, log: log.Sub("web")}
}

func (c *Channel) ID() string { return domain.ChannelWeb }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{Typing: true, Push: true}
}

func (c *Channel) Start(_ context.Context) error { return nil }

// Stop disconnects all WebSocket subscribers.
func (c *Channel) Stop(_ context.Context) error {
	c.hub.CloseAll()
	return nil
}

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Hub returns the subscriber hub served by the gateway.
func (c *Channel) Hub() *Hub { return c.hub }

func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: domain.ChannelWeb,
		Connected: true,
		Running:   true,
		LastError: c.lastErr,
	}
}

// Send posts the reply to msg.CallbackURL, or pushes it to the session's
// subscribers when there is no callback. Having no subscribers is not an
// error: the reply also travels in the HTTP response.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.CallbackURL != "" {
		if err := c.client.PostReply(ctx, msg.CallbackURL, msg.To, msg.Body, msg.Metadata); err != nil {
			c.setErr(err)
			return err
		}
		return nil
	}
	n := c.hub.Push(msg.TenantID, msg.To, ReplyPayload{
		SessionID: msg.To,
		Message:   msg.Body,
		Timestamp: time.Now().Format(time.RFC3339),
		Type:      "text",
		Metadata:  msg.Metadata,
	})
	c.log.Debug().Str("sessionId", msg.To).Int("subscribers", n).Msg("reply pushed")
	return nil
}

// SendTyping notifies the caller that a reply is being prepared.
func (c *Channel) SendTyping(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.CallbackURL != "" {
		return c.client.PostTyping(ctx, msg.CallbackURL, msg.To)
	}
	c.hub.Push(msg.TenantID, msg.To, TypingPayload{SessionID: msg.To, Type: "typing", Status: "typing"})
	return nil
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}
