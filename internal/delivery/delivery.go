// Package delivery sends replies through the channel that carried the
// inbound message. Each reply gets exactly one attempt.
package delivery

import (
	"context"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
)

// Sender sends one outbound message. *channel.Registry implements it.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
}

// Adapter reports delivery as a boolean and never returns errors to the
// pipeline; failures are logged and counted.
type Adapter struct {
	sender  Sender
	hooks   *hooks.Manager
	metrics *observability.Metrics
	log     *logging.Logger
}

type Option func(*Adapter)

func WithHooks(hm *hooks.Manager) Option {
	return func(a *Adapter) { a.hooks = hm }
}

func WithMetrics(mt *observability.Metrics) Option {
	return func(a *Adapter) { a.metrics = mt }
}

func New(sender Sender, log *logging.Logger, opts ...Option) *Adapter {
	a := &Adapter{sender: sender, log: log.Sub("delivery")}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Deliver sends msg and reports whether the channel accepted it.
func (a *Adapter) Deliver(ctx context.Context, msg domain.OutboundMessage) bool {
	if msg.Body == "" {
		a.log.Warn().Str("channel", msg.ChannelID).Str("to", msg.To).Msg("empty reply, nothing to deliver")
		a.metrics.Delivery(msg.ChannelID, false)
		return false
	}

	a.hooks.Emit(ctx, hooks.EventMessageSending, map[string]any{
		"channel":  msg.ChannelID,
		"tenantId": msg.TenantID,
		"to":       msg.To,
		"length":   len(msg.Body),
	})

	start := time.Now()
	err := a.sender.Send(ctx, msg)
	a.metrics.Delivery(msg.ChannelID, err == nil)
	if err != nil {
		a.log.Error().Err(err).
			Str("channel", msg.ChannelID).
			Str("tenantId", msg.TenantID).
			Str("to", msg.To).
			Msg("delivery failed")
		return false
	}
	a.log.Info().
		Str("channel", msg.ChannelID).
		Str("tenantId", msg.TenantID).
		Str("to", msg.To).
		Dur("duration", time.Since(start)).
		Msg("reply delivered")
	return true
}
