// Package channel holds the registry of messaging channels and routes
// outbound traffic to them by channel id.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

// ErrUnknownChannel is returned when no channel is registered for an id.
var ErrUnknownChannel = errors.New("unknown channel")

// Typer is implemented by channels that can show a typing indicator.
type Typer interface {
	SendTyping(ctx context.Context, msg domain.OutboundMessage) error
}

// InboundPreparer is implemented by channels that must enrich a message
// with tenant credentials before it is dispatched (voice transcription).
type InboundPreparer interface {
	PrepareInbound(ctx context.Context, msg domain.InboundMessage, accessToken string) domain.InboundMessage
}

// Registry manages the set of messaging channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger
}

// NewRegistry creates a channel registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds a channel, replacing any with the same id.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = ch
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns all channel IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send delivers msg through the channel named by msg.ChannelID.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.ChannelID)
	}
	return ch.Send(ctx, msg)
}

// SendTyping shows the typing indicator when the channel supports it.
// Channels without one are a no-op.
func (r *Registry) SendTyping(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.ChannelID)
	}
	t, ok := ch.(Typer)
	if !ok || !ch.Capabilities().Typing {
		return nil
	}
	return t.SendTyping(ctx, msg)
}

// PrepareInbound lets the message's channel enrich it. Unknown channels
// and channels without preparation return msg unchanged.
func (r *Registry) PrepareInbound(ctx context.Context, msg domain.InboundMessage, accessToken string) domain.InboundMessage {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return msg
	}
	if p, ok := ch.(InboundPreparer); ok {
		return p.PrepareInbound(ctx, msg, accessToken)
	}
	return msg
}

// OnMessage registers handler on every channel.
func (r *Registry) OnMessage(handler func(msg domain.InboundMessage)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.channels {
		ch.OnMessage(handler)
	}
}

// Status returns the status of all registered channels, sorted by id.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]domain.ChannelStatus, 0, len(r.channels))
	for _, ch := range r.channels {
		if sc, ok := ch.(interface{ Status() domain.ChannelStatus }); ok {
			statuses = append(statuses, sc.Status())
		} else {
			statuses = append(statuses, domain.ChannelStatus{
				ChannelID: ch.ID(),
				Running:   true,
			})
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ChannelID < statuses[j].ChannelID })
	return statuses
}

// StartAll starts every channel. Channels here only prepare state, so
// they are started inline and all failures are returned together.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for id, ch := range r.channels {
		r.log.Info().Str("channel", id).Msg("starting channel")
		if err := ch.Start(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("channel failed to start")
			errs = append(errs, fmt.Errorf("starting %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops all registered channels.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ch := range r.channels {
		r.log.Info().Str("channel", id).Msg("stopping channel")
		if err := ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("failed to stop channel")
		}
	}
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
