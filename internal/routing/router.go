// Package routing runs the inbound pipeline: it resolves the tenant,
// stops at inactive or incomplete tenants, resolves the lead, picks the
// instructions, dispatches the turn and delivers the reply.
package routing

import (
	"context"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/dispatch"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/tenant"
)

// DisabledNotice is sent to web callers of an inactive tenant.
const DisabledNotice = "Lo sentimos, el servicio está temporalmente desactivado. Por favor, intenta más tarde."

// AudioFailedNotice replaces the body of a voice note that could not be
// transcribed, so the agent can ask the user to type instead.
const AudioFailedNotice = "No pude procesar tu audio."

const typingTimeout = 5 * time.Second

// Status is the pipeline result for one inbound message.
type Status string

const (
	StatusReplied    Status = "ok"
	StatusNotFound   Status = "not_found"
	StatusDisabled   Status = "disabled"
	StatusIncomplete Status = "incomplete"
	StatusIgnored    Status = "ignored"
)

// Outcome describes what happened to an inbound message.
type Outcome struct {
	Status       Status            `json:"status"`
	SessionKey   string            `json:"session_key,omitempty"`
	TenantID     string            `json:"phone_number_id"`
	BusinessName string            `json:"business_name,omitempty"`
	UserData     map[string]string `json:"user_data,omitempty"`
	Reply        string            `json:"reply,omitempty"`
	Delivered    bool              `json:"message_sent"`
	Blocked      bool              `json:"blocked,omitempty"`
	Error        string            `json:"-"`
}

// Tenants resolves routing ids. *tenant.Resolver implements it.
type Tenants interface {
	Resolve(ctx context.Context, routingID string) (domain.Tenant, bool)
}

// Identities finds or creates leads. *identity.Resolver implements it.
type Identities interface {
	GetOrCreate(ctx context.Context, userKey, storeRef string, d domain.LeadDefaults) (*domain.Lead, bool)
}

// Instructions supplies agent instructions. *instructions.Provider implements it.
type Instructions interface {
	ForLead(ctx context.Context, t domain.Tenant, estado string) string
	Default() string
}

// Dispatcher runs one turn. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Run(ctx context.Context, req dispatch.Request) dispatch.Result
}

// Deliverer sends replies. *delivery.Adapter implements it.
type Deliverer interface {
	Deliver(ctx context.Context, msg domain.OutboundMessage) bool
}

// Channels performs channel specific steps. *channel.Registry implements it.
type Channels interface {
	PrepareInbound(ctx context.Context, msg domain.InboundMessage, accessToken string) domain.InboundMessage
	SendTyping(ctx context.Context, msg domain.OutboundMessage) error
	OnMessage(handler func(msg domain.InboundMessage))
}

// Config holds routing policies.
type Config struct {
	// Scope is ScopePerTenant or ScopeGlobal.
	Scope string
	// FallbackToDefault dispatches messages for unknown tenants with the
	// default instructions and no CRM store instead of dropping them.
	FallbackToDefault bool
}

// Router routes inbound messages through the pipeline.
type Router struct {
	cfg          Config
	tenants      Tenants
	identities   Identities
	instructions Instructions
	dispatcher   Dispatcher
	delivery     Deliverer
	channels     Channels
	hooks        *hooks.Manager
	metrics      *observability.Metrics
	log          *logging.Logger
}

// Deps groups the router's collaborators.
type Deps struct {
	Tenants      Tenants
	Identities   Identities
	Instructions Instructions
	Dispatcher   Dispatcher
	Delivery     Deliverer
	Channels     Channels
	Hooks        *hooks.Manager
	Metrics      *observability.Metrics
}

// NewRouter creates a message router.
func NewRouter(cfg Config, deps Deps, log *logging.Logger) *Router {
	if cfg.Scope == "" {
		cfg.Scope = ScopePerTenant
	}
	return &Router{
		cfg:          cfg,
		tenants:      deps.Tenants,
		identities:   deps.Identities,
		instructions: deps.Instructions,
		dispatcher:   deps.Dispatcher,
		delivery:     deps.Delivery,
		channels:     deps.Channels,
		hooks:        deps.Hooks,
		metrics:      deps.Metrics,
		log:          log.Sub("routing"),
	}
}

// HandleInbound processes one inbound message from any channel and
// delivers the reply through the originating channel.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) Outcome {
	out := r.handle(ctx, msg)
	r.metrics.InboundMessage(msg.ChannelID, string(out.Status))
	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("tenantId", msg.TenantID).
		Str("from", msg.From).
		Str("status", string(out.Status)).
		Bool("delivered", out.Delivered).
		Msg("inbound message handled")
	return out
}

func (r *Router) handle(ctx context.Context, msg domain.InboundMessage) Outcome {
	out := Outcome{TenantID: msg.TenantID}

	r.hooks.Emit(ctx, hooks.EventMessageReceived, map[string]any{
		"channel":  msg.ChannelID,
		"tenantId": msg.TenantID,
		"from":     msg.From,
		"type":     string(msg.Type),
	})

	t, found := r.tenants.Resolve(ctx, msg.TenantID)
	switch {
	case !found && !r.cfg.FallbackToDefault:
		out.Status = StatusNotFound
		return out
	case !found:
		r.log.Warn().Str("tenantId", msg.TenantID).Msg("unknown tenant, using default instructions")
		t = domain.Tenant{RoutingID: msg.TenantID}
	case !tenant.IsActive(t):
		// Nothing downstream may run for an inactive tenant.
		out.Status = StatusDisabled
		out.BusinessName = t.DisplayName
		if msg.ChannelID == domain.ChannelWeb && msg.CallbackURL != "" {
			out.Reply = DisabledNotice
			out.Delivered = r.delivery.Deliver(ctx, r.reply(msg, t, DisabledNotice, map[string]any{"status": "disabled"}))
		}
		return out
	case !credentialsComplete(msg.ChannelID, t):
		r.log.Warn().
			Str("tenantId", t.RoutingID).
			Bool("token", t.AccessToken != "").
			Bool("instructions", t.InstructionRef != "").
			Msg("tenant credentials incomplete")
		out.Status = StatusIncomplete
		return out
	}
	out.BusinessName = t.DisplayName

	msg = r.channels.PrepareInbound(ctx, msg, t.AccessToken)
	if msg.Body == "" && msg.Type == domain.MessageAudio {
		msg.Body = AudioFailedNotice
	}
	if msg.Body == "" {
		out.Status = StatusIgnored
		return out
	}
	r.sendTyping(ctx, r.reply(msg, t, "", nil))

	defaults := domain.LeadDefaults{
		Nombre:  msg.FromName,
		Usuario: msg.FromName,
		Canal:   msg.ChannelID,
	}
	lead, ok := r.identities.GetOrCreate(ctx, msg.From, t.CRMStoreRef, defaults)

	var instructions string
	binding := session.Binding{
		TenantID:    t.RoutingID,
		CRMStoreRef: t.CRMStoreRef,
		UserKey:     msg.From,
		Channel:     msg.ChannelID,
	}
	if ok {
		out.UserData = lead.Map()
		binding.LeadID = lead.ID
	}
	switch {
	case !found:
		instructions = r.instructions.Default()
	case ok:
		instructions = r.instructions.ForLead(ctx, t, lead.Estado)
	default:
		instructions = r.instructions.ForLead(ctx, t, "")
	}

	key := ResolveSessionKey(t.RoutingID, msg.From, r.cfg.Scope)
	out.SessionKey = key.String()

	res := r.dispatcher.Run(ctx, dispatch.Request{
		Message:      msg.Body,
		Instructions: instructions,
		SessionKey:   key,
		UserData:     out.UserData,
		Binding:      binding,
	})
	out.Status = StatusReplied
	out.Reply = res.FinalOutput
	out.Blocked = res.Blocked
	out.Error = res.Error

	var meta map[string]any
	if msg.ChannelID == domain.ChannelWeb {
		meta = map[string]any{
			"timestamp":       time.Now().Format(time.RFC3339),
			"user_name":       msg.FromName,
			"business_name":   t.DisplayName,
			"phone_number_id": t.RoutingID,
		}
	}
	out.Delivered = r.delivery.Deliver(ctx, r.reply(msg, t, res.FinalOutput, meta))
	return out
}

// reply addresses body back to the sender of msg.
func (r *Router) reply(msg domain.InboundMessage, t domain.Tenant, body string, meta map[string]any) domain.OutboundMessage {
	return domain.OutboundMessage{
		ChannelID:   msg.ChannelID,
		TenantID:    t.RoutingID,
		To:          msg.From,
		Body:        body,
		ReplyToID:   msg.ReplyToID,
		CallbackURL: msg.CallbackURL,
		AccessToken: t.AccessToken,
		Metadata:    meta,
	}
}

// sendTyping shows the typing indicator without holding up the turn.
func (r *Router) sendTyping(ctx context.Context, out domain.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), typingTimeout)
	go func() {
		defer cancel()
		if err := r.channels.SendTyping(ctx, out); err != nil {
			r.log.Debug().Err(err).Str("channel", out.ChannelID).Msg("typing indicator failed")
		}
	}()
}

// credentialsComplete reports whether the tenant can serve the channel.
// WhatsApp replies need the access token; every channel needs instructions.
func credentialsComplete(channelID string, t domain.Tenant) bool {
	if channelID == domain.ChannelWhatsApp {
		return t.HasChannelCredentials()
	}
	return t.RoutingID != "" && t.InstructionRef != ""
}

// Wire registers the router as the message handler on every channel.
// Channels call the handler on their own goroutine, detached from the
// request that carried the message.
func (r *Router) Wire() {
	r.channels.OnMessage(func(msg domain.InboundMessage) {
		r.HandleInbound(context.Background(), msg)
	})
	r.log.Debug().Msg("wired message handler")
}
