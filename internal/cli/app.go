package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel/console"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel/web"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel/whatsapp"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/delivery"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/dispatch"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/googleauth"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/guardrail"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/identity"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/instructions"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/llm"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/routing"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/tenant"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/tools"
)

var errNoProvider = errors.New("no LLM provider configured: set openai.apiKey or OPENAI_API_KEY")

// backend is the Google-backed state every command shares.
type backend struct {
	loc     *time.Location
	metrics *observability.Metrics
	store   sheets.Store
	tenants *tenant.Resolver
	leads   *identity.Resolver
	tools   *agent.ToolRegistry
	google  *googleauth.Services
}

func newBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	svc, err := googleauth.NewServices(ctx, googleauth.Options{
		CredentialsFile: cfg.Google.CredentialsFile,
		OAuthClientFile: cfg.Google.OAuthClientFile,
		TokenFile:       cfg.Google.TokenFile,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("google services: %w", err)
	}

	b := &backend{
		loc:     loc,
		metrics: observability.NewMetrics(),
		store:   sheets.NewGoogleStore(svc.Sheets, log),
		google:  svc,
		tools:   agent.NewToolRegistry(),
	}
	b.tenants = tenant.NewResolver(b.store, cfg.Google.CredentialsSpreadsheetID, cfg.Google.CredentialsSheet, log, b.metrics)
	b.leads = identity.NewResolver(b.store, cfg.Google.LeadSheet, loc, log)

	tools.Register(b.tools, tools.Deps{
		Store:         b.store,
		Leads:         b.leads,
		Calendar:      tools.NewGoogleCalendar(svc.Calendar, cfg.Google.CalendarID, loc),
		CatalogSheet:  cfg.Google.CatalogSheet,
		MeetingsSheet: cfg.Google.MeetingsSheet,
		ProjectsSheet: cfg.Google.ProjectsSheet,
		Location:      loc,
		Log:           log,
	})
	return b, nil
}

// app is the fully wired pipeline.
type app struct {
	*backend
	hooks      *hooks.Manager
	channels   *channel.Registry
	whatsapp   *whatsapp.Channel
	web        *web.Channel
	console    *console.Channel
	dispatcher *dispatch.Dispatcher
	router     *routing.Router
	docs       *instructions.Provider
}

// newApp wires every component. When out is non-nil a console channel
// printing to out is registered too.
func newApp(ctx context.Context, cfg config.Config, out io.Writer) (*app, error) {
	b, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{backend: b, hooks: hooks.NewManager(log)}
	if n := hooks.RegisterCommands(a.hooks, cfg.Hooks); n > 0 {
		log.Info().Int("count", n).Msg("shell hooks registered")
	}

	models := llm.NewRegistryFromConfig(cfg.OpenAI, log)
	if len(models.List()) == 0 {
		return nil, errNoProvider
	}
	classifierClient, err := models.Resolve(cfg.OpenAI.GuardrailModel)
	if err != nil {
		return nil, fmt.Errorf("guardrail model: %w", err)
	}
	guard := guardrail.New(
		guardrail.NewLLMClassifier(classifierClient, cfg.OpenAI.GuardrailModel),
		cfg.Agent.GuardrailFailsOpen(), log, b.metrics)

	runner := agent.NewRunner(agent.RunnerConfig{
		AgentName:     cfg.Agent.Name,
		Model:         cfg.OpenAI.Model,
		Fallbacks:     cfg.OpenAI.FallbackModels,
		MaxTokens:     cfg.OpenAI.MaxTokens,
		Temperature:   cfg.OpenAI.Temperature,
		MaxIterations: cfg.Agent.MaxToolIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		Location:      b.loc,
	}, models, b.tools, b.metrics, log)

	sessions := session.NewManager(paths.SessionDir(&cfg), log,
		session.WithHooks(a.hooks),
		session.WithMetrics(b.metrics),
	)
	a.dispatcher = dispatch.New(
		dispatch.Config{TurnTimeout: time.Duration(cfg.Agent.TurnTimeout) * time.Second},
		sessions, guard, runner, log,
		dispatch.WithHooks(a.hooks),
		dispatch.WithMetrics(b.metrics),
	)

	instr := instructions.NewProvider(
		instructions.NewGoogleDocs(b.google.Docs, b.google.Drive),
		log, b.metrics,
		instructions.WithDefault(cfg.Agent.DefaultInstructions),
	)
	a.docs = instr

	a.channels = channel.NewRegistry(log)
	transcriber := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	a.whatsapp = whatsapp.New(
		whatsapp.NewClient(cfg.WhatsApp.GraphBaseURL, cfg.WhatsApp.APIVersion, time.Duration(cfg.WhatsApp.Timeout)*time.Second),
		transcriber, log)
	a.web = web.New(web.NewClient(time.Duration(cfg.Web.ReplyTimeout)*time.Second), web.NewHub(log), log)
	a.channels.Register(a.whatsapp)
	a.channels.Register(a.web)
	if out != nil {
		a.console = console.New(out)
		a.channels.Register(a.console)
	}

	a.router = routing.NewRouter(
		routing.Config{Scope: cfg.Session.Scope, FallbackToDefault: cfg.Routing.FallbackToDefault},
		routing.Deps{
			Tenants:      b.tenants,
			Identities:   b.leads,
			Instructions: instr,
			Dispatcher:   a.dispatcher,
			Delivery:     delivery.New(a.channels, log, delivery.WithHooks(a.hooks), delivery.WithMetrics(b.metrics)),
			Channels:     a.channels,
			Hooks:        a.hooks,
			Metrics:      b.metrics,
		},
		log,
	)
	a.router.Wire()
	return a, nil
}
