// Package dispatch runs one conversational turn for a session: it takes the
// session's turn lock, screens the message, runs the agent with the tenant
// binding and always returns text for the user.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/guardrail"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
)

// DefaultTurnTimeout bounds one turn when no timeout is configured.
const DefaultTurnTimeout = 2 * time.Minute

// ErrorMessage is the user-facing text for any failed turn.
const ErrorMessage = "Lo siento, ocurrió un error al procesar tu solicitud. Por favor, intenta nuevamente."

// BlockMessage is the user-facing text for a flagged message.
const BlockMessage = guardrail.BlockMessage

// ErrTimeout is reported when a turn exceeds its time budget.
var ErrTimeout = errors.New("dispatch: turn timed out")

var errNoResult = errors.New("agent returned no result")

// Outcomes reported to metrics and hooks.
const (
	OutcomeOK      = "ok"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Executor runs the main agent.
type Executor interface {
	Run(ctx context.Context, in agent.RunInput) (*agent.RunResult, error)
}

// Checker screens a raw message before the agent sees it.
type Checker interface {
	Check(ctx context.Context, input any) domain.GuardrailVerdict
}

// Request is one inbound turn.
type Request struct {
	Message      string
	Instructions string
	SessionKey   domain.SessionKey
	UserData     map[string]string
	Binding      session.Binding
}

// Result is what the caller shows the user. Error carries the internal
// failure detail and is never meant for the user.
type Result struct {
	FinalOutput string       `json:"final_output"`
	Error       string       `json:"error,omitempty"`
	Blocked     bool         `json:"blocked,omitempty"`
	Usage       domain.Usage `json:"usage"`
}

// Config tunes the dispatcher.
type Config struct {
	TurnTimeout time.Duration
}

// Dispatcher is safe for concurrent use. Turns for one session key run one
// at a time; different keys run in parallel.
type Dispatcher struct {
	cfg      Config
	sessions *session.Manager
	guard    Checker
	executor Executor
	hooks    *hooks.Manager
	metrics  *observability.Metrics
	log      *logging.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHooks emits agent run events through hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(d *Dispatcher) { d.hooks = hm }
}

// WithMetrics records dispatch outcomes.
func WithMetrics(mt *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = mt }
}

// New creates a dispatcher. A nil guard lets every message through.
func New(cfg Config, sessions *session.Manager, guard Checker, executor Executor, log *logging.Logger, opts ...Option) *Dispatcher {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	d := &Dispatcher{
		cfg:      cfg,
		sessions: sessions,
		guard:    guard,
		executor: executor,
		log:      log.Sub("dispatch"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run processes one message and always returns text for the user.
func (d *Dispatcher) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	key := req.SessionKey.String()
	log := d.log.With("sessionKey", key)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.TurnTimeout)
	defer cancel()

	res, outcome, err := d.run(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrTimeout, d.cfg.TurnTimeout, err)
			outcome = OutcomeTimeout
		}
		log.Error().Err(err).Str("outcome", outcome).Msg("turn failed")
		res = Result{FinalOutput: ErrorMessage, Error: err.Error()}
	}

	elapsed := time.Since(start)
	d.metrics.Dispatch(outcome, elapsed)
	d.hooks.Emit(context.WithoutCancel(ctx), hooks.EventAfterAgentRun, map[string]any{
		"sessionKey": key,
		"tenantId":   req.Binding.TenantID,
		"outcome":    outcome,
		"durationMs": elapsed.Milliseconds(),
	})
	log.Info().Str("outcome", outcome).Dur("duration", elapsed).Msg("turn finished")
	return res
}

func (d *Dispatcher) run(ctx context.Context, req Request) (Result, string, error) {
	h, release, err := d.sessions.Acquire(ctx, req.SessionKey, req.Binding)
	if err != nil {
		return Result{}, OutcomeError, fmt.Errorf("acquiring session: %w", err)
	}
	defer release()

	prompt := Personalize(req.UserData, req.Message)

	// The guardrail sees the raw message only.
	if d.guard != nil {
		if v := d.guard.Check(ctx, req.Message); v.IsFlagged {
			d.hooks.Emit(ctx, hooks.EventGuardrailBlocked, map[string]any{
				"sessionKey": h.Key,
				"label":      v.Label,
			})
			d.log.Info().Str("sessionKey", h.Key).Str("label", v.Label).Msg("message blocked")
			return Result{FinalOutput: BlockMessage, Blocked: true}, OutcomeBlocked, nil
		}
	}

	d.hooks.Emit(ctx, hooks.EventBeforeAgentRun, map[string]any{
		"sessionKey": h.Key,
		"tenantId":   req.Binding.TenantID,
		"leadId":     req.Binding.LeadID,
	})

	out, err := d.executor.Run(ctx, agent.RunInput{
		Instructions: req.Instructions,
		Prompt:       prompt,
		Transcript:   h.Transcript,
		Context:      h.Context,
	})
	if err != nil {
		return Result{}, OutcomeError, fmt.Errorf("running agent: %w", err)
	}
	if out == nil {
		return Result{}, OutcomeError, errNoResult
	}

	if err := h.Transcript.AddUsage(ctx, out.Usage); err != nil {
		// The reply is already produced; accounting is best effort.
		d.log.Warn().Err(err).Str("sessionKey", h.Key).Msg("saving usage")
	}
	return Result{FinalOutput: ExtractOutput(out), Usage: out.Usage}, OutcomeOK, nil
}

// ClearSession drops a session and deletes its transcript.
func (d *Dispatcher) ClearSession(key string) bool {
	return d.sessions.Clear(key)
}

// ActiveSessionCount returns the number of live sessions.
func (d *Dispatcher) ActiveSessionCount() int {
	return d.sessions.CountActive()
}
