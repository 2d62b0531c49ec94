// Package agent runs the tool-calling conversation loop against an LLM on
// behalf of one session.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/llm"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
)

// DefaultMaxIterations limits how many model calls one turn may make.
const DefaultMaxIterations = 8

// ErrMaxIterations is returned when the model keeps calling tools past the
// iteration limit.
var ErrMaxIterations = errors.New("agent: tool iteration limit reached")

// Transcript is the durable turn log a run reads history from and appends to.
type Transcript interface {
	Append(ctx context.Context, turns ...domain.Turn) error
	History(ctx context.Context, limit int) ([]domain.Turn, error)
}

// RunnerConfig configures the agent runner.
type RunnerConfig struct {
	AgentName     string
	Model         string
	Fallbacks     []string
	MaxTokens     int
	Temperature   *float64
	MaxIterations int
	HistoryLimit  int // 0 sends the whole transcript
	Location      *time.Location
	Now           func() time.Time
}

// RunInput is everything one agent turn needs.
type RunInput struct {
	Instructions string
	Prompt       string
	Transcript   Transcript
	Context      *session.AgentContext
}

// RunResult is the outcome of processing a message.
type RunResult struct {
	FinalOutput string        `json:"finalOutput"`
	Model       string        `json:"model,omitempty"`
	Usage       domain.Usage  `json:"usage"`
	ToolCalls   int           `json:"toolCalls"`
	Duration    time.Duration `json:"duration"`
}

// FinalOutputText returns the text to send to the user.
func (r *RunResult) FinalOutputText() string { return r.FinalOutput }

// Runner is the agent orchestration loop. It builds the prompt, calls the
// LLM, executes requested tools, and records the turn in the transcript.
type Runner struct {
	cfg     RunnerConfig
	client  *FailoverClient
	tools   *ToolRegistry
	metrics *observability.Metrics
	log     *logging.Logger
}

// NewRunner creates an agent runner. metrics may be nil.
func NewRunner(
	cfg RunnerConfig,
	registry *llm.Registry,
	tools *ToolRegistry,
	metrics *observability.Metrics,
	log *logging.Logger,
) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	fc := NewFailoverClient(registry, cfg.Model, cfg.Fallbacks, log)
	return &Runner{
		cfg:     cfg,
		client:  fc,
		tools:   tools,
		metrics: metrics,
		log:     log.Sub("agent"),
	}
}

// Tools returns the runner's tool registry.
func (r *Runner) Tools() *ToolRegistry { return r.tools }

// Run processes one prompt. New turns are written to the transcript in a
// single append once the run succeeds, so a failed run leaves no partial
// turns behind.
func (r *Runner) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if in.Transcript == nil {
		return nil, errors.New("agent: run without transcript")
	}
	start := time.Now()

	if in.Context != nil {
		ctx = session.WithAgentContext(ctx, in.Context)
	}

	history, err := in.Transcript.History(ctx, r.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	history = trimHistory(history)

	var channel string
	if in.Context != nil {
		channel = in.Context.Channel
	}
	system := BuildSystemPrompt(PromptConfig{
		Instructions: in.Instructions,
		AgentName:    r.cfg.AgentName,
		Channel:      channel,
		Now:          r.cfg.Now(),
		Location:     r.cfg.Location,
	})

	pending := []domain.Turn{{Role: domain.RoleUser, Content: in.Prompt, Timestamp: r.cfg.Now()}}
	result := &RunResult{}
	defs := r.tools.Definitions()

	r.log.Info().
		Int("historyLen", len(history)).
		Int("tools", len(defs)).
		Msg("running agent")

	for i := 0; i < r.cfg.MaxIterations; i++ {
		req := llm.CompletionRequest{
			Model:       r.cfg.Model,
			System:      system,
			Messages:    toMessages(append(history, pending...)),
			Tools:       defs,
			MaxTokens:   r.cfg.MaxTokens,
			Temperature: r.cfg.Temperature,
		}

		resp, err := r.client.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("LLM completion: %w", err)
		}

		result.Model = resp.Model
		result.Usage = result.Usage.Add(domain.Usage{
			Requests:     1,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		})
		r.metrics.Tokens(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

		if len(resp.ToolCalls) == 0 {
			result.FinalOutput = cleanOutput(resp.Content, r.log)
			pending = append(pending, domain.Turn{
				Role:      domain.RoleAssistant,
				Content:   result.FinalOutput,
				Timestamp: r.cfg.Now(),
			})
			if err := in.Transcript.Append(ctx, pending...); err != nil {
				return nil, fmt.Errorf("saving turn: %w", err)
			}
			result.Duration = time.Since(start)

			r.log.Info().
				Str("model", result.Model).
				Int("requests", result.Usage.Requests).
				Int("inputTokens", result.Usage.InputTokens).
				Int("outputTokens", result.Usage.OutputTokens).
				Int("toolCalls", result.ToolCalls).
				Dur("duration", result.Duration).
				Msg("response generated")
			return result, nil
		}

		r.log.Info().Int("toolCalls", len(resp.ToolCalls)).Msg("executing tool calls")

		calls := make([]domain.ToolCall, len(resp.ToolCalls))
		for j, tc := range resp.ToolCalls {
			calls[j] = domain.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input}
		}
		pending = append(pending, domain.Turn{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: calls,
			Timestamp: r.cfg.Now(),
		})

		for _, tc := range calls {
			pending = append(pending, domain.Turn{
				Role:       domain.RoleTool,
				Content:    r.executeTool(ctx, tc),
				ToolCallID: tc.ID,
				Timestamp:  r.cfg.Now(),
			})
			result.ToolCalls++
		}
	}

	return nil, fmt.Errorf("%w (%d)", ErrMaxIterations, r.cfg.MaxIterations)
}

// executeTool runs one call and renders its result for the model. Tool
// failures are reported to the model, not to the caller.
func (r *Runner) executeTool(ctx context.Context, tc domain.ToolCall) string {
	r.log.Debug().Str("tool", tc.Name).Str("callId", tc.ID).Msg("executing tool")

	output, err := r.tools.Execute(ctx, tc.Name, tc.Input)
	r.metrics.ToolExecution(tc.Name, err == nil)
	if err != nil {
		r.log.Warn().Str("tool", tc.Name).Err(err).Msg("tool failed")
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(b)
	}
	return output
}

// trimHistory drops leading turns that cannot open a conversation: a history
// limit may cut between an assistant tool call and its results.
func trimHistory(turns []domain.Turn) []domain.Turn {
	for i, t := range turns {
		if t.Role == domain.RoleUser {
			return turns[i:]
		}
	}
	return nil
}

func toMessages(turns []domain.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		m := llm.Message{Role: t.Role, Content: t.Content, ToolCallID: t.ToolCallID}
		for _, tc := range t.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input})
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// xmlFuncCallRe matches <function_calls>...</function_calls> XML blocks that
// some models leak into plain text.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

// xmlBlockLevelRe matches self-contained XML blocks emitted for tool use.
var xmlBlockLevelRe = regexp.MustCompile(`(?s)(?:` +
	`<invoke\b[^>]*>.*?</invoke>` +
	`|<tool_call\b[^>]*>.*?</tool_call>` +
	`|<tool_use\b[^>]*>.*?</tool_use>` +
	`)`)

// xmlInlineTagRe matches parameter tags that can appear inline within text.
var xmlInlineTagRe = regexp.MustCompile(`(?s)<parameter\b[^>]*>.*?</parameter>`)

// whitespaceLineRe matches lines containing only horizontal whitespace.
var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

// blankLineCollapseRe collapses 3+ consecutive newlines to a single blank line.
var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// cleanOutput removes leaked tool-call markup from a final answer. Markdown
// is kept: WhatsApp renders *bold* and ```monospace```.
func cleanOutput(text string, log *logging.Logger) string {
	if log != nil {
		for _, m := range xmlFuncCallRe.FindAllString(text, -1) {
			log.Info().Str("xml", m).Msg("stripped XML function_calls from LLM response")
		}
	}
	cleaned := xmlFuncCallRe.ReplaceAllString(text, "\n\n")
	cleaned = xmlBlockLevelRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = xmlInlineTagRe.ReplaceAllString(cleaned, " ")

	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")

	return strings.TrimSpace(cleaned)
}
