package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/llm"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

var key = domain.SessionKey{TenantID: "t1", UserKey: "5551234567"}

// fakeExecutor writes a user and assistant turn like the real runner does.
type fakeExecutor struct {
	mu     sync.Mutex
	calls  []agent.RunInput
	delay  time.Duration
	err    error
	empty  bool
	before func(ctx context.Context, in agent.RunInput)
}

func (f *fakeExecutor) Run(ctx context.Context, in agent.RunInput) (*agent.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()

	if f.before != nil {
		f.before(ctx, in)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return nil, nil
	}
	if err := in.Transcript.Append(ctx,
		domain.Turn{Role: domain.RoleUser, Content: in.Prompt},
		domain.Turn{Role: domain.RoleAssistant, Content: "respuesta"},
	); err != nil {
		return nil, err
	}
	return &agent.RunResult{
		FinalOutput: "respuesta",
		Usage:       domain.Usage{Requests: 1, InputTokens: 10, OutputTokens: 4, TotalTokens: 14},
	}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type spyGuard struct {
	mu      sync.Mutex
	inputs  []any
	flagged bool
}

func (g *spyGuard) Check(_ context.Context, input any) domain.GuardrailVerdict {
	g.mu.Lock()
	g.inputs = append(g.inputs, input)
	g.mu.Unlock()
	return domain.GuardrailVerdict{IsFlagged: g.flagged, Label: "violence"}
}

func newDispatcher(t *testing.T, guard Checker, exec Executor, opts ...Option) (*Dispatcher, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(t.TempDir(), silentLog())
	t.Cleanup(func() { sessions.Close() })
	return New(Config{}, sessions, guard, exec, silentLog(), opts...), sessions
}

func transcriptLen(t *testing.T, sessions *session.Manager) int {
	t.Helper()
	h, release, err := sessions.Acquire(context.Background(), key, session.Binding{TenantID: "t1"})
	require.NoError(t, err)
	defer release()
	n, err := h.Transcript.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestRun(t *testing.T) {
	exec := &fakeExecutor{}
	guard := &spyGuard{}
	metrics := observability.NewMetrics()
	d, sessions := newDispatcher(t, guard, exec, WithMetrics(metrics))

	res := d.Run(context.Background(), Request{
		Message:      "Hola",
		Instructions: "Sos el asistente de Acme.",
		SessionKey:   key,
		UserData:     map[string]string{"Nombre": "Ana"},
		Binding:      session.Binding{TenantID: "t1", CRMStoreRef: "crm-1", LeadID: "a1b2c3d4"},
	})
	assert.Equal(t, "respuesta", res.FinalOutput)
	assert.Empty(t, res.Error)
	assert.False(t, res.Blocked)
	assert.Equal(t, 14, res.Usage.TotalTokens)

	require.Equal(t, 1, exec.count())
	in := exec.calls[0]
	assert.Equal(t, "Sos el asistente de Acme.", in.Instructions)
	assert.Equal(t, "Información del usuario:\nNombre: Ana\n\nMensaje del usuario: Hola", in.Prompt)
	assert.Equal(t, "crm-1", in.Context.CRMStoreRef)
	assert.Equal(t, "a1b2c3d4", in.Context.LeadID)

	// The guardrail sees the raw message, never the personalized prompt.
	assert.Equal(t, []any{"Hola"}, guard.inputs)

	assert.Equal(t, 2, transcriptLen(t, sessions))
	h, release, err := sessions.Acquire(context.Background(), key, session.Binding{})
	require.NoError(t, err)
	usage, err := h.Transcript.Usage(context.Background())
	release()
	require.NoError(t, err)
	assert.Equal(t, 14, usage.TotalTokens)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.DispatchDuration))
}

func TestRunBlocked(t *testing.T) {
	exec := &fakeExecutor{}
	hm := hooks.NewManager(silentLog())
	var events []string
	hm.On(hooks.EventGuardrailBlocked, "test", func(_ context.Context, p hooks.Payload) error {
		events = append(events, p.Event+":"+p.Data["label"].(string))
		return nil
	})
	hm.On(hooks.EventBeforeAgentRun, "test", func(_ context.Context, p hooks.Payload) error {
		events = append(events, p.Event)
		return nil
	})
	hm.On(hooks.EventAfterAgentRun, "test", func(_ context.Context, p hooks.Payload) error {
		events = append(events, p.Event+":"+p.Data["outcome"].(string))
		return nil
	})
	d, sessions := newDispatcher(t, &spyGuard{flagged: true}, exec, WithHooks(hm))

	res := d.Run(context.Background(), Request{
		Message:    "contenido ilegal para dañar a alguien",
		SessionKey: key,
		Binding:    session.Binding{TenantID: "t1", CRMStoreRef: "crm-1"},
	})
	assert.Equal(t, BlockMessage, res.FinalOutput)
	assert.True(t, res.Blocked)
	assert.Empty(t, res.Error)
	assert.Zero(t, exec.count(), "flagged input never reaches the agent")
	assert.Zero(t, transcriptLen(t, sessions), "blocked turns leave no transcript entries")
	assert.Equal(t, []string{"guardrail_blocked:violence", "after_agent_run:blocked"}, events)
}

func TestRunWithoutGuard(t *testing.T) {
	exec := &fakeExecutor{}
	d, _ := newDispatcher(t, nil, exec)

	res := d.Run(context.Background(), Request{Message: "Hola", SessionKey: key})
	assert.Equal(t, "respuesta", res.FinalOutput)
	assert.Equal(t, "Hola", exec.calls[0].Prompt, "no user data leaves the message as is")
}

func TestRunAgentError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("upstream exploded")}
	d, sessions := newDispatcher(t, &spyGuard{}, exec)

	res := d.Run(context.Background(), Request{Message: "Hola", SessionKey: key})
	assert.Equal(t, ErrorMessage, res.FinalOutput)
	assert.Contains(t, res.Error, "upstream exploded")
	assert.NotContains(t, res.FinalOutput, "upstream")
	assert.Zero(t, transcriptLen(t, sessions))
}

func TestRunNilResult(t *testing.T) {
	exec := &fakeExecutor{empty: true}
	d, _ := newDispatcher(t, &spyGuard{}, exec)

	var res Result
	require.NotPanics(t, func() {
		res = d.Run(context.Background(), Request{Message: "Hola", SessionKey: key})
	})
	assert.Equal(t, ErrorMessage, res.FinalOutput)
	assert.Contains(t, res.Error, "agent returned no result")
}

func TestRunTimeout(t *testing.T) {
	exec := &fakeExecutor{delay: time.Minute}
	sessions := session.NewManager("", silentLog())
	defer sessions.Close()
	d := New(Config{TurnTimeout: 30 * time.Millisecond}, sessions, nil, exec, silentLog())

	start := time.Now()
	res := d.Run(context.Background(), Request{Message: "Hola", SessionKey: key})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, ErrorMessage, res.FinalOutput)
	assert.Contains(t, res.Error, ErrTimeout.Error())

	// The lock was released, so the next turn runs.
	exec.delay = 0
	res = d.Run(context.Background(), Request{Message: "Hola otra vez", SessionKey: key})
	assert.Equal(t, "respuesta", res.FinalOutput)
}

func TestRunSerializesSameSession(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	exec := &fakeExecutor{delay: 50 * time.Millisecond}
	exec.before = func(ctx context.Context, in agent.RunInput) {
		hist, err := in.Transcript.History(ctx, 0)
		assert.NoError(t, err)
		mu.Lock()
		seen = append(seen, len(hist))
		mu.Unlock()
	}
	d, sessions := newDispatcher(t, nil, exec)

	var wg sync.WaitGroup
	for _, msg := range []string{"uno", "dos"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			res := d.Run(context.Background(), Request{Message: msg, SessionKey: key})
			assert.Empty(t, res.Error)
		}(msg)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 2}, seen, "the second turn sees the first turn's transcript")
	assert.Equal(t, 4, transcriptLen(t, sessions))
}

func TestRunParallelAcrossSessions(t *testing.T) {
	exec := &fakeExecutor{delay: 200 * time.Millisecond}
	d, _ := newDispatcher(t, nil, exec)

	start := time.Now()
	var wg sync.WaitGroup
	for _, user := range []string{"111", "222", "333"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			d.Run(context.Background(), Request{Message: "Hola", SessionKey: domain.SessionKey{TenantID: "t1", UserKey: user}})
		}(user)
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 3, d.ActiveSessionCount())
}

func TestRunRebindsEachTurn(t *testing.T) {
	var refs []string
	exec := &fakeExecutor{}
	exec.before = func(ctx context.Context, in agent.RunInput) {
		refs = append(refs, in.Context.CRMStoreRef)
	}
	d, _ := newDispatcher(t, nil, exec)

	for _, ref := range []string{"crm-1", "crm-2", ""} {
		d.Run(context.Background(), Request{Message: "Hola", SessionKey: key, Binding: session.Binding{CRMStoreRef: ref}})
	}
	assert.Equal(t, []string{"crm-1", "crm-2", ""}, refs)
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	exec := &fakeExecutor{delay: 200 * time.Millisecond}
	d, _ := newDispatcher(t, nil, exec)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), Request{Message: "uno", SessionKey: key})
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := d.Run(ctx, Request{Message: "dos", SessionKey: key})
	assert.Equal(t, ErrorMessage, res.FinalOutput)
	assert.Contains(t, res.Error, "acquiring session")
	<-done
	assert.Equal(t, 1, exec.count())
}

func TestClearSession(t *testing.T) {
	d, _ := newDispatcher(t, nil, &fakeExecutor{})

	assert.False(t, d.ClearSession(key.String()))
	d.Run(context.Background(), Request{Message: "Hola", SessionKey: key})
	assert.Equal(t, 1, d.ActiveSessionCount())
	assert.True(t, d.ClearSession(key.String()))
	assert.Zero(t, d.ActiveSessionCount())
	assert.False(t, d.ClearSession(key.String()))
}

func TestRunWithRunner(t *testing.T) {
	mock := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "¡Hola! ¿En qué te ayudo?", Model: "mock", Usage: llm.Usage{InputTokens: 12, OutputTokens: 6}}, nil
		},
	}
	reg := llm.NewRegistry(silentLog())
	reg.Register("mock", mock)
	reg.SetFallback("mock")
	runner := agent.NewRunner(agent.RunnerConfig{AgentName: "Sofía", Model: "mock"}, reg, nil, nil, silentLog())

	d, sessions := newDispatcher(t, &spyGuard{}, runner)
	res := d.Run(context.Background(), Request{Message: "Hola", SessionKey: key, Instructions: "Sé amable."})
	assert.Equal(t, "¡Hola! ¿En qué te ayudo?", res.FinalOutput)
	assert.Equal(t, 18, res.Usage.TotalTokens)
	assert.Equal(t, 2, transcriptLen(t, sessions))
	assert.Equal(t, 1, mock.CallCount())
}
