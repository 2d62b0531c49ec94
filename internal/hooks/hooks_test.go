package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var called bool
	m.On(EventGatewayStart, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventGatewayStart, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, called)
}

func TestManager_Emit_MultipleHandlers(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventMessageReceived, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	m.On(EventMessageReceived, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventMessageReceived, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManager_Emit_WithData(t *testing.T) {
	m := testManager()

	var gotData map[string]any
	m.On(EventMessageReceived, "test", func(_ context.Context, p Payload) error {
		gotData = p.Data
		return nil
	})

	m.Emit(context.Background(), EventMessageReceived, map[string]any{
		"channel": "whatsapp",
		"from":    "5551234567",
	})

	assert.Equal(t, "whatsapp", gotData["channel"])
	assert.Equal(t, "5551234567", gotData["from"])
}

func TestManager_Emit_HandlerError(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventGatewayStart, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventGatewayStart, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	// Should not panic; second handler should still run
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, secondCalled)
}

func TestManager_Emit_NoHandlers(t *testing.T) {
	m := testManager()
	// Should not panic
	m.Emit(context.Background(), EventGatewayStop, nil)
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	var callCount int
	m.On(EventGatewayStart, "removable", func(_ context.Context, _ Payload) error {
		callCount++
		return nil
	})

	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.Equal(t, 1, callCount)

	m.Off(EventGatewayStart, "removable")
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.Equal(t, 1, callCount) // should not have been called again
}

func TestManager_Off_KeepsOthers(t *testing.T) {
	m := testManager()

	var keepCalled int
	m.On(EventGatewayStart, "remove-me", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventGatewayStart, "keep-me", func(_ context.Context, _ Payload) error {
		keepCalled++
		return nil
	})

	m.Off(EventGatewayStart, "remove-me")
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.Equal(t, 1, keepCalled)
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	m.On(EventMessageSending, "async1", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})
	m.On(EventMessageSending, "async2", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})

	m.EmitAsync(context.Background(), EventMessageSending, nil)

	// Wait with timeout
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}

	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Count(t *testing.T) {
	m := testManager()

	assert.Equal(t, 0, m.Count(EventGatewayStart))

	m.On(EventGatewayStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 1, m.Count(EventGatewayStart))

	m.On(EventGatewayStart, "h2", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 2, m.Count(EventGatewayStart))
}

func TestManager_Events(t *testing.T) {
	m := testManager()

	m.On(EventGatewayStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventMessageReceived, "h2", func(_ context.Context, _ Payload) error { return nil })

	assert.Equal(t, []string{EventGatewayStart, EventMessageReceived}, m.Events())
}

func TestAllEvents_NotEmpty(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventGatewayStart)
	assert.Contains(t, AllEvents, EventMessageReceived)
	assert.Contains(t, AllEvents, EventGuardrailBlocked)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventGuardrailBlocked, map[string]any{"label": "x"})
		m.EmitAsync(context.Background(), EventSessionEnd, nil)
	})
	assert.Equal(t, 0, m.Count(EventSessionStart))
}

func TestCommandHandler_ReceivesPayload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "payload.json")
	h := CommandHandler("cat > "+out, time.Second)

	err := h(context.Background(), Payload{Event: EventGuardrailBlocked, Data: map[string]any{"sessionKey": "t1:555"}})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var p Payload
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, EventGuardrailBlocked, p.Event)
	assert.Equal(t, "t1:555", p.Data["sessionKey"])
}

func TestCommandHandler_Failure(t *testing.T) {
	h := CommandHandler("echo nope >&2; exit 3", time.Second)
	err := h(context.Background(), Payload{Event: EventGatewayStart})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestCommandHandler_Timeout(t *testing.T) {
	h := CommandHandler("sleep 5", 50*time.Millisecond)
	start := time.Now()
	assert.Error(t, h(context.Background(), Payload{Event: EventGatewayStop}))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRegisterCommands(t *testing.T) {
	m := testManager()
	n := RegisterCommands(m, config.HooksConfig{
		MessageReceived:  []config.HookEntry{{Command: "true"}, {Command: "  "}},
		GuardrailBlocked: []config.HookEntry{{Command: "true", Timeout: 200}},
		GatewayStop:      []config.HookEntry{{Command: "true"}},
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, m.Count(EventMessageReceived))
	assert.Equal(t, 1, m.Count(EventGuardrailBlocked))
	assert.Equal(t, 1, m.Count(EventGatewayStop))
	assert.Equal(t, 0, m.Count(EventGatewayStart))
}

func TestManager_PayloadTime(t *testing.T) {
	m := testManager()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	var got Payload
	m.On(EventSessionStart, "spy", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})
	m.Emit(context.Background(), EventSessionStart, map[string]any{"sessionKey": "PN1:555"})
	assert.Equal(t, at, got.Time)
	assert.Equal(t, EventSessionStart, got.Event)
}

func TestManager_OnAsync_DetachedFromCaller(t *testing.T) {
	m := testManager()

	errs := make(chan error, 1)
	m.OnAsync(EventMessageReceived, "slow", func(ctx context.Context, _ Payload) error {
		time.Sleep(20 * time.Millisecond)
		errs <- ctx.Err()
		return nil
	})
	var inline bool
	m.On(EventMessageReceived, "inline", func(_ context.Context, _ Payload) error {
		inline = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Emit(ctx, EventMessageReceived, nil)
	assert.True(t, inline, "inline handlers finish before Emit returns")
	cancel()

	select {
	case err := <-errs:
		assert.NoError(t, err, "async handler must not see the caller's cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestManager_Off_LastHandlerDropsEvent(t *testing.T) {
	m := testManager()
	m.On(EventGatewayStop, "only", func(_ context.Context, _ Payload) error { return nil })
	require.Equal(t, []string{EventGatewayStop}, m.Events())

	m.Off(EventGatewayStop, "only")
	assert.Empty(t, m.Events())
	assert.Equal(t, 0, m.Count(EventGatewayStop))
}

func TestRegisterCommands_AgentAndSessionEvents(t *testing.T) {
	m := testManager()
	n := RegisterCommands(m, config.HooksConfig{
		BeforeAgentRun: []config.HookEntry{{Command: "true"}},
		AfterAgentRun:  []config.HookEntry{{Command: "true"}},
		SessionStart:   []config.HookEntry{{Command: "true"}},
		SessionEnd:     []config.HookEntry{{Command: "true"}, {Command: "true"}},
	})
	assert.Equal(t, 5, n)
	assert.Equal(t, 2, m.Count(EventSessionEnd))
	assert.Equal(t, []string{EventAfterAgentRun, EventBeforeAgentRun, EventSessionEnd, EventSessionStart}, m.Events())
}
