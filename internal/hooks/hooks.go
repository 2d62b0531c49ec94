// Package hooks dispatches pipeline lifecycle events to registered handlers.
// A nil *Manager is valid and drops every event.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

// Pipeline events.
const (
	EventMessageReceived  = "message_received"
	EventMessageSending   = "message_sending"
	EventBeforeAgentRun   = "before_agent_run"
	EventAfterAgentRun    = "after_agent_run"
	EventGuardrailBlocked = "guardrail_blocked"
	EventSessionStart     = "session_start"
	EventSessionEnd       = "session_end"
	EventGatewayStart     = "gateway_start"
	EventGatewayStop      = "gateway_stop"
)

// AllEvents lists every event in pipeline order.
var AllEvents = []string{
	EventGatewayStart,
	EventMessageReceived,
	EventSessionStart,
	EventGuardrailBlocked,
	EventBeforeAgentRun,
	EventAfterAgentRun,
	EventMessageSending,
	EventSessionEnd,
	EventGatewayStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. A returned error is logged and never stops
// the pipeline or the remaining handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager holds hook registrations per event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
	now      func() time.Time
}

type namedHandler struct {
	name    string
	handler Handler
	async   bool
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
		now:      time.Now,
	}
}

// On registers a handler that Emit runs inline, in registration order.
func (m *Manager) On(event, name string, handler Handler) {
	m.add(event, namedHandler{name: name, handler: handler})
}

// OnAsync registers a handler that always runs on its own goroutine,
// detached from the emitter's cancellation.
func (m *Manager) OnAsync(event, name string, handler Handler) {
	m.add(event, namedHandler{name: name, handler: handler, async: true})
}

func (m *Manager) add(event string, h namedHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
	m.log.Debug().Str("event", event).Str("handler", h.name).Bool("async", h.async).Msg("hook registered")
}

// Off removes every handler named name from event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.handlers[event][:0:0]
	for _, h := range m.handlers[event] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = kept
}

// Emit runs inline handlers synchronously and starts async ones.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	m.emit(ctx, event, data, false)
}

// EmitAsync starts every handler on its own goroutine and returns at once.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	m.emit(ctx, event, data, true)
}

func (m *Manager) emit(ctx context.Context, event string, data map[string]any, allAsync bool) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	p := Payload{Event: event, Time: m.now(), Data: data}
	for _, h := range handlers {
		if h.async || allAsync {
			go m.run(context.WithoutCancel(ctx), h, p)
			continue
		}
		m.run(ctx, h, p)
	}
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
