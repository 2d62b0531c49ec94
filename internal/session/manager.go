// Package session owns conversation transcripts and their agent contexts,
// one handle per session key, with turns serialized per key.
package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/store"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("session: manager closed")

// Handle is the single live in-process handle for one session key.
type Handle struct {
	Key        string
	Transcript *store.Transcript
	Context    *AgentContext
	CreatedAt  time.Time

	sem     chan struct{}
	cleared bool // guarded by sem
}

func (h *Handle) lock(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) unlock() { <-h.sem }

// Manager is the session registry. The zero value is not usable; call
// NewManager.
type Manager struct {
	dir     string
	root    *logging.Logger
	log     *logging.Logger
	hooks   *hooks.Manager
	metrics *observability.Metrics

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks emits session_start and session_end through hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(m *Manager) { m.hooks = hm }
}

// WithMetrics reports the active session count.
func WithMetrics(mt *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager storing one transcript database per key in
// dir. An empty dir keeps transcripts in memory.
func NewManager(dir string, log *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		dir:     dir,
		root:    log,
		log:     log.Sub("session"),
		handles: make(map[string]*Handle),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Path returns the transcript file for key, or ":memory:" when the manager
// has no directory.
func (m *Manager) Path(key string) string {
	if m.dir == "" {
		return ":memory:"
	}
	return filepath.Join(m.dir, domain.EscapeFileName(key)+".db")
}

// Acquire returns the handle for key with the key's turn lock held, and
// rebinds its AgentContext to b. The caller must call release exactly once.
// Waiting honours ctx cancellation.
func (m *Manager) Acquire(ctx context.Context, key domain.SessionKey, b Binding) (*Handle, func(), error) {
	k := key.String()
	for {
		h, created, err := m.getOrCreate(k)
		if err != nil {
			return nil, nil, err
		}
		if created {
			m.hooks.Emit(ctx, hooks.EventSessionStart, map[string]any{"sessionKey": k, "tenantId": b.TenantID})
		}

		if err := h.lock(ctx); err != nil {
			return nil, nil, err
		}
		if h.cleared {
			// Cleared while we waited; start over on a fresh handle.
			h.unlock()
			continue
		}

		h.Context.Rebind(b)
		var once sync.Once
		return h, func() { once.Do(h.unlock) }, nil
	}
}

// getOrCreate closes the check-then-act race on the registry: the lookup and
// the insert happen under one lock.
func (m *Manager) getOrCreate(k string) (*Handle, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrClosed
	}
	if h, ok := m.handles[k]; ok {
		return h, false, nil
	}

	tr, err := store.OpenTranscript(m.Path(k), k, m.root)
	if err != nil {
		return nil, false, err
	}
	h := &Handle{
		Key:        k,
		Transcript: tr,
		Context:    &AgentContext{Scratch: map[string]string{}},
		CreatedAt:  time.Now(),
		sem:        make(chan struct{}, 1),
	}
	m.handles[k] = h
	m.metrics.SetActiveSessions(len(m.handles))
	m.log.Debug().Str("sessionKey", k).Msg("session opened")
	return h, true, nil
}

// Clear drops the handle for key and deletes its transcript, waiting for any
// in-flight turn on the key to finish. It reports whether anything existed.
func (m *Manager) Clear(key string) bool {
	m.mu.Lock()
	h, ok := m.handles[key]
	if !ok {
		// Held under mu so no Acquire can reopen the file meanwhile.
		defer m.mu.Unlock()
		return m.removeOrphan(key)
	}
	m.mu.Unlock()

	// Wait for the running turn, if any.
	h.sem <- struct{}{}
	defer h.unlock()
	if h.cleared {
		return false
	}

	// mu stays held until the file is gone so a racing Acquire cannot
	// reopen the transcript being deleted.
	m.mu.Lock()
	if m.handles[key] == h {
		delete(m.handles, key)
	}
	h.cleared = true
	if err := h.Transcript.Close(); err != nil {
		m.log.Warn().Err(err).Str("sessionKey", key).Msg("closing transcript")
	}
	if m.dir != "" {
		if err := store.Remove(m.Path(key)); err != nil {
			m.log.Warn().Err(err).Str("sessionKey", key).Msg("removing transcript")
		}
	}
	n := len(m.handles)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(n)

	m.hooks.Emit(context.Background(), hooks.EventSessionEnd, map[string]any{"sessionKey": key})
	m.log.Info().Str("sessionKey", key).Msg("session cleared")
	return true
}

// removeOrphan deletes a transcript file left by a previous process.
func (m *Manager) removeOrphan(key string) bool {
	if m.dir == "" {
		return false
	}
	path := m.Path(key)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := store.Remove(path); err != nil {
		m.log.Warn().Err(err).Str("sessionKey", key).Msg("removing transcript")
		return false
	}
	m.log.Info().Str("sessionKey", key).Msg("session cleared from disk")
	return true
}

// CountActive returns the number of live handles.
func (m *Manager) CountActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Keys returns the live session keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.handles))
	for k := range m.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every transcript. Handles in use are closed once their
// current turn ends. Acquire fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handles := m.handles
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(0)

	var errs []error
	for k, h := range handles {
		h.sem <- struct{}{}
		h.cleared = true
		if err := h.Transcript.Close(); err != nil {
			errs = append(errs, err)
		}
		h.unlock()
		m.log.Debug().Str("sessionKey", k).Msg("session closed")
	}
	return errors.Join(errs...)
}
