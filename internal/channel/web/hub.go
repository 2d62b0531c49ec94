package web

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

var ErrSubscriberClosed = errors.New("subscriber connection closed")

const writeWait = 10 * time.Second

// Subscriber is one WebSocket connection following a web session.
type Subscriber struct {
	ConnID      string
	TenantID    string
	SessionID   string
	ConnectedAt time.Time

	socket *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// Send writes v as a JSON text frame. Thread-safe.
func (s *Subscriber) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	s.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return s.socket.WriteJSON(v)
}

// Close closes the connection.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.socket.Close()
}

type topic struct {
	tenantID  string
	sessionID string
}

// Hub tracks WebSocket subscribers per tenant and web session.
type Hub struct {
	mu     sync.RWMutex
	topics map[topic]map[string]*Subscriber
	log    *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		topics: make(map[topic]map[string]*Subscriber),
		log:    log.Sub("web-hub"),
	}
}

// Subscribe registers conn for replies addressed to sessionID of tenantID.
func (h *Hub) Subscribe(conn *websocket.Conn, tenantID, sessionID string) *Subscriber {
	sub := &Subscriber{
		ConnID:      uuid.New().String(),
		TenantID:    tenantID,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		socket:      conn,
	}
	t := topic{tenantID, sessionID}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[t] == nil {
		h.topics[t] = make(map[string]*Subscriber)
	}
	h.topics[t][sub.ConnID] = sub
	h.log.Info().Str("connId", sub.ConnID).Str("tenant", tenantID).Str("sessionId", sessionID).Msg("subscriber connected")
	return sub
}

// Remove unregisters and closes sub.
func (h *Hub) Remove(sub *Subscriber) {
	t := topic{sub.TenantID, sub.SessionID}
	h.mu.Lock()
	if subs, ok := h.topics[t]; ok {
		delete(subs, sub.ConnID)
		if len(subs) == 0 {
			delete(h.topics, t)
		}
	}
	h.mu.Unlock()
	sub.Close()
	h.log.Info().Str("connId", sub.ConnID).Msg("subscriber disconnected")
}

// Serve reads from sub until the peer goes away, then removes it.
// Inbound frames are ignored; messages arrive over HTTP.
func (h *Hub) Serve(sub *Subscriber) {
	defer h.Remove(sub)
	for {
		if _, _, err := sub.socket.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("connId", sub.ConnID).Msg("read error")
			}
			return
		}
	}
}

// Push sends v to every subscriber of the session and returns how many
// received it.
func (h *Hub) Push(tenantID, sessionID string, v any) int {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.topics[topic{tenantID, sessionID}]))
	for _, s := range h.topics[topic{tenantID, sessionID}] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range subs {
		if err := s.Send(v); err != nil {
			h.log.Warn().Err(err).Str("connId", s.ConnID).Msg("push failed")
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}

// CloseAll closes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t, subs := range h.topics {
		for _, s := range subs {
			s.Close()
		}
		delete(h.topics, t)
	}
}
