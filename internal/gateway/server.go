// Package gateway serves the inbound webhooks, the web widget websocket,
// the admin endpoints and the metrics scrape endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel/web"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/hooks"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/routing"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/version"
)

// Inbound runs the pipeline for one message. *routing.Router implements it.
type Inbound interface {
	HandleInbound(ctx context.Context, msg domain.InboundMessage) routing.Outcome
}

// Sessions is the admin view of the session store. *dispatch.Dispatcher
// implements it.
type Sessions interface {
	ClearSession(key string) bool
	ActiveSessionCount() int
}

// Receiver accepts a parsed WhatsApp message for background processing.
// *whatsapp.Channel implements it.
type Receiver interface {
	Receive(msg domain.InboundMessage) bool
}

// TenantCache is the admin view of the tenant cache. *tenant.Resolver
// implements it.
type TenantCache interface {
	Invalidate(routingID string) (domain.Tenant, bool)
}

// InstructionCache is the admin view of the instruction document cache.
// *instructions.Provider implements it.
type InstructionCache interface {
	Invalidate(ref string)
}

// Server is the fordez gateway HTTP + WebSocket server.
type Server struct {
	cfg        config.Config
	adminToken string
	log        *logging.Logger
	version    string

	// Each collaborator is optional; the routes that need a missing one
	// answer 503.
	channels *channel.Registry
	hooks    *hooks.Manager
	metrics  *observability.Metrics
	inbound  Inbound
	sessions Sessions
	whatsapp Receiver
	hub      *web.Hub
	tenants  TenantCache
	docs     InstructionCache

	mu          sync.Mutex
	startedAt   time.Time
	addr        string
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithChannels sets the channel registry for status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithMetrics exposes mt on /metrics when the gateway enables it.
func WithMetrics(mt *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = mt }
}

// WithInbound sets the pipeline the web webhook runs synchronously.
func WithInbound(in Inbound) ServerOption {
	return func(s *Server) { s.inbound = in }
}

// WithSessions enables the admin session endpoints.
func WithSessions(sess Sessions) ServerOption {
	return func(s *Server) { s.sessions = sess }
}

// WithWhatsApp sets the channel that receives WhatsApp webhook messages.
func WithWhatsApp(r Receiver) ServerOption {
	return func(s *Server) { s.whatsapp = r }
}

// WithCaches enables the admin cache flush endpoint.
func WithCaches(t TenantCache, docs InstructionCache) ServerOption {
	return func(s *Server) {
		s.tenants = t
		s.docs = docs
	}
}

// WithWebHub enables the web widget websocket endpoint.
func WithWebHub(h *web.Hub) ServerOption {
	return func(s *Server) { s.hub = h }
}

// New creates a new gateway server.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		adminToken:  ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Web webhook requests wait for the whole turn.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Bool("admin", s.adminToken != "").
		Bool("metrics", s.cfg.Gateway.Metrics).
		Msg("gateway server starting")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.hub != nil {
			s.hub.CloseAll()
		}
		s.authLimiter.close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
