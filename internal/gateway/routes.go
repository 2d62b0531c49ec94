package gateway

import "net/http"

// maxWebhookBody caps inbound webhook bodies.
const maxWebhookBody = 1 << 20

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// WhatsApp Cloud API
	mux.HandleFunc("GET /webhook", s.handleVerify)
	mux.HandleFunc("POST /webhook", s.handleWhatsApp)

	// Web widget
	mux.HandleFunc("POST /webhook/web/{phone_number_id}", s.handleWeb)
	mux.HandleFunc("GET /ws/web/{phone_number_id}", s.handleWebSocket)

	// Admin
	mux.HandleFunc("GET /admin/status", s.requireAdmin(s.handleStatus))
	mux.HandleFunc("GET /admin/sessions", s.requireAdmin(s.handleSessionCount))
	mux.HandleFunc("DELETE /admin/sessions/{key}", s.requireAdmin(s.handleSessionClear))
	mux.HandleFunc("DELETE /admin/tenants/{phone_number_id}/cache", s.requireAdmin(s.handleTenantFlush))

	if s.cfg.Gateway.Metrics && s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// requireAdmin guards next with the admin bearer token. Repeated failures
// from one address are rate limited.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.allow(r.RemoteAddr) {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
			writeJSON(w, http.StatusTooManyRequests, errorBody("too many requests"))
			return
		}
		if res := Authorize(s.adminToken, r); !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("admin auth failed")
			writeJSON(w, http.StatusUnauthorized, errorBody(res.Reason))
			return
		}
		next(w, r)
	}
}
