package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel/web"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/channel/whatsapp"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/routing"
)

// Texts returned to web widget callers.
const (
	disabledMessage   = "El agente está desactivado para este negocio"
	incompleteMessage = "Configuración incompleta: falta role_id"
)

// HealthResponse is returned by health endpoints. The public endpoint only
// populates Status; /admin/status fills in the rest.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version,omitempty"`
	UptimeMs    int64                  `json:"uptimeMs,omitempty"`
	Sessions    int                    `json:"sessions,omitempty"`
	Subscribers int                    `json:"subscribers,omitempty"`
	Channels    []domain.ChannelStatus `json:"channels,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorBody(message string) map[string]string {
	return map[string]string{"status": "error", "message": message}
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus returns detailed runtime status for operators.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		UptimeMs: s.uptime().Milliseconds(),
	}
	if s.sessions != nil {
		resp.Sessions = s.sessions.ActiveSessionCount()
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Count()
	}
	if s.channels != nil {
		resp.Channels = s.channels.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVerify answers the Cloud API subscription challenge.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := s.cfg.WhatsApp.VerifyToken
	if q.Get("hub.mode") != "subscribe" || token == "" || !safeEqual(q.Get("hub.verify_token"), token) {
		s.log.Warn().Str("mode", q.Get("hub.mode")).Msg("webhook verification failed")
		http.Error(w, "verify token mismatch", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, q.Get("hub.challenge"))
}

// handleWhatsApp acknowledges a Cloud API webhook immediately and hands the
// message to the channel, which processes it in the background.
func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	if s.whatsapp == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("whatsapp channel not configured"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("body too large"))
		return
	}
	payload, err := whatsapp.Decode(body)
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid whatsapp payload")
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}

	if ok, reason := whatsapp.ShouldProcess(payload); !ok {
		s.log.Debug().Str("reason", reason).Msg("webhook ignored")
		s.metrics.InboundMessage(domain.ChannelWhatsApp, "skipped")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": reason})
		return
	}

	msg, err := whatsapp.Parse(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("unparseable whatsapp message")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": err.Error()})
		return
	}
	if !s.whatsapp.Receive(msg) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("no message handler"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// handleWeb runs the pipeline for a web widget message and answers with
// the outcome. The reply also goes to the caller's webhook_url or the
// session's websocket subscribers.
func (s *Server) handleWeb(w http.ResponseWriter, r *http.Request) {
	if s.inbound == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("pipeline not configured"))
		return
	}
	phoneNumberID := r.PathValue("phone_number_id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("body too large"))
		return
	}
	req, err := web.DecodeRequest(body)
	if err != nil {
		msg := err.Error()
		if !errors.Is(err, web.ErrMissingSession) && !errors.Is(err, web.ErrMissingMessage) {
			msg = "JSON inválido"
		}
		writeJSON(w, http.StatusBadRequest, errorBody(msg))
		return
	}

	// The turn outlives a client that hangs up mid-request.
	ctx := context.WithoutCancel(r.Context())
	out := s.inbound.HandleInbound(ctx, req.Inbound(phoneNumberID))

	switch out.Status {
	case routing.StatusNotFound:
		writeJSON(w, http.StatusNotFound, errorBody("Phone ID "+phoneNumberID+" no encontrado"))
	case routing.StatusIncomplete:
		writeJSON(w, http.StatusBadRequest, errorBody(incompleteMessage))
	case routing.StatusDisabled:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":          "disabled",
			"message":         disabledMessage,
			"phone_number_id": phoneNumberID,
		})
	case routing.StatusIgnored:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		writeJSON(w, http.StatusOK, webReply{
			Status:        "ok",
			SessionID:     req.Session(),
			PhoneNumberID: phoneNumberID,
			BusinessName:  out.BusinessName,
			UserData:      out.UserData,
			MessageSent:   out.Delivered,
			Reply:         out.Reply,
		})
	}
}

type webReply struct {
	Status        string            `json:"status"`
	SessionID     string            `json:"session_id"`
	PhoneNumberID string            `json:"phone_number_id"`
	BusinessName  string            `json:"business_name"`
	UserData      map[string]string `json:"user_data"`
	MessageSent   bool              `json:"message_sent"`
	Reply         string            `json:"reply"`
}

// handleWebSocket subscribes a widget to replies for one session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("web channel not configured"))
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(web.ErrMissingSession.Error()))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(64 * 1024)

	sub := s.hub.Subscribe(conn, r.PathValue("phone_number_id"), sessionID)
	s.hub.Serve(sub)
}

func (s *Server) handleSessionCount(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("sessions not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"active": s.sessions.ActiveSessionCount()})
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("sessions not configured"))
		return
	}
	key := r.PathValue("key")
	cleared := s.sessions.ClearSession(key)
	s.log.Info().Str("sessionKey", key).Bool("cleared", cleared).Msg("admin cleared session")
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "cleared": cleared})
}

// handleTenantFlush evicts a tenant and every instruction document it
// references, so edits to the credentials sheet or the documents apply on
// the next message.
func (s *Server) handleTenantFlush(w http.ResponseWriter, r *http.Request) {
	if s.tenants == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("caches not configured"))
		return
	}
	id := r.PathValue("phone_number_id")
	t, cached := s.tenants.Invalidate(id)

	docs := 0
	if cached && s.docs != nil {
		for _, ref := range tenantDocRefs(t) {
			s.docs.Invalidate(ref)
			docs++
		}
	}
	s.log.Info().Str("tenantId", id).Bool("cached", cached).Int("documents", docs).Msg("admin flushed tenant cache")
	writeJSON(w, http.StatusOK, map[string]any{
		"phone_number_id": id,
		"cached":          cached,
		"documents":       docs,
	})
}

// tenantDocRefs returns the distinct non-empty document refs of t.
func tenantDocRefs(t domain.Tenant) []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	add(t.InstructionRef)
	for _, col := range []string{domain.ColRoleQualifier, domain.ColRoleMeeting, domain.ColRoleTracking} {
		add(t.RoleDocs[col])
	}
	return refs
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}
