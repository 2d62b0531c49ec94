package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
)

// DefaultUserName is used when the request carries no user name.
const DefaultUserName = "Usuario Web"

var (
	ErrMissingSession = errors.New("Falta userPhone o session_id")
	ErrMissingMessage = errors.New("Falta message")
)

// Request is the inbound web webhook body. Widgets in the wild send both
// snake and camel case, so each field has an alias.
type Request struct {
	UserPhone   string `json:"userPhone"`
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	Text        string `json:"text"`
	UserName    string `json:"user_name"`
	UserNameAlt string `json:"userName"`
	WebhookURL  string `json:"webhook_url"`
	WebhookAlt  string `json:"webhookUrl"`
}

// DecodeRequest parses and validates a web webhook body.
func DecodeRequest(body []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(body, &r); err != nil {
		return Request{}, fmt.Errorf("decoding web request: %w", err)
	}
	if r.Session() == "" {
		return r, ErrMissingSession
	}
	if r.Body() == "" {
		return r, ErrMissingMessage
	}
	return r, nil
}

func (r Request) Session() string {
	return strings.TrimSpace(firstNonEmpty(r.UserPhone, r.SessionID))
}

func (r Request) Body() string {
	return strings.TrimSpace(firstNonEmpty(r.Message, r.Text))
}

func (r Request) Name() string {
	if n := strings.TrimSpace(firstNonEmpty(r.UserName, r.UserNameAlt)); n != "" {
		return n
	}
	return DefaultUserName
}

func (r Request) Callback() string {
	return strings.TrimSpace(firstNonEmpty(r.WebhookURL, r.WebhookAlt))
}

// Inbound converts the request into the normalized descriptor for the
// given business number.
func (r Request) Inbound(phoneNumberID string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:          uuid.New().String(),
		Type:        domain.MessageText,
		ChannelID:   domain.ChannelWeb,
		TenantID:    phoneNumberID,
		From:        r.Session(),
		FromName:    r.Name(),
		Username:    r.Name(),
		Body:        r.Body(),
		CallbackURL: r.Callback(),
		Timestamp:   time.Now(),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
