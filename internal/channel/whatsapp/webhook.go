package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
)

// Payload is the Cloud API webhook envelope.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Message is one inbound user message.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Audio       *Media       `json:"audio,omitempty"`
	Video       *Media       `json:"video,omitempty"`
	Document    *Media       `json:"document,omitempty"`
	Button      *Button      `json:"button,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

type Reply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Metadata keys set by Parse.
const (
	MetaMediaID  = "media_id"
	MetaMimeType = "mime_type"
	MetaFilename = "filename"
)

var processable = map[string]bool{
	"text":        true,
	"audio":       true,
	"image":       true,
	"video":       true,
	"document":    true,
	"button":      true,
	"interactive": true,
}

// ErrNoMessage is returned by Parse when the payload carries no user message.
var ErrNoMessage = errors.New("whatsapp: payload has no message")

// Decode parses a raw webhook body.
func Decode(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding webhook: %w", err)
	}
	return p, nil
}

func (p Payload) value() (Value, bool) {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return Value{}, false
	}
	return p.Entry[0].Changes[0].Value, true
}

// PhoneNumberID returns the business number the payload was sent to.
func (p Payload) PhoneNumberID() string {
	v, _ := p.value()
	return strings.TrimSpace(v.Metadata.PhoneNumberID)
}

// ShouldProcess reports whether the payload is a user message worth
// answering. Status notifications, empty batches, messages without a
// sender and unsupported types are skipped; reason says why.
func ShouldProcess(p Payload) (ok bool, reason string) {
	v, found := p.value()
	switch {
	case !found:
		return false, "no entry"
	case len(v.Statuses) > 0:
		return false, "status " + v.Statuses[0].Status
	case len(v.Messages) == 0:
		return false, "no messages"
	case v.Messages[0].From == "":
		return false, "no sender"
	case !processable[v.Messages[0].Type]:
		return false, "unsupported type " + v.Messages[0].Type
	}
	return true, ""
}

// Parse converts the first message of p into the normalized descriptor.
// From is normalized with NormalizeNumber.
func Parse(p Payload) (domain.InboundMessage, error) {
	v, ok := p.value()
	if !ok || len(v.Messages) == 0 {
		return domain.InboundMessage{}, ErrNoMessage
	}
	m := v.Messages[0]

	msg := domain.InboundMessage{
		ID:        m.ID,
		Type:      domain.MessageType(m.Type),
		ChannelID: domain.ChannelWhatsApp,
		TenantID:  strings.TrimSpace(v.Metadata.PhoneNumberID),
		From:      NormalizeNumber(m.From),
		ReplyToID: m.ID,
		Timestamp: parseTimestamp(m.Timestamp),
		Metadata:  map[string]any{},
	}
	if len(v.Contacts) > 0 {
		msg.Username = v.Contacts[0].WaID
		msg.FromName = v.Contacts[0].Profile.Name
	}

	switch {
	case m.Text != nil:
		msg.Body = m.Text.Body
	case m.Button != nil:
		msg.Body = m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		msg.Body = m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		msg.Body = m.Interactive.ListReply.Title
	}
	if media := m.media(); media != nil {
		if msg.Body == "" {
			msg.Body = media.Caption
		}
		msg.Metadata[MetaMediaID] = media.ID
		if media.MimeType != "" {
			msg.Metadata[MetaMimeType] = media.MimeType
		}
		if media.Filename != "" {
			msg.Metadata[MetaFilename] = media.Filename
		}
	}
	return msg, nil
}

func (m Message) media() *Media {
	switch {
	case m.Image != nil:
		return m.Image
	case m.Audio != nil:
		return m.Audio
	case m.Video != nil:
		return m.Video
	case m.Document != nil:
		return m.Document
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

// NormalizeNumber keeps digits only and rewrites Argentine mobile numbers
// to the form the Cloud API accepts: the 9 after the country code is
// dropped and 15 is inserted after a three digit area code
// (5493412732652 becomes 54341152732652). Other countries pass through.
func NormalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	if !strings.HasPrefix(n, "54") {
		return n
	}
	rest := strings.TrimPrefix(n[2:], "9")
	if len(rest) < 3 {
		return n
	}
	return "54" + rest[:3] + "15" + rest[3:]
}
