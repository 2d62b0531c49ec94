package domain

import "time"

// Channel identifiers.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelWeb      = "web"
	ChannelConsole  = "console"
	ChannelMCP      = "mcp"
)

// MessageType classifies the inbound payload.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageAudio       MessageType = "audio"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageDocument    MessageType = "document"
	MessageButton      MessageType = "button"
	MessageInteractive MessageType = "interactive"
)

// InboundMessage is the normalized descriptor every channel produces.
type InboundMessage struct {
	ID          string         `json:"id,omitempty"`
	Type        MessageType    `json:"type"`
	ChannelID   string         `json:"channelId"`
	TenantID    string         `json:"tenantId"` // routing id the message arrived on
	From        string         `json:"from"`
	FromName    string         `json:"fromName,omitempty"`
	Username    string         `json:"username,omitempty"`
	Body        string         `json:"body"`
	ReplyToID   string         `json:"replyToId,omitempty"`
	CallbackURL string         `json:"callbackUrl,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// OutboundMessage is a reply to be sent via a channel.
type OutboundMessage struct {
	ChannelID   string         `json:"channelId"`
	TenantID    string         `json:"tenantId,omitempty"`
	To          string         `json:"to"`
	Body        string         `json:"body"`
	ReplyToID   string         `json:"replyToId,omitempty"`
	CallbackURL string         `json:"callbackUrl,omitempty"`
	AccessToken string         `json:"-"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
