package domain

import "context"

// ChannelCapabilities describes what a channel implementation supports.
type ChannelCapabilities struct {
	Typing bool `json:"typing,omitempty"`
	Reply  bool `json:"reply,omitempty"`
	Push   bool `json:"push,omitempty"` // live delivery to connected clients
}

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is the interface that all messaging channel implementations must satisfy.
type Channel interface {
	// ID returns the channel identifier ("whatsapp", "web").
	ID() string

	// Capabilities returns what this channel supports.
	Capabilities() ChannelCapabilities

	// Start prepares the channel for traffic.
	Start(ctx context.Context) error

	// Stop releases channel resources.
	Stop(ctx context.Context) error

	// Send delivers an outbound message through this channel.
	Send(ctx context.Context, msg OutboundMessage) error

	// OnMessage registers a handler for inbound messages.
	OnMessage(handler func(msg InboundMessage))
}
