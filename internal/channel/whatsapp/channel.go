// Package whatsapp implements the WhatsApp Cloud API channel: webhook
// payload parsing, text replies, typing indicators and voice note
// transcription.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

// AudioFallback replaces the body of a voice note that could not be
// transcribed.
const AudioFallback = "No pude procesar tu audio."

// ErrIncomplete is returned by Send when the reply lacks a recipient, a
// body or tenant credentials.
var ErrIncomplete = errors.New("whatsapp: incomplete outbound message")

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Channel implements domain.Channel for WhatsApp. Outbound messages carry
// the tenant's phone number id in TenantID and its token in AccessToken.
type Channel struct {
	client      *Client
	transcriber Transcriber
	log         *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	lastErr string
}

// New creates the channel. transcriber may be nil, in which case voice
// notes are answered with AudioFallback.
func New(client *Client, transcriber Transcriber, log *logging.Logger) *Channel {
	return &Channel{client: client, transcriber: transcriber, log: log.Sub("whatsapp")}
}

func (c *Channel) ID() string { return domain.ChannelWhatsApp }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{Typing: true, Reply: true}
}

// Start is a no-op; inbound traffic arrives through the gateway webhook.
func (c *Channel) Start(_ context.Context) error { return nil }

func (c *Channel) Stop(_ context.Context) error { return nil }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Receive hands a parsed message to the registered handler in the
// background. It reports false when no handler is registered.
func (c *Channel) Receive(msg domain.InboundMessage) bool {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		c.log.Warn().Str("messageId", msg.ID).Msg("no handler registered, dropping message")
		return false
	}
	go h(msg)
	return true
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: domain.ChannelWhatsApp,
		Connected: true,
		Running:   true,
		LastError: c.lastErr,
	}
}

func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.To == "" || msg.Body == "" || msg.AccessToken == "" || msg.TenantID == "" {
		return fmt.Errorf("%w: to=%t body=%t token=%t phoneId=%t", ErrIncomplete,
			msg.To != "", msg.Body != "", msg.AccessToken != "", msg.TenantID != "")
	}
	if err := c.client.SendText(ctx, msg.AccessToken, msg.TenantID, msg.To, msg.Body, msg.ReplyToID); err != nil {
		c.setErr(err)
		return err
	}
	return nil
}

// SendTyping marks the inbound message in ReplyToID as read and shows the
// typing indicator.
func (c *Channel) SendTyping(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.ReplyToID == "" || msg.AccessToken == "" || msg.TenantID == "" {
		return nil
	}
	return c.client.SendTyping(ctx, msg.AccessToken, msg.TenantID, msg.ReplyToID)
}

// PrepareInbound fills the body of voice notes with their transcription,
// using the tenant's token to download the audio. Other messages are
// returned unchanged.
func (c *Channel) PrepareInbound(ctx context.Context, msg domain.InboundMessage, accessToken string) domain.InboundMessage {
	if msg.Type != domain.MessageAudio {
		return msg
	}
	mediaID, _ := msg.Metadata[MetaMediaID].(string)
	if mediaID == "" {
		return msg
	}
	text, err := c.transcribe(ctx, accessToken, mediaID, msg.Metadata[MetaMimeType])
	if err != nil {
		c.log.Error().Err(err).Str("messageId", msg.ID).Msg("transcribing audio")
		msg.Body = AudioFallback
		return msg
	}
	msg.Body = text
	return msg
}

func (c *Channel) transcribe(ctx context.Context, token, mediaID string, mime any) (string, error) {
	if c.transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	url, err := c.client.MediaURL(ctx, token, mediaID)
	if err != nil {
		return "", err
	}
	audio, err := c.client.Download(ctx, token, url)
	if err != nil {
		return "", err
	}
	text, err := c.transcriber.Transcribe(ctx, "audio"+audioExt(mime), audio)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty transcription")
	}
	return text, nil
}

func audioExt(mime any) string {
	s, _ := mime.(string)
	switch {
	case strings.Contains(s, "mpeg"):
		return ".mp3"
	case strings.Contains(s, "mp4"), strings.Contains(s, "aac"):
		return ".m4a"
	case strings.Contains(s, "amr"):
		return ".amr"
	default:
		return ".ogg"
	}
}

func (c *Channel) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}
