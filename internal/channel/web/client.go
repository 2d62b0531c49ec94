package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/version"
)

const (
	replyTimeout  = 10 * time.Second
	typingTimeout = 5 * time.Second
)

// ReplyPayload is posted to the caller's webhook URL.
type ReplyPayload struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TypingPayload tells the caller a reply is being prepared.
type TypingPayload struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
}

// CallbackError is a non-2xx answer from a callback URL.
type CallbackError struct {
	Status int
	Body   string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("web callback returned %d: %s", e.Status, e.Body)
}

// Client posts replies and typing notices to web callback URLs.
type Client struct {
	http         *http.Client
	replyTimeout time.Duration
	now          func() time.Time
}

// NewClient creates a callback client. A zero timeout uses 10 seconds.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = replyTimeout
	}
	return &Client{http: &http.Client{}, replyTimeout: timeout, now: time.Now}
}

// PostReply sends a text reply to url.
func (c *Client) PostReply(ctx context.Context, url, sessionID, message string, metadata map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, c.replyTimeout)
	defer cancel()
	return c.post(ctx, url, ReplyPayload{
		SessionID: sessionID,
		Message:   message,
		Timestamp: c.now().Format(time.RFC3339),
		Type:      "text",
		Metadata:  metadata,
	})
}

// PostTyping sends the typing notice to url.
func (c *Client) PostTyping(ctx context.Context, url, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, typingTimeout)
	defer cancel()
	return c.post(ctx, url, TypingPayload{SessionID: sessionID, Type: "typing", Status: "typing"})
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &CallbackError{Status: resp.StatusCode, Body: string(data)}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
