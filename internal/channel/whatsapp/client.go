package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/version"
)

// Cloud API defaults.
const (
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultAPIVersion   = "v21.0"
	defaultTimeout      = 15 * time.Second
	maxMediaBytes       = 25 << 20
)

// Client calls the WhatsApp Cloud API. Credentials are per tenant, so every
// call takes the access token and sending phone number id.
type Client struct {
	http    *http.Client
	baseURL string
	version string
}

// NewClient creates a client. Empty values fall back to the defaults.
func NewClient(baseURL, version string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	if version == "" {
		version = DefaultAPIVersion
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
	}
}

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	Status  int
	Message string
	Code    int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error %d: %s", e.Status, e.Message)
}

type textMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type,omitempty"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             textBody        `json:"text"`
	Context          *messageContext `json:"context,omitempty"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type messageContext struct {
	MessageID string `json:"message_id"`
}

type typingRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	Status           string          `json:"status"`
	MessageID        string          `json:"message_id"`
	TypingIndicator  typingIndicator `json:"typing_indicator"`
}

type typingIndicator struct {
	Type string `json:"type"`
}

// SendText sends a text message. A non-empty replyTo quotes that message.
func (c *Client) SendText(ctx context.Context, token, phoneNumberID, to, body, replyTo string) error {
	msg := textMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	}
	if replyTo != "" {
		msg.Context = &messageContext{MessageID: replyTo}
	}
	return c.post(ctx, token, phoneNumberID+"/messages", msg)
}

// SendTyping marks messageID as read and shows the typing indicator.
func (c *Client) SendTyping(ctx context.Context, token, phoneNumberID, messageID string) error {
	return c.post(ctx, token, phoneNumberID+"/messages", typingRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
		TypingIndicator:  typingIndicator{Type: "text"},
	})
}

// MediaURL resolves a media id to its short-lived download URL.
func (c *Client) MediaURL(ctx context.Context, token, mediaID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(mediaID), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, token, &out); err != nil {
		return "", fmt.Errorf("resolving media %s: %w", mediaID, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("media %s has no url", mediaID)
	}
	return out.URL, nil
}

// Download fetches media bytes from a URL returned by MediaURL.
func (c *Client) Download(ctx context.Context, token, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + c.version + "/" + path
}

func (c *Client) post(ctx context.Context, token, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token, nil)
}

func (c *Client) do(req *http.Request, token string, out any) error {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
			apiErr.Message = body.Error.Message
			apiErr.Code = body.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
