package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionKey identifies one conversation transcript.
type SessionKey struct {
	TenantID string `json:"tenantId,omitempty"`
	UserKey  string `json:"userKey"`
}

// String returns the canonical "<tenant>:<user>" form, or the user key alone
// for globally scoped sessions.
func (k SessionKey) String() string {
	if k.TenantID == "" {
		return k.UserKey
	}
	return k.TenantID + ":" + k.UserKey
}

// FileName returns a filesystem-safe, collision-free name for the key's
// transcript database.
func (k SessionKey) FileName() string {
	return EscapeFileName(k.String()) + ".db"
}

// EscapeFileName percent-encodes every byte outside [A-Za-z0-9._-].
func EscapeFileName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn is a single entry in a session transcript.
type Turn struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall represents a model tool invocation within a turn.
type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"` // JSON string
}

// Usage accumulates model accounting for a session.
type Usage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add returns the sum of two usage records.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Requests:     u.Requests + o.Requests,
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// GuardrailVerdict is the classification of one inbound message.
type GuardrailVerdict struct {
	IsFlagged bool   `json:"is_flagged"`
	Label     string `json:"label,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}
