// Package guardrail classifies inbound messages before they reach the agent.
//
// The classifier only ever sees the raw message text. It never receives the
// session transcript or agent context, and its own exchange is not recorded
// anywhere the user can see.
package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
)

// BlockMessage is returned to the user instead of the agent's reply when a
// message is flagged.
const BlockMessage = "Tu mensaje no se pudo procesar correctamente por políticas de seguridad. Intenta escribirlo de otra forma."

// LabelClassifierError marks verdicts produced because the classifier failed.
const LabelClassifierError = "classifier_error"

// Classifier produces a raw verdict for one message. The result may be a
// domain.GuardrailVerdict, a mapping, or JSON text; Check normalizes it.
type Classifier interface {
	Classify(ctx context.Context, text string) (any, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (any, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (any, error) { return f(ctx, text) }

// Fragment is one part of a structured message.
type Fragment struct {
	Type    string `json:"type,omitempty"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// Guardrail runs a Classifier with input and output normalization.
type Guardrail struct {
	classifier Classifier
	failOpen   bool
	log        *logging.Logger
	metrics    *observability.Metrics
}

// New creates a guardrail. With failOpen set, classifier errors let the
// message through; otherwise they block it.
func New(c Classifier, failOpen bool, log *logging.Logger, metrics *observability.Metrics) *Guardrail {
	return &Guardrail{classifier: c, failOpen: failOpen, log: log.Sub("guardrail"), metrics: metrics}
}

// Check classifies raw input. It never returns an error: unparseable
// classifier output counts as not flagged.
func (g *Guardrail) Check(ctx context.Context, input any) domain.GuardrailVerdict {
	text := ExtractText(input)

	raw, err := g.classifier.Classify(ctx, text)
	if err != nil {
		g.metrics.GuardrailVerdict("error")
		g.log.Warn().Err(err).Bool("failOpen", g.failOpen).Msg("classifier failed")
		return domain.GuardrailVerdict{
			IsFlagged: !g.failOpen,
			Label:     LabelClassifierError,
			Reasoning: err.Error(),
		}
	}

	v := NormalizeVerdict(raw)
	if v.IsFlagged {
		g.metrics.GuardrailVerdict("flagged")
		g.log.Info().Str("label", v.Label).Msg("message flagged")
	} else {
		g.metrics.GuardrailVerdict("pass")
	}
	return v
}

// ExtractText returns best-effort text for raw input. Plain strings are
// returned as is; for fragment lists the first fragment is inspected.
// Anything else is stringified.
func ExtractText(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case Fragment:
		if s := firstNonEmpty(v.Text, v.Content); s != "" {
			return s
		}
	case []Fragment:
		if len(v) > 0 {
			if s := firstNonEmpty(v[0].Text, v[0].Content); s != "" {
				return s
			}
		}
	case map[string]any:
		if s, ok := textFromMap(v); ok {
			return s
		}
	case []map[string]any:
		if len(v) > 0 {
			if s, ok := textFromMap(v[0]); ok {
				return s
			}
		}
	case []any:
		if len(v) > 0 {
			switch first := v[0].(type) {
			case string:
				return first
			case map[string]any:
				if s, ok := textFromMap(first); ok {
					return s
				}
			}
		}
	}
	return fmt.Sprint(input)
}

var textFields = []string{"text", "content", "message", "input_text"}

func textFromMap(m map[string]any) (string, bool) {
	for _, k := range textFields {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case []any:
			// content: [{"type": "input_text", "text": "..."}]
			for _, part := range v {
				if pm, ok := part.(map[string]any); ok {
					if s, ok := pm["text"].(string); ok && s != "" {
						return s, true
					}
				}
			}
		}
	}
	return "", false
}

// NormalizeVerdict converts a raw classifier result into a verdict.
// Ambiguous or unparseable results are not flagged.
func NormalizeVerdict(raw any) domain.GuardrailVerdict {
	switch v := raw.(type) {
	case domain.GuardrailVerdict:
		return v
	case *domain.GuardrailVerdict:
		if v != nil {
			return *v
		}
	case map[string]any:
		return verdictFromMap(v)
	case string:
		return verdictFromJSON([]byte(v))
	case []byte:
		return verdictFromJSON(v)
	case json.RawMessage:
		return verdictFromJSON(v)
	}
	return domain.GuardrailVerdict{}
}

func verdictFromMap(m map[string]any) domain.GuardrailVerdict {
	v := domain.GuardrailVerdict{IsFlagged: truthy(m["is_flagged"])}
	if s, ok := m["label"].(string); ok {
		v.Label = s
	}
	if s, ok := m["reasoning"].(string); ok {
		v.Reasoning = s
	}
	return v
}

func verdictFromJSON(b []byte) domain.GuardrailVerdict {
	b = stripFence(bytes.TrimSpace(b))
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return domain.GuardrailVerdict{}
	}
	return verdictFromMap(m)
}

// stripFence removes a surrounding ``` or ```json code fence.
func stripFence(b []byte) []byte {
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = b[3:]
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	b = bytes.TrimSpace(b)
	b = bytes.TrimSuffix(b, []byte("```"))
	return bytes.TrimSpace(b)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "si", "sí":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
