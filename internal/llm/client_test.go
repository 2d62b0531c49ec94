package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())

	mock := &MockClient{ProviderName: "test-provider"}
	reg.Register("test-provider", mock)

	client, err := reg.Resolve("test-provider")
	require.NoError(t, err)
	assert.Equal(t, "test-provider", client.Name())
}

func TestRegistryAlias(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("openai", &MockClient{ProviderName: "openai"})
	reg.Alias("gpt-4o-mini", "openai")

	client, err := reg.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Name())
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("default-llm", &MockClient{ProviderName: "default-llm"})
	reg.SetFallback("default-llm")

	client, err := reg.Resolve("unknown-model-xyz")
	require.NoError(t, err)
	assert.Equal(t, "default-llm", client.Name())
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())
	_, err := reg.Resolve("nothing")
	assert.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("b", &MockClient{})
	reg.Register("a", &MockClient{})
	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	reg := NewRegistryFromConfig(config.OpenAIConfig{}, silentLog())
	assert.Empty(t, reg.List())

	reg = NewRegistryFromConfig(config.OpenAIConfig{
		APIKey:         "sk-test",
		Model:          "gpt-4o-mini",
		FallbackModels: []string{"gpt-4o"},
	}, silentLog())
	assert.Equal(t, []string{"openai"}, reg.List())

	for _, m := range []string{"gpt-4o-mini", "gpt-4o", "anything"} {
		c, err := reg.Resolve(m)
		require.NoError(t, err)
		assert.Equal(t, "openai", c.Name())
	}
}

// --- MockClient ---

func TestMockClientRecordsCalls(t *testing.T) {
	mock := &MockClient{}
	resp, err := mock.Complete(context.Background(), CompletionRequest{System: "s"})
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, "mock", mock.Name())
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, "s", mock.Calls()[0].System)
}

func TestMockClientCompleteError(t *testing.T) {
	mock := &MockClient{
		CompleteFunc: func(context.Context, CompletionRequest) (*CompletionResponse, error) {
			return nil, &ProviderError{Provider: "mock", Message: "rate limited", Code: 429}
		},
	}
	_, err := mock.Complete(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
}

func TestProviderErrorFormat(t *testing.T) {
	assert.Equal(t, "openai: 500 boom", (&ProviderError{Provider: "openai", Message: "boom", Code: 500}).Error())
	assert.Equal(t, "openai: boom", (&ProviderError{Provider: "openai", Message: "boom"}).Error())

	inner := errors.New("inner")
	assert.ErrorIs(t, &ProviderError{Provider: "openai", Err: inner}, inner)
}

// --- OpenAIClient ---

func openAIServer(t *testing.T, handler func(body map[string]any) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClientComplete(t *testing.T) {
	var got map[string]any
	srv := openAIServer(t, func(body map[string]any) any {
		got = body
		return map[string]any{
			"id":    "c1",
			"model": "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "¡Hola!"},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		}
	})

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", "gpt-4o-mini")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:       "Eres un asistente.",
		Messages:     []Message{{Role: RoleUser, Content: "Hola"}},
		JSONResponse: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "¡Hola!", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 3}, resp.Usage)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "Hola", msgs[1].(map[string]any)["content"])
	assert.Equal(t, "json_object", got["response_format"].(map[string]any)["type"])
}

func TestOpenAIClientToolCalls(t *testing.T) {
	var got map[string]any
	srv := openAIServer(t, func(body map[string]any) any {
		got = body
		return map[string]any{
			"choices": []any{map[string]any{
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []any{map[string]any{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "verify_client", "arguments": `{"phone":"555"}`},
					}},
				},
			}},
		}
	})

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", "gpt-4o-mini")
	resp, err := c.Complete(context.Background(), CompletionRequest{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: RoleUser, Content: "¿Estoy registrado?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "get_all_services", Input: "{}"}}},
			{Role: RoleTool, ToolCallID: "call_0", Content: "[]"},
		},
		Tools: []ToolDefinition{{Name: "verify_client", Description: "d", InputSchema: `{"type":"object"}`}},
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "verify_client", Input: `{"phone":"555"}`}, resp.ToolCalls[0])

	assert.Equal(t, "gpt-4o", got["model"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "verify_client", fn["name"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "call_0", msgs[2].(map[string]any)["tool_call_id"])
}

func TestOpenAIClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", "gpt-4o-mini")
	_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.Code)
	assert.Equal(t, "slow down", pe.Message)
}

func TestParseJSONSchema(t *testing.T) {
	assert.Equal(t, "object", parseJSONSchema("")["type"])
	assert.Equal(t, "object", parseJSONSchema("not json")["type"])
	m := parseJSONSchema(`{"type":"object","required":["x"]}`)
	assert.Equal(t, []any{"x"}, m["required"])
}

func TestOpenAIClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, TranscribeModel, r.FormValue("model"))
		_, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "voice.ogg", hdr.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"quiero un turno"}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", "gpt-4o-mini")
	text, err := c.Transcribe(context.Background(), "voice.ogg", []byte("OggS"))
	require.NoError(t, err)
	assert.Equal(t, "quiero un turno", text)
}
