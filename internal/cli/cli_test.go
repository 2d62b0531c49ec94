package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/routing"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"8080", 8080},
		{"0.2", 0.2},
		{"gpt-4o-mini", "gpt-4o-mini"},
		{"12abc", "12abc"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

func TestPrintValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, "lan"))
	assert.Equal(t, "lan\n", buf.String())

	buf.Reset()
	require.NoError(t, printValue(&buf, map[string]any{"port": 8080}))
	assert.Equal(t, "port: 8080\n", buf.String())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env"), false), "a missing default file is fine")
	assert.Error(t, loadEnvFile(filepath.Join(dir, "missing.env"), true), "an explicit file must exist")
	require.NoError(t, loadEnvFile("", true))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FORDEZ_TEST_ENV_VALUE=from-file\n"), 0o600))
	t.Setenv("FORDEZ_TEST_ENV_VALUE", "")
	os.Unsetenv("FORDEZ_TEST_ENV_VALUE")
	require.NoError(t, loadEnvFile(path, true))
	assert.Equal(t, "from-file", os.Getenv("FORDEZ_TEST_ENV_VALUE"))
}

func TestChatResult(t *testing.T) {
	log = logging.New(nil, "silent")

	assert.NoError(t, chatResult(routing.Outcome{Status: routing.StatusReplied, Delivered: true}))
	assert.ErrorContains(t, chatResult(routing.Outcome{Status: routing.StatusReplied}), "not delivered")
	assert.ErrorContains(t, chatResult(routing.Outcome{Status: routing.StatusReplied, Delivered: true, Error: "boom"}), "boom")
	assert.ErrorContains(t, chatResult(routing.Outcome{Status: routing.StatusNotFound, TenantID: "PN9"}), "PN9")
	assert.ErrorContains(t, chatResult(routing.Outcome{Status: routing.StatusDisabled}), "disabled")
	assert.ErrorContains(t, chatResult(routing.Outcome{Status: routing.StatusIncomplete}), "incomplete")
	assert.ErrorContains(t, chatResult(routing.Outcome{Status: routing.StatusIgnored}), "ignored")
}

func TestAdminClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":"error","message":"token_mismatch"}`))
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/sessions":
			_, _ = w.Write([]byte(`{"active":2}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/admin/sessions/PN1:5551234567":
			_, _ = w.Write([]byte(`{"key":"PN1:5551234567","cleared":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := &adminClient{base: srv.URL, token: "secret", http: srv.Client()}

	var count struct {
		Active int `json:"active"`
	}
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/admin/sessions", &count))
	assert.Equal(t, 2, count.Active)

	var cleared struct {
		Cleared bool `json:"cleared"`
	}
	require.NoError(t, c.do(context.Background(), http.MethodDelete, "/admin/sessions/PN1:5551234567", &cleared))
	assert.True(t, cleared.Cleared)

	c.token = "wrong"
	err := c.do(context.Background(), http.MethodGet, "/admin/sessions", &count)
	assert.ErrorContains(t, err, "token_mismatch")
}
