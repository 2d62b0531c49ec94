package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/identity"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/tools"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func newRegistry(t *testing.T) *agent.ToolRegistry {
	t.Helper()
	store := sheets.NewMemoryStore()
	store.AddSheet("crm-1", "Services", []string{"Nombre", "Precio"},
		[]string{"Corte", "5000"},
		[]string{"Color Completo", "15000"},
	)
	reg := agent.NewToolRegistry()
	tools.Register(reg, tools.Deps{
		Store: store,
		Leads: identity.NewResolver(store, "Lead", nil, silentLog()),
		Log:   silentLog(),
	})
	return reg
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func TestToolSpec(t *testing.T) {
	reg := newRegistry(t)
	tool, ok := reg.Get("get_service_by_name")
	require.True(t, ok)

	spec := toolSpec(tool)
	assert.Equal(t, "get_service_by_name", spec.Name)
	assert.Equal(t, tool.Description(), spec.Description)
	assert.JSONEq(t, tool.InputSchema(), string(spec.RawInputSchema))
}

func TestCallTool(t *testing.T) {
	reg := newRegistry(t)
	mt := observability.NewMetrics()
	tool, _ := reg.Get("get_service_by_name")
	handler := callTool(tool, session.Binding{TenantID: "PN1", CRMStoreRef: "crm-1"}, mt, silentLog())

	result, err := handler(context.Background(), callRequest("get_service_by_name", map[string]any{"service_name": "corte"}))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &out))
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "Corte", out["service"].(map[string]any)["Nombre"])
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.ToolExecutions.WithLabelValues("get_service_by_name", "success")))
}

func TestCallTool_NoArguments(t *testing.T) {
	reg := newRegistry(t)
	tool, _ := reg.Get("get_all_services")
	handler := callTool(tool, session.Binding{TenantID: "PN1", CRMStoreRef: "crm-1"}, nil, silentLog())

	result, err := handler(context.Background(), callRequest("get_all_services", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, toolText(t, result))
	assert.Contains(t, toolText(t, result), "Color Completo")
}

func TestCallTool_Errors(t *testing.T) {
	reg := newRegistry(t)
	mt := observability.NewMetrics()

	t.Run("no store bound", func(t *testing.T) {
		tool, _ := reg.Get("get_all_services")
		handler := callTool(tool, session.Binding{TenantID: "PN1"}, mt, silentLog())
		result, err := handler(context.Background(), callRequest("get_all_services", nil))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, tools.ErrNoBinding.Error(), toolText(t, result))
	})

	t.Run("missing argument", func(t *testing.T) {
		tool, _ := reg.Get("get_service_by_name")
		handler := callTool(tool, session.Binding{TenantID: "PN1", CRMStoreRef: "crm-1"}, mt, silentLog())
		result, err := handler(context.Background(), callRequest("get_service_by_name", map[string]any{}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, toolText(t, result), "service_name")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(mt.ToolExecutions.WithLabelValues("get_all_services", "error")))
}

func TestBindingResource(t *testing.T) {
	handler := bindingResource(session.Binding{TenantID: "PN1", CRMStoreRef: "crm-1", Channel: "mcp"})

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: BindingURI},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, BindingURI, text.URI)
	assert.JSONEq(t, `{"tenant_id":"PN1","crm_store_ref":"crm-1","channel":"mcp"}`, text.Text)
}

func TestNew(t *testing.T) {
	reg := newRegistry(t)
	s := New(Deps{
		Tools:   reg,
		Binding: session.Binding{TenantID: "PN1", CRMStoreRef: "crm-1"},
		Version: "test",
		Log:     silentLog(),
	})
	assert.NotNil(t, s)
}
