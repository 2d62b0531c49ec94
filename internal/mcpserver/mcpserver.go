// Package mcpserver exposes the agent's CRM, catalog, calendar and meeting
// tools to MCP clients. Every call runs against one fixed tenant binding.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/observability"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
)

// BindingURI is the resource describing the tenant the tools run against.
const BindingURI = "tenant://binding"

// Deps holds dependencies for the MCP server.
type Deps struct {
	Tools   *agent.ToolRegistry
	Binding session.Binding
	Version string
	Metrics *observability.Metrics // optional
	Log     *logging.Logger
}

// New creates an MCP server with every registered tool and the binding
// resource.
func New(d Deps) *server.MCPServer {
	log := d.Log.Sub("mcp")
	s := server.NewMCPServer(
		"fordez",
		d.Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions(fmt.Sprintf("fordez CRM tools for tenant %s.", d.Binding.TenantID)),
		server.WithRecovery(),
	)

	for _, name := range d.Tools.Names() {
		t, _ := d.Tools.Get(name)
		s.AddTool(toolSpec(t), callTool(t, d.Binding, d.Metrics, log))
	}

	s.AddResource(
		mcp.NewResource(
			BindingURI,
			"Tenant binding",
			mcp.WithResourceDescription("Tenant and CRM spreadsheet the tools operate on"),
			mcp.WithMIMEType("application/json"),
		),
		bindingResource(d.Binding),
	)

	log.Info().
		Str("tenantId", d.Binding.TenantID).
		Int("tools", d.Tools.Len()).
		Msg("mcp server ready")
	return s
}

// toolSpec describes t with its own JSON Schema.
func toolSpec(t agent.Tool) mcp.Tool {
	return mcp.NewToolWithRawSchema(t.Name(), t.Description(), json.RawMessage(t.InputSchema()))
}

// callTool runs t with the call's arguments and a fresh agent context
// bound to b. Tool failures are returned as error results so the client
// sees the message.
func callTool(t agent.Tool, b session.Binding, mt *observability.Metrics, log *logging.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input := "{}"
		if args := req.GetArguments(); len(args) > 0 {
			raw, err := json.Marshal(args)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			input = string(raw)
		}

		ac := &session.AgentContext{}
		ac.Rebind(b)
		ctx = session.WithAgentContext(ctx, ac)

		start := time.Now()
		out, err := t.Execute(ctx, input)
		mt.ToolExecution(t.Name(), err == nil)
		if err != nil {
			log.Warn().Err(err).Str("tool", t.Name()).Msg("tool failed")
			return mcpError(err.Error()), nil
		}
		log.Debug().Str("tool", t.Name()).Dur("duration", time.Since(start)).Msg("tool executed")
		return mcpText(out), nil
	}
}

func bindingResource(b session.Binding) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		raw, err := json.Marshal(map[string]string{
			"tenant_id":     b.TenantID,
			"crm_store_ref": b.CRMStoreRef,
			"channel":       b.Channel,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding binding: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(raw),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
