package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/llm"
)

// Tool is a capability the agent can invoke during a conversation.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() string

	// Execute runs the tool with the given JSON input and returns JSON output.
	Execute(ctx context.Context, input string) (string, error)
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	ToolName string
	ToolDesc string
	Schema   string
	Fn       func(ctx context.Context, input string) (string, error)
}

func (f *FuncTool) Name() string        { return f.ToolName }
func (f *FuncTool) Description() string { return f.ToolDesc }
func (f *FuncTool) InputSchema() string { return f.Schema }

func (f *FuncTool) Execute(ctx context.Context, input string) (string, error) {
	return f.Fn(ctx, input)
}

// ToolRegistry holds available tools. Safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *ToolRegistry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns LLM-ready tool definitions, sorted by name so prompts
// are stable across runs.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	names := r.Names()
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, n := range names {
		t, ok := r.Get(n)
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Execute runs the named tool.
func (r *ToolRegistry) Execute(ctx context.Context, name, input string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Execute(ctx, input)
}
