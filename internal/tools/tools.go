// Package tools implements the CRM, catalog, calendar, meeting and project
// tools the agent may call. Every tool reads the tenant's spreadsheet from
// the AgentContext bound to the run, never from its own state.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/identity"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
)

// ErrNoBinding is returned when a tool runs without a tenant store bound.
var ErrNoBinding = errors.New("tools: no CRM store bound to this conversation")

// Default sheet names inside a tenant's spreadsheet.
const (
	DefaultCatalogSheet  = "Services"
	DefaultMeetingsSheet = "Meetings"
	DefaultProjectsSheet = "Projects"
)

// Deps are the collaborators the tools share.
type Deps struct {
	Store         sheets.Store
	Leads         *identity.Resolver
	Calendar      Calendar // nil disables the calendar tools
	CatalogSheet  string
	MeetingsSheet string
	ProjectsSheet string
	Location      *time.Location
	Now           func() time.Time
	Log           *logging.Logger
}

// Register adds every tool to reg and returns how many were added.
func Register(reg *agent.ToolRegistry, d Deps) int {
	if d.CatalogSheet == "" {
		d.CatalogSheet = DefaultCatalogSheet
	}
	if d.MeetingsSheet == "" {
		d.MeetingsSheet = DefaultMeetingsSheet
	}
	if d.ProjectsSheet == "" {
		d.ProjectsSheet = DefaultProjectsSheet
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log.Sub("tools")

	crm := &crmTools{leads: d.Leads, log: log}
	catalog := &catalogTools{store: d.Store, sheet: d.CatalogSheet}
	meetings := &meetingTools{store: d.Store, sheet: d.MeetingsSheet, loc: d.Location, now: d.Now}
	projects := &projectTools{store: d.Store, sheet: d.ProjectsSheet, loc: d.Location, now: d.Now}

	all := append(crm.tools(), catalog.tools()...)
	all = append(all, meetings.tools()...)
	all = append(all, projects.tools()...)
	if d.Calendar != nil {
		cal := &calendarTools{cal: d.Calendar, meetings: meetings, loc: d.Location, now: d.Now, log: log}
		all = append(all, cal.tools()...)
	}
	reg.Register(all...)
	log.Debug().Int("count", len(all)).Msg("registered tools")
	return len(all)
}

// InputSchema is the JSON Schema object describing a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property is one argument.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Items       *Items   `json:"items,omitempty"`
}

// Items describes array elements.
type Items struct {
	Type string `json:"type"`
}

func (s InputSchema) String() string {
	if s.Type == "" {
		s.Type = "object"
	}
	if s.Properties == nil {
		s.Properties = map[string]Property{}
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func str(desc string) Property { return Property{Type: "string", Description: desc} }

func tool(name, desc string, schema InputSchema, fn func(ctx context.Context, input string) (string, error)) agent.Tool {
	return &agent.FuncTool{ToolName: name, ToolDesc: desc, Schema: schema.String(), Fn: fn}
}

// storeRef returns the spreadsheet bound to the current run.
func storeRef(ctx context.Context) (string, error) {
	ac, ok := session.AgentContextFrom(ctx)
	if !ok || strings.TrimSpace(ac.CRMStoreRef) == "" {
		return "", ErrNoBinding
	}
	return ac.CRMStoreRef, nil
}

// decode parses tool arguments. An empty input is an empty object.
func decode(input string, v any) error {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func result(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}

// required returns an error naming the first empty field.
func required(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return fmt.Errorf("%s es requerido", f[0])
		}
	}
	return nil
}

// rowMap returns a row's non-empty values.
func rowMap(r sheets.Row) map[string]string {
	out := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// getFold returns a column value matching name case-insensitively.
func getFold(r sheets.Row, name string) string {
	if v, ok := r.Values[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range r.Values {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// presentColumns returns the columns of cols that fields sets, in sheet order.
func presentColumns(cols []string, fields map[string]string) []string {
	out := make([]string, 0, len(fields))
	for _, col := range cols {
		if _, ok := fields[col]; ok {
			out = append(out, col)
		}
	}
	return out
}

var dayLayouts = []string{"2006-01-02", "02/01/2006 15:04", "02/01/2006 15:04:05", "02/01/2006"}

// dayOf returns the calendar day of s in loc as YYYY-MM-DD. It reads the
// ISO forms ParseTime accepts and the DD/MM/YYYY forms the sheets use.
func dayOf(s string, loc *time.Location) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if t, err := ParseTime(s, loc); err == nil {
		return t.In(loc).Format(time.DateOnly), true
	}
	for _, layout := range dayLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Format(time.DateOnly), true
		}
	}
	return "", false
}
