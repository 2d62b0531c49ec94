package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/llm"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fordez configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "fordez %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(w, "Config:  %s\n", paths.Config)
			fmt.Fprintf(w, "Data:    %s\n", paths.Data)
			fmt.Fprintf(w, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(w)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(w, "Config:  not found (using defaults)")
				} else {
					fmt.Fprintf(w, "Config:  error loading: %v\n", err)
				}
				return nil
			}
			printStatus(w, cfg)
			return nil
		},
	}
}

func printStatus(w io.Writer, cfg config.Config) {
	auth := "off"
	if cfg.Gateway.Auth.Token != "" || os.Getenv("FORDEZ_ADMIN_TOKEN") != "" {
		auth = "token"
	}
	fmt.Fprintf(w, "Gateway: port=%d bind=%s admin=%s metrics=%v\n",
		cfg.Gateway.Port, cfg.Gateway.Bind, auth, cfg.Gateway.Metrics)
	fmt.Fprintf(w, "Session: dir=%s scope=%s\n", paths.SessionDir(&cfg), cfg.Session.Scope)
	fmt.Fprintf(w, "Tenants: spreadsheet=%s sheet=%s\n",
		orNone(cfg.Google.CredentialsSpreadsheetID), cfg.Google.CredentialsSheet)
	fmt.Fprintf(w, "CRM:     leads=%s catalog=%s meetings=%s projects=%s\n",
		cfg.Google.LeadSheet, cfg.Google.CatalogSheet, cfg.Google.MeetingsSheet, cfg.Google.ProjectsSheet)
	fmt.Fprintf(w, "Calendar: %s\n", orNone(cfg.Google.CalendarID))

	registry := llm.NewRegistryFromConfig(cfg.OpenAI, log)
	if providers := registry.List(); len(providers) > 0 {
		fmt.Fprintf(w, "LLM:     %s model=%s guardrail=%s\n",
			strings.Join(providers, ", "), cfg.OpenAI.Model, cfg.OpenAI.GuardrailModel)
		if len(cfg.OpenAI.FallbackModels) > 0 {
			fmt.Fprintf(w, "         fallbacks=%s\n", strings.Join(cfg.OpenAI.FallbackModels, ", "))
		}
	} else {
		fmt.Fprintln(w, "LLM:     (none detected)")
	}
	fmt.Fprintf(w, "Agent:   name=%s maxToolIterations=%d failOpen=%v\n",
		cfg.Agent.Name, cfg.Agent.MaxToolIterations, cfg.Agent.GuardrailFailsOpen())

	if issues := config.Validate(&cfg); len(issues) > 0 {
		fmt.Fprintf(w, "\nValidation issues (%d):\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(w, "  - %s: %s\n", issue.Path, issue.Message)
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
