package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/mcpserver"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/session"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/version"
)

func newMCPCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve one tenant's CRM tools over MCP on stdio",
		Long: "mcp exposes the lead, catalog, calendar and meeting tools to an MCP client. " +
			"Every call runs against the CRM spreadsheet of the tenant given by --tenant. " +
			"Logs go to stderr; stdout carries the protocol.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := newBackend(ctx, cfg)
			if err != nil {
				return err
			}
			t, err := b.tenants.Lookup(ctx, tenantID)
			if err != nil {
				return fmt.Errorf("tenant %q: %w", tenantID, err)
			}
			if t.CRMStoreRef == "" {
				return fmt.Errorf("tenant %q has no CRM spreadsheet", tenantID)
			}

			s := mcpserver.New(mcpserver.Deps{
				Tools: b.tools,
				Binding: session.Binding{
					TenantID:    t.RoutingID,
					CRMStoreRef: t.CRMStoreRef,
					Channel:     domain.ChannelMCP,
				},
				Version: version.Version,
				Metrics: b.metrics,
				Log:     log,
			})

			log.Info().Str("tenantId", t.RoutingID).Int("tools", b.tools.Len()).Msg("mcp server listening on stdio")
			return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "phone number id of the tenant (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
