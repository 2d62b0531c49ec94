package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/routing"
)

func newChatCmd() *cobra.Command {
	var (
		tenantID string
		user     string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "chat <message...>",
		Short: "Send one message through the full pipeline and print the reply",
		Long: "chat runs a single turn for a tenant as if it arrived on a messaging channel. " +
			"The session is persisted, so repeated calls with the same --user continue the conversation.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			out := a.router.HandleInbound(cmd.Context(), domain.InboundMessage{
				Type:      domain.MessageText,
				ChannelID: domain.ChannelConsole,
				TenantID:  tenantID,
				From:      user,
				FromName:  name,
				Body:      strings.Join(args, " "),
				Timestamp: time.Now(),
			})
			return chatResult(out)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "phone number id of the tenant (required)")
	cmd.Flags().StringVar(&user, "user", "console", "user key the session is kept under")
	cmd.Flags().StringVar(&name, "name", "", "display name used for a new lead")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// chatResult turns a pipeline outcome that produced no reply into an error.
func chatResult(out routing.Outcome) error {
	switch out.Status {
	case routing.StatusReplied:
		if out.Blocked {
			log.Warn().Str("session", out.SessionKey).Msg("message blocked by guardrail")
		}
		if out.Error != "" {
			return fmt.Errorf("turn failed: %s", out.Error)
		}
		if !out.Delivered {
			return fmt.Errorf("reply was not delivered")
		}
		return nil
	case routing.StatusNotFound:
		return fmt.Errorf("tenant %q not found", out.TenantID)
	case routing.StatusDisabled:
		return fmt.Errorf("tenant %q is disabled", out.TenantID)
	case routing.StatusIncomplete:
		return fmt.Errorf("tenant %q has incomplete credentials", out.TenantID)
	default:
		return fmt.Errorf("message ignored (%s)", out.Status)
	}
}
