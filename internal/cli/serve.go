package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/gateway"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/version"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}

			if err := a.channels.StartAll(ctx); err != nil {
				return fmt.Errorf("starting channels: %w", err)
			}
			defer a.channels.StopAll(context.WithoutCancel(ctx))

			srv := gateway.New(cfg, log,
				gateway.WithChannels(a.channels),
				gateway.WithHooks(a.hooks),
				gateway.WithMetrics(a.metrics),
				gateway.WithInbound(a.router),
				gateway.WithSessions(a.dispatcher),
				gateway.WithWhatsApp(a.whatsapp),
				gateway.WithWebHub(a.web.Hub()),
				gateway.WithCaches(a.tenants, a.docs),
			)

			log.Info().
				Str("version", version.Version).
				Int("channels", a.channels.Count()).
				Int("tools", a.tools.Len()).
				Str("scope", cfg.Session.Scope).
				Msg("message routing active")

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: auto, lan, loopback, custom (overrides config)")
	return cmd
}
