package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/gateway"
)

const adminTimeout = 10 * time.Second

func newSessionsCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect or clear sessions on a running gateway",
	}
	cmd.PersistentFlags().StringVar(&baseURL, "url", "", "gateway base URL (default http://127.0.0.1:<gateway.port>)")

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the number of sessions with a turn in flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient(baseURL)
			if err != nil {
				return err
			}
			var resp struct {
				Active int `json:"active"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/admin/sessions", &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Active)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <session-key>",
		Short: "Delete a session's history",
		Long:  "Session keys have the form <phone_number_id>:<user>, or just <user> with global scope.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAdminClient(baseURL)
			if err != nil {
				return err
			}
			var resp struct {
				Key     string `json:"key"`
				Cleared bool   `json:"cleared"`
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/admin/sessions/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			if resp.Cleared {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", resp.Key)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No session %s\n", resp.Key)
			}
			return nil
		},
	})

	return cmd
}

// adminClient calls the gateway's admin endpoints.
type adminClient struct {
	base  string
	token string
	http  *http.Client
}

func newAdminClient(baseURL string) (*adminClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Gateway.Port)
	}
	token := gateway.ResolveAuth(cfg.Gateway.Auth)
	if token == "" {
		return nil, fmt.Errorf("admin token not configured: set gateway.auth.token or FORDEZ_ADMIN_TOKEN")
	}
	return &adminClient{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: adminTimeout},
	}, nil
}

func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return fmt.Errorf("gateway: %s (HTTP %d)", e.Message, resp.StatusCode)
		}
		return fmt.Errorf("gateway: HTTP %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
