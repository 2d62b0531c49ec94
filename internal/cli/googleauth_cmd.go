package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/googleauth"
)

func newGoogleAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "google-auth",
		Short: "Authorize Google Calendar access and save the OAuth token",
		Long: "google-auth runs the OAuth consent flow with google.oauthClientFile and " +
			"writes the resulting token to google.tokenFile. The gateway uses it for " +
			"availability checks and meeting invitations.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Google.OAuthClientFile == "" || cfg.Google.TokenFile == "" {
				return fmt.Errorf("google.oauthClientFile and google.tokenFile must both be set")
			}

			oc, err := googleauth.OAuthConfig(cfg.Google.OAuthClientFile, googleauth.CalendarScopes...)
			if err != nil {
				return err
			}
			tok, err := googleauth.TokenFromWeb(cmd.Context(), oc, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := googleauth.SaveToken(cfg.Google.TokenFile, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.Google.TokenFile)
			return nil
		},
	}
}
