// Package googleauth builds authenticated Google API services from a service
// account file and, for Calendar, an optional OAuth user token.
package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

// Options locates credential files.
type Options struct {
	CredentialsFile string // service account JSON
	OAuthClientFile string // OAuth client secret for the Calendar user flow
	TokenFile       string // saved OAuth user token
}

// ServiceScopes are requested for the service account.
var ServiceScopes = []string{
	sheets.SpreadsheetsScope,
	docs.DocumentsReadonlyScope,
	drive.DriveMetadataReadonlyScope,
	calendar.CalendarScope,
}

// CalendarScopes are requested for the OAuth user flow.
var CalendarScopes = []string{calendar.CalendarScope, calendar.CalendarEventsScope}

// Services bundles the API clients the gateway uses.
type Services struct {
	Sheets   *sheets.Service
	Docs     *docs.Service
	Drive    *drive.Service
	Calendar *calendar.Service
}

// ServiceAccountClient returns an HTTP client authorized as the service account.
func ServiceAccountClient(ctx context.Context, credentialsFile string, scopes ...string) (*http.Client, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account file: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account: %w", err)
	}
	return cfg.Client(ctx), nil
}

// UserClient returns an HTTP client for a saved OAuth user token. The token
// source refreshes expired access tokens on its own.
func UserClient(ctx context.Context, clientFile, tokenFile string, scopes ...string) (*http.Client, error) {
	cfg, err := OAuthConfig(clientFile, scopes...)
	if err != nil {
		return nil, err
	}
	tok, err := TokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("no auth token found at %s - run 'fordez google-auth' first", tokenFile)
	}
	return cfg.Client(ctx, tok), nil
}

// OAuthConfig reads an OAuth client secret file.
func OAuthConfig(clientFile string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(clientFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read oauth client file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse oauth client: %w", err)
	}
	return cfg, nil
}

// NewServices creates every Google API client from opts.
func NewServices(ctx context.Context, opts Options, log *logging.Logger) (*Services, error) {
	saClient, err := ServiceAccountClient(ctx, opts.CredentialsFile, ServiceScopes...)
	if err != nil {
		return nil, err
	}

	sheetsSvc, err := sheets.NewService(ctx, option.WithHTTPClient(saClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	docsSvc, err := docs.NewService(ctx, option.WithHTTPClient(saClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Docs service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, option.WithHTTPClient(saClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	calClient := saClient
	if opts.TokenFile != "" && opts.OAuthClientFile != "" {
		uc, err := UserClient(ctx, opts.OAuthClientFile, opts.TokenFile, CalendarScopes...)
		if err != nil {
			log.Warn().Err(err).Msg("calendar user token unavailable, using service account")
		} else {
			calClient = uc
		}
	}
	calSvc, err := calendar.NewService(ctx, option.WithHTTPClient(calClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return &Services{Sheets: sheetsSvc, Docs: docsSvc, Drive: driveSvc, Calendar: calSvc}, nil
}

// TokenFromWeb runs the copy-paste OAuth flow: prints the consent URL to out
// and reads the authorization code from in.
func TokenFromWeb(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	var authCode string
	if _, err := fmt.Fscan(in, &authCode); err != nil {
		return nil, fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}

// TokenFromFile loads a saved token.
func TokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// SaveToken writes a token with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
