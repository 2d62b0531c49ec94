package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.OpenAI.APIKey = expandEnvVars(cfg.OpenAI.APIKey)
	cfg.WhatsApp.VerifyToken = expandEnvVars(cfg.WhatsApp.VerifyToken)
	cfg.Google.CredentialsFile = expandEnvVars(cfg.Google.CredentialsFile)
	cfg.Google.TokenFile = expandEnvVars(cfg.Google.TokenFile)
	cfg.Google.OAuthClientFile = expandEnvVars(cfg.Google.OAuthClientFile)
	cfg.Google.CredentialsSpreadsheetID = expandEnvVars(cfg.Google.CredentialsSpreadsheetID)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "America/Argentina/Buenos_Aires"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8080
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "lan"
	}
	if cfg.Google.CredentialsSheet == "" {
		cfg.Google.CredentialsSheet = "Credentials"
	}
	if cfg.Google.LeadSheet == "" {
		cfg.Google.LeadSheet = "Lead"
	}
	if cfg.Google.CatalogSheet == "" {
		cfg.Google.CatalogSheet = "Services"
	}
	if cfg.Google.MeetingsSheet == "" {
		cfg.Google.MeetingsSheet = "Meetings"
	}
	if cfg.Google.ProjectsSheet == "" {
		cfg.Google.ProjectsSheet = "Projects"
	}
	if cfg.Google.CalendarID == "" {
		cfg.Google.CalendarID = "primary"
	}
	if cfg.WhatsApp.GraphBaseURL == "" {
		cfg.WhatsApp.GraphBaseURL = "https://graph.facebook.com"
	}
	if cfg.WhatsApp.APIVersion == "" {
		cfg.WhatsApp.APIVersion = "v21.0"
	}
	if cfg.WhatsApp.Timeout == 0 {
		cfg.WhatsApp.Timeout = 15
	}
	if cfg.Web.ReplyTimeout == 0 {
		cfg.Web.ReplyTimeout = 10
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4o-mini"
	}
	if cfg.OpenAI.GuardrailModel == "" {
		cfg.OpenAI.GuardrailModel = cfg.OpenAI.Model
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "AG CRM Assistant"
	}
	if cfg.Agent.MaxToolIterations == 0 {
		cfg.Agent.MaxToolIterations = 8
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = 40
	}
	if cfg.Agent.TurnTimeout == 0 {
		cfg.Agent.TurnTimeout = 120
	}
	if cfg.Session.Scope == "" {
		cfg.Session.Scope = "per-tenant"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides reads FORDEZ_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORDEZ_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("FORDEZ_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("FORDEZ_ADMIN_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("FORDEZ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FORDEZ_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("FORDEZ_SESSION_DIR"); v != "" {
		cfg.Session.Dir = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("FORDEZ_OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("VERIFY_TOKEN"); v != "" && cfg.WhatsApp.VerifyToken == "" {
		cfg.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("SPREADSHEET_ID_CREDENTIALS"); v != "" && cfg.Google.CredentialsSpreadsheetID == "" {
		cfg.Google.CredentialsSpreadsheetID = v
	}
	if v := os.Getenv("SERVICE_ACCOUNT_FILE"); v != "" && cfg.Google.CredentialsFile == "" {
		cfg.Google.CredentialsFile = v
	}
	if v := os.Getenv("TOKEN_FILE"); v != "" && cfg.Google.TokenFile == "" {
		cfg.Google.TokenFile = v
	}
}
