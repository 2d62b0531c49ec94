package config

import (
	"fmt"
	"slices"
	"time"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind: custom",
		})
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			issues = append(issues, ValidationIssue{
				Path:    "timezone",
				Message: fmt.Sprintf("unknown time zone %q", cfg.Timezone),
			})
		}
	}

	// Google validation
	if cfg.Google.CredentialsSpreadsheetID == "" {
		issues = append(issues, ValidationIssue{
			Path:    "google.credentialsSpreadsheetId",
			Message: "credentials spreadsheet is required",
		})
	}
	if cfg.Google.CredentialsFile == "" {
		issues = append(issues, ValidationIssue{
			Path:    "google.credentialsFile",
			Message: "service account file is required",
		})
	}

	// Model validation
	if cfg.OpenAI.APIKey == "" {
		issues = append(issues, ValidationIssue{
			Path:    "openai.apiKey",
			Message: "api key is required",
		})
	}
	if cfg.Agent.TurnTimeout < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.turnTimeout",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Agent.TurnTimeout),
		})
	}
	if cfg.Agent.MaxToolIterations < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.maxToolIterations",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Agent.MaxToolIterations),
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Session validation
	validScopes := []string{"per-tenant", "global"}
	if cfg.Session.Scope != "" && !slices.Contains(validScopes, cfg.Session.Scope) {
		issues = append(issues, ValidationIssue{
			Path:    "session.scope",
			Message: fmt.Sprintf("must be one of %v, got %q", validScopes, cfg.Session.Scope),
		})
	}

	return issues
}
