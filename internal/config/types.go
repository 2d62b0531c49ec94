package config

// Config is the root configuration for the fordez gateway.
type Config struct {
	Timezone string         `yaml:"timezone,omitempty"` // IANA name used for lead timestamps and calendar slots
	Gateway  GatewayConfig  `yaml:"gateway,omitempty"`
	Google   GoogleConfig   `yaml:"google,omitempty"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp,omitempty"`
	Web      WebConfig      `yaml:"web,omitempty"`
	OpenAI   OpenAIConfig   `yaml:"openai,omitempty"`
	Agent    AgentConfig    `yaml:"agent,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty"`
	Routing  RoutingConfig  `yaml:"routing,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the webhook HTTP server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
	Metrics        bool        `yaml:"metrics,omitempty"`
}

// GatewayAuth protects the admin endpoints.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// GoogleConfig points at the spreadsheets and credentials backing tenants,
// leads, the services catalog and meetings.
type GoogleConfig struct {
	CredentialsFile          string `yaml:"credentialsFile,omitempty"` // service account JSON
	TokenFile                string `yaml:"tokenFile,omitempty"`       // OAuth user token for Calendar
	OAuthClientFile          string `yaml:"oauthClientFile,omitempty"` // OAuth client secret paired with TokenFile
	CredentialsSpreadsheetID string `yaml:"credentialsSpreadsheetId,omitempty"`
	CredentialsSheet         string `yaml:"credentialsSheet,omitempty"`
	LeadSheet                string `yaml:"leadSheet,omitempty"`
	CatalogSheet             string `yaml:"catalogSheet,omitempty"`
	MeetingsSheet            string `yaml:"meetingsSheet,omitempty"`
	ProjectsSheet            string `yaml:"projectsSheet,omitempty"`
	CalendarID               string `yaml:"calendarId,omitempty"`
}

// WhatsAppConfig configures the Cloud API channel.
type WhatsAppConfig struct {
	VerifyToken  string `yaml:"verifyToken,omitempty"`
	GraphBaseURL string `yaml:"graphBaseUrl,omitempty"`
	APIVersion   string `yaml:"apiVersion,omitempty"`
	Timeout      int    `yaml:"timeout,omitempty"` // seconds
}

// WebConfig configures the web widget channel.
type WebConfig struct {
	ReplyTimeout int `yaml:"replyTimeout,omitempty"` // seconds
}

// OpenAIConfig configures the agent and guardrail model provider.
type OpenAIConfig struct {
	APIKey         string   `yaml:"apiKey,omitempty"`
	BaseURL        string   `yaml:"baseUrl,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	GuardrailModel string   `yaml:"guardrailModel,omitempty"`
	FallbackModels []string `yaml:"fallbackModels,omitempty"` // tried in order on retryable errors
	MaxTokens      int      `yaml:"maxTokens,omitempty"`
	Temperature    *float64 `yaml:"temperature,omitempty"`
}

// AgentConfig tunes the dispatcher and executor.
type AgentConfig struct {
	Name                string `yaml:"name,omitempty"`
	MaxToolIterations   int    `yaml:"maxToolIterations,omitempty"`
	HistoryLimit        int    `yaml:"historyLimit,omitempty"`
	TurnTimeout         int    `yaml:"turnTimeout,omitempty"` // seconds
	DefaultInstructions string `yaml:"defaultInstructions,omitempty"`
	FailOpenGuardrail   *bool  `yaml:"failOpenGuardrail,omitempty"`
}

// SessionConfig defines session behavior.
type SessionConfig struct {
	Dir   string `yaml:"dir,omitempty"`
	Scope string `yaml:"scope,omitempty"` // "per-tenant" | "global"
}

// RoutingConfig holds the policies the pipeline applies to unknown tenants.
type RoutingConfig struct {
	FallbackToDefault bool `yaml:"fallbackToDefault,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// HooksConfig defines shell commands run on lifecycle events.
type HooksConfig struct {
	MessageReceived  []HookEntry `yaml:"messageReceived,omitempty"`
	MessageSending   []HookEntry `yaml:"messageSending,omitempty"`
	GuardrailBlocked []HookEntry `yaml:"guardrailBlocked,omitempty"`
	GatewayStart     []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop      []HookEntry `yaml:"gatewayStop,omitempty"`
	BeforeAgentRun   []HookEntry `yaml:"beforeAgentRun,omitempty"`
	AfterAgentRun    []HookEntry `yaml:"afterAgentRun,omitempty"`
	SessionStart     []HookEntry `yaml:"sessionStart,omitempty"`
	SessionEnd       []HookEntry `yaml:"sessionEnd,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// GuardrailFailsOpen reports whether classifier errors let messages through.
func (a AgentConfig) GuardrailFailsOpen() bool {
	return a.FailOpenGuardrail == nil || *a.FailOpenGuardrail
}
