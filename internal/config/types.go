package config

import "time"

// Config is the root configuration for PlayForge.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Models  ModelsConfig  `yaml:"models,omitempty"`
	Agents  AgentsConfig  `yaml:"agents,omitempty"`
	Turn    TurnConfig    `yaml:"turn,omitempty"`
	Team    TeamConfig    `yaml:"team,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the HTTP/SSE/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	TLS            GatewayTLS       `yaml:"tls,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
}

// GatewayAuth configures bearer authentication. Each user token maps to an
// owner id that scopes agent visibility.
type GatewayAuth struct {
	Mode     string     `yaml:"mode,omitempty"` // "token" | "password" | "none"
	Token    string     `yaml:"token,omitempty"`
	Password string     `yaml:"password,omitempty"`
	Users    []AuthUser `yaml:"users,omitempty"`
}

// AuthUser binds a bearer token to an owner id.
type AuthUser struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// GatewayControlUI configures browser access to the gateway.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// ModelsConfig defines model providers and the failover order.
type ModelsConfig struct {
	Providers map[string]ModelProviderEntry `yaml:"providers,omitempty"`
	Fallbacks []string                      `yaml:"fallbacks,omitempty"`
}

// ModelProviderEntry defines one model provider.
type ModelProviderEntry struct {
	BaseURL      string            `yaml:"baseUrl,omitempty"`
	APIKey       string            `yaml:"apiKey,omitempty"`
	Auth         string            `yaml:"auth,omitempty"` // "api-key" | "oauth"
	AccessToken  string            `yaml:"accessToken,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	DefaultModel string            `yaml:"defaultModel,omitempty"`
	Models       []string          `yaml:"models,omitempty"`
}

// AgentsConfig holds defaults applied to every agent.
type AgentsConfig struct {
	Defaults AgentDefaults `yaml:"defaults,omitempty"`
}

// AgentDefaults defines default model settings for lead and sub-agents.
type AgentDefaults struct {
	Provider             string   `yaml:"provider,omitempty"`
	Model                string   `yaml:"model,omitempty"`
	MaxTokens            int      `yaml:"maxTokens,omitempty"`
	SubAgentMaxTokens    int      `yaml:"subAgentMaxTokens,omitempty"`
	Temperature          *float64 `yaml:"temperature,omitempty"`
	ThinkingBudget       int      `yaml:"thinkingBudget,omitempty"`
	MemoryWindow         int      `yaml:"memoryWindow,omitempty"`
	SubAgentMemoryWindow int      `yaml:"subAgentMemoryWindow,omitempty"`
	MaxToolRounds        int      `yaml:"maxToolRounds,omitempty"`
}

// TurnConfig bounds turn execution.
type TurnConfig struct {
	TimeoutMinutes       int         `yaml:"timeoutMinutes,omitempty"`
	SyncTimeoutMinutes   int         `yaml:"syncTimeoutMinutes,omitempty"`
	StreamTimeoutMinutes int         `yaml:"streamTimeoutMinutes,omitempty"`
	Retry                RetryConfig `yaml:"retry,omitempty"`
	ThinkingFlushBytes   int         `yaml:"thinkingFlushBytes,omitempty"`
	ThinkingFlushIdleMs  int         `yaml:"thinkingFlushIdleMs,omitempty"`
}

// RetryConfig controls model retries before the first token arrives.
type RetryConfig struct {
	MaxAttempts   int `yaml:"maxAttempts,omitempty"`
	BaseBackoffMs int `yaml:"baseBackoffMs,omitempty"`
}

// IdleTimeout is the no-progress ceiling for a running turn.
func (t TurnConfig) IdleTimeout() time.Duration {
	return time.Duration(t.TimeoutMinutes) * time.Minute
}

// SyncTimeout bounds a synchronous send.
func (t TurnConfig) SyncTimeout() time.Duration {
	return time.Duration(t.SyncTimeoutMinutes) * time.Minute
}

// StreamTimeout bounds a request-scoped stream.
func (t TurnConfig) StreamTimeout() time.Duration {
	return time.Duration(t.StreamTimeoutMinutes) * time.Minute
}

// TeamConfig bounds sub-agent delegation.
type TeamConfig struct {
	AwaitTimeoutSeconds int `yaml:"awaitTimeoutSeconds,omitempty"`
	MaxAwaitSeconds     int `yaml:"maxAwaitSeconds,omitempty"`
	MaxConcurrent       int `yaml:"maxConcurrent,omitempty"`
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleLevel string `yaml:"consoleLevel,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// HooksConfig maps lifecycle events to external commands.
type HooksConfig struct {
	AgentCreated      []HookEntry `yaml:"agentCreated,omitempty"`
	AgentDeleted      []HookEntry `yaml:"agentDeleted,omitempty"`
	TurnStart         []HookEntry `yaml:"turnStart,omitempty"`
	TurnEnd           []HookEntry `yaml:"turnEnd,omitempty"`
	SubAgentSpawned   []HookEntry `yaml:"subAgentSpawned,omitempty"`
	SubAgentDismissed []HookEntry `yaml:"subAgentDismissed,omitempty"`
	GatewayStart      []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop       []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action. The event payload is written to
// the command's stdin as JSON.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
