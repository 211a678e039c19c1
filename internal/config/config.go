package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Default values shared by Defaults and applyDefaults.
const (
	DefaultPort                 = 18790
	DefaultMaxTokens            = 32768
	DefaultSubAgentMaxTokens    = 24576
	DefaultMemoryWindow         = 40
	DefaultSubAgentMemoryWindow = 20
	DefaultMaxToolRounds        = 5
	DefaultTurnTimeoutMinutes   = 5
	DefaultRetryAttempts        = 2
	DefaultRetryBackoffMs       = 2000
	DefaultAwaitTimeoutSeconds  = 120
	DefaultMaxAwaitSeconds      = 600
	DefaultTeamConcurrency      = 8
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{
		Gateway: GatewayConfig{
			Port: DefaultPort,
			Bind: "loopback",
			Auth: GatewayAuth{Mode: "token"},
		},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider: "openai",
				Model:    "gpt-5.2",
			},
		},
		Store: StoreConfig{Driver: "sqlite"},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleLevel: "info",
			ConsoleStyle: "pretty",
		},
	}
	applyDefaults(&cfg)
	return cfg
}
