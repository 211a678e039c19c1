package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validBinds         = []string{"auto", "lan", "loopback", "custom"}
	validAuthModes     = []string{"token", "password", "none"}
	validProviders     = []string{"openai", "anthropic", "gemini"}
	validProviderAuth  = []string{"api-key", "oauth"}
	validStoreDrivers  = []string{"sqlite", "memory"}
	validLogLevels     = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validConsoleStyles = []string{"pretty", "json"}
)

func oneOf(issues []ValidationIssue, path, value string, allowed []string) []ValidationIssue {
	if value != "" && !slices.Contains(allowed, value) {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must be one of %v, got %q", allowed, value),
		})
	}
	return issues
}

func nonNegative(issues []ValidationIssue, path string, value int) []ValidationIssue {
	if value < 0 {
		issues = append(issues, ValidationIssue{
			Path:    path,
			Message: fmt.Sprintf("must not be negative, got %d", value),
		})
	}
	return issues
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}
	issues = oneOf(issues, "gateway.bind", cfg.Gateway.Bind, validBinds)
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}
	issues = oneOf(issues, "gateway.auth.mode", cfg.Gateway.Auth.Mode, validAuthModes)
	seen := make(map[string]bool)
	for i, u := range cfg.Gateway.Auth.Users {
		path := fmt.Sprintf("gateway.auth.users[%d]", i)
		if u.ID == "" || u.Token == "" {
			issues = append(issues, ValidationIssue{Path: path, Message: "id and token are required"})
		}
		if seen[u.Token] && u.Token != "" {
			issues = append(issues, ValidationIssue{Path: path + ".token", Message: "duplicate token"})
		}
		seen[u.Token] = true
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	for name, p := range cfg.Models.Providers {
		issues = oneOf(issues, "models.providers", name, validProviders)
		issues = oneOf(issues, "models.providers."+name+".auth", p.Auth, validProviderAuth)
		if p.Auth == "oauth" && p.AccessToken == "" {
			issues = append(issues, ValidationIssue{
				Path:    "models.providers." + name + ".accessToken",
				Message: "required when auth is oauth",
			})
		}
	}
	for i, f := range cfg.Models.Fallbacks {
		issues = oneOf(issues, fmt.Sprintf("models.fallbacks[%d]", i), f, validProviders)
	}

	d := cfg.Agents.Defaults
	issues = oneOf(issues, "agents.defaults.provider", d.Provider, validProviders)
	issues = nonNegative(issues, "agents.defaults.maxTokens", d.MaxTokens)
	issues = nonNegative(issues, "agents.defaults.subAgentMaxTokens", d.SubAgentMaxTokens)
	issues = nonNegative(issues, "agents.defaults.memoryWindow", d.MemoryWindow)
	issues = nonNegative(issues, "agents.defaults.maxToolRounds", d.MaxToolRounds)
	if d.Temperature != nil && (*d.Temperature < 0 || *d.Temperature > 2) {
		issues = append(issues, ValidationIssue{
			Path:    "agents.defaults.temperature",
			Message: fmt.Sprintf("must be 0-2, got %v", *d.Temperature),
		})
	}

	issues = nonNegative(issues, "turn.timeoutMinutes", cfg.Turn.TimeoutMinutes)
	issues = nonNegative(issues, "turn.retry.maxAttempts", cfg.Turn.Retry.MaxAttempts)
	if cfg.Team.AwaitTimeoutSeconds > cfg.Team.MaxAwaitSeconds && cfg.Team.MaxAwaitSeconds > 0 {
		issues = append(issues, ValidationIssue{
			Path:    "team.awaitTimeoutSeconds",
			Message: fmt.Sprintf("must not exceed team.maxAwaitSeconds (%d)", cfg.Team.MaxAwaitSeconds),
		})
	}

	issues = oneOf(issues, "store.driver", cfg.Store.Driver, validStoreDrivers)
	issues = oneOf(issues, "logging.level", cfg.Logging.Level, validLogLevels)
	issues = oneOf(issues, "logging.consoleLevel", cfg.Logging.ConsoleLevel, validLogLevels)
	issues = oneOf(issues, "logging.consoleStyle", cfg.Logging.ConsoleStyle, validConsoleStyles)

	return issues
}
