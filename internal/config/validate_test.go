package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, 0, len(issues))
	for _, i := range issues {
		paths = append(paths, i.Path)
	}
	return paths
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{-1, 65536, 99999} {
		cfg := Defaults()
		cfg.Gateway.Port = port
		issues := Validate(&cfg)
		require.Len(t, issues, 1, "port %d", port)
		assert.Equal(t, "gateway.port", issues[0].Path)
	}
}

func TestValidate_Enums(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"bind", func(c *Config) { c.Gateway.Bind = "tailnet" }, "gateway.bind"},
		{"auth mode", func(c *Config) { c.Gateway.Auth.Mode = "oauth" }, "gateway.auth.mode"},
		{"provider", func(c *Config) { c.Agents.Defaults.Provider = "ollama" }, "agents.defaults.provider"},
		{"store driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"console level", func(c *Config) { c.Logging.ConsoleLevel = "loud" }, "logging.consoleLevel"},
		{"console style", func(c *Config) { c.Logging.ConsoleStyle = "compact" }, "logging.consoleStyle"},
		{"fallback", func(c *Config) { c.Models.Fallbacks = []string{"copilot"} }, "models.fallbacks[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Contains(t, issuePaths(Validate(&cfg)), tt.path)
		})
	}
}

func TestValidate_CustomBindRequiresHost(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Bind = "custom"
	assert.Contains(t, issuePaths(Validate(&cfg)), "gateway.customBindHost")

	cfg.Gateway.CustomBindHost = "10.0.0.5"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_AuthUsers(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Auth.Users = []AuthUser{
		{ID: "alice", Token: "t1"},
		{ID: "bob", Token: "t1"},
		{ID: "", Token: "t2"},
	}
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "gateway.auth.users[1].token")
	assert.Contains(t, paths, "gateway.auth.users[2]")
}

func TestValidate_TLSRequiresFiles(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.TLS.Enabled = true
	assert.Contains(t, issuePaths(Validate(&cfg)), "gateway.tls")
}

func TestValidate_Providers(t *testing.T) {
	cfg := Defaults()
	cfg.Models.Providers = map[string]ModelProviderEntry{
		"gemini": {Auth: "oauth"},
		"ollama": {},
	}
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "models.providers.gemini.accessToken")
	assert.Contains(t, paths, "models.providers")
}

func TestValidate_Temperature(t *testing.T) {
	cfg := Defaults()
	hot := 3.5
	cfg.Agents.Defaults.Temperature = &hot
	assert.Contains(t, issuePaths(Validate(&cfg)), "agents.defaults.temperature")

	ok := 0.7
	cfg.Agents.Defaults.Temperature = &ok
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_AwaitTimeoutBound(t *testing.T) {
	cfg := Defaults()
	cfg.Team.AwaitTimeoutSeconds = 900
	assert.Contains(t, issuePaths(Validate(&cfg)), "team.awaitTimeoutSeconds")
}

func TestValidate_NegativeValues(t *testing.T) {
	cfg := Defaults()
	cfg.Turn.TimeoutMinutes = -1
	cfg.Agents.Defaults.MaxToolRounds = -2
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "turn.timeoutMinutes")
	assert.Contains(t, paths, "agents.defaults.maxToolRounds")
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "bad"}
	assert.Equal(t, "gateway.port: bad", issue.String())
}
