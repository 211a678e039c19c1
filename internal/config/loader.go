package config

import (
	"os"
	"path/filepath"
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

// providerKeyEnv names the conventional API key variable per provider.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// expandSensitiveFields resolves ${ENV_VAR} references in credential fields.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	for i := range cfg.Gateway.Auth.Users {
		cfg.Gateway.Auth.Users[i].Token = expandEnvVars(cfg.Gateway.Auth.Users[i].Token)
	}
	for name, provider := range cfg.Models.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		provider.AccessToken = expandEnvVars(provider.AccessToken)
		cfg.Models.Providers[name] = provider
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Defaults()
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Defaults(), err
	}
	cfg, err := decode(data)
	if err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// Decode turns a raw config tree, as edited by `config set`, into a
// Config with defaults filled in. Environment overrides are not applied.
func Decode(raw map[string]any) (Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Defaults(), err
	}
	return decode(data)
}

func decode(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	applyDefaults(&cfg)
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

// SaveRaw writes raw as YAML through a temp file and rename, so a reader
// never sees a half-written config.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	defaultInt(&cfg.Gateway.Port, DefaultPort)
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}

	d := &cfg.Agents.Defaults
	if d.Provider == "" {
		d.Provider = "openai"
	}
	defaultInt(&d.MaxTokens, DefaultMaxTokens)
	defaultInt(&d.SubAgentMaxTokens, DefaultSubAgentMaxTokens)
	defaultInt(&d.MemoryWindow, DefaultMemoryWindow)
	defaultInt(&d.SubAgentMemoryWindow, DefaultSubAgentMemoryWindow)
	defaultInt(&d.MaxToolRounds, DefaultMaxToolRounds)

	t := &cfg.Turn
	defaultInt(&t.TimeoutMinutes, DefaultTurnTimeoutMinutes)
	defaultInt(&t.SyncTimeoutMinutes, DefaultTurnTimeoutMinutes)
	defaultInt(&t.StreamTimeoutMinutes, DefaultTurnTimeoutMinutes)
	defaultInt(&t.Retry.MaxAttempts, DefaultRetryAttempts)
	defaultInt(&t.Retry.BaseBackoffMs, DefaultRetryBackoffMs)
	defaultInt(&t.ThinkingFlushBytes, 512)
	defaultInt(&t.ThinkingFlushIdleMs, 1000)

	defaultInt(&cfg.Team.AwaitTimeoutSeconds, DefaultAwaitTimeoutSeconds)
	defaultInt(&cfg.Team.MaxAwaitSeconds, DefaultMaxAwaitSeconds)
	defaultInt(&cfg.Team.MaxConcurrent, DefaultTeamConcurrency)

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleLevel == "" {
		cfg.Logging.ConsoleLevel = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// envOverride maps one PLAYFORGE_* variable onto the config. apply
// ignores values it cannot parse.
type envOverride struct {
	name  string
	apply func(cfg *Config, v string)
}

func positiveInt(dst *int) func(*Config, string) {
	return func(_ *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envOverrides(cfg *Config) []envOverride {
	return []envOverride{
		{"PLAYFORGE_GATEWAY_PORT", positiveInt(&cfg.Gateway.Port)},
		{"PLAYFORGE_GATEWAY_BIND", func(c *Config, v string) { c.Gateway.Bind = v }},
		{"PLAYFORGE_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = strings.ToLower(v) }},
		{"PLAYFORGE_STORE_PATH", func(c *Config, v string) { c.Store.Path = v }},
		{"PLAYFORGE_TURN_TIMEOUT_MINUTES", positiveInt(&cfg.Turn.TimeoutMinutes)},
		{"PLAYFORGE_TEAM_MAX_CONCURRENT", positiveInt(&cfg.Team.MaxConcurrent)},
	}
}

// applyEnvOverrides applies the PLAYFORGE_* variables that are set. A
// provider without an apiKey takes the vendor's conventional variable.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides(cfg) {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}

	for name, envName := range providerKeyEnv {
		key := os.Getenv(envName)
		if key == "" || cfg.Models.Providers[name].APIKey != "" {
			continue
		}
		if cfg.Models.Providers == nil {
			cfg.Models.Providers = make(map[string]ModelProviderEntry)
		}
		entry := cfg.Models.Providers[name]
		entry.APIKey = key
		cfg.Models.Providers[name] = entry
	}
}
