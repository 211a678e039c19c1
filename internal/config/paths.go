package config

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const defaultBaseDir = ".playforge"

// Paths are the filesystem locations PlayForge reads and writes.
type Paths struct {
	Base   string // ~/.playforge, or $PLAYFORGE_HOME
	Config string // <base>/config.yaml
	Logs   string // <base>/logs
	Data   string // <base>/data
}

// ResolvePaths derives Paths from PLAYFORGE_HOME, falling back to
// ~/.playforge.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("PLAYFORGE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}
	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// DatabasePath is where the SQLite store lives unless store.path says otherwise.
func (p Paths) DatabasePath() string { return filepath.Join(p.Data, "playforge.db") }

// LogFile is the gateway's log file unless logging.file says otherwise.
func (p Paths) LogFile() string { return filepath.Join(p.Logs, "gateway.log") }

// EnsureDirs creates the base, logs and data directories.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// Sections are the top-level keys of config.yaml.
var Sections = []string{"gateway", "models", "agents", "turn", "team", "store", "logging", "hooks"}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ParseConfigPath splits a dotted key such as "agents.defaults.model".
// The first segment must name a config section.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if !segmentPattern.MatchString(p) {
			return nil, &ConfigError{Message: "invalid config path segment: " + p}
		}
	}
	if !slices.Contains(Sections, parts[0]) {
		return nil, &ConfigError{Message: "unknown config section: " + parts[0]}
	}
	return parts, nil
}

// secretKeys are leaf names whose values are credentials.
var secretKeys = map[string]bool{
	"apiKey":      true,
	"accessToken": true,
	"token":       true,
	"password":    true,
}

// IsSecretPath reports whether path names a credential or a subtree
// holding credentials (the per-user token list).
func IsSecretPath(path []string) bool {
	if len(path) == 0 {
		return false
	}
	if secretKeys[path[len(path)-1]] {
		return true
	}
	return len(path) >= 3 && path[0] == "gateway" && path[1] == "auth" && path[2] == "users"
}

const redacted = "********"

// Redact returns a copy of v, found at path, with every credential
// replaced by a placeholder.
func Redact(path []string, v any) any {
	if IsSecretPath(path) {
		if _, ok := v.(string); ok {
			return redacted
		}
		if _, ok := v.([]any); ok {
			return redacted
		}
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = Redact(append(slices.Clone(path), k), child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = Redact(path, child)
		}
		return out
	}
	return v
}

// walk returns the map holding the last segment of path. With create
// set, missing or non-map intermediates are replaced by empty maps.
func walk(root map[string]any, path []string, create bool) (map[string]any, bool) {
	cur := root
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur, true
}

// GetValueAtPath returns the value at path in a raw config tree.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return root, true
	}
	parent, ok := walk(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := parent[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value at path, creating intermediate sections.
func SetValueAtPath(root map[string]any, path []string, value any) {
	parent, _ := walk(root, path, true)
	parent[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parent, ok := walk(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := parent[last]; !ok {
		return false
	}
	delete(parent, last)
	return true
}
