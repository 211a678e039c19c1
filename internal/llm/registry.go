package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Registry maps provider names and model names to clients.
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]Client // provider name → client
	aliases   map[string]string // model name → provider name
	defaults  map[string]string // provider name → default model
	fallback  string
	fallbacks []string
	log       *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients:  make(map[string]Client),
		aliases:  make(map[string]string),
		defaults: make(map[string]string),
		log:      log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name to a provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetDefaultModel records the model used when failing over to provider.
func (r *Registry) SetDefaultModel(provider, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[provider] = model
}

// DefaultModel returns the default model of provider, if any.
func (r *Registry) DefaultModel(provider string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults[provider]
}

// SetFallback sets the provider used when no provider or alias matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// SetFailoverChain sets the providers tried, in order, after the primary fails.
func (r *Registry) SetFailoverChain(providers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append([]string(nil), providers...)
}

// FailoverChain returns the configured failover providers.
func (r *Registry) FailoverChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.fallbacks...)
}

// Resolve returns the Client for a provider name or model name.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(ref string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[ref]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[ref]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for %q", ref)
}

// Has reports whether provider is registered.
func (r *Registry) Has(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[provider]
	return ok
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers a client for every configured provider
// that has credentials. Unknown provider names are treated as
// OpenAI-compatible endpoints when they carry a base URL.
func NewRegistryFromConfig(cfg config.ModelsConfig, defaultProvider string, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	for name, p := range cfg.Providers {
		client := newProviderClient(name, p)
		if client == nil {
			reg.log.Warn().Str("provider", name).Msg("provider has no credentials or is unsupported, skipping")
			continue
		}
		reg.Register(name, client)
		if p.DefaultModel != "" {
			reg.SetDefaultModel(name, p.DefaultModel)
		}
		for _, m := range p.Models {
			reg.Alias(m, name)
		}
	}

	if defaultProvider != "" && reg.Has(defaultProvider) {
		reg.SetFallback(defaultProvider)
	}
	reg.SetFailoverChain(cfg.Fallbacks)
	return reg
}

func newProviderClient(name string, p config.ModelProviderEntry) Client {
	pc := ProviderConfig{
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		Headers:      p.Headers,
		DefaultModel: p.DefaultModel,
	}

	switch strings.ToLower(name) {
	case "anthropic":
		if pc.APIKey == "" {
			return nil
		}
		return NewAnthropicClient(pc)

	case "gemini":
		if p.Auth == "oauth" {
			if p.AccessToken == "" {
				return nil
			}
			pc.HTTPClient = oauthHTTPClient(p.AccessToken)
			pc.APIKey = ""
		} else if pc.APIKey == "" {
			return nil
		}
		return NewGeminiAPIClient(pc)

	default:
		if pc.APIKey == "" && pc.BaseURL == "" {
			return nil
		}
		return NewOpenAIClient(pc)
	}
}

// oauthHTTPClient returns an HTTP client that attaches a bearer token to
// every request.
func oauthHTTPClient(accessToken string) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return oauth2.NewClient(context.Background(), src)
}
