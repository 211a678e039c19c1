package gateway

import (
	"net/http"
	"strings"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/domain"
)

// safeConfigPrefixes lists the config subtrees readable over HTTP. Secrets
// inside them are still redacted.
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.controlUi",
	"agents.defaults",
	"turn",
	"team",
	"logging",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// ownerHandler is a handler that runs after authentication.
type ownerHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

func (s *Server) authed(h ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		h(w, r, ownerID)
	}
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/status", s.authed(s.handleStatus))
	mux.HandleFunc("GET /api/config", s.authed(s.handleConfigGet))

	mux.HandleFunc("GET /api/agents", s.authed(s.handleListAgents))
	mux.HandleFunc("POST /api/agents", s.authed(s.handleCreateAgent))
	mux.HandleFunc("DELETE /api/agents/{id}", s.authed(s.handleDeleteAgent))

	mux.HandleFunc("GET /api/threads/{id}/messages", s.authed(s.handleListMessages))
	mux.HandleFunc("GET /api/threads/{id}/messages/search", s.authed(s.handleSearchMessages))
	mux.HandleFunc("GET /api/threads/{id}/status", s.authed(s.handleThreadStatus))
	mux.HandleFunc("POST /api/threads/{id}/chat", s.authed(s.handleChat))
	mux.HandleFunc("POST /api/threads/{id}/chat-stream", s.authed(s.handleChatStream))
	mux.HandleFunc("POST /api/threads/{id}/cancel", s.authed(s.handleCancel))

	mux.HandleFunc("GET /ws/agent-chat", s.handleAgentChat)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request, _ string) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, domain.Validationf("key is required"))
		return
	}
	path, err := config.ParseConfigPath(key)
	if err != nil {
		writeError(w, domain.Validationf("%v", err))
		return
	}
	if !isAllowedConfigPath(key) || config.IsSecretPath(path) {
		writeErrorCode(w, http.StatusForbidden, "Forbidden", "access denied for config path: "+key)
		return
	}

	s.mu.RLock()
	val, ok := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !ok {
		writeError(w, domain.NotFoundf("config key %s", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": config.Redact(path, val)})
}
