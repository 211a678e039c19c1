package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedConfigPath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		// Allowed paths
		{"gateway.port", true},
		{"gateway.bind", true},
		{"gateway.customBindHost", true},
		{"gateway.controlUi", true},
		{"gateway.controlUi.allowedOrigins", true},
		{"logging", true},
		{"logging.level", true},
		{"turn", true},
		{"turn.timeoutMinutes", true},
		{"team.awaitTimeoutSeconds", true},
		{"agents.defaults", true},
		{"agents.defaults.model", true},
		// Blocked paths (not in allowlist)
		{"gateway.auth", false},
		{"gateway.auth.mode", false},
		{"gateway.auth.token", false},
		{"gateway.auth.password", false},
		{"gateway.auth.users", false},
		{"gateway.tls", false},
		{"gateway.tls.keyPath", false},
		{"gateway.portal", false},
		{"models.providers", false},
		{"models.providers.openai.apiKey", false},
		{"turnover", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isAllowedConfigPath(tt.path))
		})
	}
}

// Unmatched methods fall through to the catch-all.
func TestRoutesWrongMethodIsNotFound(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.do(t, http.MethodPut, "/api/agents", testToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/api/threads/t1/chat", testToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthedRejectsBeforeHandler(t *testing.T) {
	g := newTestGateway(t, nil)

	called := false
	h := g.srv.authed(func(w http.ResponseWriter, r *http.Request, ownerID string) {
		called = true
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer alice-token")
	var owner string
	h = g.srv.authed(func(w http.ResponseWriter, r *http.Request, ownerID string) {
		owner = ownerID
	})
	h(httptest.NewRecorder(), req)
	assert.Equal(t, "alice", owner)
}
