package gateway

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/BrotherOrange/PlayForge/internal/config"
)

// DefaultOwnerID owns every agent created with the shared gateway token or
// password, or with auth disabled.
const DefaultOwnerID = "local"

const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
	AuthModeNone     = "none"

	// method reported for a per-user token
	authMethodUser = "user"
)

// bearerSubprotocol is offered by browser WebSocket clients as
// Sec-WebSocket-Protocol: bearer, <token>.
const bearerSubprotocol = "bearer"

// AuthResult is the outcome of checking one credential.
type AuthResult struct {
	OK      bool   `json:"ok"`
	Method  string `json:"method,omitempty"`
	OwnerID string `json:"ownerId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func denied(reason string) AuthResult { return AuthResult{Reason: reason} }

// ResolvedAuth is the gateway auth config with environment fallbacks applied.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
	Users    []config.AuthUser
}

// ResolveAuth fills the shared secrets from PLAYFORGE_GATEWAY_TOKEN and
// PLAYFORGE_GATEWAY_PASSWORD when the config leaves them empty. Without an
// explicit mode, a password selects password mode and anything else token
// mode.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	a := ResolvedAuth{
		Mode:     cfg.Mode,
		Token:    firstNonEmpty(cfg.Token, os.Getenv("PLAYFORGE_GATEWAY_TOKEN")),
		Password: firstNonEmpty(cfg.Password, os.Getenv("PLAYFORGE_GATEWAY_PASSWORD")),
	}
	for _, u := range cfg.Users {
		if u.ID != "" && u.Token != "" {
			a.Users = append(a.Users, u)
		}
	}
	if a.Mode == "" {
		a.Mode = AuthModeToken
		if a.Password != "" {
			a.Mode = AuthModePassword
		}
	}
	return a
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Authorize checks credential. Per-user tokens work in every mode except
// none and map to their own owner id. The shared token or password maps
// to DefaultOwnerID.
func (a ResolvedAuth) Authorize(credential string) AuthResult {
	if a.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone, OwnerID: DefaultOwnerID}
	}
	if credential == "" {
		return denied("no credentials provided")
	}
	if owner, ok := a.userFor(credential); ok {
		return AuthResult{OK: true, Method: authMethodUser, OwnerID: owner}
	}

	var secret string
	switch a.Mode {
	case AuthModeToken:
		secret = a.Token
	case AuthModePassword:
		secret = a.Password
	default:
		return denied("unknown auth mode: " + a.Mode)
	}
	switch {
	case secret == "" && a.Mode == AuthModeToken && len(a.Users) > 0:
		return denied("token_mismatch")
	case secret == "":
		return denied("server " + a.Mode + " not configured")
	case !safeEqual(credential, secret):
		return denied(a.Mode + "_mismatch")
	}
	return AuthResult{OK: true, Method: a.Mode, OwnerID: DefaultOwnerID}
}

// userFor compares against every user token so the match position does
// not show in timing.
func (a ResolvedAuth) userFor(credential string) (string, bool) {
	owner := ""
	for _, u := range a.Users {
		if safeEqual(credential, u.Token) && owner == "" {
			owner = u.ID
		}
	}
	return owner, owner != ""
}

// requestCredential extracts the bearer credential from, in order, the
// Authorization header, the WebSocket subprotocol pair and the token query
// parameter.
func requestCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if tok := subprotocolToken(r.Header.Values("Sec-WebSocket-Protocol")); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

func subprotocolToken(headers []string) string {
	var protocols []string
	for _, v := range headers {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				protocols = append(protocols, p)
			}
		}
	}
	for i := 0; i+1 < len(protocols); i++ {
		if strings.EqualFold(protocols[i], bearerSubprotocol) {
			return protocols[i+1]
		}
	}
	return ""
}

// safeEqual compares in constant time, including when lengths differ.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
