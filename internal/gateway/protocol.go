package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BrotherOrange/PlayForge/internal/domain"
)

// Client message types on the agent chat socket.
const (
	ClientMessageChat   = "message"
	ClientMessageCancel = "cancel"
)

// ClientMessage is one frame sent by a socket client.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ServerMessage is one frame sent to a socket client.
type ServerMessage struct {
	Type    domain.EventType `json:"type"`
	Content string           `json:"content,omitempty"`
}

// forwardedOverSocket reports whether ev is part of the socket contract.
// Progress and response events are visible only on the SSE stream and in
// the persisted history.
func forwardedOverSocket(ev domain.Event) bool {
	switch ev.Type {
	case domain.EventToken, domain.EventThinking, domain.EventDone, domain.EventError:
		return true
	}
	return false
}

// ErrorShape is the standard error format of REST responses.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorBody wraps ErrorShape as {"error": {...}}.
type ErrorBody struct {
	Error ErrorShape `json:"error"`
}

// Error codes that are not part of the domain taxonomy.
const (
	CodeUnauthorized = "Unauthorized"
	CodeRateLimited  = "RateLimited"
	CodeNotFound     = "NotFound"
	CodeInternal     = "Internal"
)

// statusForError maps err onto an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrModelFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError encodes err as an ErrorBody with its mapped status.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), ErrorBody{Error: ErrorShape{
		Code:    domain.ErrorKind(err),
		Message: err.Error(),
	}})
}

// writeErrorCode encodes a non-domain error.
func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorShape{Code: code, Message: message}})
}
