package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/agent"
	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/routing"
)

// HealthResponse is returned by health endpoints. The public endpoint only
// populates Status; the authenticated status endpoint populates all fields.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Clients     int    `json:"clients,omitempty"`
	ActiveTurns int    `json:"activeTurns,omitempty"`
	UptimeMs    int64  `json:"uptimeMs,omitempty"`
}

// handleHealth returns the server health status. Only status is exposed
// publicly.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ string) {
	resp := HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Clients:     s.clients.Count(),
		ActiveTurns: s.router.ActiveTurns(),
	}
	if !s.startedAt.IsZero() {
		resp.UptimeMs = time.Since(s.startedAt).Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorCode(w, http.StatusNotFound, CodeNotFound, "no route for "+r.URL.Path)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request, ownerID string) {
	agents, err := s.router.ListAgents(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req routing.CreateLeadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, th, err := s.router.CreateLead(r.Context(), ownerID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"agent": a, "thread": th})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request, ownerID string) {
	if err := s.router.DeleteAgent(r.Context(), ownerID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, ownerID string) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}
	threadID := r.PathValue("id")
	msgs, err := s.router.ListMessages(r.Context(), ownerID, threadID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, offset = domain.NormalizePage(limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"threadId": threadID,
		"messages": msgs,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request, ownerID string) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	threadID := r.PathValue("id")
	msgs, err := s.router.SearchMessages(r.Context(), ownerID, threadID, r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threadId": threadID, "messages": msgs})
}

func (s *Server) handleThreadStatus(w http.ResponseWriter, r *http.Request, ownerID string) {
	threadID := r.PathValue("id")
	processing, err := s.router.Processing(r.Context(), ownerID, threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threadId": threadID, "processing": processing})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, ownerID string) {
	threadID := r.PathValue("id")
	cancelled, err := s.router.Cancel(r.Context(), ownerID, threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threadId": threadID, "cancelled": cancelled})
}

type chatRequest struct {
	Content string `json:"content"`
}

// ChatResponse is the body of a synchronous chat reply.
type ChatResponse struct {
	TurnID   string            `json:"turnId"`
	ThreadID string            `json:"threadId"`
	Status   domain.TurnStatus `json:"status"`
	Content  string            `json:"content"`
	Message  *domain.Message   `json:"message,omitempty"`
	Usage    any               `json:"usage"`
	Duration int64             `json:"durationMs"`
}

// handleChat runs a turn and replies with its final result only.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.router.Submit(r.Context(), ownerID, r.PathValue("id"), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(r.Context(), s.syncTimeout)
	defer cancel()
	res, err := sub.Wait(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Status == domain.TurnFailed {
		err := res.Err
		if err == nil {
			err = domain.ErrModelFailure
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(res))
}

func chatResponse(res agent.TurnResult) ChatResponse {
	return ChatResponse{
		TurnID:   res.TurnID,
		ThreadID: res.ThreadID,
		Status:   res.Status,
		Content:  res.Content,
		Message:  res.Assistant,
		Usage:    res.Usage,
		Duration: res.Duration.Milliseconds(),
	}
}

// handleChatStream runs a turn and streams every event as SSE. Admission
// errors are plain JSON responses. Abandoning the request leaves the turn
// running.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, ownerID string) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sw := newSSEWriter(w)
	defer sw.close()

	sub, err := s.router.Submit(r.Context(), ownerID, r.PathValue("id"), req.Content, sw)
	if err != nil {
		writeError(w, err)
		return
	}
	http.NewResponseController(w).SetWriteDeadline(time.Time{})
	sw.open()

	timer := time.NewTimer(s.streamTimeout)
	defer timer.Stop()
	select {
	case <-sub.Done():
	case <-timer.C:
		sw.Send(domain.ErrorEvent(domain.ErrTimeout.Error()))
	case <-r.Context().Done():
	}
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter. Missing means 0.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer", name)
	}
	return n, nil
}
