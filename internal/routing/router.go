// Package routing admits turns onto threads and drives them through the
// executor while the session manager holds the thread.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BrotherOrange/PlayForge/internal/agent"
	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/hooks"
	"github.com/BrotherOrange/PlayForge/internal/logging"
	"github.com/BrotherOrange/PlayForge/internal/session"
)

// CreateLeadRequest describes a new lead agent.
type CreateLeadRequest struct {
	Provider    domain.Provider `json:"provider"`
	Model       string          `json:"modelName"`
	DisplayName string          `json:"displayName"`
}

// Router is the entry point for every agent, thread and turn operation.
type Router struct {
	store    agent.ThreadStore
	exec     *agent.Executor
	spawner  *agent.Spawner
	sessions *session.Manager
	hooks    *hooks.Manager
	log      *logging.Logger

	wg sync.WaitGroup
}

// NewRouter creates a router. When spawner is non-nil, sub-agent turns are
// dispatched through the router and lead turns get the team tools.
func NewRouter(
	store agent.ThreadStore,
	exec *agent.Executor,
	spawner *agent.Spawner,
	sessions *session.Manager,
	hm *hooks.Manager,
	log *logging.Logger,
) *Router {
	r := &Router{
		store:    store,
		exec:     exec,
		spawner:  spawner,
		sessions: sessions,
		hooks:    hm,
		log:      log.Sub("routing"),
	}
	if spawner != nil {
		spawner.Bind(r)
		exec.SetTeam(spawner)
	}
	return r
}

// ListAgents returns the caller's agents, leads newest-first, each
// followed by its sub-agents.
func (r *Router) ListAgents(ctx context.Context, ownerID string) ([]domain.Agent, error) {
	return r.store.ListAgents(ctx, ownerID)
}

// CreateLead creates a lead agent and its thread.
func (r *Router) CreateLead(ctx context.Context, ownerID string, req CreateLeadRequest) (domain.Agent, domain.Thread, error) {
	a, th, err := r.store.CreateLeadAgent(ctx, ownerID, req.Provider, strings.TrimSpace(req.Model), req.DisplayName)
	if err != nil {
		return domain.Agent{}, domain.Thread{}, err
	}
	r.log.Info().
		Str("agent", a.ID).
		Str("threadId", th.ID).
		Str("provider", string(a.Provider)).
		Str("model", a.Model).
		Msg("lead agent created")
	r.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventAgentCreated, map[string]any{
		"agentId":  a.ID,
		"ownerId":  ownerID,
		"threadId": th.ID,
		"provider": string(a.Provider),
		"model":    a.Model,
	})
	return a, th, nil
}

// DeleteAgent cancels any turn running on the agent's thread or its team's
// threads, then deletes the agent with everything beneath it.
func (r *Router) DeleteAgent(ctx context.Context, ownerID, agentID string) error {
	a, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if a.OwnerID != ownerID {
		return domain.NotFoundf("agent %s", agentID)
	}

	cause := fmt.Errorf("agent %s deleted", agentID)
	threads := []string{a.ThreadID}
	if a.IsLead() {
		subs, err := r.store.ListSubAgents(ctx, a.ThreadID)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			threads = append(threads, sub.ThreadID)
		}
	}
	if a.IsLead() && r.spawner != nil {
		r.spawner.Disband(a.ThreadID)
	}
	for _, id := range threads {
		r.sessions.Cancel(id, cause)
	}

	if err := r.store.DeleteAgent(ctx, ownerID, agentID); err != nil {
		return err
	}
	r.log.Info().Str("agent", agentID).Msg("agent deleted")
	r.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventAgentDeleted, map[string]any{
		"agentId":   agentID,
		"ownerId":   ownerID,
		"threadId":  a.ThreadID,
		"threadIds": threads,
	})
	return nil
}

// ownedAgent returns the agent of threadID if ownerID owns it.
func (r *Router) ownedAgent(ctx context.Context, ownerID, threadID string) (domain.Agent, error) {
	a, err := r.store.AgentForThread(ctx, threadID)
	if err != nil {
		return domain.Agent{}, err
	}
	if a.OwnerID != ownerID {
		return domain.Agent{}, domain.NotFoundf("thread %s", threadID)
	}
	return a, nil
}

// ListMessages returns one page of a thread, oldest-first.
func (r *Router) ListMessages(ctx context.Context, ownerID, threadID string, limit, offset int) ([]domain.Message, error) {
	if _, err := r.ownedAgent(ctx, ownerID, threadID); err != nil {
		return nil, err
	}
	limit, offset = domain.NormalizePage(limit, offset)
	return r.store.ListMessages(ctx, threadID, limit, offset)
}

// SearchMessages finds messages in a thread matching query.
func (r *Router) SearchMessages(ctx context.Context, ownerID, threadID, query string, limit int) ([]domain.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.Validationf("search query is empty")
	}
	if _, err := r.ownedAgent(ctx, ownerID, threadID); err != nil {
		return nil, err
	}
	limit, _ = domain.NormalizePage(limit, 0)
	return r.store.SearchMessages(ctx, threadID, query, limit)
}

// Processing reports whether a turn is running on the thread.
func (r *Router) Processing(ctx context.Context, ownerID, threadID string) (bool, error) {
	if _, err := r.ownedAgent(ctx, ownerID, threadID); err != nil {
		return false, err
	}
	return r.sessions.IsProcessing(threadID), nil
}

// Submit starts a turn on threadID with content as the user message. It
// returns once the turn is admitted; the turn then runs to completion on
// its own, independent of ctx and of the transports, which receive every
// event including the terminal one. NotFound, Validation and Busy errors
// are returned before anything is persisted or published.
func (r *Router) Submit(ctx context.Context, ownerID, threadID, content string, transports ...session.Transport) (*Submission, error) {
	a, err := r.ownedAgent(ctx, ownerID, threadID)
	if err != nil {
		return nil, err
	}
	return r.start(context.WithoutCancel(ctx), a, content, transports)
}

// Dispatch implements agent.TurnDispatcher. The turn is cancelled with ctx.
func (r *Router) Dispatch(ctx context.Context, threadID, content string) (agent.TurnHandle, error) {
	a, err := r.store.AgentForThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return r.start(ctx, a, content, nil)
}

// ActiveTurns returns the number of threads with a running turn.
func (r *Router) ActiveTurns() int {
	return r.sessions.Count()
}

// Cancel asks the turn running on threadID to stop. It reports whether
// one was running.
func (r *Router) Cancel(ctx context.Context, ownerID, threadID string) (bool, error) {
	if _, err := r.ownedAgent(ctx, ownerID, threadID); err != nil {
		return false, err
	}
	return r.sessions.Cancel(threadID, errCancelled), nil
}

var errCancelled = errors.New("turn cancelled by client")

// Attach adds t to the turn running on threadID, if any. The returned
// func detaches it.
func (r *Router) Attach(ctx context.Context, ownerID, threadID string, t session.Transport) (func(), bool, error) {
	if _, err := r.ownedAgent(ctx, ownerID, threadID); err != nil {
		return nil, false, err
	}
	s, ok := r.sessions.Get(threadID)
	if !ok {
		return func() {}, false, nil
	}
	detach, ok := s.Attach(t)
	return detach, ok, nil
}

func (r *Router) start(ctx context.Context, a domain.Agent, content string, transports []session.Transport) (*Submission, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.Validationf("message content is empty")
	}
	if !a.Active {
		return nil, fmt.Errorf("agent %s: %w", a.ID, domain.ErrReadOnly)
	}

	sess, err := r.sessions.Begin(ctx, a.ThreadID)
	if err != nil {
		return nil, err
	}
	turn, err := r.exec.Start(sess.Context(), a, content)
	if err != nil {
		sess.End(domain.ErrorEvent(err.Error()))
		return nil, err
	}
	for _, t := range transports {
		if t != nil {
			sess.Attach(t)
		}
	}

	sub := &Submission{Turn: turn, Session: sess, done: make(chan struct{})}
	r.wg.Add(1)
	go r.run(sub)

	r.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventTurnStart, map[string]any{
		"turnId":   turn.ID,
		"threadId": a.ThreadID,
		"agentId":  a.ID,
	})
	return sub, nil
}

func (r *Router) run(sub *Submission) {
	defer r.wg.Done()
	defer close(sub.done)

	sess := sub.Session
	a := sub.Turn.Agent
	res := r.exec.Run(sess.Context(), sub.Turn, sess)

	if a.IsLead() && r.spawner != nil {
		r.spawner.ConcludeLead(agent.WithHeartbeat(sess.Context(), sess.Touch), a.ThreadID, res.Status)
	}

	sub.result = res
	if !sess.End(res.Final()) {
		r.log.Warn().Str("threadId", a.ThreadID).Str("turnId", res.TurnID).Msg("session was released before the turn ended")
	}

	data := map[string]any{
		"turnId":     res.TurnID,
		"threadId":   res.ThreadID,
		"agentId":    res.AgentID,
		"status":     string(res.Status),
		"durationMs": res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
	}
	r.hooks.EmitAsync(context.Background(), hooks.EventTurnEnd, data)
}

// Shutdown cancels running turns and sub-agent tasks, then waits for the
// turns to wind down or ctx to end.
func (r *Router) Shutdown(ctx context.Context) error {
	r.sessions.Stop()
	if r.spawner != nil {
		r.spawner.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.hooks.Wait(ctx)
}

// Submission is an admitted turn. It implements agent.TurnHandle.
type Submission struct {
	Turn    *agent.Turn
	Session *session.Session

	done   chan struct{}
	result agent.TurnResult
}

// Done is closed after the turn has ended and released its thread.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Result is valid once Done is closed.
func (s *Submission) Result() agent.TurnResult { return s.result }

// Wait blocks until the turn ends or ctx is done. Giving up on the wait
// leaves the turn running.
func (s *Submission) Wait(ctx context.Context) (agent.TurnResult, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return agent.TurnResult{}, fmt.Errorf("waiting for turn %s: %w", s.Turn.ID, domain.ErrTimeout)
	}
}
