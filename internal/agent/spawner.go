package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/hooks"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

const settleTimeout = 30 * time.Second

// TurnHandle observes a dispatched turn.
type TurnHandle interface {
	// Done is closed once the turn has reached a terminal state and its
	// session has been released.
	Done() <-chan struct{}
	// Result is valid after Done is closed.
	Result() TurnResult
}

// TurnDispatcher starts a turn on a thread without waiting for it.
// The turn is cancelled when ctx is.
type TurnDispatcher interface {
	Dispatch(ctx context.Context, threadID, content string) (TurnHandle, error)
}

// SpawnerConfig bounds delegation.
type SpawnerConfig struct {
	AwaitTimeout  time.Duration
	MaxAwait      time.Duration
	MaxConcurrent int
}

// SpawnerConfigFrom maps the loaded configuration onto spawner settings.
func SpawnerConfigFrom(cfg *config.Config) SpawnerConfig {
	return SpawnerConfig{
		AwaitTimeout:  time.Duration(cfg.Team.AwaitTimeoutSeconds) * time.Second,
		MaxAwait:      time.Duration(cfg.Team.MaxAwaitSeconds) * time.Second,
		MaxConcurrent: cfg.Team.MaxConcurrent,
	}
}

// TeamMember is one sub-agent as listed to its lead.
type TeamMember struct {
	AgentID     string           `json:"agentId"`
	Name        string           `json:"name"`
	Type        domain.AgentType `json:"type"`
	DisplayName string           `json:"displayName"`
	ThreadID    string           `json:"threadId"`
	Running     bool             `json:"running"`
}

// Spawner creates sub-agents for a lead thread and runs their turns
// asynchronously. It implements Team.
type Spawner struct {
	cfg   SpawnerConfig
	store ThreadStore
	tasks *TaskManager
	hooks *hooks.Manager
	log   *logging.Logger

	mu         sync.RWMutex
	dispatcher TurnDispatcher
}

// NewSpawner creates a spawner. Bind must be called before Spawn.
func NewSpawner(cfg SpawnerConfig, store ThreadStore, hm *hooks.Manager, log *logging.Logger) *Spawner {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = config.DefaultAwaitTimeoutSeconds * time.Second
	}
	if cfg.MaxAwait <= 0 {
		cfg.MaxAwait = config.DefaultMaxAwaitSeconds * time.Second
	}
	l := log.Sub("spawner")
	return &Spawner{
		cfg:   cfg,
		store: store,
		tasks: NewTaskManager(cfg.MaxConcurrent, l),
		hooks: hm,
		log:   l,
	}
}

// Bind sets the dispatcher sub-agent turns run through.
func (s *Spawner) Bind(d TurnDispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = d
}

func (s *Spawner) getDispatcher() TurnDispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcher
}

// Spawn creates a sub-agent of typeTag under leadThreadID and dispatches
// task as its first user message. It returns once the sub-turn is running.
func (s *Spawner) Spawn(ctx context.Context, leadThreadID, typeTag, task string) (domain.Agent, error) {
	depth := SpawnDepth(ctx)
	if depth >= MaxSpawnDepth {
		return domain.Agent{}, domain.ErrDelegationDepth
	}
	if strings.TrimSpace(task) == "" {
		return domain.Agent{}, domain.Validationf("task is empty")
	}
	d := s.getDispatcher()
	if d == nil {
		return domain.Agent{}, errors.New("spawner has no dispatcher")
	}
	if err := s.tasks.Reserve(leadThreadID); err != nil {
		return domain.Agent{}, err
	}

	agent, _, err := s.store.CreateSubAgent(ctx, leadThreadID, typeTag)
	if err != nil {
		return domain.Agent{}, err
	}

	subCtx, cancel := context.WithCancel(WithSpawnDepth(context.WithoutCancel(ctx), depth+1))
	if err := s.tasks.Track(leadThreadID, agent, cancel); err != nil {
		cancel()
		return domain.Agent{}, err
	}
	h, err := d.Dispatch(subCtx, agent.ThreadID, task)
	if err != nil {
		s.tasks.Cancel(agent.ThreadID)
		s.tasks.Settle(agent.ThreadID)
		return domain.Agent{}, fmt.Errorf("dispatch %s: %w", agent.Name, err)
	}
	go s.watch(agent, h)

	s.log.Info().
		Str("lead", leadThreadID).
		Str("agent", agent.Name).
		Msg("sub-agent spawned")
	s.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventSubAgentSpawned, map[string]any{
		"agentId":        agent.ID,
		"name":           agent.Name,
		"type":           string(agent.Type),
		"threadId":       agent.ThreadID,
		"parentThreadId": leadThreadID,
	})
	return agent, nil
}

// watch converts a finished sub-turn into a task result. The turn has
// already written its reply, partial output or failure note.
func (s *Spawner) watch(agent domain.Agent, h TurnHandle) {
	<-h.Done()
	defer s.tasks.Settle(agent.ThreadID)
	res := h.Result()

	tr := TaskResult{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		AgentType: agent.Type,
		ThreadID:  agent.ThreadID,
		Status:    res.Status,
		Content:   res.Content,
	}
	switch res.Status {
	case domain.TurnFailed:
		tr.IsError = true
		tr.Error = failureReason(res.Err)
	case domain.TurnCancelled:
		tr.IsError = true
		tr.Error = "cancelled"
	}

	if !s.tasks.Complete(tr) {
		s.log.Debug().Str("agent", agent.Name).Msg("dropped result of cancelled task")
	}
}

func failureReason(err error) string {
	if err == nil {
		return "turn failed"
	}
	return err.Error()
}

// settle waits, up to settleTimeout, for cancelled sub-turns of a lead to
// return so their partial output is written before anything else touches
// their threads.
func (s *Spawner) settle(ctx context.Context, leadThreadID, threadID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if !s.tasks.WaitSettled(ctx, leadThreadID, threadID) {
		s.log.Warn().Str("lead", leadThreadID).Str("thread", threadID).Msg("sub-agent turns still running after cancel")
	}
}

// Await collects finished results for a lead thread, blocking up to
// timeout for the first one. A non-positive timeout uses the default;
// larger values are clamped to the maximum.
func (s *Spawner) Await(ctx context.Context, leadThreadID string, timeout time.Duration) []TaskResult {
	if timeout <= 0 {
		timeout = s.cfg.AwaitTimeout
	}
	timeout = min(timeout, s.cfg.MaxAwait)
	return s.tasks.Wait(ctx, leadThreadID, timeout)
}

// Members lists the active sub-agents of a lead thread.
func (s *Spawner) Members(ctx context.Context, leadThreadID string) ([]TeamMember, error) {
	subs, err := s.store.ListSubAgents(ctx, leadThreadID)
	if err != nil {
		return nil, err
	}
	out := make([]TeamMember, 0, len(subs))
	for _, a := range subs {
		if !a.Active {
			continue
		}
		out = append(out, TeamMember{
			AgentID:     a.ID,
			Name:        a.Name,
			Type:        a.Type,
			DisplayName: a.DisplayName,
			ThreadID:    a.ThreadID,
			Running:     s.tasks.IsRunning(a.ThreadID),
		})
	}
	return out, nil
}

// Dismiss cancels a sub-agent's pending work and deactivates it.
func (s *Spawner) Dismiss(ctx context.Context, leadThreadID, agentID string) (domain.Agent, error) {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Agent{}, err
	}
	if a.ParentThreadID != leadThreadID {
		return domain.Agent{}, domain.NotFoundf("agent %s is not on this team", agentID)
	}
	if s.tasks.Cancel(a.ThreadID) {
		s.settle(ctx, leadThreadID, a.ThreadID)
	}
	if err := s.store.SetAgentActive(context.WithoutCancel(ctx), a.ID, false); err != nil {
		return domain.Agent{}, err
	}
	s.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventSubAgentDismissed, map[string]any{
		"agentId":        a.ID,
		"name":           a.Name,
		"parentThreadId": leadThreadID,
	})
	return a, nil
}

// Pending returns how many sub-agents of a lead thread are still working.
func (s *Spawner) Pending(leadThreadID string) int {
	return s.tasks.Pending(leadThreadID)
}

// Outstanding implements Team.
func (s *Spawner) Outstanding(leadThreadID string) int {
	return s.tasks.Outstanding(leadThreadID)
}

// Tools implements Team.
func (s *Spawner) Tools() []Tool {
	return []Tool{
		&delegateTaskTool{s: s},
		&awaitResultsTool{s: s},
		&listTeamTool{s: s},
		&dismissAgentTool{s: s},
	}
}

// ConcludeLead settles a lead thread's team after one of its turns ends.
// After a completed turn, a team still working or holding unread results
// stays active for the next lead turn to collect, and ConcludeLead returns
// at once. Otherwise running tasks are cancelled and allowed to write their
// partial output, and every active sub-agent is deactivated.
func (s *Spawner) ConcludeLead(ctx context.Context, leadThreadID string, status domain.TurnStatus) {
	if status == domain.TurnCompleted {
		if n := s.tasks.Outstanding(leadThreadID); n > 0 {
			s.log.Debug().Str("lead", leadThreadID).Int("outstanding", n).Msg("team left active for the next turn")
			return
		}
	} else if n := s.tasks.CancelLead(leadThreadID); n > 0 {
		s.log.Info().Str("lead", leadThreadID).Int("cancelled", n).Msg("cancelled unfinished team tasks")
	}
	s.settle(ctx, leadThreadID, "")

	storeCtx := context.WithoutCancel(ctx)
	subs, err := s.store.ListSubAgents(storeCtx, leadThreadID)
	if err != nil {
		s.log.Warn().Err(err).Str("lead", leadThreadID).Msg("list sub-agents")
		return
	}
	for _, a := range subs {
		if !a.Active {
			continue
		}
		if err := s.store.SetAgentActive(storeCtx, a.ID, false); err != nil {
			s.log.Warn().Err(err).Str("agent", a.Name).Msg("deactivate sub-agent")
		}
	}
}

// Disband cancels a lead's running tasks and drops its unread results.
// It is used when the lead itself is deleted.
func (s *Spawner) Disband(leadThreadID string) {
	if n := s.tasks.CancelLead(leadThreadID); n > 0 {
		s.log.Info().Str("lead", leadThreadID).Int("cancelled", n).Msg("disbanded team")
	}
}

// Shutdown cancels every running sub-agent task.
func (s *Spawner) Shutdown() {
	s.tasks.Shutdown()
}
