package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

// heartbeatInterval is how often a blocked await reports liveness to the
// turn waiting on it.
const heartbeatInterval = 15 * time.Second

// TaskResult is the outcome of one delegated task, as reported to the lead.
type TaskResult struct {
	AgentID   string            `json:"agentId"`
	AgentName string            `json:"agentName"`
	AgentType domain.AgentType  `json:"agentType"`
	ThreadID  string            `json:"threadId"`
	Status    domain.TurnStatus `json:"status"`
	Content   string            `json:"content,omitempty"`
	Error     string            `json:"error,omitempty"`
	IsError   bool              `json:"isError"`
}

type task struct {
	leadThreadID string
	agent        domain.Agent
	cancel       func()
	startedAt    time.Time
	settled      chan struct{} // closed by Settle once the sub-turn has returned
}

// TaskManager tracks delegated sub-agent turns per lead thread. A finished
// task's result is queued until the lead drains it; a cancelled task's
// result is dropped. A task stays live after it stops counting as running
// until Settle reports that its turn has returned and written its output.
type TaskManager struct {
	maxConcurrent int
	log           *logging.Logger

	mu        sync.Mutex
	running   map[string]*task        // by sub-agent thread id
	live      map[string]*task        // by sub-agent thread id, until settled
	completed map[string][]TaskResult // by lead thread id
	signal    map[string]chan struct{}
}

// NewTaskManager creates a task manager. maxConcurrent bounds running tasks
// per lead thread; zero means unbounded.
func NewTaskManager(maxConcurrent int, log *logging.Logger) *TaskManager {
	return &TaskManager{
		maxConcurrent: maxConcurrent,
		log:           log.Sub("tasks"),
		running:       make(map[string]*task),
		live:          make(map[string]*task),
		completed:     make(map[string][]TaskResult),
		signal:        make(map[string]chan struct{}),
	}
}

// Reserve checks that another task can start under leadThreadID.
func (m *TaskManager) Reserve(leadThreadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxConcurrent > 0 && m.pendingLocked(leadThreadID) >= m.maxConcurrent {
		return domain.Validationf("team limit of %d running tasks reached", m.maxConcurrent)
	}
	return nil
}

// Track records a running task for agent. It fails with ErrBusy when the
// agent's thread already has a task in flight.
func (m *TaskManager) Track(leadThreadID string, agent domain.Agent, cancel func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[agent.ThreadID]; ok {
		return fmt.Errorf("%w: %s already has a task running", domain.ErrBusy, agent.Name)
	}
	t := &task{
		leadThreadID: leadThreadID,
		agent:        agent,
		cancel:       cancel,
		startedAt:    time.Now(),
		settled:      make(chan struct{}),
	}
	m.running[agent.ThreadID] = t
	m.live[agent.ThreadID] = t
	return nil
}

// Settle marks the turn on threadID as returned.
func (m *TaskManager) Settle(threadID string) {
	m.mu.Lock()
	t, ok := m.live[threadID]
	delete(m.live, threadID)
	m.mu.Unlock()
	if ok {
		close(t.settled)
	}
}

// WaitSettled blocks until the live tasks of leadThreadID have settled, or
// ctx ends. A non-empty threadID narrows the wait to that one task. It
// reports whether everything settled.
func (m *TaskManager) WaitSettled(ctx context.Context, leadThreadID, threadID string) bool {
	m.mu.Lock()
	var chans []chan struct{}
	for id, t := range m.live {
		if t.leadThreadID == leadThreadID && (threadID == "" || id == threadID) {
			chans = append(chans, t.settled)
		}
	}
	m.mu.Unlock()

	for _, ch := range chans {
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Complete queues res for the owning lead. It reports false when the task
// was cancelled or never tracked, in which case res is dropped.
func (m *TaskManager) Complete(res TaskResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.running[res.ThreadID]
	if !ok {
		return false
	}
	delete(m.running, res.ThreadID)
	m.completed[t.leadThreadID] = append(m.completed[t.leadThreadID], res)
	m.notifyLocked(t.leadThreadID)

	m.log.Debug().
		Str("agent", t.agent.Name).
		Str("status", string(res.Status)).
		Dur("elapsed", time.Since(t.startedAt)).
		Msg("task completed")
	return true
}

// Cancel stops the task running on threadID and drops its result.
func (m *TaskManager) Cancel(threadID string) bool {
	m.mu.Lock()
	t, ok := m.running[threadID]
	if ok {
		delete(m.running, threadID)
		m.notifyLocked(t.leadThreadID)
	}
	m.mu.Unlock()

	if ok && t.cancel != nil {
		t.cancel()
	}
	return ok
}

// CancelLead cancels every task of a lead thread and forgets its queued results.
func (m *TaskManager) CancelLead(leadThreadID string) int {
	m.mu.Lock()
	var victims []*task
	for id, t := range m.running {
		if t.leadThreadID == leadThreadID {
			victims = append(victims, t)
			delete(m.running, id)
		}
	}
	delete(m.completed, leadThreadID)
	m.notifyLocked(leadThreadID)
	m.mu.Unlock()

	for _, t := range victims {
		if t.cancel != nil {
			t.cancel()
		}
	}
	return len(victims)
}

// Shutdown cancels every running task.
func (m *TaskManager) Shutdown() {
	m.mu.Lock()
	leads := make(map[string]struct{})
	for _, t := range m.running {
		leads[t.leadThreadID] = struct{}{}
	}
	m.mu.Unlock()
	for lead := range leads {
		m.CancelLead(lead)
	}
}

// Pending returns the number of running tasks under leadThreadID.
func (m *TaskManager) Pending(leadThreadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked(leadThreadID)
}

// Outstanding returns the running tasks plus the results not yet drained
// by the lead.
func (m *TaskManager) Outstanding(leadThreadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked(leadThreadID) + len(m.completed[leadThreadID])
}

// IsRunning reports whether threadID has a task in flight.
func (m *TaskManager) IsRunning(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[threadID]
	return ok
}

// Drain removes and returns the queued results of a lead thread.
func (m *TaskManager) Drain(leadThreadID string) []TaskResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.completed[leadThreadID]
	delete(m.completed, leadThreadID)
	return out
}

// Wait returns queued results for a lead thread. When none are queued but
// tasks are still running, it blocks until the first one finishes, the
// timeout passes or ctx ends, then drains again. Heartbeats keep the
// waiting turn alive.
func (m *TaskManager) Wait(ctx context.Context, leadThreadID string, timeout time.Duration) []TaskResult {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		if res := m.completed[leadThreadID]; len(res) > 0 {
			delete(m.completed, leadThreadID)
			m.mu.Unlock()
			return res
		}
		if m.pendingLocked(leadThreadID) == 0 {
			m.mu.Unlock()
			return nil
		}
		ch := m.signalLocked(leadThreadID)
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ticker.C:
			Heartbeat(ctx)
		case <-timer.C:
			return m.Drain(leadThreadID)
		case <-ctx.Done():
			return m.Drain(leadThreadID)
		}
	}
}

func (m *TaskManager) pendingLocked(leadThreadID string) int {
	n := 0
	for _, t := range m.running {
		if t.leadThreadID == leadThreadID {
			n++
		}
	}
	return n
}

func (m *TaskManager) signalLocked(leadThreadID string) chan struct{} {
	ch, ok := m.signal[leadThreadID]
	if !ok {
		ch = make(chan struct{})
		m.signal[leadThreadID] = ch
	}
	return ch
}

func (m *TaskManager) notifyLocked(leadThreadID string) {
	if ch, ok := m.signal[leadThreadID]; ok {
		close(ch)
		delete(m.signal, leadThreadID)
	}
}
