package agent

import (
	"sync"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/llm"
)

// EventSink receives a turn's live events in emission order. Terminal
// events are not published here; they travel in the TurnResult.
type EventSink interface {
	Publish(ev domain.Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(domain.Event)

func (f SinkFunc) Publish(ev domain.Event) { f(ev) }

// discardSink drops everything.
type discardSink struct{}

func (discardSink) Publish(domain.Event) {}

// Turn is one in-flight request/response cycle on a thread.
type Turn struct {
	ID          string
	Agent       domain.Agent
	UserMessage domain.Message
	CreatedAt   time.Time

	mu     sync.Mutex
	status domain.TurnStatus
}

// ThreadID returns the thread the turn runs on.
func (t *Turn) ThreadID() string { return t.Agent.ThreadID }

// Status returns the current state.
func (t *Turn) Status() domain.TurnStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Turn) transition(next domain.TurnStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.status.CanTransition(next) {
		return false
	}
	t.status = next
	return true
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	TurnID   string            `json:"turnId"`
	ThreadID string            `json:"threadId"`
	AgentID  string            `json:"agentId"`
	Status   domain.TurnStatus `json:"status"`

	// Content is the persisted assistant text: complete for a completed
	// turn, partial for a cancelled one, empty for a failed one.
	Content   string          `json:"content"`
	Assistant *domain.Message `json:"assistant,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`

	Err      error         `json:"-"`
	Usage    llm.Usage     `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// Final returns the terminal event announcing the result.
func (r TurnResult) Final() domain.Event {
	switch r.Status {
	case domain.TurnCompleted, domain.TurnCancelled:
		return domain.DoneEvent(r.Content)
	}
	msg := "turn failed"
	if r.Err != nil {
		msg = r.Err.Error()
	}
	return domain.ErrorEvent(msg)
}
