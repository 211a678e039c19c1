// Package llm defines the model capability consumed by the turn executor and
// the provider adapters behind it (OpenAI, Anthropic, Gemini).
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Stream event types.
const (
	EventDelta    = "delta"
	EventThinking = "thinking"
	EventDone     = "done"
	EventError    = "error"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model          string    `json:"model,omitempty"`
	System         string    `json:"system,omitempty"`
	Messages       []Message `json:"messages"`
	MaxTokens      int       `json:"maxTokens,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	ThinkingBudget int       `json:"thinkingBudget,omitempty"`
}

// CompletionResponse is the result of a completion. For streams it is the
// final snapshot carried by the done event.
type CompletionResponse struct {
	Content    string        `json:"content"`
	Thinking   string        `json:"thinking,omitempty"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
}

// StreamEvent is a chunk from a streaming completion.
type StreamEvent struct {
	Type    string `json:"type"`              // "delta", "thinking", "done", "error"
	Content string `json:"content,omitempty"` // text delta
	Error   string `json:"error,omitempty"`   // error message (type="error")

	// Err keeps the typed error for retry classification.
	Err error `json:"-"`

	// Final fields (type="done")
	Response *CompletionResponse `json:"response,omitempty"`
}

// Client is the interface all model providers must implement.
// Stream implementations close the channel after a done or error event and
// stop early when ctx is cancelled.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of streaming events.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai", "anthropic").
	Name() string
}

// send delivers ev unless ctx is done. It reports whether the event was sent.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// errorEvent builds an error event that keeps the typed error.
func errorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Error: err.Error(), Err: err}
}
