package domain

import "fmt"

// EventType tags one increment of a turn's event stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventThinking EventType = "thinking"
	EventToken    EventType = "token"
	EventResponse EventType = "response"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is the wire and in-process form of one turn increment.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

func ProgressEvent(s string) Event { return Event{Type: EventProgress, Content: s} }
func ThinkingEvent(s string) Event { return Event{Type: EventThinking, Content: s} }
func TokenEvent(s string) Event    { return Event{Type: EventToken, Content: s} }
func ResponseEvent(s string) Event { return Event{Type: EventResponse, Content: s} }
func DoneEvent(s string) Event     { return Event{Type: EventDone, Content: s} }
func ErrorEvent(s string) Event    { return Event{Type: EventError, Content: s} }

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// EventHandler has one method per event variant, so an implementation
// cannot silently skip a case.
type EventHandler interface {
	OnProgress(text string) error
	OnThinking(text string) error
	OnToken(text string) error
	OnResponse(text string) error
	OnDone(text string) error
	OnError(reason string) error
}

// Dispatch routes e to the matching handler method.
func Dispatch(e Event, h EventHandler) error {
	switch e.Type {
	case EventProgress:
		return h.OnProgress(e.Content)
	case EventThinking:
		return h.OnThinking(e.Content)
	case EventToken:
		return h.OnToken(e.Content)
	case EventResponse:
		return h.OnResponse(e.Content)
	case EventDone:
		return h.OnDone(e.Content)
	case EventError:
		return h.OnError(e.Content)
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.Type)
	}
}
