package llm

import "context"

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response", Model: req.Model}, nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return ScriptedStream(ctx,
		StreamEvent{Type: EventDelta, Content: "mock "},
		StreamEvent{Type: EventDelta, Content: "stream response"},
		StreamEvent{Type: EventDone, Response: &CompletionResponse{Content: "mock stream response", Model: req.Model}},
	), nil
}

// ScriptedStream replays events on a channel, stopping early if ctx is cancelled.
func ScriptedStream(ctx context.Context, events ...StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			if !send(ctx, ch, ev) {
				return
			}
		}
	}()
	return ch
}
