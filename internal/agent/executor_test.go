package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(store ThreadStore, mock llm.Client, mutate ...func(*ExecutorConfig)) *Executor {
	cfg := ExecutorConfig{IdleTimeout: 5 * time.Second}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewExecutor(cfg, store, testRegistry(mock), silentLog())
}

func runTurn(t *testing.T, ctx context.Context, ex *Executor, a domain.Agent, content string, sink EventSink) TurnResult {
	t.Helper()
	turn, err := ex.Start(ctx, a, content)
	require.NoError(t, err)
	assert.Equal(t, domain.TurnPending, turn.Status())
	res := ex.Run(ctx, turn, sink)
	assert.Equal(t, res.Status, turn.Status())
	return res
}

func threadMessages(t *testing.T, store ThreadStore, threadID string) []domain.Message {
	t.Helper()
	msgs, err := store.ListMessages(context.Background(), threadID, domain.MaxPageLimit, 0)
	require.NoError(t, err)
	return msgs
}

// blockingStream emits tokens and then holds the stream open until ctx ends.
func blockingStream(tokens ...string) func(context.Context, llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	return func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
		ch := make(chan llm.StreamEvent)
		go func() {
			defer close(ch)
			for _, tok := range tokens {
				select {
				case ch <- llm.StreamEvent{Type: llm.EventDelta, Content: tok}:
				case <-ctx.Done():
					return
				}
			}
			<-ctx.Done()
		}()
		return ch, nil
	}
}

type fakeTeam struct {
	tools   []Tool
	pending atomic.Int32
}

func (f *fakeTeam) Tools() []Tool               { return f.tools }
func (f *fakeTeam) Outstanding(lead string) int { return int(f.pending.Load()) }
func (f *fakeTeam) setPending(n int)            { f.pending.Store(int32(n)) }

func (f *fakeTeam) withTools(t ...Tool) *fakeTeam {
	f.tools = t
	return f
}

type funcTool struct {
	name string
	fn   func(ctx context.Context, input string) (string, error)
}

func (f *funcTool) Name() string        { return f.name }
func (f *funcTool) Description() string { return f.name }
func (f *funcTool) InputSchema() string { return `{"type":"object"}` }
func (f *funcTool) Execute(ctx context.Context, input string) (string, error) {
	return f.fn(ctx, input)
}

func TestExecutor_CompletedTurn(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	ex := newTestExecutor(store, &llm.MockClient{ProviderName: "openai"})

	rec := &recorder{}
	res := runTurn(t, context.Background(), ex, lead, "hello", rec)

	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, "mock stream response", res.Content)
	require.NotNil(t, res.Assistant)
	assert.Equal(t, domain.RoleAssistant, res.Assistant.Role)

	msgs := threadMessages(t, store, lead.ThreadID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.NotEmpty(t, msgs[1].Content)

	assert.Equal(t, []string{"mock ", "stream response"}, rec.contents(domain.EventToken))
	assert.Empty(t, rec.contents(domain.EventResponse), "snapshot matched the streamed tokens")
	assert.Equal(t, domain.DoneEvent("mock stream response"), res.Final())
}

func TestExecutor_RequestCarriesAgentModel(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)

	var got llm.CompletionRequest
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			got = req
			return llm.ScriptedStream(ctx, llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{Content: "ok"}}), nil
		},
	}
	ex := newTestExecutor(store, mock, func(c *ExecutorConfig) { c.MaxTokens = 1234 })
	res := runTurn(t, context.Background(), ex, lead, "hello", nil)

	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.Equal(t, "gpt-5.2", got.Model)
	assert.Equal(t, 1234, got.MaxTokens)
	assert.Contains(t, got.System, "lead game designer")
	require.Len(t, got.Messages, 1)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "hello"}, got.Messages[0])
}

func TestExecutor_ModelFailurePersistsNothingElse(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			err := &llm.ProviderError{Provider: "openai", Code: 400, Message: "bad request"}
			return llm.ScriptedStream(ctx, llm.StreamEvent{Type: llm.EventError, Error: err.Error(), Err: err}), nil
		},
	}
	ex := newTestExecutor(store, mock)

	res := runTurn(t, context.Background(), ex, lead, "hello", nil)

	require.Equal(t, domain.TurnFailed, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrModelFailure)
	assert.Nil(t, res.Assistant)
	assert.Equal(t, domain.EventError, res.Final().Type)

	msgs := threadMessages(t, store, lead.ThreadID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestExecutor_SubAgentFailureNotedInThread(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	sub, _, err := store.CreateSubAgent(context.Background(), lead.ThreadID, "combatDesigner")
	require.NoError(t, err)
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			err := &llm.ProviderError{Provider: "openai", Code: 400, Message: "bad request"}
			return llm.ScriptedStream(ctx, llm.StreamEvent{Type: llm.EventError, Error: err.Error(), Err: err}), nil
		},
	}
	ex := newTestExecutor(store, mock)

	res := runTurn(t, context.Background(), ex, sub, "Balance the boss", nil)
	require.Equal(t, domain.TurnFailed, res.Status)

	msgs := threadMessages(t, store, sub.ThreadID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "[Error] "), msgs[1].Content)
	assert.Contains(t, msgs[1].Content, "bad request")
}

func TestExecutor_CancelPersistsPartialTokens(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	ex := newTestExecutor(store, &llm.MockClient{ProviderName: "openai", StreamFunc: blockingStream("Hel", "lo ", "wor")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	var tokens int
	rec.onEvent = func(ev domain.Event) {
		if ev.Type == domain.EventToken {
			tokens++
			if tokens == 3 {
				cancel()
			}
		}
	}

	res := runTurn(t, ctx, ex, lead, "tell me", rec)

	require.Equal(t, domain.TurnCancelled, res.Status)
	assert.Equal(t, "Hello wor", res.Content)
	assert.Equal(t, domain.DoneEvent("Hello wor"), res.Final())

	msgs := threadMessages(t, store, lead.ThreadID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello wor", msgs[1].Content)
}

func TestExecutor_CancelBeforeAnyTokenPersistsNothing(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	ex := newTestExecutor(store, &llm.MockClient{ProviderName: "openai", StreamFunc: blockingStream()})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := runTurn(t, ctx, ex, lead, "tell me", nil)

	assert.Equal(t, domain.TurnCancelled, res.Status)
	assert.Nil(t, res.Assistant)
	assert.Len(t, threadMessages(t, store, lead.ThreadID), 1)
}

func TestExecutor_IdleTimeoutFails(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	ex := newTestExecutor(store, &llm.MockClient{ProviderName: "openai", StreamFunc: blockingStream("still ")},
		func(c *ExecutorConfig) { c.IdleTimeout = 50 * time.Millisecond })

	start := time.Now()
	res := runTurn(t, context.Background(), ex, lead, "hello", nil)

	require.Equal(t, domain.TurnFailed, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, threadMessages(t, store, lead.ThreadID), 1, "timeout persists no assistant message")
}

func TestExecutor_SnapshotOnlyEmitsResponse(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.ScriptedStream(ctx,
				llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{Content: "final answer"}},
			), nil
		},
	}
	ex := newTestExecutor(store, mock)
	rec := &recorder{}
	res := runTurn(t, context.Background(), ex, lead, "hello", rec)

	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.Empty(t, rec.contents(domain.EventToken))
	assert.Equal(t, []string{"final answer"}, rec.contents(domain.EventResponse))
	assert.Equal(t, "final answer", threadMessages(t, store, lead.ThreadID)[1].Content)
}

func TestExecutor_SnapshotIsAuthoritative(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.ScriptedStream(ctx,
				llm.StreamEvent{Type: llm.EventDelta, Content: "draft text"},
				llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{
					Content: "Final text",
					Usage:   llm.Usage{InputTokens: 7, OutputTokens: 2},
				}},
			), nil
		},
	}
	ex := newTestExecutor(store, mock)
	rec := &recorder{}
	res := runTurn(t, context.Background(), ex, lead, "hello", rec)

	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.Equal(t, []string{"Final text"}, rec.contents(domain.EventResponse))
	msgs := threadMessages(t, store, lead.ThreadID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Final text", msgs[1].Content)
	assert.Equal(t, 2, msgs[1].TokenCount)
	assert.Equal(t, llm.Usage{InputTokens: 7, OutputTokens: 2}, res.Usage)
}

func TestExecutor_ThinkingPersistedAsToolMessage(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.ScriptedStream(ctx,
				llm.StreamEvent{Type: llm.EventThinking, Content: "Let me think."},
				llm.StreamEvent{Type: llm.EventThinking, Content: " More."},
				llm.StreamEvent{Type: llm.EventDelta, Content: "Answer"},
				llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{Content: "Answer"}},
			), nil
		},
	}
	ex := newTestExecutor(store, mock)
	rec := &recorder{}
	res := runTurn(t, context.Background(), ex, lead, "hello", rec)

	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.Equal(t, []string{"Let me think.", " More."}, rec.contents(domain.EventThinking))
	assert.Equal(t, "Let me think. More.", res.Thinking)

	msgs := threadMessages(t, store, lead.ThreadID)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleTool, msgs[1].Role)
	assert.Equal(t, domain.ToolNameThinking, msgs[1].ToolName)
	assert.Equal(t, "Let me think. More.", msgs[1].Content)
	assert.False(t, msgs[1].Streaming, "thinking is sealed when the turn ends")
	assert.Equal(t, "Answer", msgs[2].Content)
}

func TestExecutor_EmptyResponseFails(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.ScriptedStream(ctx, llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{}}), nil
		},
	}
	ex := newTestExecutor(store, mock)
	res := runTurn(t, context.Background(), ex, lead, "hello", nil)

	assert.Equal(t, domain.TurnFailed, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrModelFailure)
	assert.Len(t, threadMessages(t, store, lead.ThreadID), 1)
}

func TestExecutor_ToolRoundHidesMarkupAndReportsProgress(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)

	var calls atomic.Int32
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			if calls.Add(1) == 1 {
				return llm.ScriptedStream(ctx,
					llm.StreamEvent{Type: llm.EventDelta, Content: "Checking.\n\n```tool_call\n{\"tool\": \"survey\", \"input\": {}}\n```"},
					llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{}},
				), nil
			}
			last := req.Messages[len(req.Messages)-1]
			assert.Contains(t, last.Content, "Tool execution results")
			assert.Contains(t, last.Content, "### survey\nsurvey complete")
			return llm.ScriptedStream(ctx,
				llm.StreamEvent{Type: llm.EventDelta, Content: "All done."},
				llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{Content: "All done."}},
			), nil
		},
	}
	ex := newTestExecutor(store, mock)
	ex.SetTeam((&fakeTeam{}).withTools(&funcTool{name: "survey", fn: func(ctx context.Context, _ string) (string, error) {
		ReportProgress(ctx, "Surveying the map...")
		return "survey complete", nil
	}}))

	rec := &recorder{}
	res := runTurn(t, context.Background(), ex, lead, "plan the level", rec)

	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "Checking.\n\nAll done.", res.Content)

	streamed := strings.Join(rec.contents(domain.EventToken), "")
	assert.NotContains(t, streamed, "tool_call")
	assert.Equal(t, []string{"Checking.\n\nAll done."}, rec.contents(domain.EventResponse))
	assert.Equal(t, []string{"Surveying the map..."}, rec.contents(domain.EventProgress))

	msgs := threadMessages(t, store, lead.ThreadID)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleTool, msgs[1].Role)
	assert.Equal(t, domain.ToolNameProgress, msgs[1].ToolName)
	assert.Equal(t, "Surveying the map...", msgs[1].Content)
	assert.Equal(t, "Checking.\n\nAll done.", msgs[2].Content)
}

func TestExecutor_HoldingMessageWhileTeamPending(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.ScriptedStream(ctx, llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{}}), nil
		},
	}
	ex := newTestExecutor(store, mock, func(c *ExecutorConfig) { c.MaxToolRounds = 2 })

	var awaited atomic.Int32
	team := (&fakeTeam{}).withTools(&funcTool{name: ToolAwaitResults, fn: func(context.Context, string) (string, error) {
		awaited.Add(1)
		return `{"results":[],"pending":1}`, nil
	}})
	team.setPending(1)
	ex.SetTeam(team)

	res := runTurn(t, context.Background(), ex, lead, "build a team", nil)

	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.Equal(t, int32(1), awaited.Load(), "await is synthesized when the model stops with work pending")
	assert.Contains(t, res.Content, "waiting on 1 team member")
}

func TestExecutor_SubAgentGetsNoTeamTools(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	sub, _, err := store.CreateSubAgent(context.Background(), lead.ThreadID, "levelDesigner")
	require.NoError(t, err)

	var system string
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			system = req.System
			assert.Equal(t, 99, req.MaxTokens)
			return llm.ScriptedStream(ctx, llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{Content: "ok"}}), nil
		},
	}
	ex := newTestExecutor(store, mock, func(c *ExecutorConfig) { c.SubAgentMaxTokens = 99 })
	ex.SetTeam((&fakeTeam{}).withTools(&echoTool{}))

	res := runTurn(t, context.Background(), ex, sub, "design level 1", nil)
	require.Equal(t, domain.TurnCompleted, res.Status)
	assert.NotContains(t, system, "## Your Team")
	assert.NotContains(t, system, "### echo")
}

func TestExecutor_HistoryWindowExcludesSideChannel(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	ctx := context.Background()
	for _, m := range []domain.Message{
		{Role: domain.RoleUser, Content: "one"},
		{Role: domain.RoleAssistant, Content: "two"},
		{Role: domain.RoleUser, Content: "three"},
		{Role: domain.RoleTool, ToolName: domain.ToolNameProgress, Content: "progress"},
	} {
		m.ThreadID = lead.ThreadID
		_, err := store.AppendMessage(ctx, m)
		require.NoError(t, err)
	}

	var got []llm.Message
	mock := &llm.MockClient{
		ProviderName: "openai",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			got = req.Messages
			return llm.ScriptedStream(ctx, llm.StreamEvent{Type: llm.EventDone, Response: &llm.CompletionResponse{Content: "ok"}}), nil
		},
	}
	ex := newTestExecutor(store, mock, func(c *ExecutorConfig) { c.MemoryWindow = 2 })
	runTurn(t, ctx, ex, lead, "four", nil)

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "three"},
		{Role: llm.RoleUser, Content: "four"},
	}, got)
}

func TestExecutor_StartValidation(t *testing.T) {
	store := NewMemoryThreadStore()
	lead := newLead(t, store)
	ex := newTestExecutor(store, &llm.MockClient{ProviderName: "openai"})
	ctx := context.Background()

	_, err := ex.Start(ctx, lead, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	require.NoError(t, store.SetAgentActive(ctx, lead.ID, false))
	_, err = ex.Start(ctx, lead, "hello")
	assert.True(t, errors.Is(err, domain.ErrReadOnly), "got %v", err)
	assert.Empty(t, threadMessages(t, store, lead.ThreadID))
}

func TestTurnResultFinal(t *testing.T) {
	assert.Equal(t, domain.DoneEvent("x"), TurnResult{Status: domain.TurnCompleted, Content: "x"}.Final())
	assert.Equal(t, domain.DoneEvent("part"), TurnResult{Status: domain.TurnCancelled, Content: "part"}.Final())
	assert.Equal(t, domain.ErrorEvent("boom"), TurnResult{Status: domain.TurnFailed, Err: errors.New("boom")}.Final())
	assert.Equal(t, domain.ErrorEvent("turn failed"), TurnResult{Status: domain.TurnFailed}.Final())
}
