package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/llm"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

// ExecutorConfig configures turn execution.
type ExecutorConfig struct {
	MaxTokens            int
	SubAgentMaxTokens    int
	Temperature          *float64
	ThinkingBudget       int
	MemoryWindow         int
	SubAgentMemoryWindow int
	MaxToolRounds        int
	IdleTimeout          time.Duration
	Retry                RetryPolicy
	Thinking             ThinkingFlusherConfig
}

// ExecutorConfigFrom maps the loaded configuration onto executor settings.
func ExecutorConfigFrom(cfg *config.Config) ExecutorConfig {
	d := cfg.Agents.Defaults
	return ExecutorConfig{
		MaxTokens:            d.MaxTokens,
		SubAgentMaxTokens:    d.SubAgentMaxTokens,
		Temperature:          d.Temperature,
		ThinkingBudget:       d.ThinkingBudget,
		MemoryWindow:         d.MemoryWindow,
		SubAgentMemoryWindow: d.SubAgentMemoryWindow,
		MaxToolRounds:        d.MaxToolRounds,
		IdleTimeout:          cfg.Turn.IdleTimeout(),
		Retry: RetryPolicy{
			MaxAttempts: cfg.Turn.Retry.MaxAttempts,
			BaseBackoff: time.Duration(cfg.Turn.Retry.BaseBackoffMs) * time.Millisecond,
		},
		Thinking: ThinkingFlusherConfig{
			MaxBufferBytes: cfg.Turn.ThinkingFlushBytes,
			IdleTimeout:    time.Duration(cfg.Turn.ThinkingFlushIdleMs) * time.Millisecond,
		},
	}
}

// Team is the delegation surface available to lead agents.
type Team interface {
	// Tools returns the team tools offered to a lead agent.
	Tools() []Tool
	// Outstanding returns how many delegated tasks of a lead thread are
	// still running or have results the lead has not collected.
	Outstanding(leadThreadID string) int
}

// Executor drives turns: it persists the user message, streams the model
// reply through tool rounds and persists exactly one assistant message per
// completed turn.
type Executor struct {
	cfg      ExecutorConfig
	store    ThreadStore
	registry *llm.Registry
	team     Team
	log      *logging.Logger
}

// NewExecutor creates a turn executor.
func NewExecutor(cfg ExecutorConfig, store ThreadStore, registry *llm.Registry, log *logging.Logger) *Executor {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = config.DefaultMaxToolRounds
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = config.DefaultMemoryWindow
	}
	if cfg.SubAgentMemoryWindow <= 0 {
		cfg.SubAgentMemoryWindow = config.DefaultSubAgentMemoryWindow
	}
	return &Executor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		log:      log.Sub("executor"),
	}
}

// SetTeam enables delegation tools for lead agents.
func (e *Executor) SetTeam(t Team) { e.team = t }

// Start validates content and persists it as the turn's user message.
// The returned turn is Pending until Run is called.
func (e *Executor) Start(ctx context.Context, agent domain.Agent, content string) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.Validationf("message content is empty")
	}
	msg, err := e.store.AppendMessage(ctx, domain.Message{
		ThreadID: agent.ThreadID,
		Role:     domain.RoleUser,
		Content:  content,
	})
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	return &Turn{
		ID:          uuid.NewString(),
		Agent:       agent,
		UserMessage: msg,
		CreatedAt:   time.Now(),
		status:      domain.TurnPending,
	}, nil
}

// Run executes a started turn to a terminal state. Live increments go to
// sink; the terminal event is left to the caller via TurnResult.Final.
// Cancelling ctx cancels the turn. The turn fails with ErrTimeout when no
// increment or heartbeat is seen for the configured idle timeout.
func (e *Executor) Run(ctx context.Context, turn *Turn, sink EventSink) TurnResult {
	if sink == nil {
		sink = discardSink{}
	}
	start := time.Now()
	turn.transition(domain.TurnRunning)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	log := e.log.Turn(turn.ID, turn.ThreadID())

	// Persistence outlives cancellation so partial output is still recorded.
	storeCtx := context.WithoutCancel(ctx)
	r := &turnRun{
		e:        e,
		turn:     turn,
		sink:     sink,
		storeCtx: storeCtx,
		thinking: NewThinkingFlusher(storeCtx, e.cfg.Thinking, e.store, turn.ThreadID(), e.log),
		watchdog: newWatchdog(e.cfg.IdleTimeout, func() { cancel(domain.ErrTimeout) }),
	}
	defer r.watchdog.Stop()

	runCtx = withTurnInfo(runCtx, TurnInfo{TurnID: turn.ID, ThreadID: turn.ThreadID(), AgentID: turn.Agent.ID})
	runCtx = withReporter(runCtx, r)

	log.Info().
		Str("agent", turn.Agent.Name).
		Str("provider", string(turn.Agent.Provider)).
		Str("model", turn.Agent.Model).
		Msg("turn started")

	res := r.execute(runCtx)
	r.thinking.Seal()
	if res.Status == domain.TurnFailed && !turn.Agent.IsLead() {
		r.noteFailure(res.Err)
	}

	turn.transition(res.Status)
	res.TurnID = turn.ID
	res.ThreadID = turn.ThreadID()
	res.AgentID = turn.Agent.ID
	res.Thinking = r.thinking.Content()
	res.Usage = r.usage
	res.Duration = time.Since(start)

	ev := log.Info()
	if res.Status == domain.TurnFailed {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("status", string(res.Status)).
		Int("inputTokens", res.Usage.InputTokens).
		Int("outputTokens", res.Usage.OutputTokens).
		Dur("duration", res.Duration).
		Msg("turn finished")
	return res
}

// turnRun is the mutable state of one Run call.
type turnRun struct {
	e        *Executor
	turn     *Turn
	sink     EventSink
	storeCtx context.Context
	thinking *ThinkingFlusher
	watchdog *watchdog

	mu       sync.Mutex
	streamed strings.Builder
	visible  []string
	usage    llm.Usage
}

// noteFailure records a failed sub-agent turn in its own thread so the
// thread explains why no reply follows.
func (r *turnRun) noteFailure(err error) {
	if _, aerr := r.e.store.AppendMessage(r.storeCtx, domain.Message{
		ThreadID: r.turn.ThreadID(),
		Role:     domain.RoleAssistant,
		Content:  "[Error] " + failureReason(err),
	}); aerr != nil {
		r.e.log.Warn().Err(aerr).Msg("persist failure note")
	}
}

// Progress implements Reporter.
func (r *turnRun) Progress(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchdog.Kick()
	if _, err := r.e.store.AppendMessage(r.storeCtx, domain.Message{
		ThreadID: r.turn.ThreadID(),
		Role:     domain.RoleTool,
		ToolName: domain.ToolNameProgress,
		Content:  text,
	}); err != nil {
		r.e.log.Warn().Err(err).Msg("persist progress")
	}
	r.sink.Publish(domain.ProgressEvent(text))
}

// Heartbeat implements Reporter.
func (r *turnRun) Heartbeat() {
	r.watchdog.Kick()
	if t, ok := r.sink.(interface{ Touch() }); ok {
		t.Touch()
	}
}

func (r *turnRun) emitToken(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamed.WriteString(text)
	r.sink.Publish(domain.TokenEvent(text))
}

func (r *turnRun) tools() *Toolset {
	if r.turn.Agent.IsLead() && r.e.team != nil {
		return NewToolset(r.e.team.Tools()...)
	}
	return NewToolset()
}

func (r *turnRun) pending() int {
	if !r.turn.Agent.IsLead() || r.e.team == nil {
		return 0
	}
	return r.e.team.Outstanding(r.turn.ThreadID())
}

func (r *turnRun) execute(ctx context.Context) TurnResult {
	agent := r.turn.Agent
	tools := r.tools()

	pc := PromptConfig{Agent: agent, Tools: tools.Definitions()}
	if !tools.Empty() {
		pc.TeamCatalog = domain.TeamCatalog()
	}
	system := BuildSystemPrompt(pc)

	transcript, err := r.history()
	if err != nil {
		return failed(err)
	}

	maxTokens, model := r.e.cfg.MaxTokens, agent.Model
	if !agent.IsLead() {
		maxTokens = r.e.cfg.SubAgentMaxTokens
	}
	client := NewFailoverClient(r.e.registry, string(agent.Provider), model, r.e.cfg.Retry, r.e.log)

	rounds := r.e.cfg.MaxToolRounds
	for round := 0; round < rounds; round++ {
		req := llm.CompletionRequest{
			Model:          model,
			System:         system,
			Messages:       transcript,
			MaxTokens:      maxTokens,
			Temperature:    r.e.cfg.Temperature,
			ThinkingBudget: r.e.cfg.ThinkingBudget,
		}

		raw, err := r.streamRound(ctx, client, req)
		if err != nil {
			return r.interrupted(ctx, err)
		}

		calls := parseToolCalls(raw)
		if text := stripToolCalls(raw, r.e.log); text != "" {
			r.visible = append(r.visible, text)
		}
		if round == rounds-1 {
			break
		}
		if len(calls) == 0 && r.pending() > 0 {
			if tools.Has(ToolAwaitResults) {
				calls = []toolCall{{Tool: ToolAwaitResults, Input: json.RawMessage(`{}`)}}
			}
		}
		if len(calls) == 0 {
			break
		}

		r.e.log.Debug().Int("toolCalls", len(calls)).Int("round", round).Msg("executing tool calls")
		results := r.executeToolCalls(ctx, tools, calls)
		if ctx.Err() != nil {
			return r.interrupted(ctx, context.Cause(ctx))
		}
		transcript = append(transcript,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: formatToolResults(results)},
		)
	}

	content := strings.Join(r.visible, "\n\n")
	if content == "" {
		n := r.pending()
		if n == 0 {
			return failed(fmt.Errorf("%w: model returned an empty response", domain.ErrModelFailure))
		}
		content = fmt.Sprintf("I'm still waiting on %d team member(s) to finish. Ask me for an update in a moment.", n)
	}

	r.mu.Lock()
	streamed := r.streamed.String()
	r.mu.Unlock()
	if content != streamed {
		r.sink.Publish(domain.ResponseEvent(content))
	}

	msg, err := r.e.store.AppendMessage(r.storeCtx, domain.Message{
		ThreadID:   agent.ThreadID,
		Role:       domain.RoleAssistant,
		Content:    content,
		TokenCount: r.usage.OutputTokens,
	})
	if err != nil {
		return failed(fmt.Errorf("persist assistant message: %w", err))
	}
	return TurnResult{Status: domain.TurnCompleted, Content: content, Assistant: &msg}
}

// streamRound consumes one model stream. It returns the round's
// authoritative text: the final snapshot when present, otherwise the
// concatenated deltas.
func (r *turnRun) streamRound(ctx context.Context, client llm.Client, req llm.CompletionRequest) (string, error) {
	ch, err := client.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var (
		raw     strings.Builder
		filter  toolCallFilter
		shown   bool
		needSep = len(r.visible) > 0
	)
	show := func(text string) {
		if text == "" {
			return
		}
		if needSep && !shown {
			r.emitToken("\n\n")
		}
		shown = true
		r.emitToken(text)
	}

	for {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		select {
		case <-ctx.Done():
			return "", context.Cause(ctx)
		case ev, ok := <-ch:
			if !ok {
				return "", fmt.Errorf("%w: stream ended without completion", domain.ErrModelFailure)
			}
			r.watchdog.Kick()
			switch ev.Type {
			case llm.EventDelta:
				raw.WriteString(ev.Content)
				show(filter.Write(ev.Content))
			case llm.EventThinking:
				r.thinking.OnDelta(ev.Content)
				r.sink.Publish(domain.ThinkingEvent(ev.Content))
			case llm.EventDone:
				show(filter.Flush())
				final := raw.String()
				if ev.Response != nil {
					r.usage.Add(ev.Response.Usage)
					if ev.Response.Content != "" {
						final = ev.Response.Content
					}
				}
				return final, nil
			case llm.EventError:
				return "", streamError(ev)
			}
		}
	}
}

// interrupted classifies a round that stopped early.
func (r *turnRun) interrupted(ctx context.Context, err error) TurnResult {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, domain.ErrTimeout) || errors.Is(err, domain.ErrTimeout):
		return failed(fmt.Errorf("%w: no progress for %s", domain.ErrTimeout, r.e.cfg.IdleTimeout))
	case ctx.Err() != nil:
		return r.cancelled()
	}
	if !errors.Is(err, domain.ErrModelFailure) {
		err = fmt.Errorf("%w: %w", domain.ErrModelFailure, err)
	}
	return failed(err)
}

// cancelled persists whatever tokens were already emitted.
func (r *turnRun) cancelled() TurnResult {
	r.mu.Lock()
	partial := r.streamed.String()
	r.mu.Unlock()

	res := TurnResult{Status: domain.TurnCancelled, Content: partial}
	if strings.TrimSpace(partial) == "" {
		return res
	}
	msg, err := r.e.store.AppendMessage(r.storeCtx, domain.Message{
		ThreadID: r.turn.ThreadID(),
		Role:     domain.RoleAssistant,
		Content:  partial,
	})
	if err != nil {
		r.e.log.Error().Err(err).Msg("persist partial response")
		return res
	}
	res.Assistant = &msg
	return res
}

func (r *turnRun) executeToolCalls(ctx context.Context, tools *Toolset, calls []toolCall) []toolResult {
	results := make([]toolResult, 0, len(calls))
	for _, call := range calls {
		res := tools.Call(ctx, call)
		if res.Err != nil {
			r.e.log.Warn().Str("tool", call.Tool).Err(res.Err).Msg("tool execution failed")
		}
		r.watchdog.Kick()
		results = append(results, res)
	}
	return results
}

// history loads the conversational context for the model, newest last.
// Side-channel records are not model input.
func (r *turnRun) history() ([]llm.Message, error) {
	window := r.e.cfg.MemoryWindow
	if !r.turn.Agent.IsLead() {
		window = r.e.cfg.SubAgentMemoryWindow
	}
	msgs, err := r.e.store.RecentMessages(r.storeCtx, r.turn.ThreadID(), 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out, nil
}

func failed(err error) TurnResult {
	return TurnResult{Status: domain.TurnFailed, Err: err}
}

// watchdog fires once when Kick has not been called for d.
type watchdog struct {
	d time.Duration
	t *time.Timer
}

func newWatchdog(d time.Duration, fire func()) *watchdog {
	w := &watchdog{d: d}
	if d > 0 {
		w.t = time.AfterFunc(d, fire)
	}
	return w
}

func (w *watchdog) Kick() {
	if w.t != nil {
		w.t.Reset(w.d)
	}
}

func (w *watchdog) Stop() {
	if w.t != nil {
		w.t.Stop()
	}
}
