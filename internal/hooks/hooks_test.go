package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var called bool
	m.On(EventGatewayStart, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventGatewayStart, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, called)
}

func TestManager_Emit_MultipleHandlers(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventTurnStart, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	m.On(EventTurnStart, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventTurnStart, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManager_Emit_WithData(t *testing.T) {
	m := testManager()

	var gotData map[string]any
	m.On(EventTurnStart, "test", func(_ context.Context, p Payload) error {
		gotData = p.Data
		return nil
	})

	m.Emit(context.Background(), EventTurnStart, map[string]any{
		"threadId": "t-1",
		"agentId":  "a-1",
	})

	assert.Equal(t, "t-1", gotData["threadId"])
	assert.Equal(t, "a-1", gotData["agentId"])
}

func TestManager_Emit_HandlerError(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventGatewayStart, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventGatewayStart, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	// Should not panic; second handler should still run
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, secondCalled)
}

func TestManager_Emit_NoHandlers(t *testing.T) {
	m := testManager()
	// Should not panic
	m.Emit(context.Background(), EventGatewayStop, nil)
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	m.On(EventTurnEnd, "async1", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})
	m.On(EventTurnEnd, "async2", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})

	m.EmitAsync(context.Background(), EventTurnEnd, nil)

	// Wait with timeout
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}

	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Count(t *testing.T) {
	m := testManager()

	assert.Equal(t, 0, m.Count(EventGatewayStart))

	m.On(EventGatewayStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 1, m.Count(EventGatewayStart))

	m.On(EventGatewayStart, "h2", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 2, m.Count(EventGatewayStart))
}

func TestManager_EmitStampsTime(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventAgentCreated, "stamp", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})
	before := time.Now().UTC()
	m.Emit(context.Background(), EventAgentCreated, nil)

	assert.False(t, got.Time.Before(before))
	assert.Equal(t, time.UTC, got.Time.Location())
}

func TestManager_WaitDrainsAsync(t *testing.T) {
	m := testManager()

	release := make(chan struct{})
	var finished atomic.Bool
	m.On(EventTurnEnd, "slow", func(_ context.Context, _ Payload) error {
		<-release
		finished.Store(true)
		return nil
	})
	m.EmitAsync(context.Background(), EventTurnEnd, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, m.Wait(context.Background()))
	assert.True(t, finished.Load())
}

func TestAllEvents_NotEmpty(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventGatewayStart)
	assert.Contains(t, AllEvents, EventTurnStart)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventTurnStart, nil)
		m.EmitAsync(context.Background(), EventTurnEnd, nil)
		assert.NoError(t, m.Wait(context.Background()))
	})
}

func TestRegisterCommands(t *testing.T) {
	m := testManager()
	n := m.RegisterCommands(config.HooksConfig{
		TurnEnd:         []config.HookEntry{{Command: "true"}, {Command: ""}},
		SubAgentSpawned: []config.HookEntry{{Command: "true"}},
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, m.Count(EventTurnEnd))
	assert.Equal(t, 1, m.Count(EventSubAgentSpawned))
	assert.Equal(t, 0, m.Count(EventAgentCreated))
}

func TestCommandHandler_ReceivesPayload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "payload.json")
	h := CommandHandler(config.HookEntry{Command: "cat > " + out})

	err := h(context.Background(), Payload{Event: EventAgentCreated, Data: map[string]any{"agentId": "a1"}})
	require.NoError(t, err)

	body, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"agent_created","time":"0001-01-01T00:00:00Z","data":{"agentId":"a1"}}`, string(body))
}

func TestCommandHandler_Environment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.txt")
	h := CommandHandler(config.HookEntry{
		Command: `printf '%s %s %s' "$PLAYFORGE_EVENT" "$PLAYFORGE_THREAD_ID" "$PLAYFORGE_AGENT_ID" > ` + out,
	})

	err := h(context.Background(), Payload{
		Event: EventTurnStart,
		Data:  map[string]any{"threadId": "t-9", "agentId": "a-9", "turnId": "x"},
	})
	require.NoError(t, err)

	body, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "turn_start t-9 a-9", string(body))
}

func TestCommandHandler_Failure(t *testing.T) {
	h := CommandHandler(config.HookEntry{Command: "echo boom >&2; exit 3"})
	err := h(context.Background(), Payload{Event: EventTurnEnd})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCommandHandler_Timeout(t *testing.T) {
	h := CommandHandler(config.HookEntry{Command: "sleep 5", Timeout: 50})
	start := time.Now()
	err := h(context.Background(), Payload{Event: EventTurnEnd})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
