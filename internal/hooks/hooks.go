// Package hooks runs handlers on agent, turn and gateway lifecycle events.
// Handlers are Go funcs registered with On, or shell commands from the
// hooks section of the config file.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

const (
	EventAgentCreated      = "agent_created"
	EventAgentDeleted      = "agent_deleted"
	EventTurnStart         = "turn_start"
	EventTurnEnd           = "turn_end"
	EventSubAgentSpawned   = "sub_agent_spawned"
	EventSubAgentDismissed = "sub_agent_dismissed"
	EventGatewayStart      = "gateway_start"
	EventGatewayStop       = "gateway_stop"
)

// AllEvents lists every event in the order RegisterCommands wires them.
var AllEvents = []string{
	EventAgentCreated,
	EventAgentDeleted,
	EventTurnStart,
	EventTurnEnd,
	EventSubAgentSpawned,
	EventSubAgentDismissed,
	EventGatewayStart,
	EventGatewayStop,
}

const defaultCommandTimeout = 10 * time.Second

// Payload is what a handler receives. Command hooks get it as JSON on stdin.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. A returned error is logged and otherwise ignored.
type Handler func(ctx context.Context, p Payload) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager dispatches events to registered handlers. A nil *Manager is
// valid and drops every event.
type Manager struct {
	log *logging.Logger

	mu       sync.RWMutex
	handlers map[string][]namedHandler

	inflight sync.WaitGroup
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers handler for event under name, which appears in logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", h.name).Msg("hook failed")
	}
}

// Emit runs the handlers for event one after another, in registration order.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Time: time.Now().UTC(), Data: data}
	for _, h := range m.snapshot(event) {
		m.call(ctx, h, p)
	}
}

// EmitAsync starts every handler for event in its own goroutine and
// returns. Wait blocks until they are done.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Time: time.Now().UTC(), Data: data}
	for _, h := range m.snapshot(event) {
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.call(ctx, h, p)
		}()
	}
}

// Wait blocks until every handler started by EmitAsync has returned, or
// ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterCommands registers the shell commands configured per event and
// returns how many were registered.
func (m *Manager) RegisterCommands(cfg config.HooksConfig) int {
	byEvent := map[string][]config.HookEntry{
		EventAgentCreated:      cfg.AgentCreated,
		EventAgentDeleted:      cfg.AgentDeleted,
		EventTurnStart:         cfg.TurnStart,
		EventTurnEnd:           cfg.TurnEnd,
		EventSubAgentSpawned:   cfg.SubAgentSpawned,
		EventSubAgentDismissed: cfg.SubAgentDismissed,
		EventGatewayStart:      cfg.GatewayStart,
		EventGatewayStop:       cfg.GatewayStop,
	}
	n := 0
	for _, event := range AllEvents {
		for i, entry := range byEvent[event] {
			if entry.Command == "" {
				continue
			}
			m.On(event, fmt.Sprintf("%s#%d", event, i), CommandHandler(entry))
			n++
		}
	}
	return n
}

// CommandHandler runs entry.Command with sh -c. The payload is written to
// stdin as JSON, and PLAYFORGE_EVENT plus PLAYFORGE_THREAD_ID and
// PLAYFORGE_AGENT_ID (when the event carries them) are set in the
// environment.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(os.Environ(), commandEnv(p)...)
		cmd.WaitDelay = time.Second
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hook command %q: %w: %s", entry.Command, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil
	}
}

func commandEnv(p Payload) []string {
	env := []string{"PLAYFORGE_EVENT=" + p.Event}
	if id, ok := p.Data["threadId"].(string); ok {
		env = append(env, "PLAYFORGE_THREAD_ID="+id)
	}
	if id, ok := p.Data["agentId"].(string); ok {
		env = append(env, "PLAYFORGE_AGENT_ID="+id)
	}
	return env
}
