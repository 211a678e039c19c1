// Package session gates turns so that at most one runs per thread, and
// fans a running turn's events out to whichever transports are attached.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

// Transport delivers events to one client connection. A Send error
// detaches the transport; the session itself carries on.
type Transport interface {
	Send(ev domain.Event) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(domain.Event) error

func (f TransportFunc) Send(ev domain.Event) error { return f(ev) }

// Config bounds how long a session may hold its thread.
type Config struct {
	// TurnTimeout is the no-progress ceiling of a turn.
	TurnTimeout time.Duration
	// Grace is added to TurnTimeout before the sweeper steps in.
	Grace time.Duration
	// SweepInterval is how often stale sessions are looked for.
	SweepInterval time.Duration
}

const (
	defaultGrace         = time.Minute
	defaultSweepInterval = 30 * time.Second
)

// ConfigFrom maps the loaded configuration onto session settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{TurnTimeout: cfg.Turn.IdleTimeout()}
}

// Manager owns the per-thread busy flags.
type Manager struct {
	cfg Config
	log *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session // thread id → running session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a session manager. Call Start to run the sweeper.
func NewManager(cfg Config, log *logging.Logger) *Manager {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = config.DefaultTurnTimeoutMinutes * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Manager{
		cfg:      cfg,
		log:      log.Sub("sessions"),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// Begin marks threadID as streaming and returns its session, or ErrBusy
// when a session is already running there. The session context derives
// from ctx and is cancelled by Cancel or End.
func (m *Manager) Begin(ctx context.Context, threadID string, transports ...Transport) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.sessions[threadID]; busy {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrBusy)
	}

	sctx, cancel := context.WithCancelCause(ctx)
	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		ThreadID:     threadID,
		StartedAt:    now,
		m:            m,
		ctx:          sctx,
		cancel:       cancel,
		transports:   make(map[int]Transport),
		lastActivity: now,
		done:         make(chan struct{}),
	}
	for _, t := range transports {
		if t != nil {
			s.attachLocked(t)
		}
	}
	m.sessions[threadID] = s

	m.log.Debug().Str("threadId", threadID).Str("session", s.ID).Msg("session begun")
	return s, nil
}

// Get returns the running session of threadID.
func (m *Manager) Get(threadID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[threadID]
	return s, ok
}

// IsProcessing reports whether threadID has a running turn.
func (m *Manager) IsProcessing(threadID string) bool {
	_, ok := m.Get(threadID)
	return ok
}

// Cancel cancels the running session of threadID with cause.
// It reports whether there was one.
func (m *Manager) Cancel(threadID string, cause error) bool {
	s, ok := m.Get(threadID)
	if !ok {
		return false
	}
	s.Cancel(cause)
	return true
}

// Count returns the number of running sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// release clears the busy flag held by s.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.ThreadID]; ok && cur == s {
		delete(m.sessions, s.ThreadID)
	}
}

// Start runs the stale-session sweeper until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case now := <-ticker.C:
				m.Sweep(now)
			}
		}
	}()
}

// Sweep force-releases every session idle since before now minus the turn
// ceiling and grace. A turn always ends its own session well before that,
// so each one found is logged as an error. It returns the number released.
func (m *Manager) Sweep(now time.Time) int {
	limit := m.cfg.TurnTimeout + m.cfg.Grace

	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if now.Sub(s.LastActivity()) > limit {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.log.Error().
			Str("threadId", s.ThreadID).
			Str("session", s.ID).
			Dur("held", now.Sub(s.StartedAt)).
			Msg("busy flag leaked, forcing release")
		s.Cancel(domain.ErrTimeout)
		s.End(domain.ErrorEvent(domain.ErrTimeout.Error()))
	}
	return len(stale)
}

// Stop halts the sweeper and cancels every running session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	running := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		running = append(running, s)
	}
	m.mu.Unlock()

	for _, s := range running {
		s.Cancel(errShutdown)
	}
}

var errShutdown = errors.New("session manager stopped")

// Session is one running turn's hold on its thread.
type Session struct {
	ID        string
	ThreadID  string
	StartedAt time.Time

	m      *Manager
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu           sync.Mutex
	transports   map[int]Transport
	nextID       int
	lastActivity time.Time
	ended        bool
	done         chan struct{}
}

// Context is cancelled when the session is cancelled or ended.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed once End has run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Publish forwards ev to every attached transport in attach order.
// Transports whose Send fails are detached.
func (s *Session) Publish(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.lastActivity = time.Now()
	s.broadcastLocked(ev)
}

// Touch records forward progress without publishing anything.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns when the session last published or was touched.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Attach adds a transport and returns a func that detaches it. Attaching
// to an ended session is a no-op and reports false.
func (s *Session) Attach(t Transport) (detach func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return func() {}, false
	}
	id := s.attachLocked(t)
	return func() { s.detach(id) }, true
}

// Transports returns the number of attached transports.
func (s *Session) Transports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transports)
}

func (s *Session) attachLocked(t Transport) int {
	s.nextID++
	s.transports[s.nextID] = t
	return s.nextID
}

func (s *Session) detach(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transports, id)
}

func (s *Session) broadcastLocked(ev domain.Event) {
	for id := 0; id <= s.nextID; id++ {
		t, ok := s.transports[id]
		if !ok {
			continue
		}
		if err := t.Send(ev); err != nil {
			delete(s.transports, id)
			s.m.log.Debug().Err(err).
				Str("threadId", s.ThreadID).
				Str("event", string(ev.Type)).
				Msg("transport detached after send failure")
		}
	}
}

// Cancel asks the running turn to stop. The session stays held until End.
func (s *Session) Cancel(cause error) {
	s.cancel(cause)
}

// End releases the thread, then delivers final to the attached transports
// and drops them. Only the first call has any effect; it reports whether
// this call was it.
func (s *Session) End(final domain.Event) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	s.mu.Unlock()

	s.m.release(s)

	s.mu.Lock()
	s.broadcastLocked(final)
	clear(s.transports)
	s.mu.Unlock()

	s.cancel(nil)
	close(s.done)

	s.m.log.Debug().
		Str("threadId", s.ThreadID).
		Str("session", s.ID).
		Str("final", string(final.Type)).
		Dur("held", time.Since(s.StartedAt)).
		Msg("session ended")
	return true
}
