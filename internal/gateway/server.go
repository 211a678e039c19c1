// Package gateway exposes the router over REST, server-sent events and a
// per-thread WebSocket.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/hooks"
	"github.com/BrotherOrange/PlayForge/internal/logging"
	"github.com/BrotherOrange/PlayForge/internal/routing"
	"github.com/BrotherOrange/PlayForge/internal/version"
)

// Server serves the REST, SSE and WebSocket surfaces in front of a Router.
type Server struct {
	cfg     config.Config
	auth    ResolvedAuth
	log     *logging.Logger
	router  *routing.Router
	clients *ClientRegistry
	version string

	mu        sync.RWMutex
	configRaw map[string]any

	hooks *hooks.Manager // may be nil

	syncTimeout   time.Duration
	streamTimeout time.Duration

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
	failures   *failureWindow
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithConfigRaw sets the raw config map served by the config endpoint.
func WithConfigRaw(raw map[string]any) ServerOption {
	return func(s *Server) {
		s.configRaw = raw
	}
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New builds a server in front of router. With hooks set, it closes the
// sockets of deleted agents.
func New(cfg config.Config, router *routing.Router, log *logging.Logger, opts ...ServerOption) *Server {
	allowedOrigins := cfg.Gateway.ControlUI.AllowedOrigins
	s := &Server{
		cfg:           cfg,
		auth:          ResolveAuth(cfg.Gateway.Auth),
		log:           log.Sub("gateway"),
		router:        router,
		clients:       NewClientRegistry(log.Sub("clients")),
		version:       version.Version,
		configRaw:     make(map[string]any),
		syncTimeout:   cfg.Turn.SyncTimeout(),
		streamTimeout: cfg.Turn.StreamTimeout(),
		failures:      newFailureWindow(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{bearerSubprotocol},
			CheckOrigin:     checkWebSocketOrigin(allowedOrigins),
		},
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = config.DefaultTurnTimeoutMinutes * time.Minute
	}
	if s.streamTimeout <= 0 {
		s.streamTimeout = config.DefaultTurnTimeoutMinutes * time.Minute
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.hooks != nil {
		s.hooks.On(hooks.EventAgentDeleted, "gateway-sockets", s.closeDeletedThreads)
	}
	return s
}

// closeDeletedThreads drops the chat sockets of a deleted agent's threads.
func (s *Server) closeDeletedThreads(_ context.Context, p hooks.Payload) error {
	ids, _ := p.Data["threadIds"].([]string)
	for _, id := range ids {
		if n := s.clients.CloseThread(id, "agent deleted"); n > 0 {
			s.log.Info().Str("threadId", id).Int("sockets", n).Msg("closed sockets of deleted agent")
		}
	}
	return nil
}

// checkWebSocketOrigin accepts a handshake without an Origin header
// (non-browser clients) or one whose origin is in allowed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.ControlUI.AllowedOrigins)
}

// Start serves until ctx is done, then drains and returns. Sockets are
// closed before in-flight HTTP requests are waited on.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen(resolveBindAddr(s.cfg.Gateway))
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:        ln.Addr().String(),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Streaming handlers lift the write deadline per request.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()
	go s.failures.run(ctx)

	s.log.Info().
		Str("addr", s.httpServer.Addr).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("users", len(s.auth.Users)).
		Msg("gateway server ready")
	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": s.httpServer.Addr})

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		s.drain()
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	return nil
}

// listen opens the TCP listener, wrapped in TLS when configured.
func (s *Server) listen(addr string) (net.Listener, error) {
	tc := s.cfg.Gateway.TLS
	var tlsCfg *tls.Config
	if tc.Enabled {
		cert, err := tls.LoadX509KeyPair(tc.CertPath, tc.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
		tlsCfg = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	switch {
	case tlsCfg != nil:
		s.log.Info().Msg("TLS enabled")
		return tls.NewListener(ln, tlsCfg), nil
	case s.cfg.Gateway.Bind != "loopback":
		s.log.Warn().Msg("TLS is not enabled, credentials will be transmitted in cleartext")
	}
	return ln, nil
}

func (s *Server) drain() {
	s.log.Info().Int("sockets", s.clients.Count()).Msg("shutting down gateway server")
	s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
	s.clients.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("gateway shutdown incomplete")
	}
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// authenticate resolves the caller's owner id, writing a 401 or 429 and
// returning false when the request may not proceed.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.failures.Blocked(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
		writeErrorCode(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
		return "", false
	}
	res := s.auth.Authorize(requestCredential(r))
	if !res.OK {
		s.failures.Fail(r.RemoteAddr)
		s.log.Debug().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("auth failed")
		writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, res.Reason)
		return "", false
	}
	s.failures.Reset(r.RemoteAddr)
	return res.OwnerID, true
}

// handleAgentChat upgrades to the per-thread chat socket. Clients send
// {"type":"message","content":...} to start a turn and {"type":"cancel"}
// to stop it; they receive token, thinking, done and error frames. A
// socket that connects while a turn is running joins it.
func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	threadID := r.URL.Query().Get("threadId")
	if threadID == "" {
		writeError(w, domain.Validationf("threadId is required"))
		return
	}
	if _, err := s.router.Processing(r.Context(), ownerID, threadID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := NewClient(conn, ownerID, threadID, s.log.Sub("ws"))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client)
		client.Close()
	}()

	ctx := context.WithoutCancel(r.Context())
	if _, joined, err := s.router.Attach(ctx, ownerID, threadID, client); err == nil && joined {
		s.log.Debug().Str("connId", client.ConnID).Str("threadId", threadID).Msg("joined running turn")
	}

	s.readLoop(ctx, client)
}

// readLoop handles client frames until the socket closes. Closing the
// socket leaves any running turn alone.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		msg, err := client.ReadMessage()
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				client.Send(domain.ErrorEvent(err.Error()))
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		switch msg.Type {
		case ClientMessageChat:
			if _, err := s.router.Submit(ctx, client.OwnerID, client.ThreadID, msg.Content, client); err != nil {
				client.Send(domain.ErrorEvent(err.Error()))
			}
		case ClientMessageCancel:
			if _, err := s.router.Cancel(ctx, client.OwnerID, client.ThreadID); err != nil {
				client.Send(domain.ErrorEvent(err.Error()))
			}
		default:
			client.Send(domain.ErrorEvent(fmt.Sprintf("unknown message type %q", msg.Type)))
		}
	}
}
