package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BrotherOrange/PlayForge/internal/domain"
	"github.com/BrotherOrange/PlayForge/internal/logging"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	clientWriteTimeout = 10 * time.Second
	// A client must answer pings within pongWait. Model calls can go
	// quiet for minutes, so liveness comes from pings rather than traffic.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Client is an authenticated agent chat socket bound to one thread.
// It implements session.Transport.
type Client struct {
	ConnID      string
	OwnerID     string
	ThreadID    string
	ConnectedAt time.Time

	conn *websocket.Conn
	log  *logging.Logger

	mu     sync.Mutex // serializes writes
	closed bool
	done   chan struct{}
}

// NewClient wraps a freshly upgraded connection and starts its keepalive.
func NewClient(conn *websocket.Conn, ownerID, threadID string, log *logging.Logger) *Client {
	c := &Client{
		ConnID:      uuid.NewString(),
		OwnerID:     ownerID,
		ThreadID:    threadID,
		ConnectedAt: time.Now(),
		conn:        conn,
		log:         log,
		done:        make(chan struct{}),
	}
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepAlive()
	return c
}

func (c *Client) keepAlive() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(clientWriteTimeout))
			c.mu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("ping failed")
				return
			}
		}
	}
}

// Send writes ev to the socket if it is part of the socket contract.
func (c *Client) Send(ev domain.Event) error {
	if !forwardedOverSocket(ev) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.conn.WriteJSON(ServerMessage{Type: ev.Type, Content: ev.Content})
}

// ReadMessage reads the next client frame. A frame that is not valid JSON
// yields a ValidationError and leaves the socket usable.
func (c *Client) ReadMessage() (ClientMessage, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return ClientMessage{}, err
	}
	var m ClientMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ClientMessage{}, domain.Validationf("malformed message: %v", err)
	}
	return m, nil
}

// CloseWith sends a close frame carrying code and reason, then closes the
// connection. Later sends fail with ErrClientClosed.
func (c *Client) CloseWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return c.conn.Close()
}

// Close closes the connection normally.
func (c *Client) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// ClientRegistry tracks connected chat sockets.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // by connection id
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("threadId", c.ThreadID).Str("owner", c.OwnerID).Msg("client connected")
}

func (r *ClientRegistry) Remove(c *Client) {
	r.mu.Lock()
	delete(r.clients, c.ConnID)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Dur("connected", time.Since(c.ConnectedAt)).Msg("client disconnected")
}

// Count returns the number of connected sockets.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// OnThread returns the sockets bound to threadID.
func (r *ClientRegistry) OnThread(threadID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	for _, c := range r.clients {
		if c.ThreadID == threadID {
			out = append(out, c)
		}
	}
	return out
}

// CloseThread closes every socket bound to threadID with reason and
// returns how many there were.
func (r *ClientRegistry) CloseThread(threadID, reason string) int {
	clients := r.OnThread(threadID)
	for _, c := range clients {
		c.CloseWith(websocket.CloseNormalClosure, reason)
	}
	return len(clients)
}

// CloseAll closes every socket with a going-away frame.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		clients = append(clients, c)
		delete(r.clients, id)
	}
	r.mu.Unlock()
	for _, c := range clients {
		c.CloseWith(websocket.CloseGoingAway, "gateway shutting down")
	}
}
