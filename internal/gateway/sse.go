package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/BrotherOrange/PlayForge/internal/domain"
)

var errStreamClosed = errors.New("event stream closed")

// sseWriter writes turn events as server-sent events. It implements
// session.Transport. Headers go out with the first frame or on open.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	closed  bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) startLocked() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.rc.Flush()
}

// open sends the response headers.
func (s *sseWriter) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.startLocked()
	}
}

// Send writes one data frame and flushes it.
func (s *sseWriter) Send(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.startLocked()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		s.closed = true
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// close stops all further writes. It must be called before the handler
// returns.
func (s *sseWriter) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// ParseSSE reads an event stream written by the chat-stream endpoint and
// calls fn for each event. Frames are separated by a blank line; the
// payload of a frame is its data: lines joined by newlines. Frames that do
// not hold a JSON event are skipped. It stops at EOF, on a read error, or
// when fn returns an error.
func ParseSSE(r io.Reader, fn func(domain.Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data []string
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		payload := strings.TrimSpace(strings.Join(data, "\n"))
		data = data[:0]
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Type == "" {
			return nil
		}
		return fn(ev)
	}

	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return flush()
}
