package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseScanner reads the data payloads of a Server-Sent Events stream.
// Multi-line data fields are joined with newlines; comments, event names
// and ids are ignored.
type sseScanner struct {
	scanner *bufio.Scanner
	data    string
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &sseScanner{scanner: s}
}

// Scan advances to the next event that carries data.
func (s *sseScanner) Scan() bool {
	var lines []string
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if line == "" {
			if len(lines) > 0 {
				s.data = strings.Join(lines, "\n")
				return true
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(rest, " "))
		}
	}
	if len(lines) > 0 {
		s.data = strings.Join(lines, "\n")
		return true
	}
	return false
}

// Data returns the payload of the last scanned event.
func (s *sseScanner) Data() string { return s.data }

// Err returns the first non-EOF read error.
func (s *sseScanner) Err() error { return s.scanner.Err() }
