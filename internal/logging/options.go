package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Options selects where logs go. File receives JSON lines at Level; the
// console receives ConsoleLevel in ConsoleStyle ("pretty" or "json").
type Options struct {
	Level        string
	File         string
	ConsoleLevel string
	ConsoleStyle string
	Console      io.Writer // defaults to stderr
}

// levelWriter drops events below min before handing them to w.
type levelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (l levelWriter) Write(p []byte) (int, error) { return l.w.Write(p) }

func (l levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < l.min {
		return len(p), nil
	}
	return l.w.Write(p)
}

// Open builds a root logger from opts. The returned close func releases
// the log file, if any.
func Open(opts Options) (*Logger, func() error, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.ConsoleStyle != "json" {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}
	consoleLevel := opts.ConsoleLevel
	if consoleLevel == "" {
		consoleLevel = opts.Level
	}

	writers := []io.Writer{levelWriter{w: console, min: parseLevel(consoleLevel)}}
	closeFn := func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, levelWriter{w: f, min: parseLevel(opts.Level)})
		closeFn = f.Close
	}

	// The root level is the most verbose of the two sinks; each sink filters
	// on its own.
	root := opts.Level
	if opts.File == "" || parseLevel(consoleLevel) < parseLevel(root) {
		root = consoleLevel
	}
	return New(zerolog.MultiLevelWriter(writers...), root), closeFn, nil
}
