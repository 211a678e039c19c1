package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger scoped to a component. Child loggers carry
// the component name plus any turn or thread ids they were derived with.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger. A nil w selects the pretty console writer on
// stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return &Logger{zl: zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()}
}

// Sub returns a child logger for a component ("store", "executor", ...).
func (l *Logger) Sub(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("subsystem", component).Logger()}
}

// With returns a child logger carrying the given key/value pairs. A
// trailing key without a value is ignored.
func (l *Logger) With(kv ...string) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Str(kv[i], kv[i+1])
	}
	return &Logger{zl: ctx.Logger()}
}

// Turn returns a child logger for one turn on a thread.
func (l *Logger) Turn(turnID, threadID string) *Logger {
	return l.With("turnId", turnID, "threadId", threadID)
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// parseLevel maps a config level name to zerolog. "silent" disables
// output; anything unrecognised means info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "silent" {
		return zerolog.Disabled
	}
	lv, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lv == zerolog.NoLevel || lv == zerolog.PanicLevel {
		return zerolog.InfoLevel
	}
	return lv
}
