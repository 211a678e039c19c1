package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")
	require.NotNil(t, log)

	log.Info().Msg("test message")
	assert.Contains(t, buf.String(), "test message")
}

func TestSub(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")
	sub := log.Sub("mymodule")
	require.NotNil(t, sub)

	sub.Info().Msg("sub message")
	output := buf.String()
	assert.Contains(t, output, "sub message")
	assert.Contains(t, output, "mymodule")
}

func TestSubChain(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug")
	sub1 := log.Sub("level1")
	sub2 := sub1.Sub("level2")

	sub2.Info().Msg("deep message")
	output := buf.String()
	assert.Contains(t, output, "deep message")
	assert.Contains(t, output, "level2")
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Debug().Msg("debug msg")
	log.Info().Msg("info msg")
	assert.Empty(t, buf.String(), "debug and info should be filtered at warn level")

	log.Warn().Msg("warn msg")
	assert.Contains(t, buf.String(), "warn msg")

	buf.Reset()
	log.Error().Msg("error msg")
	assert.Contains(t, buf.String(), "error msg")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"unknown", zerolog.InfoLevel},
		{" WARN ", zerolog.WarnLevel},
		{"panic", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestWithPairs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info").With("agentId", "a-1", "dangling")

	log.Info().Msg("tagged")
	assert.Contains(t, buf.String(), `"agentId":"a-1"`)
	assert.NotContains(t, buf.String(), "dangling")
}

func TestTurnLogger(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").Sub("executor").Turn("turn-1", "thread-1").Info().Msg("turn started")

	out := buf.String()
	assert.Contains(t, out, `"subsystem":"executor"`)
	assert.Contains(t, out, `"turnId":"turn-1"`)
	assert.Contains(t, out, `"threadId":"thread-1"`)
}

func TestSilentLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")

	log.Debug().Msg("should not appear")
	log.Info().Msg("should not appear")
	log.Warn().Msg("should not appear")
	log.Error().Msg("should not appear")

	assert.Empty(t, buf.String())
}

func TestOpenConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "playforge.log")

	log, closeFn, err := Open(Options{
		Level:        "debug",
		File:         file,
		ConsoleLevel: "warn",
		ConsoleStyle: "json",
		Console:      &console,
	})
	require.NoError(t, err)

	log.Debug().Msg("detail")
	log.Warn().Msg("careful")
	require.NoError(t, closeFn())

	assert.NotContains(t, console.String(), "detail")
	assert.Contains(t, console.String(), "careful")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "detail")
	assert.Contains(t, string(data), "careful")
}

func TestOpenConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	log, closeFn, err := Open(Options{Level: "info", ConsoleStyle: "json", Console: &console})
	require.NoError(t, err)
	defer closeFn()

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}
