package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LogLevelInfo, lvl)

	lvl, err = ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestStructuredLogger_KeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})
	l.WithComponent("dispatch").WithSession("s1", "inv1").Info("dispatch.attempt", "agent", "alpha", "attempt", 2)

	rec := decode(t, &buf)
	assert.Equal(t, "dispatch.attempt", rec["msg"])
	assert.Equal(t, "dispatch", rec["component"])
	assert.Equal(t, "s1", rec["session_id"])
	assert.Equal(t, "inv1", rec["invocation_id"])
	assert.Equal(t, "alpha", rec["agent"])
	assert.EqualValues(t, 2, rec["attempt"])
}

func TestStructuredLogger_WithSessionSkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&LoggerConfig{Output: &buf}).WithSession("", "inv1").Info("x")

	rec := decode(t, &buf)
	_, ok := rec["session_id"]
	assert.False(t, ok)
	assert.Equal(t, "inv1", rec["invocation_id"])
}

func TestStructuredLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestStructuredLogger_WithContextDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf})
	_ = base.WithContext("request", "r1")
	base.Info("plain")

	_, ok := decode(t, &buf)["request"]
	assert.False(t, ok)
}

func TestWith_StructuredReplacesKeys(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Output: &buf, CustomAttrs: map[string]any{"service": "relay"}})

	l := With(With(base, "invocation_id", "inv1"), "invocation_id", "inv2", "agent", "alpha")
	require.IsType(t, &StructuredLogger{}, l)
	l.Info("agent.done")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "invocation_id"))
	rec := decode(t, &buf)
	assert.Equal(t, "inv2", rec["invocation_id"])
	assert.Equal(t, "alpha", rec["agent"])
	assert.Equal(t, "relay", rec["service"])
}

func TestWith_ForeignLogger(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, nil)))

	l := With(With(base, "session_id", "s1"), "agent", "beta")
	l.Warn("agent.slow", "elapsed", "2s")

	rec := decode(t, &buf)
	assert.Equal(t, "s1", rec["session_id"])
	assert.Equal(t, "beta", rec["agent"])
	assert.Equal(t, "2s", rec["elapsed"])
}

func TestWith_NoArgsAndNoOp(t *testing.T) {
	l := NewSlogAdapter(slog.Default())
	assert.Same(t, l, With(l))
	assert.IsType(t, NoOpLogger{}, With(nil, "k", "v"))
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
	l := NewSlogAdapter(slog.Default())
	assert.Same(t, l, OrNoOp(l))
}
