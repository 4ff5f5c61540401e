package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger is the logging interface used throughout AgentRelay. Arguments
// after msg are alternating key/value pairs, as with slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// StructuredLogger writes slog records carrying a component name and a fixed
// set of attributes (session, invocation, custom). With* methods return
// copies; the receiver is never mutated.
type StructuredLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	attrs     []slog.Attr
}

// LoggerConfig configures construction of a StructuredLogger.
type LoggerConfig struct {
	Level       LogLevel
	Format      string // json or text
	Output      io.Writer
	AddSource   bool
	Component   string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a JSON, info level configuration writing to stderr.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stderr}
}

// NewLogger builds a StructuredLogger from cfg, or from the defaults when cfg is nil.
func NewLogger(cfg *LoggerConfig) *StructuredLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	l := &StructuredLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component}
	for k, v := range cfg.CustomAttrs {
		l.attrs = append(l.attrs, slog.Any(k, v))
	}
	return l
}

// NewSlogLogger creates a StructuredLogger writing to stderr.
func NewSlogLogger(level LogLevel, format string, addSource bool) *StructuredLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *StructuredLogger) with(attrs ...slog.Attr) *StructuredLogger {
	nl := *l
	nl.attrs = make([]slog.Attr, 0, len(l.attrs)+len(attrs))
	nl.attrs = append(nl.attrs, l.attrs...)
	for _, a := range attrs {
		nl.attrs = setAttr(nl.attrs, a)
	}
	return &nl
}

// setAttr replaces an attribute with the same key or appends a.
func setAttr(attrs []slog.Attr, a slog.Attr) []slog.Attr {
	for i := range attrs {
		if attrs[i].Key == a.Key {
			attrs[i] = a
			return attrs
		}
	}
	return append(attrs, a)
}

// WithContext adds a key/value attribute that will be attached to every log entry.
func (l *StructuredLogger) WithContext(key string, value any) *StructuredLogger {
	return l.with(slog.Any(key, value))
}

// WithComponent sets the logical component (dispatch, router, engine, ...).
func (l *StructuredLogger) WithComponent(c string) *StructuredLogger {
	nl := l.with()
	nl.component = c
	return nl
}

// WithSession attaches session and invocation identifiers. Empty values are skipped.
func (l *StructuredLogger) WithSession(sessionID, invocationID string) *StructuredLogger {
	var attrs []slog.Attr
	if sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	if invocationID != "" {
		attrs = append(attrs, slog.String("invocation_id", invocationID))
	}
	return l.with(attrs...)
}

func (l *StructuredLogger) log(level slog.Level, msg string, args ...any) {
	if level < slogLevel(l.level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	if l.component != "" {
		r.AddAttrs(slog.String("component", l.component))
	}
	r.AddAttrs(l.attrs...)
	r.Add(args...)
	_ = l.logger.Handler().Handle(context.Background(), r)
}

// Debug logs at debug level.
func (l *StructuredLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *StructuredLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *StructuredLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *StructuredLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// With returns a Logger that adds args to every entry logged through it.
// Nested calls accumulate. A StructuredLogger keeps its own type so its
// attributes stay de-duplicated.
func With(l Logger, args ...any) Logger {
	l = OrNoOp(l)
	if len(args) == 0 {
		return l
	}
	switch base := l.(type) {
	case NoOpLogger:
		return base
	case *StructuredLogger:
		r := slog.NewRecord(time.Time{}, 0, "", 0)
		r.Add(args...)
		attrs := make([]slog.Attr, 0, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			attrs = append(attrs, a)
			return true
		})
		return base.with(attrs...)
	case *boundLogger:
		return &boundLogger{next: base.next, args: concat(base.args, args)}
	}
	return &boundLogger{next: l, args: args}
}

// boundLogger prepends fixed key/value pairs to every call on next.
type boundLogger struct {
	next Logger
	args []any
}

func (b *boundLogger) Debug(msg string, args ...any) { b.next.Debug(msg, concat(b.args, args)...) }
func (b *boundLogger) Info(msg string, args ...any)  { b.next.Info(msg, concat(b.args, args)...) }
func (b *boundLogger) Warn(msg string, args ...any)  { b.next.Warn(msg, concat(b.args, args)...) }
func (b *boundLogger) Error(msg string, args ...any) { b.next.Error(msg, concat(b.args, args)...) }

func concat(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// Debug discards the message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards the message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards the message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards the message.
func (NoOpLogger) Error(string, ...any) {}

// OrNoOp returns l, or a NoOpLogger when l is nil.
func OrNoOp(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
