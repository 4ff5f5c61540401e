package core

import "github.com/hupe1980/agentrelay/logging"

// scopedLogger logs through a logger bound to the identifiers of one
// invocation. ForAgent rebinds it with the agent name.
type scopedLogger struct {
	base   logging.Logger
	logger logging.Logger
}

func newScopedLogger(l logging.Logger, sessionID, invocationID string) *scopedLogger {
	base := logging.OrNoOp(l)
	args := make([]any, 0, 4)
	if sessionID != "" {
		args = append(args, "session_id", sessionID)
	}
	if invocationID != "" {
		args = append(args, "invocation_id", invocationID)
	}
	base = logging.With(base, args...)
	return &scopedLogger{base: base, logger: base}
}

func (s *scopedLogger) forAgent(name string) *scopedLogger {
	if name == "" {
		return s
	}
	return &scopedLogger{base: s.base, logger: logging.With(s.base, "agent", name)}
}

// Logger returns the bound logger.
func (s *scopedLogger) Logger() logging.Logger { return s.logger }

// LogDebug logs a debug message.
func (s *scopedLogger) LogDebug(msg string, args ...any) { s.logger.Debug(msg, args...) }

// LogInfo logs an info message.
func (s *scopedLogger) LogInfo(msg string, args ...any) { s.logger.Info(msg, args...) }

// LogWarn logs a warning message.
func (s *scopedLogger) LogWarn(msg string, args ...any) { s.logger.Warn(msg, args...) }

// LogError logs an error message.
func (s *scopedLogger) LogError(msg string, args ...any) { s.logger.Error(msg, args...) }
