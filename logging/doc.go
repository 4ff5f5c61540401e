// Package logging provides a minimal logging interface and adapters for AgentRelay.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the orchestrator, dispatcher, safety gate and stores use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - StructuredLogger with component / session scoping
//   - With, binding fixed key/value pairs to any Logger
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	relay := agentrelay.New(func(o *agentrelay.Options) { o.Logger = logger })
//
// All methods take slog-style alternating key/value arguments.
package logging
