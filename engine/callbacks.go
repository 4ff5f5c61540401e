package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// CallbackType defines the pipeline points where callbacks run.
//
// Callbacks observe a run without changing it. They execute synchronously on
// the Execute goroutine; an error is logged and never alters the outcome.
type CallbackType string

const (
	// CallbackInputChecked runs after the input passed the safety gate.
	CallbackInputChecked CallbackType = "input_checked"

	// CallbackSelected runs after the router picked the participants.
	CallbackSelected CallbackType = "selected"

	// CallbackDispatched runs once every participant finished.
	CallbackDispatched CallbackType = "dispatched"

	// CallbackSynthesized runs after the final content was produced.
	CallbackSynthesized CallbackType = "synthesized"

	// CallbackBlocked runs when the gate rejected the input or final output.
	CallbackBlocked CallbackType = "blocked"

	// CallbackCompleted runs when Execute returns, whatever the outcome.
	CallbackCompleted CallbackType = "completed"
)

// CallbackContext carries the state of the run at the callback point.
type CallbackContext struct {
	InvocationContext *core.InvocationContext

	CallbackType CallbackType

	// Result is the WorkflowResult assembled so far.
	Result *core.WorkflowResult

	// Results holds the dispatch outcomes (dispatched and later).
	Results []core.AgentInvocationResult

	Metadata map[string]any
}

// Callback is a hook invoked at one CallbackType.
type Callback interface {
	Type() CallbackType

	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback adapts a function to Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback for callbackType backed by fn.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager keeps callbacks per type. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs the callbacks for callbackType in registration order
// and returns the first error. Remaining callbacks still run.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType

	var first error
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil && first == nil {
			first = fmt.Errorf("callback %s: %w", callbackType, err)
		}
	}
	return first
}

// On registers fn for callbackType and returns the manager for chaining.
func (cm *CallbackManager) On(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *CallbackManager {
	cm.RegisterCallback(NewFunctionCallback(callbackType, fn))
	return cm
}

// Len returns the number of callbacks registered for callbackType.
func (cm *CallbackManager) Len(callbackType CallbackType) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.callbacks[callbackType])
}

// CallbackTypes lists every callback point in pipeline order.
func CallbackTypes() []CallbackType {
	return []CallbackType{
		CallbackInputChecked,
		CallbackSelected,
		CallbackDispatched,
		CallbackSynthesized,
		CallbackBlocked,
		CallbackCompleted,
	}
}

// LoggingCallback logs the state of the run at its callback point at debug level.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a LoggingCallback writing to logger.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logging.OrNoOp(logger),
	}
}

// RegisterLogging adds a LoggingCallback for every callback type.
func (cm *CallbackManager) RegisterLogging(logger logging.Logger) {
	for _, t := range CallbackTypes() {
		cm.RegisterCallback(NewLoggingCallback(t, logger))
	}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	r := callbackCtx.Result
	if r == nil {
		return nil
	}
	args := []any{
		"stage", c.callbackType,
		"invocation_id", r.InvocationID,
		"session_id", r.SessionID,
		"agents", r.ParticipatingAgents,
	}
	if len(r.FailedAgents) > 0 {
		args = append(args, "failed", r.FailedAgents)
	}
	if r.Status != "" {
		args = append(args, "status", r.Status)
	}
	if n := len(callbackCtx.Results); n > 0 {
		args = append(args, "results", n)
	}
	c.logger.Debug("engine.stage", args...)
	return nil
}
