package core

import (
	"context"

	"github.com/hupe1980/agentrelay/logging"
)

// InvocationContext carries the per-call execution scope handed to an
// Agent's Respond method: the cancellation Context, identifiers, the prior
// conversation history, the requested variant and the run's call budget.
//
// A context is derived per agent call via ForAgent, so concurrent agents
// never share a mutable InvocationContext.
type InvocationContext struct {
	*scopedLogger

	Context      context.Context
	SessionID    string
	InvocationID string
	Agent        AgentInfo
	History      []Turn
	Variant      Variant
	Budget       *CallBudget
}

// NewInvocationContext constructs an InvocationContext. Entries logged through
// it carry the session and invocation ids. A nil logger is replaced with a
// NoOpLogger.
func NewInvocationContext(
	ctx context.Context,
	sessionID, invocationID string,
	history []Turn,
	budget *CallBudget,
	logger logging.Logger,
) *InvocationContext {
	return &InvocationContext{
		scopedLogger: newScopedLogger(logger, sessionID, invocationID),
		Context:      ctx,
		SessionID:    sessionID,
		InvocationID: invocationID,
		History:      history,
		Budget:       budget,
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ic *InvocationContext) Err() error { return ic.Context.Err() }

// ForAgent derives a context for a single agent call bound to ctx. Its
// log entries also carry the agent name.
func (ic *InvocationContext) ForAgent(ctx context.Context, agent AgentInfo) *InvocationContext {
	c := *ic
	c.Context = ctx
	c.Agent = agent
	c.scopedLogger = ic.scopedLogger.forAgent(agent.Name)
	return &c
}

// GetAgentName returns the logical agent name for this invocation.
func (ic *InvocationContext) GetAgentName() string { return ic.Agent.Name }

// HistoryCopy returns a copy of the history safe for modification.
func (ic *InvocationContext) HistoryCopy() []Turn {
	out := make([]Turn, len(ic.History))
	for i, t := range ic.History {
		out[i] = t.Clone()
	}
	return out
}
