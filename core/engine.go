package core

import (
	"context"
	"time"
)

// Request is the single input of an orchestration run.
//
// Agents, when non-empty, selects the explicit routing strategy. SessionID
// continues an existing conversation; empty starts a new one. AgentTimeout
// overrides the configured per-agent deadline for this run only.
type Request struct {
	Message          string        `json:"message"`
	SessionID        string        `json:"session_id,omitempty"`
	Agents           []string      `json:"agents,omitempty"`
	Images           []Image       `json:"-"`
	EnableMemory     bool          `json:"enable_memory,omitempty"`
	DisableSynthesis bool          `json:"disable_synthesis,omitempty"`
	AgentTimeout     time.Duration `json:"agent_timeout,omitempty"`
}

// Orchestrator runs the safety → route → dispatch → synthesize → persist pipeline.
//
// Execute returns a non-nil WorkflowResult together with a
// *PolicyViolationError when the input or final output is rejected, and
// together with an *AllAgentsFailedError when no agent responded. Other
// errors indicate infrastructure failures (for example the session store).
type Orchestrator interface {
	Execute(ctx context.Context, req Request) (*WorkflowResult, error)
}
