package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAgentUnavailable marks an agent that is unknown, disabled, failed to
	// construct or reported itself not ready.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrAgentTimeout marks an agent that exceeded its per-call deadline.
	ErrAgentTimeout = errors.New("agent timed out")

	// ErrRateLimited marks a provider rate-limit response. It is the only
	// condition the dispatcher retries.
	ErrRateLimited = errors.New("rate limited")

	// ErrClassifierUnavailable marks a classifier failure or timeout.
	ErrClassifierUnavailable = errors.New("classifier unavailable")

	// ErrSessionNotFound is returned by stores for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCallBudgetExceeded is returned once a run exhausts its model call budget.
	ErrCallBudgetExceeded = errors.New("call budget exceeded")
)

// Stage identifies where the safety gate rejected content.
type Stage string

const (
	// StageInput is the check on the inbound user message.
	StageInput Stage = "input"
	// StageOutput is the check on the final synthesized content.
	StageOutput Stage = "output"
)

// PolicyViolationError reports content rejected by the safety gate.
type PolicyViolationError struct {
	Stage            Stage      `json:"stage"`
	Categories       []Category `json:"categories,omitempty"`
	BlocklistMatches []string   `json:"blocklist_matches,omitempty"`
	Reason           string     `json:"reason"`
}

func (e *PolicyViolationError) Error() string {
	parts := make([]string, 0, len(e.Categories)+len(e.BlocklistMatches))
	for _, c := range e.Categories {
		parts = append(parts, string(c))
	}
	for _, m := range e.BlocklistMatches {
		parts = append(parts, "blocklist:"+m)
	}
	if e.Stage == StageOutput {
		return fmt.Sprintf("Output withheld due to unsafe content: %s", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("Input blocked due to unsafe content: %s", strings.Join(parts, ", "))
}

// NewPolicyViolation builds a PolicyViolationError from a verdict.
func NewPolicyViolation(stage Stage, v SafetyVerdict) *PolicyViolationError {
	return &PolicyViolationError{
		Stage:            stage,
		Categories:       append([]Category(nil), v.Flagged...),
		BlocklistMatches: append([]string(nil), v.BlocklistMatches...),
		Reason:           "content_safety_violation",
	}
}

// AgentUnavailableError names the agent that could not be resolved.
type AgentUnavailableError struct {
	Name string
	Err  error
}

func (e *AgentUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %q unavailable: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("agent %q unavailable", e.Name)
}

// Unwrap returns the underlying cause.
func (e *AgentUnavailableError) Unwrap() error { return e.Err }

// Is matches ErrAgentUnavailable.
func (e *AgentUnavailableError) Is(target error) bool { return target == ErrAgentUnavailable }

// AllAgentsFailedError is returned when no selected agent produced a response.
type AllAgentsFailedError struct {
	Agents []string
	Causes map[string]error
}

func (e *AllAgentsFailedError) Error() string {
	if len(e.Agents) == 0 {
		return "all agents failed: no agent could be selected"
	}
	parts := make([]string, 0, len(e.Agents))
	for _, name := range e.Agents {
		if cause := e.Causes[name]; cause != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", name, cause))
			continue
		}
		parts = append(parts, name)
	}
	return "all agents failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual causes to errors.Is / errors.As.
func (e *AllAgentsFailedError) Unwrap() []error {
	out := make([]error, 0, len(e.Causes))
	for _, name := range e.Agents {
		if cause := e.Causes[name]; cause != nil {
			out = append(out, cause)
		}
	}
	return out
}
