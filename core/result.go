package core

import "time"

// AgentInvocationResult is the outcome of dispatching a message to one agent.
type AgentInvocationResult struct {
	AgentName    string         `json:"agent_name"`
	Content      string         `json:"content"`
	Success      bool           `json:"success"`
	Err          error          `json:"-"`
	ErrorMessage string         `json:"error,omitempty"`
	Latency      time.Duration  `json:"latency"`
	Timestamp    time.Time      `json:"timestamp"`
	Attempts     int            `json:"attempts"`
	Filtered     bool           `json:"filtered,omitempty"`
	Verdict      *SafetyVerdict `json:"verdict,omitempty"`
}

// Successful returns the successful results preserving order.
func Successful(results []AgentInvocationResult) []AgentInvocationResult {
	out := make([]AgentInvocationResult, 0, len(results))
	for _, r := range results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// WorkflowStatus summarizes how an Execute call ended.
type WorkflowStatus string

const (
	// StatusCompleted means every selected agent answered.
	StatusCompleted WorkflowStatus = "completed"
	// StatusDegraded means some, but not all, selected agents failed.
	StatusDegraded WorkflowStatus = "degraded"
	// StatusBlocked means the safety gate rejected the input or final output.
	StatusBlocked WorkflowStatus = "blocked"
	// StatusFailed means no agent produced a response.
	StatusFailed WorkflowStatus = "failed"
)

// SelectionInfo records how the participating agents were chosen.
type SelectionInfo struct {
	Strategy  string            `json:"strategy"`
	Requested []string          `json:"requested,omitempty"`
	Selected  []string          `json:"selected"`
	Dropped   map[string]string `json:"dropped,omitempty"`
	Fallback  bool              `json:"fallback,omitempty"`
}

// SynthesisInfo records how the final content was produced.
type SynthesisInfo struct {
	Method  string   `json:"method"`
	Agent   string   `json:"agent,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// WorkflowResult is the aggregate returned by one orchestration run.
type WorkflowResult struct {
	InvocationID        string                  `json:"invocation_id"`
	SessionID           string                  `json:"session_id"`
	Status              WorkflowStatus          `json:"status"`
	Content             string                  `json:"content"`
	Turns               []Turn                  `json:"turns"`
	ParticipatingAgents []string                `json:"participating_agents"`
	FailedAgents        []string                `json:"failed_agents,omitempty"`
	Results             []AgentInvocationResult `json:"results,omitempty"`
	Selection           *SelectionInfo          `json:"selection,omitempty"`
	Synthesis           *SynthesisInfo          `json:"synthesis,omitempty"`
	Violation           *PolicyViolationError   `json:"violation,omitempty"`
	Started             time.Time               `json:"started"`
	Elapsed             time.Duration           `json:"elapsed"`
}
