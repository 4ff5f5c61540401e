// Package engine implements the orchestration layer of agentrelay.
//
// An Engine runs one pipeline per Execute call:
//
//	┌──────────────┐   ┌─────────┐   ┌────────┐   ┌────────────┐   ┌─────────────┐
//	│ input gate   │──▶│ session │──▶│ router │──▶│ dispatcher │──▶│ synthesizer │
//	└──────────────┘   └─────────┘   └────────┘   └────────────┘   └─────────────┘
//	       │                                            │                 │
//	   blocked                                 per-agent output     final output
//	                                               filter               gate
//
// Input rejected by the safety gate ends the run before a session is touched
// or any agent is called. Otherwise the user turn is recorded, the router
// picks the participants (explicit list or delegate inference), the
// dispatcher runs them concurrently with per-agent deadlines, successful
// answers are recorded in selection order and the synthesizer merges them.
// A merged answer is screened once more and recorded as a "synthesizer" turn.
//
// Execute always returns a WorkflowResult. The error is a
// *core.PolicyViolationError for blocked content, a *core.AllAgentsFailedError
// when nobody answered, or an infrastructure error from the session store.
//
// Group chat templates (Templates, ExecuteTemplate) bundle a fixed agent list
// with a per-agent deadline and a synthesis toggle. Callbacks observe each
// stage without changing the outcome.
package engine
