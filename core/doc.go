// Package core provides the foundational domain types, interfaces and execution
// contexts used by AgentRelay. It defines the core abstractions for:
//
//   - Agents (opaque responders addressed by name)
//   - Conversations and Turns (ordered, append-only session history)
//   - Safety verdicts and the Classifier contract
//   - Invocation results and the aggregated WorkflowResult
//   - Pluggable stores for session history and per-session user memory
//
// The package keeps implementation concerns (persistence, routing, dispatch,
// concrete agents) out of scope, exposing small interfaces so backends and
// providers can be swapped without touching the orchestration pipeline.
package core
