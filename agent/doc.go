// Package agent contains concrete core.Agent implementations.
//
//  1. BaseAgent carries identity and readiness shared by every agent.
//  2. ModelAgent answers through a model.Model, replaying the conversation
//     history and, for the memory variant, what is known about the user.
//  3. FuncAgent adapts a plain function, handy for rule-based agents and tests.
//
// Agents are stateless between calls: everything a call needs arrives in the
// *core.InvocationContext, so one instance may serve concurrent sessions.
package agent
