// Package router decides which agents answer a message.
//
// Two strategies are supported. The explicit strategy validates a caller
// supplied list of agent names, dropping unknown or unavailable names with a
// warning. The inferred strategy asks a delegate agent to pick from the
// directory's descriptors and restricts its answer to registered names. Both
// strategies fall back to a configured default agent rather than returning an
// empty selection, and both prefer a specialized agent over the generic
// agent registered for the same role.
package router
