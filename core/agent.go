package core

// Agent is an opaque responder addressed by name.
//
// Agents receive the user message together with an InvocationContext that
// carries the cancellation context, the prior conversation history and the
// logging helpers for the current run. Implementations must respect
// cancellation of ic.Context; the dispatcher enforces a deadline either way.
//
// Ready reports whether the agent is able to serve requests right now (for
// example, whether its provider credentials were configured). The directory
// treats a non-ready agent as unavailable.
type Agent interface {
	Respond(ic *InvocationContext, message string) (string, error)
	Describe() AgentInfo
	Ready() bool
}

// AgentInfo carries identifying details about an agent used in contexts & logs.
type AgentInfo struct{ Name, Description string }

// Variant selects between alternative constructions of the same agent.
type Variant int

const (
	// VariantStandard is the plain agent.
	VariantStandard Variant = iota
	// VariantMemory is the agent with per-session user memory injected.
	VariantMemory
)

// String returns the lower-case name of the variant.
func (v Variant) String() string {
	switch v {
	case VariantMemory:
		return "memory"
	default:
		return "standard"
	}
}

// AgentDescriptor is the directory's static record for an agent name.
//
// Role groups alternative implementations of the same job (for instance a
// specialized service-backed agent and its generic prompt-only fallback).
// When both are candidates the router prefers the Specialized one.
type AgentDescriptor struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Role        string   `json:"role,omitempty"`
	Specialized bool     `json:"specialized,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// Label returns the display name, falling back to Name.
func (d AgentDescriptor) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Participant is one resolved entry of an agent selection.
type Participant struct {
	Name       string
	Descriptor AgentDescriptor
	Agent      Agent
}
