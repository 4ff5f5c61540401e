package agent

import (
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// BaseAgent bundles identity and readiness. Embed it in concrete agent
// implementations and supply a Respond method to satisfy core.Agent. All
// exported methods are goroutine-safe.
type BaseAgent struct {
	name        string       // Registered name
	description string       // Used by the router to pick agents
	mu          sync.RWMutex // Protects description and notReady
	notReady    bool         // Set while the agent cannot take calls
}

// NewBaseAgent constructs a ready BaseAgent with a generated description
// (customizable via SetDescription).
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

// Name returns the agent name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns what the agent is good at.
func (b *BaseAgent) Description() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.description
}

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.description = desc
}

// Describe implements core.Agent.
func (b *BaseAgent) Describe() core.AgentInfo {
	return core.AgentInfo{Name: b.name, Description: b.Description()}
}

// Ready implements core.Agent.
func (b *BaseAgent) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.notReady
}

// SetReady marks the agent (un)available. The directory refuses to hand out
// agents that are not ready.
func (b *BaseAgent) SetReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notReady = !ready
}
