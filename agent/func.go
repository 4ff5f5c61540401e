package agent

import (
	"errors"

	"github.com/hupe1980/agentrelay/core"
)

// RespondFunc is the signature wrapped by FuncAgent.
type RespondFunc func(ic *core.InvocationContext, message string) (string, error)

// FuncAgent adapts a function to core.Agent.
type FuncAgent struct {
	BaseAgent
	fn RespondFunc
}

// NewFuncAgent creates a FuncAgent.
func NewFuncAgent(name, description string, fn RespondFunc) *FuncAgent {
	a := &FuncAgent{BaseAgent: NewBaseAgent(name), fn: fn}
	if description != "" {
		a.SetDescription(description)
	}
	return a
}

// Respond implements core.Agent.
func (a *FuncAgent) Respond(ic *core.InvocationContext, message string) (string, error) {
	if a.fn == nil {
		return "", errors.New("func agent has no function")
	}
	return a.fn(ic, message)
}
