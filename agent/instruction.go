package agent

import (
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
)

// InstructionData is the data available to templated instruction text,
// e.g. "You are {{.Agent}}. Today is {{.Date}}.".
type InstructionData struct {
	Agent     string
	SessionID string
	Memory    bool
	Date      string
}

// Instruction is the system instruction of a model agent: either text,
// rendered as a template per call, or a function of the invocation.
type Instruction struct {
	text string
	fn   func(*core.InvocationContext) (string, error)
}

// NewInstructionFromText creates an Instruction from template text.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromFunc creates an Instruction computed per invocation.
func NewInstructionFromFunc(fn func(*core.InvocationContext) (string, error)) Instruction {
	return Instruction{fn: fn}
}

// IsStatic reports whether the instruction is backed by text.
func (i Instruction) IsStatic() bool { return i.fn == nil }

// Resolve returns the instruction for ic.
func (i Instruction) Resolve(ic *core.InvocationContext) (string, error) {
	if i.fn != nil {
		return i.fn(ic)
	}
	return util.RenderTemplate(i.text, InstructionData{
		Agent:     ic.GetAgentName(),
		SessionID: ic.SessionID,
		Memory:    ic.Variant == core.VariantMemory,
		Date:      time.Now().Format(time.DateOnly),
	})
}
