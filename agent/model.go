package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/model"
)

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Instruction        Instruction
	Description        string
	MaxHistoryMessages int
	Temperature        *float64
	MaxTokens          int64
	// Memory, when set, is rendered into the instructions on every call.
	Memory core.MemoryStore
}

// ModelAgent answers through a language model.
//
// Each call sends the resolved instruction as system prompt, the trailing
// conversation history and the current message. Turns by other agents are
// replayed as assistant messages prefixed with the speaker name so the model
// can tell the experts apart.
type ModelAgent struct {
	BaseAgent                           // Embedded identity and readiness
	llm                model.Model      // Language model interface
	instruction        Instruction      // Instructions for the LLM
	maxHistoryMessages int              // Maximum number of history turns replayed
	temperature        *float64         // Optional sampling temperature
	maxTokens          int64            // Optional completion cap
	memory             core.MemoryStore // Known user facts (memory variant only)
}

// NewModelAgent creates a new model-based agent.
//
// Defaults: a generic assistant instruction naming the agent and a 20-turn
// history window.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction:        NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		MaxHistoryMessages: 20,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAgent{
		BaseAgent:          NewBaseAgent(name),
		llm:                llm,
		instruction:        opts.Instruction,
		maxHistoryMessages: opts.MaxHistoryMessages,
		temperature:        opts.Temperature,
		maxTokens:          opts.MaxTokens,
		memory:             opts.Memory,
	}
	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}
	return a
}

// NewModelAgentFactory returns a directory factory building a ModelAgent per
// variant. The memory variant reads user facts from mem; the standard variant
// never does.
func NewModelAgentFactory(name string, llm model.Model, mem core.MemoryStore, optFns ...func(o *ModelAgentOptions)) func(context.Context, core.Variant) (core.Agent, error) {
	return func(_ context.Context, variant core.Variant) (core.Agent, error) {
		if llm == nil {
			return nil, fmt.Errorf("agent %s: no model configured", name)
		}
		fns := append([]func(o *ModelAgentOptions){}, optFns...)
		if variant == core.VariantMemory {
			fns = append(fns, func(o *ModelAgentOptions) { o.Memory = mem })
		}
		return NewModelAgent(name, llm, fns...), nil
	}
}

// GetLLM returns the language model instance.
func (a *ModelAgent) GetLLM() model.Model { return a.llm }

// MaxHistoryMessages returns the maximum number of history turns replayed.
func (a *ModelAgent) MaxHistoryMessages() int { return a.maxHistoryMessages }

// Ready implements core.Agent.
func (a *ModelAgent) Ready() bool { return a.llm != nil && a.BaseAgent.Ready() }

// Respond implements core.Agent.
func (a *ModelAgent) Respond(ic *core.InvocationContext, message string) (string, error) {
	req, err := a.BuildRequest(ic, message)
	if err != nil {
		return "", err
	}

	ic.LogDebug("agent.generate.start", "messages", len(req.Messages), "model", a.llm.Info().Name)

	resp, err := a.llm.Generate(ic.Context, req)
	if err != nil {
		ic.LogWarn("agent.generate.error", "error", err)
		return "", err
	}

	ic.LogDebug("agent.generate.complete", "finish_reason", resp.FinishReason)
	return resp.Text, nil
}

// BuildRequest assembles the model request for message.
func (a *ModelAgent) BuildRequest(ic *core.InvocationContext, message string) (model.Request, error) {
	instructions, err := a.instruction.Resolve(ic)
	if err != nil {
		return model.Request{}, fmt.Errorf("resolve instruction: %w", err)
	}

	if a.memory != nil {
		known, err := memory.ContextString(a.memory, ic.SessionID)
		if err != nil {
			// Answer without memory rather than fail the call.
			ic.LogWarn("agent.memory.error", "error", err)
		} else if known != "" {
			instructions = strings.TrimSpace(instructions + "\n\n" + known)
		}
	}

	history := ic.History
	if n := a.maxHistoryMessages; n >= 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	msgs := make([]model.Message, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		switch t.Speaker {
		case core.SpeakerUser:
			msgs = append(msgs, model.Message{Role: model.RoleUser, Text: t.Content})
		case a.Name():
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Text: t.Content})
		default:
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Text: fmt.Sprintf("[%s] %s", t.Speaker, t.Content)})
		}
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Text: message})

	return model.Request{
		Instructions: instructions,
		Messages:     msgs,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	}, nil
}
