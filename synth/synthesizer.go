package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// NoResponseMessage is returned when no agent produced usable content.
const NoResponseMessage = "No agents were able to respond."

// Method records how the final content was produced.
type Method string

const (
	// MethodNone means no agent succeeded and NoResponseMessage was returned.
	MethodNone Method = "none"
	// MethodPassthrough means the single successful answer was returned verbatim.
	MethodPassthrough Method = "passthrough"
	// MethodDelegate means a synthesis agent merged the answers.
	MethodDelegate Method = "delegate"
	// MethodFallback means every synthesis agent failed and the answers were concatenated.
	MethodFallback Method = "fallback"
	// MethodConcatenate means synthesis was disabled and the answers were concatenated.
	MethodConcatenate Method = "concatenate"
)

// Resolver is the subset of the agent directory the synthesizer needs.
type Resolver interface {
	Lookup(name string) (core.AgentDescriptor, bool)
	Resolve(ctx context.Context, name string, variant core.Variant) (core.Agent, error)
}

// Config controls synthesis.
type Config struct {
	// Agents are the synthesis agents, tried in order until one answers.
	Agents []string
	// Timeout bounds each synthesis call.
	Timeout time.Duration
	// Prompt is a text/template rendered with the message and sources.
	Prompt string
}

// DefaultConfig is the default synthesizer configuration.
var DefaultConfig = Config{
	Agents:  []string{"general"},
	Timeout: 30 * time.Second,
	Prompt:  DefaultPrompt,
}

// Options configures a Synthesizer.
type Options struct {
	Config
	Logger logging.Logger
}

// Synthesis is the outcome of Combine.
type Synthesis struct {
	Content string
	Method  Method
	// Agent is the synthesis agent that produced Content (delegate only).
	Agent   string
	Sources []string
	// Err holds the last synthesis agent failure when Method is fallback.
	Err     error
}

// Info converts s for a WorkflowResult.
func (s Synthesis) Info() *core.SynthesisInfo {
	info := &core.SynthesisInfo{
		Method:  string(s.Method),
		Agent:   s.Agent,
		Sources: append([]string(nil), s.Sources...),
	}
	if s.Err != nil {
		info.Error = s.Err.Error()
	}
	return info
}

// Synthesizer merges agent answers.
type Synthesizer struct {
	dir    Resolver
	cfg    Config
	logger logging.Logger
}

// New creates a Synthesizer. dir may be nil, in which case multi-source
// answers are always concatenated.
func New(dir Resolver, optFns ...func(o *Options)) *Synthesizer {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConfig.Timeout
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Synthesizer{dir: dir, cfg: opts.Config, logger: logging.OrNoOp(opts.Logger)}
}

// Combine produces the final reply from results, which are expected in
// selection order. Failed results are ignored; a successful blank answer is
// still a source.
func (s *Synthesizer) Combine(ic *core.InvocationContext, message string, results []core.AgentInvocationResult) Synthesis {
	sources := sourcesFrom(results, s.label)

	switch len(sources) {
	case 0:
		return Synthesis{Content: NoResponseMessage, Method: MethodNone}
	case 1:
		return Synthesis{Content: sources[0].Content, Method: MethodPassthrough, Sources: sourceNames(sources)}
	}

	out := Synthesis{Sources: sourceNames(sources)}

	prompt, err := BuildPrompt(s.cfg.Prompt, message, sources)
	if err != nil {
		out.Err = fmt.Errorf("render synthesis prompt: %w", err)
	} else {
		for _, name := range s.cfg.Agents {
			if ic.Err() != nil {
				out.Err = ic.Err()
				break
			}
			content, err := s.delegate(ic, name, prompt)
			if err != nil {
				out.Err = err
				s.logger.Warn("synth.delegate.failed", "agent", name, "error", err)
				continue
			}
			out.Content, out.Method, out.Agent, out.Err = content, MethodDelegate, name, nil
			return out
		}
	}

	out.Content = Concatenate(sources)
	out.Method = MethodFallback
	return out
}

// Join attributes and concatenates the answers without asking a synthesis
// agent. A single answer is still passed through verbatim.
func (s *Synthesizer) Join(results []core.AgentInvocationResult) Synthesis {
	sources := sourcesFrom(results, s.label)
	switch len(sources) {
	case 0:
		return Synthesis{Content: NoResponseMessage, Method: MethodNone}
	case 1:
		return Synthesis{Content: sources[0].Content, Method: MethodPassthrough, Sources: sourceNames(sources)}
	}
	return Synthesis{Content: Concatenate(sources), Method: MethodConcatenate, Sources: sourceNames(sources)}
}

func (s *Synthesizer) delegate(ic *core.InvocationContext, name, prompt string) (string, error) {
	if s.dir == nil {
		return "", errors.New("no agent directory")
	}
	agent, err := s.dir.Resolve(ic.Context, name, core.VariantStandard)
	if err != nil {
		return "", err
	}
	if err := ic.Budget.Spend(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ic.Context, s.cfg.Timeout)
	defer cancel()

	sic := ic.ForAgent(ctx, agent.Describe())
	sic.History = nil

	type result struct {
		reply string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("synthesis agent panicked: %v", r)}
			}
		}()
		reply, err := agent.Respond(sic, prompt)
		ch <- result{reply, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		if strings.TrimSpace(res.reply) == "" {
			return "", fmt.Errorf("synthesis agent %s returned an empty reply", name)
		}
		return res.reply, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: synthesis agent %s", core.ErrAgentTimeout, name)
	}
}

func (s *Synthesizer) label(name string) string {
	if s.dir != nil {
		if desc, ok := s.dir.Lookup(name); ok {
			return desc.Label()
		}
	}
	return name
}
