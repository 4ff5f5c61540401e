package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Strategy names.
const (
	StrategyExplicit = "explicit"
	StrategyInferred = "inferred"
)

// Directory is the subset of the agent directory the router needs.
type Directory interface {
	List() []core.AgentDescriptor
	Lookup(name string) (core.AgentDescriptor, bool)
	Canonical(name string) string
	Resolve(ctx context.Context, name string, variant core.Variant) (core.Agent, error)
}

// Config controls routing.
type Config struct {
	// DefaultAgent is used whenever a strategy ends up with no agent.
	DefaultAgent string
	// DelegateAgent picks agents under the inferred strategy.
	DelegateAgent string
	// Exclude lists names never offered to the delegate (e.g. synthesis agents).
	Exclude []string
	// MaxAgents caps an inferred selection.
	MaxAgents int
	// DelegateTimeout bounds the delegate call.
	DelegateTimeout time.Duration
	// HistoryTurns is how many recent turns the delegate sees.
	HistoryTurns int
	// Prompt is a text/template rendered for the delegate.
	Prompt string
}

// DefaultConfig is the default routing configuration.
var DefaultConfig = Config{
	DefaultAgent:    "general",
	DelegateAgent:   "router",
	MaxAgents:       3,
	DelegateTimeout: 15 * time.Second,
	HistoryTurns:    6,
	Prompt:          DefaultPrompt,
}

// Options configures a Router.
type Options struct {
	Config
	Logger logging.Logger
}

// Input is what the router needs to make a selection.
type Input struct {
	Message      string
	History      []core.Turn
	Requested    []string
	Variant      core.Variant
	SessionID    string
	InvocationID string
	Budget       *core.CallBudget
}

// Selection is the ordered set of agents chosen for one run.
type Selection struct {
	Strategy      string
	Participants  []core.Participant
	Requested     []string
	Dropped       map[string]string
	Fallback      bool
	DelegateReply string
}

// Names returns the participant names in selection order.
func (s *Selection) Names() []string {
	out := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		out[i] = p.Name
	}
	return out
}

// Info converts the selection into its serializable summary.
func (s *Selection) Info() *core.SelectionInfo {
	info := &core.SelectionInfo{
		Strategy:  s.Strategy,
		Requested: append([]string(nil), s.Requested...),
		Selected:  s.Names(),
		Fallback:  s.Fallback,
	}
	if len(s.Dropped) > 0 {
		info.Dropped = make(map[string]string, len(s.Dropped))
		for k, v := range s.Dropped {
			info.Dropped[k] = v
		}
	}
	return info
}

func (s *Selection) drop(name, reason string) {
	if s.Dropped == nil {
		s.Dropped = map[string]string{}
	}
	s.Dropped[name] = reason
}

// Router selects agents. It is safe for concurrent use.
type Router struct {
	dir     Directory
	cfg     Config
	exclude map[string]struct{}
	logger  logging.Logger
}

// New creates a Router over dir.
func New(dir Directory, optFns ...func(o *Options)) *Router {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.MaxAgents <= 0 {
		opts.MaxAgents = DefaultConfig.MaxAgents
	}
	if opts.DelegateTimeout <= 0 {
		opts.DelegateTimeout = DefaultConfig.DelegateTimeout
	}

	exclude := map[string]struct{}{}
	for _, n := range opts.Exclude {
		exclude[dir.Canonical(n)] = struct{}{}
	}
	if opts.DelegateAgent != "" {
		exclude[dir.Canonical(opts.DelegateAgent)] = struct{}{}
	}

	return &Router{dir: dir, cfg: opts.Config, exclude: exclude, logger: logging.OrNoOp(opts.Logger)}
}

// Select picks the participating agents. A non-empty Input.Requested selects
// the explicit strategy; otherwise the delegate infers the selection. When
// not even the default agent can be resolved an *core.AllAgentsFailedError
// is returned.
func (r *Router) Select(ctx context.Context, in Input) (*Selection, error) {
	var sel *Selection
	if len(in.Requested) > 0 {
		sel = r.explicit(ctx, in)
	} else {
		sel = r.inferred(ctx, in)
	}

	if len(sel.Participants) == 0 {
		sel.Fallback = true
		if err := r.useDefault(ctx, in, sel); err != nil {
			return sel, err
		}
	}

	r.logger.Info("router.selected", "strategy", sel.Strategy, "agents", sel.Names(), "fallback", sel.Fallback, "dropped", len(sel.Dropped))
	return sel, nil
}

func (r *Router) explicit(ctx context.Context, in Input) *Selection {
	sel := &Selection{Strategy: StrategyExplicit, Requested: append([]string(nil), in.Requested...)}

	var names []string
	seen := map[string]struct{}{}
	for _, raw := range in.Requested {
		name := r.dir.Canonical(raw)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		desc, ok := r.dir.Lookup(name)
		switch {
		case !ok:
			r.logger.Warn("router.explicit.unknown_agent", "agent", raw)
			sel.drop(raw, "unknown")
			continue
		case !desc.Enabled:
			r.logger.Warn("router.explicit.disabled_agent", "agent", name)
			sel.drop(name, "disabled")
			continue
		}
		names = append(names, name)
	}

	r.resolveAll(ctx, names, in.Variant, sel)
	return sel
}

func (r *Router) inferred(ctx context.Context, in Input) *Selection {
	sel := &Selection{Strategy: StrategyInferred}

	candidates := r.candidates()
	if len(candidates) == 0 {
		return sel
	}
	if len(candidates) == 1 {
		r.resolveAll(ctx, []string{candidates[0].Name}, in.Variant, sel)
		return sel
	}

	reply, err := r.askDelegate(ctx, in, candidates)
	if err != nil {
		r.logger.Warn("router.delegate.failed", "delegate", r.cfg.DelegateAgent, "error", err)
		return sel
	}
	sel.DelegateReply = reply

	allowed := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		allowed[c.Name] = struct{}{}
	}

	var names []string
	seen := map[string]struct{}{}
	for _, raw := range ParseAgentNames(reply) {
		name := r.dir.Canonical(raw)
		if _, ok := allowed[name]; !ok {
			r.logger.Debug("router.delegate.discarded", "name", raw)
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
		if len(names) == r.cfg.MaxAgents {
			break
		}
	}

	r.resolveAll(ctx, names, in.Variant, sel)
	return sel
}

func (r *Router) candidates() []core.AgentDescriptor {
	var out []core.AgentDescriptor
	for _, d := range r.dir.List() {
		if !d.Enabled {
			continue
		}
		if _, ok := r.exclude[d.Name]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *Router) askDelegate(ctx context.Context, in Input, candidates []core.AgentDescriptor) (string, error) {
	if r.cfg.DelegateAgent == "" {
		return "", errors.New("no delegate agent configured")
	}
	delegate, err := r.dir.Resolve(ctx, r.cfg.DelegateAgent, core.VariantStandard)
	if err != nil {
		return "", err
	}
	if err := in.Budget.Spend(); err != nil {
		return "", err
	}

	history := in.History
	if n := r.cfg.HistoryTurns; n >= 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	prompt, err := renderPrompt(r.cfg.Prompt, promptData{
		Agents:    candidates,
		History:   history,
		Message:   in.Message,
		MaxAgents: r.cfg.MaxAgents,
		Example:   candidates[0].Name,
	})
	if err != nil {
		return "", fmt.Errorf("render routing prompt: %w", err)
	}

	dctx, cancel := context.WithTimeout(ctx, r.cfg.DelegateTimeout)
	defer cancel()

	ic := core.NewInvocationContext(dctx, in.SessionID, in.InvocationID, nil, in.Budget, r.logger).
		ForAgent(dctx, delegate.Describe())

	type result struct {
		reply string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("delegate %s panicked: %v", r.cfg.DelegateAgent, rec)}
			}
		}()
		reply, err := delegate.Respond(ic, prompt)
		ch <- result{reply, err}
	}()

	select {
	case res := <-ch:
		return res.reply, res.err
	case <-dctx.Done():
		return "", fmt.Errorf("%w: delegate %s", core.ErrAgentTimeout, r.cfg.DelegateAgent)
	}
}

// resolveAll resolves names in order, applying the role tie-break, and
// appends the resulting participants to sel.
func (r *Router) resolveAll(ctx context.Context, names []string, variant core.Variant, sel *Selection) {
	roles := map[string]struct{}{}
	have := map[string]struct{}{}
	for _, name := range names {
		desc, ok := r.dir.Lookup(name)
		if !ok {
			sel.drop(name, "unknown")
			continue
		}
		if desc.Role != "" {
			if _, done := roles[desc.Role]; done {
				continue
			}
			roles[desc.Role] = struct{}{}
		}

		p, err := r.resolveWithRole(ctx, desc, variant, sel)
		if err != nil {
			r.logger.Warn("router.agent.unavailable", "agent", name, "error", err)
			sel.drop(name, "unavailable")
			continue
		}
		if _, dup := have[p.Name]; dup {
			continue
		}
		have[p.Name] = struct{}{}
		sel.Participants = append(sel.Participants, p)
	}
}

// resolveWithRole resolves desc, preferring the specialized member of its
// role group and falling back to the generic members in registration order.
func (r *Router) resolveWithRole(ctx context.Context, desc core.AgentDescriptor, variant core.Variant, sel *Selection) (core.Participant, error) {
	group := []core.AgentDescriptor{desc}
	if desc.Role != "" {
		group = r.roleGroup(desc.Role, desc.Name)
	}

	var lastErr error
	for _, d := range group {
		a, err := r.dir.Resolve(ctx, d.Name, variant)
		if err != nil {
			lastErr = err
			if len(group) > 1 {
				sel.drop(d.Name, "unavailable")
			}
			continue
		}
		if d.Name != desc.Name {
			r.logger.Info("router.role.substituted", "requested", desc.Name, "selected", d.Name, "role", desc.Role)
		}
		return core.Participant{Name: d.Name, Descriptor: d, Agent: a}, nil
	}
	if lastErr == nil {
		lastErr = &core.AgentUnavailableError{Name: desc.Name}
	}
	return core.Participant{}, lastErr
}

// roleGroup lists the enabled members of role, specialized first. Excluded
// agents (the delegate, synthesis agents) only appear when they are the
// requested agent itself.
func (r *Router) roleGroup(role, requested string) []core.AgentDescriptor {
	var specialized, generic []core.AgentDescriptor
	for _, d := range r.dir.List() {
		if d.Role != role || !d.Enabled {
			continue
		}
		if _, excluded := r.exclude[d.Name]; excluded && d.Name != requested {
			continue
		}
		if d.Specialized {
			specialized = append(specialized, d)
		} else {
			generic = append(generic, d)
		}
	}
	return append(specialized, generic...)
}

func (r *Router) useDefault(ctx context.Context, in Input, sel *Selection) error {
	name := r.dir.Canonical(r.cfg.DefaultAgent)
	if name == "" {
		return &core.AllAgentsFailedError{Agents: sel.Requested}
	}

	desc, ok := r.dir.Lookup(name)
	if !ok {
		desc = core.AgentDescriptor{Name: name, Enabled: true}
	}

	r.logger.Info("router.default.used", "agent", name, "strategy", sel.Strategy)
	p, err := r.resolveWithRole(ctx, desc, in.Variant, sel)
	if err != nil {
		sel.drop(name, "unavailable")
		return &core.AllAgentsFailedError{Agents: []string{name}, Causes: map[string]error{name: err}}
	}
	sel.Participants = append(sel.Participants, p)
	return nil
}
