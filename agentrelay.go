// Package agentrelay provides a high-level façade over the orchestration
// engine and its collaborators (agent directory, session store, memory store,
// safety gate and logging). Most applications interact with this package by:
//  1. Creating an AgentRelay via New() (optionally overriding the in-memory defaults)
//  2. Registering agents (model agents, function agents or custom core.Agent implementations)
//  3. Calling Execute with a core.Request
//
// The façade delegates orchestration to engine.Engine while keeping setup and
// usage concise. All defaults are safe for local development and testing;
// production deployments typically supply a durable session store, a
// classifier-backed safety gate and a structured logger.
package agentrelay

import (
	"context"
	"errors"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/directory"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/safety"
	"github.com/hupe1980/agentrelay/session"
)

// Options configures the AgentRelay instance.
type Options struct {
	// EngineConfig holds routing, dispatch, synthesis and history settings.
	EngineConfig engine.Config

	// Stores (defaults to in-memory implementations if not provided)
	SessionStore core.SessionStore
	MemoryStore  core.MemoryStore

	// Gate screens input and output. Defaults to a disabled gate.
	Gate *safety.Gate

	// Templates overrides the built-in group chat templates.
	Templates []engine.Template

	// Callbacks observe pipeline stages.
	Callbacks *engine.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentRelay is the high-level façade aggregating the engine and its stores.
type AgentRelay struct {
	opts   Options
	dir    *directory.Directory
	engine *engine.Engine
}

var _ core.Orchestrator = (*AgentRelay)(nil)

// New creates a new AgentRelay instance with optional overrides. Any unset
// service is initialized with an in-memory or disabled implementation.
func New(optFns ...func(o *Options)) *AgentRelay {
	opts := Options{
		EngineConfig: engine.DefaultConfig(),
		SessionStore: session.NewInMemoryStore(),
		MemoryStore:  memory.NewInMemoryStore(),
		Gate:         safety.Disabled(),
		Templates:    engine.DefaultTemplates(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	dir := directory.New(func(o *directory.Options) { o.Logger = opts.Logger })
	e := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Directory = dir
		o.SessionStore = opts.SessionStore
		o.MemoryStore = opts.MemoryStore
		o.Gate = opts.Gate
		o.Templates = opts.Templates
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})

	return &AgentRelay{opts: opts, dir: dir, engine: e}
}

// RegisterAgent adds a ready-built agent to the directory.
func (r *AgentRelay) RegisterAgent(a core.Agent, optFns ...func(desc *core.AgentDescriptor)) error {
	return r.dir.RegisterAgent(a, optFns...)
}

// Register adds an agent built lazily by factory, once per variant.
func (r *AgentRelay) Register(desc core.AgentDescriptor, factory directory.Factory) error {
	return r.dir.Register(desc, factory)
}

// Alias maps an alternative spelling onto a registered agent name.
func (r *AgentRelay) Alias(alias, target string) error { return r.dir.Alias(alias, target) }

// Agents lists the registered agents in registration order.
func (r *AgentRelay) Agents() []core.AgentDescriptor { return r.dir.List() }

// Execute runs one orchestration turn.
func (r *AgentRelay) Execute(ctx context.Context, req core.Request) (*core.WorkflowResult, error) {
	return r.engine.Execute(ctx, req)
}

// Ask is a convenience wrapper around Execute returning only the final content.
func (r *AgentRelay) Ask(ctx context.Context, sessionID, message string, agents ...string) (string, string, error) {
	res, err := r.engine.Execute(ctx, core.Request{Message: message, SessionID: sessionID, Agents: agents})
	if res == nil {
		return "", "", err
	}
	return res.Content, res.SessionID, err
}

// ExecuteTemplate runs message through a group chat template.
func (r *AgentRelay) ExecuteTemplate(ctx context.Context, name, message, sessionID string) (*core.WorkflowResult, error) {
	return r.engine.ExecuteTemplate(ctx, name, message, sessionID)
}

// Templates returns the available group chat templates.
func (r *AgentRelay) Templates() []engine.Template { return r.engine.Templates() }

// Remember stores a fact about the user of sessionID for memory-enabled agents.
func (r *AgentRelay) Remember(ctx context.Context, sessionID, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sessionID == "" {
		return errors.New("session id is required")
	}
	return r.engine.Remember(sessionID, key, value)
}

// History returns the recorded turns of a session.
func (r *AgentRelay) History(ctx context.Context, sessionID string) ([]core.Turn, error) {
	return r.opts.SessionStore.History(ctx, sessionID)
}

// Sessions lists the known sessions, most recently used first.
func (r *AgentRelay) Sessions(ctx context.Context) ([]core.SessionInfo, error) {
	return r.opts.SessionStore.List(ctx)
}

// DeleteSession removes a session and the user memory attached to it.
func (r *AgentRelay) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.opts.SessionStore.Delete(ctx, sessionID); err != nil {
		return err
	}
	return r.opts.MemoryStore.Clear(sessionID)
}

// StopInvocation cancels a running Execute call.
func (r *AgentRelay) StopInvocation(invocationID string) error {
	return r.engine.StopInvocation(invocationID)
}

// Engine exposes the underlying engine.
func (r *AgentRelay) Engine() *engine.Engine { return r.engine }
