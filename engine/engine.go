package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/directory"
	"github.com/hupe1980/agentrelay/dispatch"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/memory"
	"github.com/hupe1980/agentrelay/router"
	"github.com/hupe1980/agentrelay/safety"
	"github.com/hupe1980/agentrelay/session"
	"github.com/hupe1980/agentrelay/synth"
)

// Config defines tuning parameters for the Engine.
type Config struct {
	// MaxConcurrentInvocations limits the number of Execute calls running at
	// once; further calls wait for a slot. Set to 0 for unlimited.
	MaxConcurrentInvocations int

	// MaxHistoryTurns is how many trailing turns are replayed to agents.
	MaxHistoryTurns int

	// MaxModelCalls caps outbound agent calls per run (delegate, every
	// dispatch attempt and synthesis). 0 means unlimited.
	MaxModelCalls int

	// EnableMemory makes every run use the memory-enabled agent variant.
	EnableMemory bool

	Router   router.Config
	Dispatch dispatch.Config
	Synth    synth.Config
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentInvocations: 10,
		MaxHistoryTurns:          20,
		Router:                   router.DefaultConfig,
		Dispatch:                 dispatch.DefaultConfig,
		Synth:                    synth.DefaultConfig,
	}
}

// Options configures an Engine instance using the functional options pattern.
// Every collaborator has an in-memory or disabled default.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig().
	Config Config

	// Directory holds the registered agents.
	Directory *directory.Directory

	// SessionStore persists conversations. Defaults to session.InMemoryStore.
	SessionStore core.SessionStore

	// MemoryStore holds per-session user facts for memory-enabled agents.
	MemoryStore core.MemoryStore

	// Gate screens input and output. Defaults to a disabled gate.
	Gate *safety.Gate

	// Templates are the group chat templates offered by ExecuteTemplate.
	Templates []Template

	// Callbacks observe pipeline stages.
	Callbacks *CallbackManager

	// Meter records dispatch metrics; nil uses the global provider.
	Meter metric.Meter

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Engine runs the orchestration pipeline:
//
//	input gate → session → router → dispatcher → synthesizer → output gate → session
//
// Concurrent Execute calls share only the directory and the stores.
type Engine struct {
	dir        *directory.Directory
	sessions   core.SessionStore
	memory     core.MemoryStore
	gate       *safety.Gate
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	synth      *synth.Synthesizer
	callbacks  *CallbackManager
	templates  map[string]Template
	order      []string
	logger     logging.Logger

	config Config
	slots  *semaphore.Weighted

	activeInvocations map[string]context.CancelFunc
	invocationsMu     sync.Mutex
}

var _ core.Orchestrator = (*Engine)(nil)

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:    DefaultConfig(),
		Templates: DefaultTemplates(),
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Directory == nil {
		opts.Directory = directory.New(func(o *directory.Options) { o.Logger = opts.Logger })
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}
	if opts.MemoryStore == nil {
		opts.MemoryStore = memory.NewInMemoryStore()
	}
	if opts.Gate == nil {
		opts.Gate = safety.Disabled()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	logger := logging.OrNoOp(opts.Logger)
	cfg := opts.Config

	e := &Engine{
		dir:      opts.Directory,
		sessions: opts.SessionStore,
		memory:   opts.MemoryStore,
		gate:     opts.Gate,
		router: router.New(opts.Directory, func(o *router.Options) {
			o.Config = cfg.Router
			o.Logger = logger
		}),
		dispatcher: dispatch.New(func(o *dispatch.Options) {
			o.Config = cfg.Dispatch
			o.Filter = opts.Gate
			o.Logger = logger
			o.Meter = opts.Meter
		}),
		synth: synth.New(opts.Directory, func(o *synth.Options) {
			o.Config = cfg.Synth
			o.Logger = logger
		}),
		callbacks:         opts.Callbacks,
		templates:         make(map[string]Template, len(opts.Templates)),
		logger:            logger,
		config:            cfg,
		activeInvocations: make(map[string]context.CancelFunc),
	}
	if cfg.MaxConcurrentInvocations > 0 {
		e.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrentInvocations))
	}
	for _, t := range opts.Templates {
		if _, dup := e.templates[t.Name]; !dup {
			e.order = append(e.order, t.Name)
		}
		e.templates[t.Name] = t
	}
	return e
}

// Directory returns the agent directory.
func (e *Engine) Directory() *directory.Directory { return e.dir }

// Sessions returns the session store.
func (e *Engine) Sessions() core.SessionStore { return e.sessions }

// Memory returns the memory store.
func (e *Engine) Memory() core.MemoryStore { return e.memory }

// Callbacks returns the callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// StopInvocation cancels a running Execute call.
func (e *Engine) StopInvocation(invocationID string) error {
	e.invocationsMu.Lock()
	cancel, exists := e.activeInvocations[invocationID]
	e.invocationsMu.Unlock()

	if !exists {
		return fmt.Errorf("invocation %s not found", invocationID)
	}

	cancel()
	return nil
}

// Execute runs one orchestration turn. See core.Orchestrator for the error
// contract.
func (e *Engine) Execute(ctx context.Context, req core.Request) (*core.WorkflowResult, error) {
	if e.slots != nil {
		if err := e.slots.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("wait for invocation slot: %w", err)
		}
		defer e.slots.Release(1)
	}

	invocationID := core.NewID()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.invocationsMu.Lock()
	e.activeInvocations[invocationID] = cancel
	e.invocationsMu.Unlock()
	defer func() {
		e.invocationsMu.Lock()
		delete(e.activeInvocations, invocationID)
		e.invocationsMu.Unlock()
	}()

	run := &execution{
		e:   e,
		req: req,
		result: &core.WorkflowResult{
			InvocationID:        invocationID,
			SessionID:           req.SessionID,
			ParticipatingAgents: []string{},
			Started:             time.Now(),
		},
		logger: logging.With(e.logger, "invocation_id", invocationID),
	}

	err := run.execute(ctx)
	if err != nil && run.result.Status == "" {
		run.result.Status = core.StatusFailed
	}
	run.result.Elapsed = time.Since(run.result.Started)
	run.callback(ctx, CallbackCompleted)

	run.logger.Info("engine.execute.done",
		"session_id", run.result.SessionID,
		"status", run.result.Status,
		"agents", run.result.ParticipatingAgents,
		"failed", run.result.FailedAgents,
		"elapsed", run.result.Elapsed,
	)
	return run.result, err
}

// Remember stores a fact about the user of sessionID for memory-enabled agents.
func (e *Engine) Remember(sessionID, key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("memory key is required")
	}
	return e.memory.Put(sessionID, map[string]any{key: value})
}

// execution is the state of one Execute call.
type execution struct {
	e       *Engine
	req     core.Request
	result  *core.WorkflowResult
	ic      *core.InvocationContext
	results []core.AgentInvocationResult
	logger  logging.Logger
}

func (x *execution) execute(ctx context.Context) error {
	e, req, res := x.e, x.req, x.result

	if _, err := e.gate.CheckInput(ctx, req.Message, req.Images); err != nil {
		var pv *core.PolicyViolationError
		if errors.As(err, &pv) {
			return x.block(ctx, pv, "")
		}
		return err
	}

	history, err := x.openSession(ctx)
	if err != nil {
		return err
	}
	variant := core.VariantStandard
	if req.EnableMemory || e.config.EnableMemory {
		variant = core.VariantMemory
	}
	budget := core.NewCallBudget(e.config.MaxModelCalls)

	x.ic = core.NewInvocationContext(ctx, res.SessionID, res.InvocationID, history, budget, e.logger)
	x.ic.Variant = variant
	x.callback(ctx, CallbackInputChecked)

	if err := x.appendTurn(ctx, core.NewTurn(core.SpeakerUser, req.Message)); err != nil {
		return err
	}

	sel, err := e.router.Select(ctx, router.Input{
		Message:      req.Message,
		History:      history,
		Requested:    req.Agents,
		Variant:      variant,
		SessionID:    res.SessionID,
		InvocationID: res.InvocationID,
		Budget:       budget,
	})
	if sel != nil {
		res.Selection = sel.Info()
	}
	if err != nil {
		res.Status = core.StatusFailed
		res.Content = synth.NoResponseMessage
		return err
	}
	x.callback(ctx, CallbackSelected)

	var callOpts []func(o *dispatch.CallOptions)
	if req.AgentTimeout > 0 {
		callOpts = append(callOpts, func(o *dispatch.CallOptions) { o.Timeout = req.AgentTimeout })
	}
	results, dispatchErr := e.dispatcher.Dispatch(x.ic, req.Message, sel.Participants, callOpts...)
	x.results = results
	res.Results = results
	x.callback(ctx, CallbackDispatched)

	for _, r := range results {
		if !r.Success {
			res.FailedAgents = append(res.FailedAgents, r.AgentName)
			continue
		}
		res.ParticipatingAgents = append(res.ParticipatingAgents, r.AgentName)
		if err := x.appendTurn(ctx, agentTurn(r, res.InvocationID)); err != nil {
			return err
		}
	}

	if dispatchErr != nil {
		res.Status = core.StatusFailed
		res.Content = synth.NoResponseMessage
		return dispatchErr
	}

	var syn synth.Synthesis
	if req.DisableSynthesis {
		syn = e.synth.Join(results)
	} else {
		syn = e.synth.Combine(x.ic, req.Message, results)
	}
	res.Synthesis = syn.Info()
	res.Content = syn.Content

	if len(syn.Sources) > 1 {
		content, verdict, flagged := e.gate.FilterOutput(ctx, core.SpeakerSynthesizer, syn.Content)
		turn := synthesisTurn(content, syn, res.InvocationID, flagged, verdict)
		if err := x.appendTurn(ctx, turn); err != nil {
			return err
		}
		res.Content = content
		if flagged && e.gate.Replaces() {
			return x.block(ctx, core.NewPolicyViolation(core.StageOutput, verdict), content)
		}
	}
	x.callback(ctx, CallbackSynthesized)

	res.Status = core.StatusCompleted
	if len(res.FailedAgents) > 0 {
		res.Status = core.StatusDegraded
	}
	return nil
}

// openSession creates or loads the conversation and returns the history
// window replayed to agents.
func (x *execution) openSession(ctx context.Context) ([]core.Turn, error) {
	e, res := x.e, x.result

	if res.SessionID == "" {
		id, err := e.sessions.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		res.SessionID = id
		return nil, nil
	}

	history, err := e.sessions.History(ctx, res.SessionID)
	if errors.Is(err, core.ErrSessionNotFound) {
		// Unknown ids start a new conversation under the caller's id.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", res.SessionID, err)
	}
	if n := e.config.MaxHistoryTurns; n >= 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	return history, nil
}

func (x *execution) appendTurn(ctx context.Context, turn core.Turn) error {
	t, err := x.e.sessions.Append(ctx, x.result.SessionID, turn)
	if err != nil {
		return fmt.Errorf("append %s turn: %w", turn.Speaker, err)
	}
	x.result.Turns = append(x.result.Turns, t)
	return nil
}

func (x *execution) block(ctx context.Context, pv *core.PolicyViolationError, content string) error {
	x.result.Status = core.StatusBlocked
	x.result.Violation = pv
	x.result.Content = content
	if content == "" {
		x.result.Content = pv.Error()
	}
	x.logger.Warn("engine.execute.blocked", "stage", pv.Stage, "categories", pv.Categories)
	x.callback(ctx, CallbackBlocked)
	return pv
}

func (x *execution) callback(ctx context.Context, t CallbackType) {
	cbCtx := &CallbackContext{InvocationContext: x.ic, Result: x.result, Results: x.results}
	if err := x.e.callbacks.ExecuteCallbacks(ctx, t, cbCtx); err != nil {
		x.logger.Warn("engine.callback.failed", "type", t, "error", err)
	}
}

func agentTurn(r core.AgentInvocationResult, invocationID string) core.Turn {
	t := core.NewTurn(r.AgentName, r.Content).
		WithMeta(core.MetaInvocationID, invocationID).
		WithMeta(core.MetaLatencyMS, strconv.FormatInt(r.Latency.Milliseconds(), 10)).
		WithMeta(core.MetaAttempts, strconv.Itoa(r.Attempts)).
		WithMeta(core.MetaFiltered, strconv.FormatBool(r.Filtered))
	if r.Filtered && r.Verdict != nil {
		t = t.WithMeta(core.MetaFlagged, strings.Join(r.Verdict.FlaggedNames(), ","))
	}
	return t
}

func synthesisTurn(content string, syn synth.Synthesis, invocationID string, flagged bool, v core.SafetyVerdict) core.Turn {
	t := core.NewTurn(core.SpeakerSynthesizer, content).
		WithMeta(core.MetaInvocationID, invocationID).
		WithMeta(core.MetaSynthesized, "true").
		WithMeta(core.MetaSourceAgents, strings.Join(syn.Sources, ",")).
		WithMeta(core.MetaMethod, string(syn.Method)).
		WithMeta(core.MetaFiltered, strconv.FormatBool(flagged))
	if flagged {
		t = t.WithMeta(core.MetaFlagged, strings.Join(v.FlaggedNames(), ","))
	}
	return t
}
