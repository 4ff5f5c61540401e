package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/directory"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/safety"
	"github.com/hupe1980/agentrelay/synth"
)

func newEngine(t *testing.T, agents []*testutil.StubAgent, optFns ...func(o *Options)) *Engine {
	t.Helper()
	dir := directory.New()
	for _, a := range agents {
		require.NoError(t, dir.RegisterAgent(a))
	}
	return New(append([]func(o *Options){func(o *Options) { o.Directory = dir }}, optFns...)...)
}

func withGate(c core.Classifier) func(o *Options) {
	return func(o *Options) {
		o.Gate = safety.NewGate(func(g *safety.Options) { g.Classifier = c })
	}
}

func speakers(turns []core.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Speaker
	}
	return out
}

func TestExecute_BlockedInputDispatchesNothing(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	cls := testutil.NewStubClassifier().Score("hurt them", map[core.Category]int{core.CategoryViolence: 6})
	e := newEngine(t, []*testutil.StubAgent{alpha}, withGate(cls))

	res, err := e.Execute(context.Background(), core.Request{Message: "hurt them", Agents: []string{"alpha"}})

	var pv *core.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, core.StageInput, pv.Stage)
	assert.Equal(t, []core.Category{core.CategoryViolence}, pv.Categories)

	require.NotNil(t, res)
	assert.Equal(t, core.StatusBlocked, res.Status)
	assert.Contains(t, res.Content, "violence")
	assert.Empty(t, res.SessionID)
	assert.Empty(t, res.Turns)
	assert.Empty(t, res.ParticipatingAgents)
	assert.Zero(t, alpha.Calls())

	sessions, err := e.Sessions().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestExecute_TimeoutDegradesToSurvivor(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "X")
	beta := testutil.NewStubAgent("beta", "late")
	beta.Delay = time.Second

	e := newEngine(t, []*testutil.StubAgent{alpha, beta}, func(o *Options) {
		o.Config.Dispatch.Timeout = 50 * time.Millisecond
	})

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha", "beta"}})
	require.NoError(t, err)

	assert.Equal(t, core.StatusDegraded, res.Status)
	assert.Equal(t, "X", res.Content)
	assert.Equal(t, []string{"alpha"}, res.ParticipatingAgents)
	assert.Equal(t, []string{"beta"}, res.FailedAgents)
	assert.Equal(t, string(synth.MethodPassthrough), res.Synthesis.Method)
	assert.Equal(t, []string{core.SpeakerUser, "alpha"}, speakers(res.Turns))

	require.Len(t, res.Results, 2)
	assert.ErrorIs(t, res.Results[1].Err, core.ErrAgentTimeout)
}

func TestExecute_FallbackConcatenationInSelectionOrder(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	beta := testutil.NewStubAgent("beta", "B")
	beta.Delay = 20 * time.Millisecond
	e := newEngine(t, []*testutil.StubAgent{alpha, beta})

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"beta", "alpha"}})
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, "**beta:**\nB\n\n**alpha:**\nA", res.Content)
	assert.Equal(t, []string{"beta", "alpha"}, res.ParticipatingAgents)
	assert.Equal(t, string(synth.MethodFallback), res.Synthesis.Method)
	assert.Equal(t, []string{core.SpeakerUser, "beta", "alpha", core.SpeakerSynthesizer}, speakers(res.Turns))

	last := res.Turns[len(res.Turns)-1]
	assert.Equal(t, "true", last.Metadata[core.MetaSynthesized])
	assert.Equal(t, "beta,alpha", last.Metadata[core.MetaSourceAgents])
	assert.Equal(t, "false", last.Metadata[core.MetaFiltered])
}

func TestExecute_SynthesisAgent(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	beta := testutil.NewStubAgent("beta", "B")
	writer := testutil.NewStubAgent("writer", "merged")

	e := newEngine(t, []*testutil.StubAgent{alpha, beta, writer}, func(o *Options) {
		o.Config.Synth.Agents = []string{"writer"}
	})

	res, err := e.Execute(context.Background(), core.Request{Message: "question?", Agents: []string{"alpha", "beta"}})
	require.NoError(t, err)

	assert.Equal(t, "merged", res.Content)
	assert.Equal(t, string(synth.MethodDelegate), res.Synthesis.Method)
	assert.Equal(t, "writer", res.Synthesis.Agent)
	assert.Equal(t, []string{"alpha", "beta"}, res.ParticipatingAgents)

	require.Len(t, writer.Messages(), 1)
	prompt := writer.Messages()[0]
	assert.Contains(t, prompt, "question?")
	assert.Contains(t, prompt, "A")
	assert.Contains(t, prompt, "B")
}

func TestExecute_SessionContinuity(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	e := newEngine(t, []*testutil.StubAgent{alpha})
	ctx := context.Background()

	first, err := e.Execute(ctx, core.Request{Message: "one", Agents: []string{"alpha"}})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Empty(t, alpha.LastContext().History)

	second, err := e.Execute(ctx, core.Request{Message: "two", SessionID: first.SessionID, Agents: []string{"alpha"}})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	seen := alpha.LastContext().History
	require.Len(t, seen, 2)
	assert.Equal(t, "one", seen[0].Content)
	assert.Equal(t, "alpha", seen[1].Speaker)

	history, err := e.Sessions().History(ctx, first.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i, turn := range history {
		assert.Equal(t, i, turn.Index)
	}
	assert.Equal(t, "two", history[2].Content)
}

func TestExecute_UnknownSessionIDStartsConversation(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	e := newEngine(t, []*testutil.StubAgent{alpha})

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", SessionID: "client-42", Agents: []string{"alpha"}})
	require.NoError(t, err)
	assert.Equal(t, "client-42", res.SessionID)

	history, err := e.Sessions().History(context.Background(), "client-42")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestExecute_HistoryWindow(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	e := newEngine(t, []*testutil.StubAgent{alpha}, func(o *Options) {
		o.Config.MaxHistoryTurns = 3
	})
	ctx := context.Background()

	res, err := e.Execute(ctx, core.Request{Message: "one", Agents: []string{"alpha"}})
	require.NoError(t, err)
	for _, msg := range []string{"two", "three"} {
		_, err = e.Execute(ctx, core.Request{Message: msg, SessionID: res.SessionID, Agents: []string{"alpha"}})
		require.NoError(t, err)
	}

	seen := alpha.LastContext().History
	require.Len(t, seen, 3)
	assert.Equal(t, "A", seen[0].Content)
	assert.Equal(t, "two", seen[1].Content)
}

func TestExecute_OutputViolation(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	beta := testutil.NewStubAgent("beta", "B")
	cls := testutil.NewStubClassifier().
		Score("**alpha:**\nA\n\n**beta:**\nB", map[core.Category]int{core.CategoryHate: 5})
	e := newEngine(t, []*testutil.StubAgent{alpha, beta}, withGate(cls))

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha", "beta"}})

	var pv *core.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, core.StageOutput, pv.Stage)
	assert.Equal(t, core.StatusBlocked, res.Status)
	assert.Equal(t, safety.DefaultPlaceholder, res.Content)

	last := res.Turns[len(res.Turns)-1]
	assert.Equal(t, core.SpeakerSynthesizer, last.Speaker)
	assert.Equal(t, safety.DefaultPlaceholder, last.Content)
	assert.Equal(t, "true", last.Metadata[core.MetaFiltered])
	assert.Equal(t, "hate", last.Metadata[core.MetaFlagged])
}

func TestExecute_AgentOutputFiltered(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "nasty")
	cls := testutil.NewStubClassifier().Score("nasty", map[core.Category]int{core.CategorySexual: 4})
	e := newEngine(t, []*testutil.StubAgent{alpha}, withGate(cls))

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha"}})
	require.NoError(t, err)

	assert.Equal(t, safety.DefaultPlaceholder, res.Content)
	agentTurn := res.Turns[1]
	assert.Equal(t, "true", agentTurn.Metadata[core.MetaFiltered])
	assert.Equal(t, "sexual", agentTurn.Metadata[core.MetaFlagged])
}

func TestExecute_RedactedSingleAnswer(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "nasty")
	cls := testutil.NewStubClassifier().Score("nasty", map[core.Category]int{core.CategorySexual: 4})
	e := newEngine(t, []*testutil.StubAgent{alpha}, func(o *Options) {
		o.Gate = safety.NewGate(func(g *safety.Options) {
			g.Classifier = cls
			g.OutputAction = core.OutputRedact
		})
	})

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha"}})
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, []string{"alpha"}, res.ParticipatingAgents)
	assert.Empty(t, res.Content)
	assert.Equal(t, string(synth.MethodPassthrough), res.Synthesis.Method)
	assert.Equal(t, "true", res.Turns[1].Metadata[core.MetaFiltered])
}

func TestExecute_AllAgentsFailed(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "")
	alpha.Err = errors.New("boom")
	beta := testutil.NewStubAgent("beta", "")
	beta.Err = errors.New("bang")
	e := newEngine(t, []*testutil.StubAgent{alpha, beta})

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha", "beta"}})

	var all *core.AllAgentsFailedError
	require.ErrorAs(t, err, &all)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, all.Agents)

	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Equal(t, synth.NoResponseMessage, res.Content)
	assert.Empty(t, res.ParticipatingAgents)
	assert.Equal(t, []string{"alpha", "beta"}, res.FailedAgents)
	assert.Equal(t, []string{core.SpeakerUser}, speakers(res.Turns))
}

func TestExecute_NoAgentAvailable(t *testing.T) {
	e := newEngine(t, nil)

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"ghost"}})

	var all *core.AllAgentsFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, core.StatusFailed, res.Status)
	require.NotNil(t, res.Selection)
	assert.Equal(t, "unknown", res.Selection.Dropped["ghost"])
}

func TestExecute_InferredRouting(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	beta := testutil.NewStubAgent("beta", "B")
	gamma := testutil.NewStubAgent("gamma", "C")
	delegate := testutil.NewStubAgent("router", `["gamma", "nobody", "alpha"]`)
	e := newEngine(t, []*testutil.StubAgent{alpha, beta, gamma, delegate})

	res, err := e.Execute(context.Background(), core.Request{Message: "who knows?"})
	require.NoError(t, err)

	assert.Equal(t, "inferred", res.Selection.Strategy)
	assert.Equal(t, []string{"gamma", "alpha"}, res.ParticipatingAgents)
	assert.Zero(t, beta.Calls())
}

func TestExecute_DisableSynthesis(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	beta := testutil.NewStubAgent("beta", "B")
	general := testutil.NewStubAgent("general", "should not be asked")
	e := newEngine(t, []*testutil.StubAgent{alpha, beta, general})

	res, err := e.Execute(context.Background(), core.Request{
		Message:          "hi",
		Agents:           []string{"alpha", "beta"},
		DisableSynthesis: true,
	})
	require.NoError(t, err)

	assert.Equal(t, string(synth.MethodConcatenate), res.Synthesis.Method)
	assert.Equal(t, "**alpha:**\nA\n\n**beta:**\nB", res.Content)
	assert.Zero(t, general.Calls())
}

func TestExecute_MemoryVariant(t *testing.T) {
	var (
		mu       sync.Mutex
		variants []core.Variant
	)
	dir := directory.New()
	require.NoError(t, dir.Register(core.AgentDescriptor{Name: "general", Enabled: true},
		func(_ context.Context, v core.Variant) (core.Agent, error) {
			mu.Lock()
			variants = append(variants, v)
			mu.Unlock()
			return testutil.NewStubAgent("general", v.String()), nil
		}))
	e := New(func(o *Options) { o.Directory = dir })

	require.NoError(t, e.Remember("s1", "name", "Ann"))
	require.Error(t, e.Remember("s1", " ", "x"))

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", SessionID: "s1", Agents: []string{"general"}, EnableMemory: true})
	require.NoError(t, err)
	assert.Equal(t, "memory", res.Content)

	res, err = e.Execute(context.Background(), core.Request{Message: "hi", SessionID: "s1", Agents: []string{"general"}})
	require.NoError(t, err)
	assert.Equal(t, "standard", res.Content)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.Variant{core.VariantMemory, core.VariantStandard}, variants)

	facts, err := e.Memory().Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", facts["name"])
}

func TestExecute_AgentTimeoutOverride(t *testing.T) {
	slow := testutil.NewStubAgent("slow", "done")
	slow.Delay = 200 * time.Millisecond
	e := newEngine(t, []*testutil.StubAgent{slow})

	res, err := e.Execute(context.Background(), core.Request{
		Message:      "hi",
		Agents:       []string{"slow"},
		AgentTimeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, []string{"slow"}, res.FailedAgents)
}

func TestExecute_CallbacksObserveStages(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	cm := NewCallbackManager()

	var seen []CallbackType
	for _, ct := range CallbackTypes() {
		cm.RegisterCallback(NewFunctionCallback(ct, func(_ context.Context, cc *CallbackContext) error {
			seen = append(seen, cc.CallbackType)
			return errors.New("ignored")
		}))
	}
	e := newEngine(t, []*testutil.StubAgent{alpha}, func(o *Options) { o.Callbacks = cm })

	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha"}})
	require.NoError(t, err)
	assert.Equal(t, "A", res.Content)
	assert.Equal(t, []CallbackType{CallbackInputChecked, CallbackSelected, CallbackDispatched, CallbackSynthesized, CallbackCompleted}, seen)
}

func TestLoggingCallbacks(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Output: &buf})
	cm := NewCallbackManager()
	cm.RegisterLogging(logger)
	assert.Equal(t, 1, cm.Len(CallbackCompleted))

	e := newEngine(t, []*testutil.StubAgent{testutil.NewStubAgent("alpha", "A")}, func(o *Options) { o.Callbacks = cm })
	_, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha"}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"engine.stage"`)
	assert.Contains(t, out, `"stage":"dispatched"`)
	assert.Contains(t, out, `"status":"completed"`)
}

func TestStopInvocation(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	alpha.Delay = 5 * time.Second
	cm := NewCallbackManager()

	var e *Engine
	cm.On(CallbackSelected, func(_ context.Context, cc *CallbackContext) error {
		return e.StopInvocation(cc.Result.InvocationID)
	})
	e = newEngine(t, []*testutil.StubAgent{alpha}, func(o *Options) { o.Callbacks = cm })

	start := time.Now()
	res, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha"}})
	require.Error(t, err)
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Error(t, e.StopInvocation("missing"))
}

func TestExecute_ConcurrentInvocationLimit(t *testing.T) {
	alpha := testutil.NewStubAgent("alpha", "A")
	alpha.Delay = 50 * time.Millisecond
	e := newEngine(t, []*testutil.StubAgent{alpha}, func(o *Options) {
		o.Config.MaxConcurrentInvocations = 1
	})

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Execute(context.Background(), core.Request{Message: "hi", Agents: []string{"alpha"}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestTemplates(t *testing.T) {
	e := New()
	names := make([]string, 0, 4)
	for _, tpl := range e.Templates() {
		names = append(names, tpl.Name)
	}
	assert.Equal(t, []string{"general_inquiry", "comprehensive_research", "people_focused", "knowledge_deep_dive"}, names)

	_, err := e.ExecuteTemplate(context.Background(), "nope", "hi", "")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestExecuteTemplate(t *testing.T) {
	people := testutil.NewStubAgent("people_lookup", "P")
	knowledge := testutil.NewStubAgent("knowledge_finder", "K")
	general := testutil.NewStubAgent("general", "G")
	e := newEngine(t, []*testutil.StubAgent{people, knowledge, general})

	res, err := e.ExecuteTemplate(context.Background(), "comprehensive_research", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"general", "people_lookup", "knowledge_finder"}, res.ParticipatingAgents)
	assert.Equal(t, string(synth.MethodConcatenate), res.Synthesis.Method)

	res, err = e.ExecuteTemplate(context.Background(), "people_focused", "hi", res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(synth.MethodDelegate), res.Synthesis.Method)
	assert.Equal(t, "G", res.Content)
}
