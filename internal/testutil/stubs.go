package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// StubAgent is a configurable core.Agent for tests.
type StubAgent struct {
	Name        string
	Description string
	Reply       string
	Err         error
	Delay       time.Duration
	NotReady    bool
	// IgnoreContext makes the agent sleep for Delay regardless of cancellation.
	IgnoreContext bool
	// RespondFn overrides Reply/Err when set.
	RespondFn func(ic *core.InvocationContext, message string) (string, error)

	calls    atomic.Int32
	mu       sync.Mutex
	messages []string
	contexts []*core.InvocationContext
}

// NewStubAgent creates a stub that always answers reply.
func NewStubAgent(name, reply string) *StubAgent {
	return &StubAgent{Name: name, Description: "stub agent " + name, Reply: reply}
}

// Respond implements core.Agent.
func (s *StubAgent) Respond(ic *core.InvocationContext, message string) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.messages = append(s.messages, message)
	s.contexts = append(s.contexts, ic)
	s.mu.Unlock()

	if s.Delay > 0 {
		if s.IgnoreContext {
			time.Sleep(s.Delay)
		} else {
			select {
			case <-time.After(s.Delay):
			case <-ic.Context.Done():
				return "", ic.Context.Err()
			}
		}
	}
	if s.RespondFn != nil {
		return s.RespondFn(ic, message)
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}

// Describe implements core.Agent.
func (s *StubAgent) Describe() core.AgentInfo {
	return core.AgentInfo{Name: s.Name, Description: s.Description}
}

// Ready implements core.Agent.
func (s *StubAgent) Ready() bool { return !s.NotReady }

// Calls returns how many times Respond was invoked.
func (s *StubAgent) Calls() int { return int(s.calls.Load()) }

// Messages returns the messages received so far.
func (s *StubAgent) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

// LastContext returns the most recent invocation context or nil.
func (s *StubAgent) LastContext() *core.InvocationContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.contexts) == 0 {
		return nil
	}
	return s.contexts[len(s.contexts)-1]
}

// StubClassifier scores content by exact text lookup.
type StubClassifier struct {
	mu       sync.Mutex
	scores   map[string]map[core.Category]int
	Err      error
	Delay    time.Duration
	ImageErr error
	calls    []string
}

// NewStubClassifier returns a classifier that scores everything 0 unless configured.
func NewStubClassifier() *StubClassifier {
	return &StubClassifier{scores: map[string]map[core.Category]int{}}
}

// Score configures the severities returned for text (chainable).
func (c *StubClassifier) Score(text string, sev map[core.Category]int) *StubClassifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scores[text] = sev
	return c
}

// Calls returns the texts classified so far.
func (c *StubClassifier) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// ClassifyText implements core.Classifier.
func (c *StubClassifier) ClassifyText(ctx context.Context, text string) (core.SafetyVerdict, error) {
	c.mu.Lock()
	c.calls = append(c.calls, text)
	sev := c.scores[text]
	c.mu.Unlock()

	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return core.SafetyVerdict{}, ctx.Err()
		}
	}
	if c.Err != nil {
		return core.SafetyVerdict{}, c.Err
	}
	out := map[core.Category]int{}
	for _, cat := range core.Categories() {
		out[cat] = sev[cat]
	}
	return core.SafetyVerdict{Status: core.VerdictChecked, Severities: out, MediaType: "text"}, nil
}

// ClassifyImage implements core.Classifier.
func (c *StubClassifier) ClassifyImage(_ context.Context, _ core.Image) (core.SafetyVerdict, error) {
	if c.ImageErr != nil {
		return core.SafetyVerdict{}, c.ImageErr
	}
	out := map[core.Category]int{}
	for _, cat := range core.Categories() {
		out[cat] = 0
	}
	return core.SafetyVerdict{Status: core.VerdictChecked, Severities: out, MediaType: "image"}, nil
}
