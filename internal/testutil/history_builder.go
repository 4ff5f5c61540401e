package testutil

import (
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// HistoryBuilder helps construct ordered turn slices with fluent chaining.
// Example:
//
//	history := NewHistoryBuilder().User("hi").Agent("alpha", "hello").Build()
//
// Indexes are assigned in call order starting at 0.
type HistoryBuilder struct {
	turns []core.Turn
	now   time.Time
}

// NewHistoryBuilder creates an empty builder.
func NewHistoryBuilder() *HistoryBuilder {
	return &HistoryBuilder{now: time.Now()}
}

// User appends a user turn (chainable).
func (b *HistoryBuilder) User(content string) *HistoryBuilder {
	return b.Turn(core.SpeakerUser, content)
}

// Agent appends an agent turn (chainable).
func (b *HistoryBuilder) Agent(name, content string) *HistoryBuilder {
	return b.Turn(name, content)
}

// Synthesizer appends a synthesizer turn (chainable).
func (b *HistoryBuilder) Synthesizer(content string, sources ...string) *HistoryBuilder {
	b.Turn(core.SpeakerSynthesizer, content)
	last := &b.turns[len(b.turns)-1]
	last.Metadata[core.MetaSynthesized] = "true"
	if len(sources) > 0 {
		last.Metadata[core.MetaSourceAgents] = strings.Join(sources, ",")
	}
	return b
}

// Turn appends a turn for an arbitrary speaker (chainable).
func (b *HistoryBuilder) Turn(speaker, content string) *HistoryBuilder {
	t := core.NewTurn(speaker, content)
	t.Index = len(b.turns)
	t.Timestamp = b.now.Add(time.Duration(len(b.turns)) * time.Millisecond)
	b.turns = append(b.turns, t)
	return b
}

// Build returns a copy of the accumulated turns.
func (b *HistoryBuilder) Build() []core.Turn {
	out := make([]core.Turn, len(b.turns))
	for i, t := range b.turns {
		out[i] = t.Clone()
	}
	return out
}
