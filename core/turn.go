package core

import (
	"time"

	"github.com/google/uuid"
)

// Speaker values that are not agent names.
const (
	SpeakerUser        = "user"
	SpeakerSynthesizer = "synthesizer"
)

// Well known Turn metadata keys.
const (
	MetaSynthesized  = "synthesized"
	MetaSourceAgents = "source_agents"
	MetaFiltered     = "filtered"
	MetaFlagged      = "flagged_categories"
	MetaLatencyMS    = "latency_ms"
	MetaAttempts     = "attempts"
	MetaMethod       = "synthesis_method"
	MetaInvocationID = "invocation_id"
)

// Turn is a single immutable entry of a Conversation. Index is assigned by
// the SessionStore at append time and is unique and increasing per session.
type Turn struct {
	ID        string            `json:"id"`
	Speaker   string            `json:"speaker"`
	Content   string            `json:"content"`
	Index     int               `json:"index"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewTurn creates a turn for speaker with a fresh ID and timestamp.
func NewTurn(speaker, content string) Turn {
	return Turn{ID: NewID(), Speaker: speaker, Content: content, Timestamp: time.Now(), Metadata: map[string]string{}}
}

// WithMeta returns a copy of t with key set to value.
func (t Turn) WithMeta(key, value string) Turn {
	md := make(map[string]string, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		md[k] = v
	}
	md[key] = value
	t.Metadata = md
	return t
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	if t.Metadata != nil {
		md := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			md[k] = v
		}
		t.Metadata = md
	}
	return t
}

// IsAgent reports whether the turn was produced by an agent.
func (t Turn) IsAgent() bool {
	return t.Speaker != SpeakerUser && t.Speaker != SpeakerSynthesizer
}

// NewID generates a new random identifier.
func NewID() string { return uuid.NewString() }
