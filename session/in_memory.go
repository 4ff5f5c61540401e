package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// InMemoryStore is a volatile SessionStore storing conversations in a process
// local map. It is safe for concurrent access and best suited for tests,
// the CLI and single-process deployments. Turns are cloned on the way in and
// out so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Conversation
	now      func() time.Time
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := newOptions(optFns)
	return &InMemoryStore{sessions: make(map[string]*core.Conversation), now: opts.Now}
}

// Create allocates a new, empty conversation.
func (s *InMemoryStore) Create(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := core.NewID()
	s.createLocked(id)
	return id, nil
}

// Append records turn, creating the conversation when needed.
func (s *InMemoryStore) Append(_ context.Context, sessionID string, turn core.Turn) (core.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		conv = s.createLocked(sessionID)
	}
	now := s.now()
	t := prepare(turn, len(conv.Turns), now)
	conv.Turns = append(conv.Turns, t)
	conv.LastAccessed = now
	return t.Clone(), nil
}

// History returns a copy of the conversation's turns.
func (s *InMemoryStore) History(_ context.Context, sessionID string) ([]core.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	conv.LastAccessed = s.now()
	out := make([]core.Turn, len(conv.Turns))
	for i, t := range conv.Turns {
		out[i] = t.Clone()
	}
	return out, nil
}

// Delete removes a conversation.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return core.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Expire removes conversations idle for longer than maxAge.
func (s *InMemoryStore) Expire(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	n := 0
	for id, conv := range s.sessions {
		if conv.LastAccessed.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// List summarizes all conversations, most recently accessed first.
func (s *InMemoryStore) List(_ context.Context) ([]core.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.SessionInfo, 0, len(s.sessions))
	for _, conv := range s.sessions {
		out = append(out, core.SessionInfo{
			ID:           conv.ID,
			Created:      conv.Created,
			LastAccessed: conv.LastAccessed,
			TurnCount:    len(conv.Turns),
		})
	}
	sortInfos(out)
	return out, nil
}

// createLocked allocates and stores a conversation; caller must hold the
// write lock.
func (s *InMemoryStore) createLocked(id string) *core.Conversation {
	now := s.now()
	conv := &core.Conversation{ID: id, Created: now, LastAccessed: now}
	s.sessions[id] = conv
	return conv
}

func sortInfos(infos []core.SessionInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].LastAccessed.Equal(infos[j].LastAccessed) {
			return infos[i].LastAccessed.After(infos[j].LastAccessed)
		}
		return infos[i].ID < infos[j].ID
	})
}
