package memory

import (
	"strings"
	"sync"
	"time"
)

// Options configures an InMemoryStore.
type Options struct {
	// Now is the clock used to stamp updates. Defaults to time.Now.
	Now func() time.Time
}

type facts struct {
	values  map[string]any
	updated time.Time
}

// InMemoryStore is a process-local MemoryStore keeping per-session key/value
// facts about the user. It is safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*facts
	now      func() time.Time
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &InMemoryStore{sessions: make(map[string]*facts), now: opts.Now}
}

// Get returns a copy of the facts known for the session.
func (m *InMemoryStore) Get(sessionID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.sessions[sessionID]
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

// Put merges delta into the session's facts. Keys are trimmed and blank keys
// ignored. A nil value removes the key.
func (m *InMemoryStore) Put(sessionID string, delta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.sessions[sessionID]
	if !ok {
		f = &facts{values: make(map[string]any)}
		m.sessions[sessionID] = f
	}
	for k, v := range delta {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if v == nil {
			delete(f.values, k)
			continue
		}
		f.values[k] = v
	}
	f.updated = m.now()
	if len(f.values) == 0 {
		delete(m.sessions, sessionID)
	}
	return nil
}

// Clear forgets everything known for the session.
func (m *InMemoryStore) Clear(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Expire drops the facts of sessions not updated within maxAge and returns
// how many sessions were dropped.
func (m *InMemoryStore) Expire(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, f := range m.sessions {
		if f.updated.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of sessions with at least one fact.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
