package core

// MemoryStore keeps small key/value facts about the user per session. Memory
// enabled agent variants render them into their instructions.
type MemoryStore interface {
	Get(sessionID string) (map[string]any, error)
	Put(sessionID string, delta map[string]any) error
	Clear(sessionID string) error
}
