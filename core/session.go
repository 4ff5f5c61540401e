package core

import (
	"context"
	"time"
)

// Conversation is the ordered history of one session.
type Conversation struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
}

// SessionInfo summarizes a stored conversation without its turns.
type SessionInfo struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
	TurnCount    int       `json:"turn_count"`
}

// SessionStore persists conversations.
//
// Contract:
//   - Append assigns Turn.Index atomically per session (0, 1, 2, ...) and
//     fills ID and Timestamp when empty. Appending to an unknown id creates
//     the conversation.
//   - History returns the turns ordered by Index as a defensive copy and
//     refreshes the last-accessed time. Unknown ids yield ErrSessionNotFound.
//   - Delete of an unknown id yields ErrSessionNotFound.
//   - Expire removes conversations whose last access is older than maxAge and
//     returns how many were removed.
//   - Implementations must be safe for concurrent use.
type SessionStore interface {
	Create(ctx context.Context) (string, error)
	Append(ctx context.Context, sessionID string, turn Turn) (Turn, error)
	History(ctx context.Context, sessionID string) ([]Turn, error)
	Delete(ctx context.Context, sessionID string) error
	Expire(ctx context.Context, maxAge time.Duration) (int, error)
	List(ctx context.Context) ([]SessionInfo, error)
}
