package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/agentrelay/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	created_at    TIMESTAMPTZ NOT NULL,
	last_accessed TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_accessed ON conversations(last_accessed);

CREATE TABLE IF NOT EXISTS turns (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	idx             INTEGER NOT NULL,
	id              TEXT NOT NULL,
	speaker         TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	metadata        JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (conversation_id, idx)
);
`

// PostgresStore persists conversations in PostgreSQL. Several processes may
// share one database; Append locks the conversation row while assigning the
// next index.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore wraps an existing pool and migrates the schema.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool, optFns ...func(o *Options)) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	opts := newOptions(optFns)
	return &PostgresStore{db: db, now: opts.Now}, nil
}

// OpenPostgres connects to dsn and returns a migrated store. The caller owns
// the store and should Close it.
func OpenPostgres(ctx context.Context, dsn string, optFns ...func(o *Options)) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool, optFns...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() { s.db.Close() }

// Create allocates a new, empty conversation.
func (s *PostgresStore) Create(ctx context.Context) (string, error) {
	id := core.NewID()
	now := s.now()
	if _, err := s.db.Exec(ctx, "INSERT INTO conversations (id, created_at, last_accessed) VALUES ($1, $2, $2)", id, now); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// Append records turn, creating the conversation when needed.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, turn core.Turn) (core.Turn, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return core.Turn{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now()
	if _, err := tx.Exec(ctx, "INSERT INTO conversations (id, created_at, last_accessed) VALUES ($1, $2, $2) ON CONFLICT (id) DO NOTHING", sessionID, now); err != nil {
		return core.Turn{}, fmt.Errorf("ensure conversation: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT id FROM conversations WHERE id = $1 FOR UPDATE", sessionID); err != nil {
		return core.Turn{}, fmt.Errorf("lock conversation: %w", err)
	}

	var next int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(idx) + 1, 0) FROM turns WHERE conversation_id = $1", sessionID).Scan(&next); err != nil {
		return core.Turn{}, fmt.Errorf("next turn index: %w", err)
	}

	t := prepare(turn, next, now)
	md, err := json.Marshal(t.Metadata)
	if err != nil {
		return core.Turn{}, fmt.Errorf("encode metadata: %w", err)
	}

	const insert = `INSERT INTO turns (conversation_id, idx, id, speaker, content, created_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`
	if _, err := tx.Exec(ctx, insert, sessionID, t.Index, t.ID, t.Speaker, t.Content, t.Timestamp, string(md)); err != nil {
		return core.Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE conversations SET last_accessed = $1 WHERE id = $2", now, sessionID); err != nil {
		return core.Turn{}, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.Turn{}, fmt.Errorf("commit append: %w", err)
	}
	return t, nil
}

// History returns the conversation's turns ordered by index.
func (s *PostgresStore) History(ctx context.Context, sessionID string) ([]core.Turn, error) {
	tag, err := s.db.Exec(ctx, "UPDATE conversations SET last_accessed = $1 WHERE id = $2", s.now(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, core.ErrSessionNotFound
	}

	rows, err := s.db.Query(ctx, "SELECT idx, id, speaker, content, created_at, metadata::text FROM turns WHERE conversation_id = $1 ORDER BY idx ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := []core.Turn{}
	for rows.Next() {
		var (
			t  core.Turn
			md string
		)
		if err := rows.Scan(&t.Index, &t.ID, &t.Speaker, &t.Content, &t.Timestamp, &md); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(md), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Delete removes a conversation and its turns.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM conversations WHERE id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// Expire removes conversations idle for longer than maxAge.
func (s *PostgresStore) Expire(ctx context.Context, maxAge time.Duration) (int, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM conversations WHERE last_accessed < $1", s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("expire conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// List summarizes all conversations, most recently accessed first.
func (s *PostgresStore) List(ctx context.Context) ([]core.SessionInfo, error) {
	const q = `SELECT c.id, c.created_at, c.last_accessed, COUNT(t.idx)
FROM conversations c LEFT JOIN turns t ON t.conversation_id = c.id
GROUP BY c.id ORDER BY c.last_accessed DESC, c.id ASC`
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.SessionInfo, error) {
		var info core.SessionInfo
		err := row.Scan(&info.ID, &info.Created, &info.LastAccessed, &info.TurnCount)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}
	return infos, nil
}
