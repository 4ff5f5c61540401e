package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentrelay/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	created_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_accessed ON conversations(last_accessed);

CREATE TABLE IF NOT EXISTS turns (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	idx             INTEGER NOT NULL,
	id              TEXT NOT NULL,
	speaker         TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	metadata_json   TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (conversation_id, idx)
);
`

// SQLiteStore persists conversations in a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and migrates the
// schema.
func NewSQLiteStore(path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; also serializes index assignment in Append.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	opts := newOptions(optFns)
	return &SQLiteStore{db: db, now: opts.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create allocates a new, empty conversation.
func (s *SQLiteStore) Create(ctx context.Context) (string, error) {
	id := core.NewID()
	now := s.now().UnixNano()
	const q = `INSERT INTO conversations (id, created_at, last_accessed) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, now, now); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// Append records turn, creating the conversation when needed.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn core.Turn) (core.Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Turn{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	const ensure = `INSERT INTO conversations (id, created_at, last_accessed) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET last_accessed = excluded.last_accessed`
	if _, err := tx.ExecContext(ctx, ensure, sessionID, now.UnixNano(), now.UnixNano()); err != nil {
		return core.Turn{}, fmt.Errorf("touch conversation: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx) + 1, 0) FROM turns WHERE conversation_id = ?`, sessionID).Scan(&next); err != nil {
		return core.Turn{}, fmt.Errorf("next turn index: %w", err)
	}

	t := prepare(turn, next, now)
	md, err := json.Marshal(t.Metadata)
	if err != nil {
		return core.Turn{}, fmt.Errorf("encode metadata: %w", err)
	}

	const insert = `INSERT INTO turns (conversation_id, idx, id, speaker, content, created_at, metadata_json)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, sessionID, t.Index, t.ID, t.Speaker, t.Content, t.Timestamp.UnixNano(), string(md)); err != nil {
		return core.Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Turn{}, fmt.Errorf("commit append: %w", err)
	}
	return t, nil
}

// History returns the conversation's turns ordered by index.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]core.Turn, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET last_accessed = ? WHERE id = ?`, s.now().UnixNano(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.ErrSessionNotFound
	}

	const q = `SELECT idx, id, speaker, content, created_at, metadata_json
FROM turns WHERE conversation_id = ? ORDER BY idx ASC`
	rows, err := s.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := []core.Turn{}
	for rows.Next() {
		var (
			t       core.Turn
			created int64
			md      string
		)
		if err := rows.Scan(&t.Index, &t.ID, &t.Speaker, &t.Content, &created, &md); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp = time.Unix(0, created)
		if err := json.Unmarshal([]byte(md), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// Delete removes a conversation and its turns.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

// Expire removes conversations idle for longer than maxAge.
func (s *SQLiteStore) Expire(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE last_accessed < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire conversations: %w", err)
	}
	return int(n), nil
}

// List summarizes all conversations, most recently accessed first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.SessionInfo, error) {
	const q = `SELECT c.id, c.created_at, c.last_accessed, COUNT(t.idx)
FROM conversations c LEFT JOIN turns t ON t.conversation_id = c.id
GROUP BY c.id ORDER BY c.last_accessed DESC, c.id ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	infos := []core.SessionInfo{}
	for rows.Next() {
		var (
			info              core.SessionInfo
			created, accessed int64
		)
		if err := rows.Scan(&info.ID, &created, &accessed, &info.TurnCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		info.Created = time.Unix(0, created)
		info.LastAccessed = time.Unix(0, accessed)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
