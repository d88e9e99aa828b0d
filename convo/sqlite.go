package convo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLite persists conversations in a local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the conversation database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	metadata        TEXT,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON conversation_messages(conversation_id, created_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create conversation schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) LoadRecent(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, metadata, created_at
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var reversed []Message
	for rows.Next() {
		var (
			msg      Message
			metadata sql.NullString
		)
		msg.ConversationID = conversationID
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &msg.Metadata)
		}
		msg.Content = Truncate(msg.Content)
		reversed = append(reversed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Message, len(reversed))
	for i, msg := range reversed {
		out[len(reversed)-1-i] = msg
	}
	return out, nil
}

func (s *SQLite) SaveUser(ctx context.Context, conversationID, content string) error {
	return s.insert(ctx, conversationID, RoleUser, content, nil)
}

func (s *SQLite) SaveAssistant(ctx context.Context, conversationID, content string, metadata map[string]any) error {
	dup, err := s.recentDuplicate(ctx, conversationID, content)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}
	return s.insert(ctx, conversationID, RoleAssistant, content, metadata)
}

// recentDuplicate reports whether the same answer landed for this
// conversation inside the dedup window. Retried pipeline stages can save
// twice; only the first write should survive.
func (s *SQLite) recentDuplicate(ctx context.Context, conversationID, content string) (bool, error) {
	cutoff := time.Now().Add(-DedupWindow)
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM conversation_messages
		WHERE conversation_id = ? AND role = ? AND content = ? AND created_at > ?`,
		conversationID, RoleAssistant, content, cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check duplicate answer: %w", err)
	}
	return count > 0, nil
}

func (s *SQLite) insert(ctx context.Context, conversationID, role, content string, metadata map[string]any) error {
	var metaJSON any
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode message metadata: %w", err)
		}
		metaJSON = string(encoded)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, role, content, metaJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save %s message: %w", role, err)
	}
	return nil
}
