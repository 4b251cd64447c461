// Package memory provides SQLite-backed conversation context and note
// storage. The Brain reads recent context when building prompts; the
// remember/recall tools read and write the notes table.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver for database/sql
)

// Message is one stored conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // user, assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is a stored fact saved via the remember tool.
type Note struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages the backing database.
type Store struct {
	db          *sql.DB
	maxMessages int
}

// Open opens (creating if needed) the store at path. maxMessages caps
// retained conversation turns per conversation; <= 0 uses 100.
func Open(path string, maxMessages int) (*Store, error) {
	if maxMessages <= 0 {
		maxMessages = 100
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, maxMessages: maxMessages}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddMessage appends a conversation turn and trims the conversation to
// the retention cap, oldest first.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC LIMIT ?
		)`,
		conversationID, conversationID, s.maxMessages)
	if err != nil {
		return fmt.Errorf("trim conversation: %w", err)
	}
	return nil
}

// RecentContext returns the last limit turns of a conversation in
// chronological order (oldest of the window first). This is the
// read-only context feed for prompt construction.
func (s *Store) RecentContext(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query context: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddNote stores a remembered fact.
func (s *Store) AddNote(ctx context.Context, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, content, created_at) VALUES (?, ?, ?)`,
		uuid.NewString(), content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// SearchNotes returns notes whose content contains query (substring,
// case-insensitive via LIKE), newest first. An empty query returns the
// most recent notes.
func (s *Store) SearchNotes(ctx context.Context, query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, created_at FROM notes
		 WHERE ? = '' OR content LIKE '%' || ? || '%'
		 ORDER BY created_at DESC LIMIT ?`,
		query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Stats returns storage counts for diagnostics.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	for name, query := range map[string]string{
		"messages": `SELECT COUNT(*) FROM messages`,
		"notes":    `SELECT COUNT(*) FROM notes`,
	} {
		var n int
		if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		stats[name] = n
	}
	return stats, nil
}
