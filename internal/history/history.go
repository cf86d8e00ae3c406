// Package history records completed exchanges in SQLite so /sessions can
// list what ran in a chat and how to resume it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id INTEGER NOT NULL,
    thread_key TEXT NOT NULL,
    engine TEXT NOT NULL,
    resume TEXT,
    prompt TEXT,
    ok BOOLEAN NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_exchanges_chat ON exchanges(chat_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_exchanges_thread ON exchanges(thread_key, created_at DESC);
`

// promptSummaryLen bounds the stored prompt excerpt.
const promptSummaryLen = 200

// Exchange is one recorded prompt/answer round.
type Exchange struct {
	ChatID    int64
	ThreadKey string
	Engine    string
	Resume    string
	Prompt    string
	OK        bool
	CreatedAt time.Time
}

// Store is the SQLite-backed exchange log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path with WAL enabled.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one completed exchange.
func (s *Store) Record(ctx context.Context, ex Exchange) error {
	prompt := ex.Prompt
	if runes := []rune(prompt); len(runes) > promptSummaryLen {
		prompt = string(runes[:promptSummaryLen]) + "…"
	}
	created := ex.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (chat_id, thread_key, engine, resume, prompt, ok, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ex.ChatID, ex.ThreadKey, ex.Engine, ex.Resume, prompt, ex.OK, created)
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	return nil
}

// RecentByChat returns the newest exchange per thread key in a chat, newest
// first, up to limit.
func (s *Store) RecentByChat(ctx context.Context, chatID int64, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 10
	}
	// Select the plain created_at column, not MAX(created_at): an
	// expression column loses the TIMESTAMP decltype and the driver would
	// hand back a string instead of a time.Time.
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, thread_key, engine, resume, prompt, ok, created_at
		FROM exchanges e
		WHERE chat_id = ?
		  AND id = (
			SELECT id FROM exchanges
			WHERE chat_id = e.chat_id AND thread_key = e.thread_key
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		  )
		ORDER BY created_at DESC
		LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		if err := rows.Scan(&ex.ChatID, &ex.ThreadKey, &ex.Engine, &ex.Resume, &ex.Prompt, &ex.OK, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
