// Package audit appends one JSON line per bridge interaction. Records are
// the operator's trail of who asked what and which engine answered; text is
// truncated and scrubbed of bot tokens before it ever reaches disk.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxText bounds the persisted text field.
const DefaultMaxText = 1000

// Record is one audit line.
type Record struct {
	Kind      string         `json:"kind"`
	ChatID    int64          `json:"chat_id"`
	ThreadID  int            `json:"thread_id"`
	MessageID int            `json:"message_id"`
	Engine    string         `json:"engine,omitempty"`
	Project   string         `json:"project,omitempty"`
	Text      string         `json:"text,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	TS        time.Time      `json:"ts"`
}

// Log is an append-only JSONL audit log. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	f       *os.File
	maxText int
	now     func() time.Time
}

// Open creates or appends to the log at path. maxText <= 0 uses the default.
func Open(path string, maxText int) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	if maxText <= 0 {
		maxText = DefaultMaxText
	}
	return &Log{f: f, maxText: maxText, now: time.Now}, nil
}

// Append writes one record. The text field is truncated and redacted;
// failures are returned but callers treat them as non-fatal.
func (l *Log) Append(rec Record) error {
	rec.Text = Redact(truncate(rec.Text, l.maxText))
	if rec.TS.IsZero() {
		rec.TS = l.now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.f.Write(append(data, '\n'))
	return err
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
