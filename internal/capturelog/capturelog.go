// Package capturelog keeps a local history of capture attempts made by the
// capture CLI, so hook failures can be diagnosed after the fact without
// server access.
package capturelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Statuses recorded per attempt.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Attempt is one capture submission from this machine.
type Attempt struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ProjectPath  string    `json:"project_path"`
	SessionID    string    `json:"session_id"`
	TriggerEvent string    `json:"trigger_event"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
}

// Log is the sqlite-backed attempt history.
type Log struct {
	db *sql.DB
}

// DefaultPath returns ~/.claude/memory-captures.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", "memory-captures.db"), nil
}

// Open creates the database and schema if needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("capture log dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open capture log: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS capture_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			project_path TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			trigger_event TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("capture log schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one attempt.
func (l *Log) Record(ctx context.Context, a Attempt) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO capture_attempts
			(timestamp, project_path, session_id, trigger_event, status, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Timestamp.Format(time.RFC3339), a.ProjectPath, a.SessionID,
		a.TriggerEvent, a.Status, a.Detail)
	if err != nil {
		return fmt.Errorf("record capture attempt: %w", err)
	}
	return nil
}

// Recent lists the latest attempts, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, project_path, session_id, trigger_event, status, detail
		FROM capture_attempts
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list capture attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a  Attempt
			ts string
		)
		if err := rows.Scan(&a.ID, &ts, &a.ProjectPath, &a.SessionID,
			&a.TriggerEvent, &a.Status, &a.Detail); err != nil {
			return nil, fmt.Errorf("scan capture attempt: %w", err)
		}
		a.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, a)
	}
	return out, rows.Err()
}
