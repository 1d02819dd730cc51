// Package runlog records agent run lifecycle events to sqlite.
// Writes are best-effort: a logging failure never fails the run.
package runlog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
)

// Logger appends run events to the agent_logs table.
// A nil *Logger is valid and discards everything.
type Logger struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a run logger on an already-open database handle.
func New(db *sql.DB) (*Logger, error) {
	l := &Logger{db: db}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS agent_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		request_id TEXT,
		message TEXT,
		details TEXT
	)`)
	if err != nil {
		return nil, fmt.Errorf("create agent_logs: %w", err)
	}
	return l, nil
}

// Record appends one event for a run.
func (l *Logger) Record(requestID, message, details string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec(
		"INSERT INTO agent_logs (request_id, message, details) VALUES (?, ?, ?)",
		requestID, message, details); err != nil {
		slog.Warn("run log write failed", "request_id", requestID, "error", err)
	}
}

// Recent returns up to limit events for a run, newest first.
func (l *Logger) Recent(requestID string, limit int) ([]Event, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(
		"SELECT timestamp, message, details FROM agent_logs WHERE request_id = ? ORDER BY id DESC LIMIT ?",
		requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.Message, &e.Details); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Event is one recorded run event.
type Event struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}
