package approval

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

// Store persists approval requests in sqlite. Every operation uses a
// short-lived statement; nothing holds a transaction across a model or tool
// call. Transition is the single mutation point and enforces the
// pending-only guard.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the approvals database and migrates the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("approval store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_requests (
			request_id TEXT PRIMARY KEY,
			tool_calls TEXT NOT NULL,
			messages TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			result TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_requests_status ON pending_requests(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// DB exposes the underlying handle so companion tables (run log) can share
// the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Create persists a new pending record. The tool-call list and transcript are
// fixed here and never modified afterwards.
func (s *Store) Create(requestID string, toolCalls []chat.ToolCall, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	callsJSON, err := json.Marshal(toolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	msgsJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO pending_requests (request_id, tool_calls, messages, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		requestID, string(callsJSON), string(msgsJSON), StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("insert approval request: %w", err)
	}
	return nil
}

// Get returns the record for the given request id, or ErrNotFound.
func (s *Store) Get(requestID string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		req       Request
		callsJSON string
		msgsJSON  string
		result    sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT request_id, tool_calls, messages, status, result, created_at, updated_at
		 FROM pending_requests WHERE request_id = ?`, requestID,
	).Scan(&req.RequestID, &callsJSON, &msgsJSON, &req.Status, &result, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query approval request: %w", err)
	}

	if err := json.Unmarshal([]byte(callsJSON), &req.ToolCalls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}
	if err := json.Unmarshal([]byte(msgsJSON), &req.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if result.Valid && result.String != "" {
		req.Result = json.RawMessage(result.String)
	}
	return &req, nil
}

// Transition moves a record out of pending. It fails with ErrAlreadyResolved
// unless the persisted status is still pending, which is the consistency
// guard against double-approval and approve-after-reject races.
func (s *Store) Transition(requestID string, status Status, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resultStr interface{}
	if len(result) > 0 {
		resultStr = string(result)
	}

	res, err := s.db.Exec(
		`UPDATE pending_requests SET status = ?, result = ?, updated_at = ?
		 WHERE request_id = ? AND status = ?`,
		status, resultStr, time.Now().UTC(), requestID, StatusPending)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// No row changed: either the id is unknown or the record already left
	// pending. Distinguish with a follow-up read.
	var existing Status
	err = s.db.QueryRow("SELECT status FROM pending_requests WHERE request_id = ?", requestID).Scan(&existing)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query approval status: %w", err)
	}
	return fmt.Errorf("%w: status is %s", ErrAlreadyResolved, existing)
}

// ListPending returns summaries of all pending records, oldest first.
func (s *Store) ListPending() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT request_id, tool_calls, status, created_at
		 FROM pending_requests WHERE status = ? ORDER BY created_at`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			callsJSON string
		)
		if err := rows.Scan(&sum.RequestID, &callsJSON, &sum.Status, &sum.CreatedAt); err != nil {
			continue
		}
		var calls []chat.ToolCall
		if err := json.Unmarshal([]byte(callsJSON), &calls); err == nil {
			for _, c := range calls {
				sum.Tools = append(sum.Tools, c.Function.Name)
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
