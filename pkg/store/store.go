// Package store is the durable persistence boundary for sessions and
// crystals. It is handed to callers as an explicit handle; nothing in the
// repository resolves it through ambient lookup.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/dotsession/pkg/session"
)

// ErrNotFound indicates a lookup miss. Propagated to the caller, never
// retried here.
var ErrNotFound = errors.New("record not found")

// SessionSummary is the listing projection of a stored session.
type SessionSummary struct {
	ID          string
	ProjectID   string
	BranchName  string
	State       string
	TurnCount   int
	ContentHash string
	UpdatedAtMS int64
}

// ListFilter narrows ListSessions. Zero value lists everything.
type ListFilter struct {
	ProjectID string
	Limit     int
}

// Crystal is an externally generated session summary. The core never
// produces crystal content; it only persists and retrieves it.
type Crystal struct {
	SessionID    string
	Title        string
	Summary      string
	KeyDecisions []string
	Artifacts    []string
	CreatedAtMS  int64
	UpdatedAtMS  int64
}

// SQLiteStore persists sessions and crystals in a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL DEFAULT '',
			branch_name TEXT NOT NULL,
			state TEXT NOT NULL,
			alpha INTEGER NOT NULL,
			beta INTEGER NOT NULL,
			tools_succeeded INTEGER NOT NULL DEFAULT 0,
			tools_failed INTEGER NOT NULL DEFAULT 0,
			turn_count INTEGER NOT NULL DEFAULT 0,
			content_hash TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_project_idx ON sessions(project_id, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			user_message TEXT NOT NULL,
			assistant_response TEXT NOT NULL,
			PRIMARY KEY(session_id, turn_number)
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			turn_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS checkpoints_session_idx ON checkpoints(session_id, seq);`,
		`CREATE TABLE IF NOT EXISTS crystals (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			key_decisions_json TEXT NOT NULL DEFAULT '[]',
			artifacts_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

// SaveSession writes the full session state, replacing any prior record
// with the same id.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *session.Session) error {
	if sess == nil {
		return fmt.Errorf("save session: nil session")
	}
	return s.SaveSnapshot(ctx, sess.Snapshot())
}

// SaveSnapshot persists a detached snapshot. Because the snapshot carries its
// own copies of the turn log and checkpoint ledger, callers may hand it to
// another goroutine and keep mutating the live session.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	if strings.TrimSpace(snap.ID) == "" {
		return fmt.Errorf("save snapshot: missing session id")
	}
	now := nowMS()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO sessions(id, project_id, branch_name, state, alpha, beta, tools_succeeded, tools_failed, turn_count, content_hash, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	project_id = excluded.project_id,
	branch_name = excluded.branch_name,
	state = excluded.state,
	alpha = excluded.alpha,
	beta = excluded.beta,
	tools_succeeded = excluded.tools_succeeded,
	tools_failed = excluded.tools_failed,
	turn_count = excluded.turn_count,
	content_hash = excluded.content_hash,
	updated_at_ms = excluded.updated_at_ms`,
		snap.ID, snap.ProjectID, snap.BranchName, string(snap.State),
		snap.Evidence.Alpha, snap.Evidence.Beta, snap.Evidence.ToolsSucceeded, snap.Evidence.ToolsFailed,
		len(snap.Turns), snap.ContentHash(), now, now)
	if err != nil {
		return fmt.Errorf("save session row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear session turns: %w", err)
	}
	for _, t := range snap.Turns {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO turns(session_id, turn_number, user_message, assistant_response)
VALUES(?, ?, ?, ?)`, snap.ID, t.TurnNumber, t.UserMessage, t.AssistantResponse); err != nil {
			return fmt.Errorf("save turn %d: %w", t.TurnNumber, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("clear session checkpoints: %w", err)
	}
	for i, cp := range snap.Checkpoints {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO checkpoints(id, session_id, seq, turn_count)
VALUES(?, ?, ?, ?)`, cp.ID, snap.ID, i, cp.TurnCount); err != nil {
			return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

// LoadSession reconstructs a stored session. Returns ErrNotFound on a miss
// and session.ErrCorruptedState when the stored record fails validation.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, project_id, branch_name, state, alpha, beta, tools_succeeded, tools_failed
FROM sessions WHERE id = ?`, id)

	var snap session.Snapshot
	var state string
	if err := row.Scan(&snap.ID, &snap.ProjectID, &snap.BranchName, &state,
		&snap.Evidence.Alpha, &snap.Evidence.Beta, &snap.Evidence.ToolsSucceeded, &snap.Evidence.ToolsFailed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load session row: %w", err)
	}
	snap.State = session.State(state)

	rows, err := s.db.QueryContext(ctx, `
SELECT turn_number, user_message, assistant_response
FROM turns WHERE session_id = ? ORDER BY turn_number`, id)
	if err != nil {
		return nil, fmt.Errorf("load session turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t session.Turn
		if err := rows.Scan(&t.TurnNumber, &t.UserMessage, &t.AssistantResponse); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		snap.Turns = append(snap.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	cpRows, err := s.db.QueryContext(ctx, `
SELECT id, turn_count FROM checkpoints WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load session checkpoints: %w", err)
	}
	defer cpRows.Close()
	for cpRows.Next() {
		var cp session.Checkpoint
		if err := cpRows.Scan(&cp.ID, &cp.TurnCount); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		snap.Checkpoints = append(snap.Checkpoints, cp)
	}
	if err := cpRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	return session.FromSnapshot(snap)
}

// ListSessions returns summaries newest first, optionally scoped to a
// project.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter ListFilter) ([]SessionSummary, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT id, project_id, branch_name, state, turn_count, content_hash, updated_at_ms
FROM sessions`
	args := []any{}
	if strings.TrimSpace(filter.ProjectID) != "" {
		query += ` WHERE project_id = ?`
		args = append(args, filter.ProjectID)
	}
	query += ` ORDER BY updated_at_ms DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.ProjectID, &sum.BranchName, &sum.State, &sum.TurnCount, &sum.ContentHash, &sum.UpdatedAtMS); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// DeleteSession removes a session and its dependent rows. Missing ids are
// not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM turns WHERE session_id = ?`,
		`DELETE FROM checkpoints WHERE session_id = ?`,
		`DELETE FROM crystals WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return tx.Commit()
}

// SweepSessions deletes sessions not updated since cutoffMS, along with
// their turns, checkpoints, and crystals. Returns the number of sessions
// removed.
func (s *SQLiteStore) SweepSessions(ctx context.Context, cutoffMS int64) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE updated_at_ms < ?`, cutoffMS)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sweep sessions scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sweep sessions iterate: %w", err)
	}

	for _, id := range ids {
		if err := s.DeleteSession(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// SaveCrystal upserts the crystal for a session.
func (s *SQLiteStore) SaveCrystal(ctx context.Context, c Crystal) error {
	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("save crystal: missing session id")
	}
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crystals(session_id, title, summary, key_decisions_json, artifacts_json, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	title = excluded.title,
	summary = excluded.summary,
	key_decisions_json = excluded.key_decisions_json,
	artifacts_json = excluded.artifacts_json,
	updated_at_ms = excluded.updated_at_ms`,
		c.SessionID, c.Title, c.Summary, encodeStrings(c.KeyDecisions), encodeStrings(c.Artifacts), now, now)
	if err != nil {
		return fmt.Errorf("save crystal: %w", err)
	}
	return nil
}

// LoadCrystal returns the crystal stored for a session, or ErrNotFound.
func (s *SQLiteStore) LoadCrystal(ctx context.Context, sessionID string) (Crystal, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, title, summary, key_decisions_json, artifacts_json, created_at_ms, updated_at_ms
FROM crystals WHERE session_id = ?`, sessionID)

	var c Crystal
	var decisions, artifacts string
	if err := row.Scan(&c.SessionID, &c.Title, &c.Summary, &decisions, &artifacts, &c.CreatedAtMS, &c.UpdatedAtMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Crystal{}, fmt.Errorf("load crystal %s: %w", sessionID, ErrNotFound)
		}
		return Crystal{}, fmt.Errorf("load crystal: %w", err)
	}
	c.KeyDecisions = decodeStrings(decisions)
	c.Artifacts = decodeStrings(artifacts)
	return c, nil
}

func trimSQL(stmt string) string {
	line := strings.TrimSpace(stmt)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
