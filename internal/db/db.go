// Package db persists sessions and their messages in sqlite. The
// engine only needs append-message and list-messages-by-session; the
// rest serves the front-end's session picker.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"octo/internal/message"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open creates or opens the database at <home>/octo.db.
func Open(home string) (*Store, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(home, "octo.db"))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			model_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS files (
			session_id TEXT NOT NULL,
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(session_id, path),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Session is the conversation container row.
type Session struct {
	ID               string
	Title            string
	PromptTokens     int64
	CompletionTokens int64
	Cost             float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (s *Store) CreateSession(id, title string) (Session, error) {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		"INSERT INTO sessions(id, title, created_at, updated_at) VALUES(?, ?, ?, ?)",
		id, title, now, now,
	)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: id, Title: title, CreatedAt: time.Unix(now, 0), UpdatedAt: time.Unix(now, 0)}, nil
}

func (s *Store) GetSession(id string) (Session, error) {
	var sess Session
	var created, updated int64
	err := s.db.QueryRow(
		"SELECT id, title, prompt_tokens, completion_tokens, cost, created_at, updated_at FROM sessions WHERE id = ?",
		id,
	).Scan(&sess.ID, &sess.Title, &sess.PromptTokens, &sess.CompletionTokens, &sess.Cost, &created, &updated)
	if err != nil {
		return Session{}, err
	}
	sess.CreatedAt = time.Unix(created, 0)
	sess.UpdatedAt = time.Unix(updated, 0)
	return sess, nil
}

func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(
		"SELECT id, title, prompt_tokens, completion_tokens, cost, created_at, updated_at FROM sessions ORDER BY updated_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.PromptTokens, &sess.CompletionTokens, &sess.Cost, &created, &updated); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(created, 0)
		sess.UpdatedAt = time.Unix(updated, 0)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

// AddUsage accumulates a turn's tokens and cost onto the session.
func (s *Store) AddUsage(id string, usage message.TokenUsage, cost float64) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET prompt_tokens = prompt_tokens + ?,
			completion_tokens = completion_tokens + ?,
			cost = cost + ?, updated_at = ? WHERE id = ?`,
		usage.PromptTokens, usage.CompletionTokens, cost, time.Now().Unix(), id,
	)
	return err
}

// AppendMessage serializes the message's parts to their tagged JSON
// form and appends the row.
func (s *Store) AppendMessage(m message.Message) error {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return fmt.Errorf("encode parts: %w", err)
	}
	now := time.Now().Unix()
	if _, err := s.db.Exec(
		"INSERT INTO messages(id, session_id, role, parts, model_id, created_at) VALUES(?, ?, ?, ?, ?, ?)",
		m.ID, m.SessionID, string(m.Role), string(parts), m.ModelID, m.CreatedAt.Unix(),
	); err != nil {
		return err
	}
	_, err = s.db.Exec("UPDATE sessions SET updated_at = ? WHERE id = ?", now, m.SessionID)
	return err
}

// Messages returns a session's history in append order. The seq
// column is the order of insertion; created_at only has second
// resolution and ids are random.
func (s *Store) Messages(sessionID string) ([]message.Message, error) {
	rows, err := s.db.Query(
		"SELECT id, role, parts, model_id, created_at FROM messages WHERE session_id = ? ORDER BY seq ASC",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.Message
	for rows.Next() {
		var m message.Message
		var role, parts string
		var created int64
		if err := rows.Scan(&m.ID, &role, &parts, &m.ModelID, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
			return nil, fmt.Errorf("decode parts of %s: %w", m.ID, err)
		}
		m.SessionID = sessionID
		m.Role = message.Role(role)
		m.CreatedAt = time.Unix(created, 0)
		m.UpdatedAt = m.CreatedAt
		out = append(out, m)
	}
	return out, rows.Err()
}
