// Package repository persists chat sessions and their messages for the reference backend.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/chatcore/internal/domain"
)

// ErrNotFound is returned when a session does not exist or belongs to another owner.
var ErrNotFound = errors.New("not found")

// SQLiteStore stores sessions and messages in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and applies the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			chat_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			last_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_owner ON chat_sessions(owner, chat_type, status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts session for owner.
func (s *SQLiteStore) CreateSession(ctx context.Context, owner string, session *domain.ChatSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, owner, chat_type, title, status, last_message, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, owner, session.ChatType, session.Title, session.Status, session.LastMessageSummary, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession returns owner's session id, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, owner, id string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, chat_type, title, status, last_message, created_at, updated_at FROM chat_sessions WHERE session_id = ? AND owner = ?`,
		id, owner)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns owner's sessions of chatType with status, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, owner string, chatType domain.ChatType, status domain.SessionStatus) ([]domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, chat_type, title, status, last_message, created_at, updated_at
		 FROM chat_sessions
		 WHERE owner = ? AND chat_type = ? AND status = ?
		 ORDER BY updated_at DESC, created_at DESC`,
		owner, chatType, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []domain.ChatSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// SetSessionStatus moves owner's session id to status and returns the updated row.
func (s *SQLiteStore) SetSessionStatus(ctx context.Context, owner, id string, status domain.SessionStatus) (*domain.ChatSession, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET status = ?, updated_at = ? WHERE session_id = ? AND owner = ?`,
		status, time.Now().UTC(), id, owner)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, owner, id)
}

// AddMessage appends msg to its session and refreshes the session's summary and title.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *domain.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (message_id, session_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Sender, msg.Content, msg.CreatedAt); err != nil {
		return err
	}
	summary := summarize(msg.Content, 80)
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions
		 SET last_message = ?, updated_at = ?, title = CASE WHEN title = '' AND ? = 'USER' THEN ? ELSE title END
		 WHERE session_id = ?`,
		summary, msg.CreatedAt, msg.Sender, summarize(msg.Content, 40), msg.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Messages returns the log of owner's session id in creation order.
func (s *SQLiteStore) Messages(ctx context.Context, owner, id string) ([]domain.ChatMessage, error) {
	if _, err := s.GetSession(ctx, owner, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, sender, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	if err := row.Scan(&session.ID, &session.ChatType, &session.Title, &session.Status, &session.LastMessageSummary, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

func summarize(content string, limit int) string {
	content = strings.Join(strings.Fields(content), " ")
	r := []rune(content)
	if len(r) <= limit {
		return content
	}
	return string(r[:limit]) + "…"
}
