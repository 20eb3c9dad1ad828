package profile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"standin/internal/domain"
)

// Store implements domain.ProfileStore on SQLite. Conversation turns are
// pruned at write time so the stored window never exceeds the cap.
type Store struct {
	db     *sql.DB
	window int
	logger *slog.Logger
}

func NewStore(dbPath string, window int, logger *slog.Logger) (*Store, error) {
	if window <= 0 {
		window = 20
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, window: window, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile store migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contact_profiles (
		sender_id           TEXT PRIMARY KEY,
		display_name        TEXT,
		role                TEXT NOT NULL DEFAULT 'general',
		custom_instructions TEXT,
		auto_conversation   INTEGER NOT NULL DEFAULT 1,
		created_at          DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id  TEXT NOT NULL REFERENCES contact_profiles(sender_id) ON DELETE CASCADE,
		role       TEXT NOT NULL,
		content    TEXT,
		at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_sender ON conversation_turns(sender_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Window returns the configured conversation window size.
func (s *Store) Window() int { return s.window }

// Get returns the profile for senderID with its conversation window
// (oldest turn first), or (nil, nil) for an unseen sender.
func (s *Store) Get(ctx context.Context, senderID string) (*domain.ContactProfile, error) {
	var p domain.ContactProfile
	var auto int
	err := s.db.QueryRowContext(ctx,
		`SELECT sender_id, display_name, role, custom_instructions, auto_conversation, created_at, updated_at
		 FROM contact_profiles WHERE sender_id = ?`, senderID,
	).Scan(&p.SenderID, &p.DisplayName, &p.Role, &p.CustomInstructions, &auto, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.AutoConversation = auto != 0

	history, err := s.history(ctx, senderID)
	if err != nil {
		return nil, err
	}
	p.History = history
	return &p, nil
}

func (s *Store) history(ctx context.Context, senderID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, at FROM conversation_turns
		 WHERE sender_id = ? ORDER BY id DESC LIMIT ?`, senderID, s.window)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.At); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; callers want oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Upsert creates or updates a profile row. History is untouched.
func (s *Store) Upsert(ctx context.Context, p domain.ContactProfile) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	role := p.Role
	if role == "" {
		role = domain.RoleGeneral
	}
	auto := 0
	if p.AutoConversation {
		auto = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_profiles (sender_id, display_name, role, custom_instructions, auto_conversation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   role = excluded.role,
		   custom_instructions = excluded.custom_instructions,
		   auto_conversation = excluded.auto_conversation,
		   updated_at = excluded.updated_at`,
		p.SenderID, p.DisplayName, role, p.CustomInstructions, auto, p.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// AppendTurn appends one turn and evicts the oldest rows beyond the window.
func (s *Store) AppendTurn(ctx context.Context, senderID string, turn domain.Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_turns (sender_id, role, content, at) VALUES (?, ?, ?, ?)`,
		senderID, turn.Role, turn.Content, turn.At,
	); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	// FIFO eviction: keep only the newest <window> rows.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_turns
		 WHERE sender_id = ? AND id NOT IN (
		   SELECT id FROM conversation_turns WHERE sender_id = ? ORDER BY id DESC LIMIT ?
		 )`,
		senderID, senderID, s.window,
	); err != nil {
		return fmt.Errorf("evict turns: %w", err)
	}

	return tx.Commit()
}

// Count returns the number of known contacts (used by the status command).
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contact_profiles`).Scan(&n)
	return n, err
}
