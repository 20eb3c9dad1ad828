// Package ledger persists the append-only record of processed messages and
// the pending-approval queue. Both live in SQLite so pending items survive a
// process restart and can still be approved afterwards.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"standin/internal/domain"
)

const approvalStatusPending = "pending"

// Store implements domain.LedgerStore on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}

	if n, err := s.pendingCount(context.Background()); err == nil && n > 0 {
		logger.Info("recovered pending approvals from previous run", "count", n)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reply_ledger (
		id            TEXT PRIMARY KEY,
		platform      TEXT NOT NULL,
		sender_id     TEXT NOT NULL,
		original      TEXT,
		reply         TEXT,
		status        TEXT NOT NULL,
		fallback_used INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_time ON reply_ledger(created_at);

	CREATE TABLE IF NOT EXISTS pending_approvals (
		id              TEXT PRIMARY KEY,
		platform        TEXT NOT NULL,
		sender_id       TEXT NOT NULL,
		sender_name     TEXT,
		message_id      TEXT,
		body            TEXT,
		received_at     DATETIME,
		profile_json    TEXT,
		suggested_reply TEXT,
		status          TEXT NOT NULL DEFAULT 'pending',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_status ON pending_approvals(status, platform);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error { return s.db.Close() }

// Record appends one ledger entry. Entries are never rewritten; the only
// later mutation goes through UpdateStatus.
func (s *Store) Record(ctx context.Context, e domain.LedgerEntry) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	fallback := 0
	if e.FallbackUsed {
		fallback = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reply_ledger (id, platform, sender_id, original, reply, status, fallback_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Platform, e.SenderID, e.Original, e.Reply, e.Status, fallback, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

// UpdateStatus transitions a pending_approval entry to a terminal status.
// Any other transition is refused.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.ReplyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reply_ledger SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, time.Now(), id, domain.StatusPendingApproval,
	)
	if err != nil {
		return fmt.Errorf("update ledger status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ledger entry %s is not pending", id)
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, sender_id, original, reply, status, fallback_used, created_at, updated_at
		 FROM reply_ledger ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var fallback int
		if err := rows.Scan(&e.ID, &e.Platform, &e.SenderID, &e.Original, &e.Reply, &e.Status, &fallback, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.FallbackUsed = fallback != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HoldForApproval persists a pending approval before anything is sent, so a
// crash cannot lose a held reply.
func (s *Store) HoldForApproval(ctx context.Context, pa domain.PendingApproval) error {
	if pa.CreatedAt.IsZero() {
		pa.CreatedAt = time.Now()
	}
	var profileJSON []byte
	if pa.Profile != nil {
		var err error
		profileJSON, err = json.Marshal(pa.Profile)
		if err != nil {
			return fmt.Errorf("marshal profile snapshot: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_approvals (id, platform, sender_id, sender_name, message_id, body, received_at, profile_json, suggested_reply, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pa.ID, pa.Message.Platform, pa.Message.SenderID, pa.Message.SenderName, pa.Message.MessageID,
		pa.Message.Body, pa.Message.ReceivedAt, string(profileJSON), pa.SuggestedReply,
		approvalStatusPending, pa.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("hold for approval: %w", err)
	}
	return nil
}

// ListPending returns unresolved approvals, oldest first. Empty platform
// means all platforms.
func (s *Store) ListPending(ctx context.Context, platform domain.Platform) ([]domain.PendingApproval, error) {
	query := `SELECT id, platform, sender_id, sender_name, message_id, body, received_at, profile_json, suggested_reply, created_at
	          FROM pending_approvals WHERE status = ?`
	args := []any{approvalStatusPending}
	if platform != "" {
		query += ` AND platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var pending []domain.PendingApproval
	for rows.Next() {
		pa, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, pa)
	}
	return pending, rows.Err()
}

// Resolve atomically flips a pending approval to the given decision.
// The returned bool is true when this call performed the transition, false
// when it was an idempotent repeat of the same decision.
func (s *Store) Resolve(ctx context.Context, id string, decision domain.Decision) (*domain.PendingApproval, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_approvals SET status = ? WHERE id = ? AND status = ?`,
		string(decision), id, approvalStatusPending,
	)
	if err != nil {
		return nil, false, fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	pa, status, err := s.getApproval(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if pa == nil {
		return nil, false, domain.ErrNotFound
	}

	if n == 1 {
		return pa, true, nil
	}
	// The row existed but was not pending: either a repeat of the same
	// decision (no-op) or a conflicting one.
	if status == string(decision) {
		return pa, false, nil
	}
	return nil, false, domain.ErrAlreadyResolved
}

func (s *Store) getApproval(ctx context.Context, id string) (*domain.PendingApproval, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, platform, sender_id, sender_name, message_id, body, received_at, profile_json, suggested_reply, created_at, status
		 FROM pending_approvals WHERE id = ?`, id)

	var pa domain.PendingApproval
	var profileJSON string
	var status string
	err := row.Scan(&pa.ID, &pa.Message.Platform, &pa.Message.SenderID, &pa.Message.SenderName,
		&pa.Message.MessageID, &pa.Message.Body, &pa.Message.ReceivedAt, &profileJSON,
		&pa.SuggestedReply, &pa.CreatedAt, &status)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get approval: %w", err)
	}
	unmarshalProfile(profileJSON, &pa)
	return &pa, status, nil
}

func (s *Store) pendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_approvals WHERE status = ?`, approvalStatusPending).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (domain.PendingApproval, error) {
	var pa domain.PendingApproval
	var profileJSON string
	err := row.Scan(&pa.ID, &pa.Message.Platform, &pa.Message.SenderID, &pa.Message.SenderName,
		&pa.Message.MessageID, &pa.Message.Body, &pa.Message.ReceivedAt, &profileJSON,
		&pa.SuggestedReply, &pa.CreatedAt)
	if err != nil {
		return pa, err
	}
	unmarshalProfile(profileJSON, &pa)
	return pa, nil
}

func unmarshalProfile(profileJSON string, pa *domain.PendingApproval) {
	if profileJSON == "" {
		return
	}
	var p domain.ContactProfile
	if err := json.Unmarshal([]byte(profileJSON), &p); err == nil {
		pa.Profile = &p
	}
}
