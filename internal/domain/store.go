package domain

import "context"

// ProfileStore persists contact profiles and their bounded conversation windows.
type ProfileStore interface {
	// Get returns the profile for senderID, or (nil, nil) when unseen.
	Get(ctx context.Context, senderID string) (*ContactProfile, error)
	// Upsert creates or updates a profile. History is not written here;
	// use AppendTurn so the window cap is enforced.
	Upsert(ctx context.Context, profile ContactProfile) error
	// AppendTurn appends one turn to the sender's window, evicting the
	// oldest entries beyond the configured cap (FIFO).
	AppendTurn(ctx context.Context, senderID string, turn Turn) error
}

// LedgerStore is the append-only record of processed messages and the
// pending-approval queue.
type LedgerStore interface {
	Record(ctx context.Context, entry LedgerEntry) error
	// UpdateStatus performs the single allowed ledger mutation:
	// pending_approval → sent|rejected|failed.
	UpdateStatus(ctx context.Context, id string, status ReplyStatus) error
	ListEntries(ctx context.Context, limit int) ([]LedgerEntry, error)

	HoldForApproval(ctx context.Context, pa PendingApproval) error
	// ListPending returns unresolved approvals, optionally filtered by platform
	// (empty platform means all).
	ListPending(ctx context.Context, platform Platform) ([]PendingApproval, error)
	// Resolve atomically marks the approval resolved and returns it.
	// Idempotent on a repeated identical decision; returns ErrNotFound or
	// ErrAlreadyResolved otherwise. The bool is false when the call was a
	// no-op repeat of an earlier identical decision.
	Resolve(ctx context.Context, id string, decision Decision) (*PendingApproval, bool, error)
}
