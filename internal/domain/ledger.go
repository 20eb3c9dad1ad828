package domain

import (
	"errors"
	"time"
)

// ReplyStatus is the terminal (or awaiting-terminal) state of a processed message.
type ReplyStatus string

const (
	StatusSent            ReplyStatus = "sent"
	StatusPendingApproval ReplyStatus = "pending_approval"
	StatusRejected        ReplyStatus = "rejected"
	StatusFailed          ReplyStatus = "failed"
)

// Decision resolves a pending approval.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

var (
	// ErrNotFound is returned when a pending approval ID is unknown.
	ErrNotFound = errors.New("pending approval not found")
	// ErrAlreadyResolved is returned when a pending approval was already
	// resolved with a different decision.
	ErrAlreadyResolved = errors.New("pending approval already resolved")
)

// LedgerEntry is the append-only record of one processed message.
// Only allowed mutation is status pending_approval → sent|rejected.
type LedgerEntry struct {
	ID           string
	Platform     Platform
	SenderID     string
	Original     string
	Reply        string
	Status       ReplyStatus
	FallbackUsed bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PendingApproval is a reply held for a human decision. Terminal once
// resolved; the snapshot fields let a reviewer judge without extra lookups.
type PendingApproval struct {
	ID             string
	Message        InboundMessage
	Profile        *ContactProfile // snapshot at hold time, may be nil
	SuggestedReply string
	CreatedAt      time.Time
}
