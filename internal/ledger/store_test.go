package ledger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"standin/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pending(id string) domain.PendingApproval {
	return domain.PendingApproval{
		ID: id,
		Message: domain.InboundMessage{
			Platform:   domain.PlatformEmail,
			SenderID:   "recruiter@corp.example",
			SenderName: "Riley",
			Body:       "Are you open to new roles?",
			ReceivedAt: time.Now(),
		},
		SuggestedReply: "Thanks for reaching out!",
	}
}

func TestRecordAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		err := s.Record(ctx, domain.LedgerEntry{
			ID: id, Platform: domain.PlatformWhatsApp, SenderID: "u1",
			Original: "hi", Reply: "hello", Status: domain.StatusSent,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.ListEntries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].ID != "e2" {
		t.Errorf("expected e2 first, got %s", entries[0].ID)
	}
}

func TestUpdateStatus_OnlyFromPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Record(ctx, domain.LedgerEntry{ID: "p1", Platform: domain.PlatformEmail, SenderID: "u", Status: domain.StatusPendingApproval})
	if err := s.UpdateStatus(ctx, "p1", domain.StatusSent); err != nil {
		t.Fatal(err)
	}

	// Already terminal: a second transition must be refused.
	if err := s.UpdateStatus(ctx, "p1", domain.StatusRejected); err == nil {
		t.Fatal("expected error transitioning a non-pending entry")
	}

	s.Record(ctx, domain.LedgerEntry{ID: "t1", Platform: domain.PlatformEmail, SenderID: "u", Status: domain.StatusSent})
	if err := s.UpdateStatus(ctx, "t1", domain.StatusRejected); err == nil {
		t.Fatal("expected error transitioning a sent entry")
	}
}

func TestHoldAndListPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pa := pending("ap-1")
	pa.Profile = &domain.ContactProfile{SenderID: pa.Message.SenderID, Role: domain.RoleHR}
	if err := s.HoldForApproval(ctx, pa); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListPending(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(got))
	}
	if got[0].SuggestedReply != pa.SuggestedReply {
		t.Errorf("suggested reply lost: %q", got[0].SuggestedReply)
	}
	if got[0].Profile == nil || got[0].Profile.Role != domain.RoleHR {
		t.Errorf("profile snapshot lost: %+v", got[0].Profile)
	}
}

func TestListPending_PlatformFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	email := pending("ap-email")
	s.HoldForApproval(ctx, email)

	ig := pending("ap-ig")
	ig.Message.Platform = domain.PlatformInstagram
	s.HoldForApproval(ctx, ig)

	got, err := s.ListPending(ctx, domain.PlatformInstagram)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "ap-ig" {
		t.Errorf("platform filter failed: %+v", got)
	}

	all, _ := s.ListPending(ctx, "")
	if len(all) != 2 {
		t.Errorf("expected 2 pending across platforms, got %d", len(all))
	}
}

func TestResolve_FirstCallWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.HoldForApproval(ctx, pending("ap-2"))

	pa, applied, err := s.Resolve(ctx, "ap-2", domain.DecisionApproved)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("first resolve should apply the transition")
	}
	if pa.SuggestedReply == "" {
		t.Error("resolved approval lost its suggested reply")
	}

	left, _ := s.ListPending(ctx, "")
	if len(left) != 0 {
		t.Errorf("resolved approval still listed as pending: %+v", left)
	}
}

func TestResolve_IdempotentRepeat(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.HoldForApproval(ctx, pending("ap-3"))

	s.Resolve(ctx, "ap-3", domain.DecisionApproved)

	pa, applied, err := s.Resolve(ctx, "ap-3", domain.DecisionApproved)
	if err != nil {
		t.Fatalf("repeat of the same decision must be a no-op, got %v", err)
	}
	if applied {
		t.Error("repeat resolve must not report a fresh transition")
	}
	if pa == nil || pa.ID != "ap-3" {
		t.Errorf("repeat resolve should still return the approval, got %+v", pa)
	}
}

func TestResolve_ConflictingDecision(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.HoldForApproval(ctx, pending("ap-4"))

	s.Resolve(ctx, "ap-4", domain.DecisionRejected)

	_, _, err := s.Resolve(ctx, "ap-4", domain.DecisionApproved)
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResolve_UnknownID(t *testing.T) {
	s := testStore(t)
	_, _, err := s.Resolve(context.Background(), "nope", domain.DecisionApproved)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Pending approvals must survive a close/reopen cycle.
func TestPending_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	path := filepath.Join(dir, "ledger.db")

	s, err := NewStore(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	s.HoldForApproval(context.Background(), pending("ap-5"))
	s.Close()

	s2, err := NewStore(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.ListPending(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "ap-5" {
		t.Fatalf("pending approval lost across reopen: %+v", got)
	}
}
