package profile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"standin/internal/domain"
)

func testStore(t *testing.T, window int) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"), window, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGet_UnseenSender(t *testing.T) {
	s := testStore(t, 20)
	p, err := s.Get(context.Background(), "stranger")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatal("expected nil profile for unseen sender")
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := testStore(t, 20)
	ctx := context.Background()

	err := s.Upsert(ctx, domain.ContactProfile{
		SenderID:         "wa-123",
		DisplayName:      "Dana",
		Role:             domain.RoleClient,
		AutoConversation: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err := s.Get(ctx, "wa-123")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("expected profile")
	}
	if p.DisplayName != "Dana" || p.Role != domain.RoleClient || !p.AutoConversation {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestUpsert_UpdatesExisting(t *testing.T) {
	s := testStore(t, 20)
	ctx := context.Background()

	s.Upsert(ctx, domain.ContactProfile{SenderID: "u1", DisplayName: "Old", AutoConversation: true})
	s.Upsert(ctx, domain.ContactProfile{SenderID: "u1", DisplayName: "New", Role: domain.RoleFriend, AutoConversation: false})

	p, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "New" || p.Role != domain.RoleFriend || p.AutoConversation {
		t.Errorf("update not applied: %+v", p)
	}
}

func TestUpsert_EmptyRoleDefaultsGeneral(t *testing.T) {
	s := testStore(t, 20)
	ctx := context.Background()

	s.Upsert(ctx, domain.ContactProfile{SenderID: "u2", AutoConversation: true})
	p, _ := s.Get(ctx, "u2")
	if p.Role != domain.RoleGeneral {
		t.Errorf("expected general role, got %s", p.Role)
	}
}

// Window cap: after k > N appends the stored history holds exactly N turns
// and the oldest were evicted first.
func TestAppendTurn_WindowCapFIFO(t *testing.T) {
	s := testStore(t, 20)
	ctx := context.Background()
	s.Upsert(ctx, domain.ContactProfile{SenderID: "chatty", AutoConversation: true})

	for i := 0; i < 25; i++ {
		if err := s.AppendTurn(ctx, "chatty", domain.Turn{Role: "user", Content: fmt.Sprintf("turn-%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	p, err := s.Get(ctx, "chatty")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.History) != 20 {
		t.Fatalf("expected history capped at 20, got %d", len(p.History))
	}
	if p.History[0].Content != "turn-5" {
		t.Errorf("expected oldest surviving turn-5, got %s", p.History[0].Content)
	}
	if p.History[19].Content != "turn-24" {
		t.Errorf("expected newest turn-24, got %s", p.History[19].Content)
	}
}

func TestHistory_OldestFirst(t *testing.T) {
	s := testStore(t, 10)
	ctx := context.Background()
	s.Upsert(ctx, domain.ContactProfile{SenderID: "u3", AutoConversation: true})

	s.AppendTurn(ctx, "u3", domain.Turn{Role: "user", Content: "first"})
	s.AppendTurn(ctx, "u3", domain.Turn{Role: "assistant", Content: "second"})

	p, _ := s.Get(ctx, "u3")
	if len(p.History) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(p.History))
	}
	if p.History[0].Content != "first" || p.History[1].Content != "second" {
		t.Errorf("history out of order: %+v", p.History)
	}
}

func TestCount(t *testing.T) {
	s := testStore(t, 10)
	ctx := context.Background()
	s.Upsert(ctx, domain.ContactProfile{SenderID: "a", AutoConversation: true})
	s.Upsert(ctx, domain.ContactProfile{SenderID: "b", AutoConversation: true})

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 contacts, got %d", n)
	}
}
