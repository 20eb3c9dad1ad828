package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"standin/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name    string
	healthy bool
	err     error
	text    string
	calls   int
}

func (m *mockProvider) Name() string              { return m.name }
func (m *mockProvider) Mode() domain.ProviderMode { return domain.ModeAPI }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailover_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, text: "from-primary"}
	p2 := &mockProvider{name: "secondary", healthy: true, text: "from-secondary"}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	text, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", text)
	}
	if p2.calls != 0 {
		t.Fatal("secondary should not be called when primary succeeds")
	}
}

func TestFailover_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, err: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", healthy: true, text: "from-secondary"}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	text, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", text)
	}
}

func TestFailover_AllProvidersFail(t *testing.T) {
	p1 := &mockProvider{name: "p1", healthy: true, err: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", healthy: true, err: errors.New("fail 2")}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if _, err := fp.Complete(context.Background(), domain.CompletionRequest{}); err == nil {
		t.Fatal("expected error when all providers fail")
	}
}

func TestFailover_SingleProvider(t *testing.T) {
	p1 := &mockProvider{name: "only", healthy: true, text: "only-one"}
	fp := NewFailover([]domain.Provider{p1}, testLogger())

	text, err := fp.Complete(context.Background(), domain.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "only-one" {
		t.Fatalf("expected 'only-one', got %q", text)
	}
}

func TestFailover_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailover_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailover_Name(t *testing.T) {
	p1 := &mockProvider{name: "ollama"}
	p2 := &mockProvider{name: "openai"}
	fp := NewFailover([]domain.Provider{p1, p2}, testLogger())

	if name := fp.Name(); name != "failover(ollama>openai)" {
		t.Fatalf("unexpected name %q", name)
	}
}
