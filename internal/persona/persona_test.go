package persona

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"standin/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "Alex", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if p.Owner != "Alex" {
		t.Errorf("expected owner Alex, got %s", p.Owner)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	content := `owner: Sam Reyes
background: Backend engineer, ten years in infra.
roles:
  hr: "Custom HR framing."
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path, "fallback", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if p.Owner != "Sam Reyes" {
		t.Errorf("expected Sam Reyes, got %s", p.Owner)
	}
	if got := p.Fragment(domain.RoleHR); got != "Custom HR framing." {
		t.Errorf("override not applied: %q", got)
	}
}

func TestFragment_HRIncludesCappedBackground(t *testing.T) {
	p := &Persona{Owner: "A", Background: strings.Repeat("x", 800)}
	frag := p.Fragment(domain.RoleHR)
	if !strings.Contains(frag, "Background:") {
		t.Fatal("expected background injection for hr")
	}
	// The injected blob is capped at 500 chars.
	idx := strings.Index(frag, "Background: ")
	blob := frag[idx+len("Background: "):]
	if len(blob) != 500 {
		t.Errorf("expected 500-char background, got %d", len(blob))
	}
}

func TestFragment_ToneBuckets(t *testing.T) {
	p := &Persona{Owner: "A"}

	for _, role := range []domain.RelationshipRole{domain.RoleFriend, domain.RoleFamily, domain.RoleGirlfriend} {
		if frag := p.Fragment(role); !strings.Contains(strings.ToLower(frag), "warm") {
			t.Errorf("role %s should get a warm-tone fragment, got %q", role, frag)
		}
	}
	for _, role := range []domain.RelationshipRole{domain.RoleClient, domain.RoleVendor, domain.RoleManager, domain.RoleColleague} {
		if frag := p.Fragment(role); !strings.Contains(strings.ToLower(frag), "professional") {
			t.Errorf("role %s should get a professional-tone fragment, got %q", role, frag)
		}
	}
}

func TestFragment_GeneralIsEmpty(t *testing.T) {
	p := &Persona{Owner: "A"}
	if frag := p.Fragment(domain.RoleGeneral); frag != "" {
		t.Errorf("general role should have no framing, got %q", frag)
	}
}

func TestFragment_DistinctPerRole(t *testing.T) {
	p := &Persona{Owner: "A", Background: "builds things"}
	seen := map[string]domain.RelationshipRole{}
	for _, role := range []domain.RelationshipRole{
		domain.RoleHR, domain.RoleClient, domain.RoleManager, domain.RoleColleague,
		domain.RoleFriend, domain.RoleFamily, domain.RoleVendor, domain.RoleGirlfriend,
	} {
		frag := p.Fragment(role)
		if prev, dup := seen[frag]; dup {
			t.Errorf("roles %s and %s share identical framing", prev, role)
		}
		seen[frag] = role
	}
}
