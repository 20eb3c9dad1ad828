// Package persona holds the owner's self-description and the per-relationship
// prompt fragments the context builder injects. Both are loadable from a YAML
// file so the owner can edit tone without rebuilding.
package persona

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"standin/internal/domain"
)

const backgroundCap = 500 // chars of background injected for recruiter-type contacts

// Persona describes the person being stood in for.
type Persona struct {
	Owner      string            `yaml:"owner"`
	Background string            `yaml:"background"`
	Roles      map[string]string `yaml:"roles,omitempty"` // per-role fragment overrides
}

// Load reads a persona YAML file. A missing file is not an error: the
// returned persona falls back to owner name only.
func Load(path, ownerName string, logger *slog.Logger) (*Persona, error) {
	p := &Persona{Owner: ownerName}

	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("persona file does not exist, using defaults", "path", path)
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if p.Owner == "" {
		p.Owner = ownerName
	}

	logger.Info("loaded persona", "owner", p.Owner, "role_overrides", len(p.Roles))
	return p, nil
}

// fragmentFn builds the role-specific framing for a persona.
type fragmentFn func(p *Persona) string

// fragments is the role → framing dispatch table. New roles get an entry
// here instead of growing a conditional in the context builder.
var fragments = map[domain.RelationshipRole]fragmentFn{
	domain.RoleHR: func(p *Persona) string {
		s := "The sender is a recruiter or HR contact. Answer factually about availability, experience and expectations."
		if bg := strings.TrimSpace(p.Background); bg != "" {
			if len(bg) > backgroundCap {
				bg = bg[:backgroundCap]
			}
			s += " Background: " + bg
		}
		return s
	},
	domain.RoleClient:    professional("a client"),
	domain.RoleVendor:    professional("a vendor"),
	domain.RoleManager:   professional("your manager"),
	domain.RoleColleague: professional("a colleague"),
	domain.RoleGirlfriend: func(*Persona) string {
		return "The sender is your partner. Reply warmly and personally, never stiff or formal."
	},
	domain.RoleFriend: warm("a close friend"),
	domain.RoleFamily: warm("family"),
	domain.RoleGeneral: func(*Persona) string {
		return ""
	},
}

func professional(who string) fragmentFn {
	return func(*Persona) string {
		return fmt.Sprintf("The sender is %s. Keep a professional, courteous tone and stay on topic.", who)
	}
}

func warm(who string) fragmentFn {
	return func(*Persona) string {
		return fmt.Sprintf("The sender is %s. Use a warm, familiar tone.", who)
	}
}

// Fragment returns the framing text for a relationship role. A role override
// in the YAML file wins over the built-in table; unknown roles get nothing.
func (p *Persona) Fragment(role domain.RelationshipRole) string {
	if p.Roles != nil {
		if override, ok := p.Roles[string(role)]; ok {
			return strings.TrimSpace(override)
		}
	}
	if fn, ok := fragments[role]; ok {
		return fn(p)
	}
	return ""
}
