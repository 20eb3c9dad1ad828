package domain

// ResponseStyle shapes the tone constraints put into the system prompt.
type ResponseStyle string

const (
	StyleCasual       ResponseStyle = "casual"
	StyleProfessional ResponseStyle = "professional"
	StyleBrief        ResponseStyle = "brief"
)

// PlatformPolicy is the per-platform decision table: whether replies are
// generated at all, whether they auto-send or wait for approval, and how
// long and in what register they may be. Read-only from the pipeline's
// perspective; mutated only through configuration.
type PlatformPolicy struct {
	Platform          Platform
	Enabled           bool
	ApprovalRequired  bool
	Style             ResponseStyle
	MaxResponseLength int // characters, enforced by the generator
	WhitelistOnly     bool
	Whitelist         []string // sender IDs
	Blacklist         []string // sender IDs, wins over everything
	Fallback          string   // static reply when generation fails
}

// Blacklisted reports whether senderID is on the platform blacklist.
func (p PlatformPolicy) Blacklisted(senderID string) bool {
	return containsID(p.Blacklist, senderID)
}

// Whitelisted reports whether senderID is on the platform whitelist.
func (p PlatformPolicy) Whitelisted(senderID string) bool {
	return containsID(p.Whitelist, senderID)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
