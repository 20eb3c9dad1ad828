package domain

import "time"

// Platform identifies a messaging platform a contact can reach us on.
type Platform string

const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformEmail     Platform = "email"
	PlatformInstagram Platform = "instagram"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTelegram  Platform = "telegram"
	PlatformSlack     Platform = "slack"
	PlatformDiscord   Platform = "discord"
	PlatformSMS       Platform = "sms"
)

// Platforms lists every platform the pipeline knows about.
var Platforms = []Platform{
	PlatformWhatsApp,
	PlatformEmail,
	PlatformInstagram,
	PlatformLinkedIn,
	PlatformTelegram,
	PlatformSlack,
	PlatformDiscord,
	PlatformSMS,
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// InboundMessage is a normalized incoming message from any platform.
// Immutable once created; produced by a platform adapter, consumed
// exactly once by the dispatch queue.
type InboundMessage struct {
	Platform   Platform
	SenderID   string
	SenderName string
	Body       string
	MessageID  string // opaque, platform-scoped
	ReceivedAt time.Time
}

// OutboundReply carries a finished reply back to a platform adapter.
type OutboundReply struct {
	Platform    Platform
	RecipientID string
	Body        string
}
