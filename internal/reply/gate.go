package reply

import "standin/internal/domain"

// Suppression explains why an inbound message was dropped before generation.
type Suppression string

const (
	SuppressedBlacklist      Suppression = "blacklisted"
	SuppressedDisabled       Suppression = "platform disabled"
	SuppressedNotWhitelisted Suppression = "not whitelisted"
)

// Precheck runs the pre-generation half of the approval gate. A non-empty
// suppression means the message is dropped: no generation, no dispatch.
// Blacklist is checked first and wins over every other setting, including
// whitelist membership.
func Precheck(policy domain.PlatformPolicy, senderID string) (Suppression, bool) {
	if policy.Blacklisted(senderID) {
		return SuppressedBlacklist, true
	}
	if !policy.Enabled {
		return SuppressedDisabled, true
	}
	if policy.WhitelistOnly && !policy.Whitelisted(senderID) {
		return SuppressedNotWhitelisted, true
	}
	return "", false
}

// RequiresApproval runs the post-generation half: whether the generated
// reply auto-sends or is held for a human decision. The platform policy and
// the contact's own auto-conversation flag can each force a hold.
func RequiresApproval(policy domain.PlatformPolicy, profile *domain.ContactProfile) bool {
	if policy.ApprovalRequired {
		return true
	}
	if profile != nil && !profile.AutoConversation {
		return true
	}
	return false
}
