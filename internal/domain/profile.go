package domain

import "time"

// RelationshipRole classifies the sender's relationship to the owner.
// It selects the tone framing the context builder injects.
type RelationshipRole string

const (
	RoleHR         RelationshipRole = "hr"
	RoleClient     RelationshipRole = "client"
	RoleManager    RelationshipRole = "manager"
	RoleColleague  RelationshipRole = "colleague"
	RoleFriend     RelationshipRole = "friend"
	RoleFamily     RelationshipRole = "family"
	RoleVendor     RelationshipRole = "vendor"
	RoleGirlfriend RelationshipRole = "girlfriend"
	RoleGeneral    RelationshipRole = "general"
)

// Turn is one entry in a contact's conversation window.
type Turn struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// ContactProfile holds per-sender personalization and conversation memory.
// Created lazily on first message from an unseen sender; History is a
// sliding window, not a full log (the full log lives in the reply ledger).
type ContactProfile struct {
	SenderID           string
	DisplayName        string
	Role               RelationshipRole
	CustomInstructions string
	AutoConversation   bool // false holds every reply for approval
	History            []Turn
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
