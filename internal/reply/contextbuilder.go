package reply

import (
	"fmt"
	"strings"

	"standin/internal/domain"
	"standin/internal/persona"
)

// PromptContext is the fully assembled input for one generation call.
type PromptContext struct {
	SystemPrompt string
	History      []domain.Turn // oldest first, already window-capped
	UserMessage  string
}

// Messages flattens the context into the provider message sequence.
func (pc PromptContext) Messages() []domain.PromptMessage {
	msgs := make([]domain.PromptMessage, 0, len(pc.History)+2)
	msgs = append(msgs, domain.PromptMessage{Role: "system", Content: pc.SystemPrompt})
	for _, t := range pc.History {
		msgs = append(msgs, domain.PromptMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, domain.PromptMessage{Role: "user", Content: pc.UserMessage})
	return msgs
}

// ContextBuilder assembles the system prompt from the owner persona, the
// platform policy and the contact profile. Deterministic: identical inputs
// produce an identical prompt.
type ContextBuilder struct {
	persona *persona.Persona
}

func NewContextBuilder(p *persona.Persona) *ContextBuilder {
	return &ContextBuilder{persona: p}
}

var styleLines = map[domain.ResponseStyle]string{
	domain.StyleCasual:       "Keep the tone relaxed and conversational.",
	domain.StyleProfessional: "Keep the tone professional and polished.",
	domain.StyleBrief:        "Be brief. One or two sentences at most.",
}

func (b *ContextBuilder) Build(msg domain.InboundMessage, profile *domain.ContactProfile, policy domain.PlatformPolicy) PromptContext {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are responding on behalf of %s. Reply as they would, in first person; never mention being an assistant.", b.persona.Owner)

	if line, ok := styleLines[policy.Style]; ok {
		sb.WriteString(" ")
		sb.WriteString(line)
	}
	if policy.MaxResponseLength > 0 {
		fmt.Fprintf(&sb, " Keep the reply under %d characters.", policy.MaxResponseLength)
	}

	var history []domain.Turn
	if profile != nil {
		if frag := b.persona.Fragment(profile.Role); frag != "" {
			sb.WriteString(" ")
			sb.WriteString(frag)
		}
		if ci := strings.TrimSpace(profile.CustomInstructions); ci != "" {
			sb.WriteString(" ")
			sb.WriteString(ci)
		}
		history = profile.History
	}

	return PromptContext{
		SystemPrompt: sb.String(),
		History:      history,
		UserMessage:  msg.Body,
	}
}
