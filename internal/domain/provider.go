package domain

import "context"

type ProviderMode string

const (
	ModeAPI     ProviderMode = "api"
	ModeBrowser ProviderMode = "browser"
)

// PromptMessage is one entry in the message sequence sent to the LLM.
type PromptMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// CompletionRequest is the language-model capability's input: an ordered
// message sequence plus generation constraints.
type CompletionRequest struct {
	Messages    []PromptMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is the external language-model capability.
type Provider interface {
	Name() string
	Mode() ProviderMode
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Healthy(ctx context.Context) error
}
