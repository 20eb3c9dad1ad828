package provider

import (
	"context"
	"fmt"
	"log/slog"

	"standin/internal/browser"
	"standin/internal/domain"
)

// ChatGPTWeb implements domain.Provider through browser automation against
// chatgpt.com, for owners without API access. The web UI keeps its own
// conversation state, so only the final user message is typed in; the
// assembled system prompt and history are prepended as plain text.
type ChatGPTWeb struct {
	bridge *browser.Bridge
	page   browser.ChatPage
	logger *slog.Logger
}

type ChatGPTWebConfig struct {
	ProfileDir string
	Selectors  map[string]string // override default selectors
	Logger     *slog.Logger
}

func NewChatGPTWeb(cfg ChatGPTWebConfig) *ChatGPTWeb {
	bridge := browser.NewBridge(browser.BridgeConfig{
		ProfileDir: cfg.ProfileDir,
		Logger:     cfg.Logger,
	})

	// Selector overrides let the owner patch around chatgpt.com DOM changes
	// without a new binary.
	page := browser.ChatGPTPage()
	if v := cfg.Selectors["url"]; v != "" {
		page.URL = v
	}
	if v := cfg.Selectors["input"]; v != "" {
		page.Input = v
	}
	if v := cfg.Selectors["submit"]; v != "" {
		page.Submit = v
	}
	if v := cfg.Selectors["response"]; v != "" {
		page.Reply = v
	}
	if v := cfg.Selectors["loading"]; v != "" {
		page.Busy = v
	}

	return &ChatGPTWeb{bridge: bridge, page: page, logger: cfg.Logger}
}

func (p *ChatGPTWeb) Name() string              { return "chatgpt" }
func (p *ChatGPTWeb) Mode() domain.ProviderMode { return domain.ModeBrowser }

func (p *ChatGPTWeb) Healthy(ctx context.Context) error {
	if p.bridge == nil {
		return fmt.Errorf("browser bridge not initialized")
	}
	return nil
}

func (p *ChatGPTWeb) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	prompt := flattenForWeb(req.Messages)
	if prompt == "" {
		return "", fmt.Errorf("chatgpt_web: no user message in request")
	}

	p.logger.Info("chatgpt_web: sending message", "len", len(prompt))

	response, err := p.bridge.Exchange(ctx, p.page, prompt)
	if err != nil {
		return "", fmt.Errorf("chatgpt_web: %w", err)
	}

	p.logger.Info("chatgpt_web: received response", "len", len(response))
	return response, nil
}

// flattenForWeb folds the message sequence into one typed-in prompt: the
// system framing first, then the latest user message.
func flattenForWeb(msgs []domain.PromptMessage) string {
	var system, user string
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}
	if user == "" {
		return ""
	}
	if system == "" {
		return user
	}
	return system + "\n\n" + user
}

// Login opens a visible browser for the owner to log in to ChatGPT.
func (p *ChatGPTWeb) Login(ctx context.Context) error {
	return p.bridge.Login(ctx, p.page.URL)
}
