package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"standin/internal/domain"
)

const (
	claudeAPIURL       = "https://api.anthropic.com/v1/messages"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-sonnet-4-5-20250514"
	defaultMaxTokens   = 1024
	defaultHTTPTimeout = 120 * time.Second
)

// Claude implements domain.Provider for the Anthropic API.
type Claude struct {
	apiKey string
	model  string
	http   *apiTransport
	logger *slog.Logger
}

type ClaudeConfig struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	return &Claude{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		http:   newTransport(defaultHTTPTimeout, cfg.Logger),
		logger: cfg.Logger,
	}
}

func (c *Claude) Name() string              { return "claude" }
func (c *Claude) Mode() domain.ProviderMode { return domain.ModeAPI }

func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	return nil
}

type claudeRequest struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	System    string      `json:"system,omitempty"`
	Messages  []claudeMsg `json:"messages"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (c *Claude) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	// The Anthropic API takes the system prompt as a top-level field.
	var systemPrompt string
	var msgs []claudeMsg
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemPrompt = m.Content
			continue
		}
		msgs = append(msgs, claudeMsg{Role: m.Role, Content: m.Content})
	}

	body := claudeRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  msgs,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	resp, err := c.http.do(ctx, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", claudeAPIURL, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", claudeAPIVersion)
		return httpReq, nil
	})
	if err != nil {
		return "", fmt.Errorf("claude request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("claude %d: %s", resp.StatusCode, string(respBody))
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	var textParts []string
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	return strings.Join(textParts, ""), nil
}
