package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"standin/internal/config"
	"standin/internal/domain"
)

// Relay is an outbound-only sender for platforms without a first-party Go
// client (instagram, linkedin, sms). Replies are POSTed to an external
// bridge endpoint that handles actual delivery; inbound traffic for these
// platforms arrives through the webhook server.
type Relay struct {
	platform domain.Platform
	cfg      config.RelayConfig
	client   *http.Client
	logger   *slog.Logger
}

func NewRelay(platform domain.Platform, cfg config.RelayConfig, logger *slog.Logger) *Relay {
	return &Relay{
		platform: platform,
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (r *Relay) Name() string { return string(r.platform) }

type relayPayload struct {
	Platform  string `json:"platform"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

func (r *Relay) Send(ctx context.Context, recipientID string, text string) error {
	body, err := json.Marshal(relayPayload{
		Platform:  string(r.platform),
		Recipient: recipientID,
		Message:   text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay %s returned %d: %s", r.platform, resp.StatusCode, string(respBody))
	}
	return nil
}

func (r *Relay) Healthy(ctx context.Context) error {
	if r.cfg.URL == "" {
		return fmt.Errorf("relay %s: no bridge URL configured", r.platform)
	}
	return nil
}
