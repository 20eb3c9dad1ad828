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
)

const whatsappAPIBase = "https://graph.facebook.com/v21.0"

// WhatsApp is the outbound half of the WhatsApp adapter: replies go out
// through the Business Cloud API. Inbound messages arrive via the webhook
// server, which owns the HTTP surface for every push platform.
type WhatsApp struct {
	cfg    config.WhatsAppConfig
	client *http.Client
	logger *slog.Logger
}

func NewWhatsApp(cfg config.WhatsAppConfig, logger *slog.Logger) *WhatsApp {
	return &WhatsApp{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Send delivers a text message via the Cloud API.
func (w *WhatsApp) Send(ctx context.Context, recipientID, text string) error {
	url := fmt.Sprintf("%s/%s/messages", whatsappAPIBase, w.cfg.PhoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipientID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (w *WhatsApp) Healthy(ctx context.Context) error {
	if w.cfg.AccessToken == "" || w.cfg.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp: access token and phone number ID required")
	}
	return nil
}
