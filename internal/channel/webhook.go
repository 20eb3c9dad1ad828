package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"standin/internal/domain"
)

// WebhookConfig configures the webhook ingestion server.
type WebhookConfig struct {
	Port        int
	Secret      string // HMAC secret for generic signed payloads
	AppSecret   string // Meta app secret signing WhatsApp deliveries
	VerifyToken string // WhatsApp webhook verification token
	Logger      *slog.Logger
}

// Webhook is the HTTP ingestion surface: one POST endpoint per platform,
// plus a synthetic-injection endpoint for testing. Payloads are normalized
// into InboundMessage before they enter the pipeline; malformed ones are
// rejected at the boundary and never reach the queue.
type Webhook struct {
	port        int
	secret      string
	appSecret   string
	verifyToken string
	bus         domain.MessageBus
	logger      *slog.Logger
	server      *http.Server
}

// webhookPayload is the generic JSON body for POST /webhook/{platform}.
// WhatsApp uses the Cloud API envelope instead (see parseWhatsApp).
type webhookPayload struct {
	Sender     string `json:"sender"`
	SenderName string `json:"senderName,omitempty"`
	Message    string `json:"message"`
	MessageID  string `json:"messageId,omitempty"`
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	return &Webhook{
		port:        cfg.Port,
		secret:      cfg.Secret,
		appSecret:   cfg.AppSecret,
		verifyToken: cfg.VerifyToken,
		logger:      cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start runs the ingestion HTTP server until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "port", w.port)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error { return nil }

// Send is a no-op: the webhook is ingest-only, outbound delivery belongs
// to the platform senders.
func (w *Webhook) Send(ctx context.Context, recipientID string, text string) error { return nil }

func (w *Webhook) Healthy(ctx context.Context) error {
	if w.server == nil {
		return fmt.Errorf("webhook: not started")
	}
	return nil
}

// Handler builds the route table. Exposed separately so tests can drive it
// with httptest without binding a port.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/{platform}", w.handleInbound)
	mux.HandleFunc("GET /webhook/whatsapp", w.handleWhatsAppVerification)
	mux.HandleFunc("POST /test/message", w.handleTestMessage)
	return mux
}

func (w *Webhook) handleInbound(rw http.ResponseWriter, r *http.Request) {
	platform := domain.Platform(r.PathValue("platform"))
	if !platform.Valid() {
		writeJSON(rw, http.StatusBadRequest, webhookResponse{Status: "rejected", Error: "unknown platform"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, webhookResponse{Status: "rejected", Error: "unreadable body"})
		return
	}
	defer r.Body.Close()

	if platform == domain.PlatformWhatsApp {
		// The Cloud API signs deliveries with the Meta app secret under
		// X-Hub-Signature-256, not the generic webhook secret.
		if w.appSecret != "" {
			sig := r.Header.Get("X-Hub-Signature-256")
			if sig == "" {
				writeJSON(rw, http.StatusUnauthorized, webhookResponse{Status: "rejected", Error: "missing signature"})
				return
			}
			if !verifyHMAC(body, w.appSecret, sig) {
				w.logger.Warn("whatsapp invalid signature")
				writeJSON(rw, http.StatusForbidden, webhookResponse{Status: "rejected", Error: "invalid signature"})
				return
			}
		}
	} else if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeJSON(rw, http.StatusUnauthorized, webhookResponse{Status: "rejected", Error: "missing signature"})
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			writeJSON(rw, http.StatusForbidden, webhookResponse{Status: "rejected", Error: "invalid signature"})
			return
		}
	}

	var msgs []domain.InboundMessage
	if platform == domain.PlatformWhatsApp {
		msgs, err = parseWhatsApp(body)
	} else {
		msgs, err = parseGeneric(platform, body)
	}
	if err != nil {
		w.logger.Warn("malformed webhook payload", "platform", platform, "error", err)
		writeJSON(rw, http.StatusBadRequest, webhookResponse{Status: "rejected", Error: err.Error()})
		return
	}

	for _, msg := range msgs {
		w.logger.Info("webhook message received",
			"platform", msg.Platform, "sender", msg.SenderID, "chars", len(msg.Body))
		w.bus.Publish(msg)
	}

	writeJSON(rw, http.StatusOK, webhookResponse{Success: true, Status: "queued"})
}

// handleWhatsAppVerification answers the Cloud API subscription handshake.
func (w *Webhook) handleWhatsAppVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.verifyToken && w.verifyToken != "" {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleTestMessage injects a synthetic message into the same pipeline.
func (w *Webhook) handleTestMessage(rw http.ResponseWriter, r *http.Request) {
	var payload struct {
		Platform string `json:"platform"`
		Sender   string `json:"sender"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(rw, http.StatusBadRequest, webhookResponse{Status: "rejected", Error: "invalid JSON"})
		return
	}

	platform := domain.Platform(payload.Platform)
	if !platform.Valid() {
		writeJSON(rw, http.StatusBadRequest, webhookResponse{Status: "rejected", Error: "unknown platform"})
		return
	}
	if payload.Sender == "" || payload.Message == "" {
		writeJSON(rw, http.StatusBadRequest, webhookResponse{Status: "rejected", Error: "sender and message are required"})
		return
	}

	w.logger.Info("test message injected", "platform", platform, "sender", payload.Sender)
	w.bus.Publish(domain.InboundMessage{
		Platform:   platform,
		SenderID:   payload.Sender,
		Body:       payload.Message,
		ReceivedAt: time.Now(),
	})

	writeJSON(rw, http.StatusOK, webhookResponse{Success: true, Status: "queued"})
}

func parseGeneric(platform domain.Platform, body []byte) ([]domain.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON")
	}
	if payload.Sender == "" {
		return nil, fmt.Errorf("sender is required")
	}
	if payload.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	return []domain.InboundMessage{{
		Platform:   platform,
		SenderID:   payload.Sender,
		SenderName: payload.SenderName,
		Body:       payload.Message,
		MessageID:  payload.MessageID,
		ReceivedAt: time.Now(),
	}}, nil
}

// parseWhatsApp unwraps the Cloud API envelope; only text messages enter
// the pipeline, other types (media, reactions, status updates) are skipped.
func parseWhatsApp(body []byte) ([]domain.InboundMessage, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON")
	}
	if len(payload.Entry) == 0 {
		return nil, fmt.Errorf("empty whatsapp envelope")
	}

	var msgs []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text == nil {
					continue
				}
				msgs = append(msgs, domain.InboundMessage{
					Platform:   domain.PlatformWhatsApp,
					SenderID:   msg.From,
					SenderName: names[msg.From],
					Body:       msg.Text.Body,
					MessageID:  msg.ID,
					ReceivedAt: time.Now(),
				})
			}
		}
	}
	return msgs, nil
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// --- WhatsApp Cloud API payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From string  `json:"from"`
	ID   string  `json:"id"`
	Type string  `json:"type"`
	Text *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
