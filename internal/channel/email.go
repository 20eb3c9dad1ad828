package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"standin/internal/config"
	"standin/internal/domain"
)

const defaultPollInterval = 60 * time.Second

// Email implements domain.Channel over IMAP/SMTP. Inbound mail is picked
// up by polling the inbox for unseen messages; replies go out via SMTP to
// the sender's address, which doubles as the contact ID.
type Email struct {
	cfg    config.EmailConfig
	bus    domain.MessageBus
	logger *slog.Logger
}

func NewEmail(cfg config.EmailConfig, logger *slog.Logger) *Email {
	return &Email{cfg: cfg, logger: logger}
}

func (e *Email) Name() string { return "email" }

// Start polls the IMAP inbox until ctx is cancelled. Each poll opens a
// fresh connection; iCloud and Gmail both drop idle IMAP sessions, so a
// short-lived connection per cycle is more reliable than keeping one open.
func (e *Email) Start(ctx context.Context, bus domain.MessageBus) error {
	e.bus = bus

	interval := defaultPollInterval
	if e.cfg.PollSeconds > 0 {
		interval = time.Duration(e.cfg.PollSeconds) * time.Second
	}

	e.logger.Info("email polling started",
		"address", e.cfg.Address,
		"imap", fmt.Sprintf("%s:%d", e.cfg.IMAPHost, e.cfg.IMAPPort),
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("email channel stopping")
			return nil
		case <-ticker.C:
			if err := e.pollOnce(); err != nil {
				e.logger.Warn("email poll failed", "err", err)
			}
		}
	}
}

func (e *Email) Stop() error { return nil }

// Send delivers a reply to the contact's address over SMTP.
func (e *Email) Send(ctx context.Context, recipientID string, text string) error {
	subject := e.cfg.SubjectReply
	if subject == "" {
		subject = "Re: your message"
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", e.cfg.Address))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", recipientID))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(text)

	addr := fmt.Sprintf("%s:%d", e.cfg.SMTPHost, e.cfg.SMTPPort)
	auth := smtp.PlainAuth("", e.cfg.Address, e.cfg.Password, e.cfg.SMTPHost)

	if err := smtp.SendMail(addr, auth, e.cfg.Address, []string{recipientID}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (e *Email) Healthy(ctx context.Context) error {
	if e.cfg.Address == "" || e.cfg.Password == "" {
		return fmt.Errorf("email: address and password required")
	}
	c, err := e.connect()
	if err != nil {
		return err
	}
	c.Logout()
	return nil
}

func (e *Email) connect() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", e.cfg.IMAPHost, e.cfg.IMAPPort)
	c, err := client.DialTLS(addr, &tls.Config{})
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}
	if err := c.Login(e.cfg.Address, e.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return c, nil
}

// pollOnce fetches unseen inbox messages, publishes them, and marks them
// seen so the next cycle does not pick them up again.
func (e *Email) pollOnce() error {
	c, err := e.connect()
	if err != nil {
		return err
	}
	defer c.Logout()

	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	for msg := range messages {
		e.handleMessage(msg, section)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	// Mark everything we picked up as seen.
	flags := []interface{}{imap.SeenFlag}
	if err := c.Store(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (e *Email) handleMessage(msg *imap.Message, section *imap.BodySectionName) {
	if msg == nil || msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return
	}
	from := msg.Envelope.From[0]
	sender := from.Address()
	// Skip our own sent mail if it lands back in the inbox.
	if strings.EqualFold(sender, e.cfg.Address) {
		return
	}

	body := ""
	if r := msg.GetBody(section); r != nil {
		if parsed, err := mail.ReadMessage(r); err == nil {
			if text, err := extractPlainText(parsed); err == nil {
				body = strings.TrimSpace(text)
			}
		}
	}
	if body == "" {
		body = strings.TrimSpace(msg.Envelope.Subject)
	}
	if body == "" {
		return
	}

	name := from.PersonalName
	if name == "" {
		name = sender
	}

	e.logger.Info("email message received",
		"from", sender,
		"subject", msg.Envelope.Subject,
		"chars", len(body),
	)

	e.bus.Publish(domain.InboundMessage{
		Platform:   domain.PlatformEmail,
		SenderID:   sender,
		SenderName: name,
		Body:       body,
		MessageID:  msg.Envelope.MessageId,
		ReceivedAt: msg.Envelope.Date,
	})
}

// extractPlainText pulls the first text part out of a MIME message,
// decoding quoted-printable where the headers say so.
func extractPlainText(msg *mail.Message) (string, error) {
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(msg.Body, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}
			partType, _, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
			if strings.HasPrefix(partType, "text/plain") {
				body, err := io.ReadAll(decodeTransfer(p, p.Header.Get("Content-Transfer-Encoding")))
				if err != nil {
					continue
				}
				return string(body), nil
			}
		}
		return "", fmt.Errorf("no text part found")
	}

	if strings.HasPrefix(mediaType, "text/") {
		body, err := io.ReadAll(decodeTransfer(msg.Body, msg.Header.Get("Content-Transfer-Encoding")))
		if err != nil {
			return "", err
		}
		return string(body), nil
	}

	return "", fmt.Errorf("unsupported content type: %s", mediaType)
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	if strings.EqualFold(encoding, "quoted-printable") {
		return quotedprintable.NewReader(r)
	}
	return r
}
