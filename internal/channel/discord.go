package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"standin/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for Discord direct messages.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

type DiscordConfig struct {
	Token   string
	GuildID string // optional: restrict to one guild
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects with a bot token and listens until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author.ID == s.State.User.ID || m.Author.Bot {
			return
		}
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}
		if m.Content == "" {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"chars", len(m.Content),
		)

		bus.Publish(domain.InboundMessage{
			Platform:   domain.PlatformDiscord,
			SenderID:   m.ChannelID,
			SenderName: m.Author.Username,
			Body:       m.Content,
			MessageID:  m.ID,
			ReceivedAt: time.Now(),
		})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) Send(ctx context.Context, recipientID string, text string) error {
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(recipientID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *Discord) Healthy(ctx context.Context) error {
	if d.session == nil {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// splitMessage splits text into chunks within maxLen, preferring newline
// boundaries.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
