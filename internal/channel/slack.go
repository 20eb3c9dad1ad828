package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"standin/internal/domain"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel using Socket Mode. Direct messages to
// the owner's bot user feed the pipeline; replies are posted back to the
// same conversation.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self
}

type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and listens for message events.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Ack unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) Send(ctx context.Context, recipientID string, text string) error {
	for _, chunk := range splitMessage(text, slackMaxMsgLen) {
		_, _, err := s.client.PostMessageContext(ctx,
			recipientID,
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		)
		if err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

func (s *Slack) Healthy(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("slack: not connected")
	}
	_, err := s.client.AuthTestContext(ctx)
	return err
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Ignore our own messages and edits/joins/etc.
	if ev.User == s.botUID || ev.User == "" || ev.BotID != "" {
		return
	}
	if ev.SubType != "" {
		return
	}
	if ev.Text == "" {
		return
	}

	s.logger.Info("slack message received",
		"user", ev.User,
		"channel", ev.Channel,
		"chars", len(ev.Text),
	)

	s.bus.Publish(domain.InboundMessage{
		Platform:   domain.PlatformSlack,
		SenderID:   ev.Channel, // reply goes back to the same conversation
		SenderName: ev.User,
		Body:       ev.Text,
		MessageID:  ev.TimeStamp,
		ReceivedAt: time.Now(),
	})
}
