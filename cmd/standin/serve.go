package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"standin/internal/bus"
	"standin/internal/channel"
	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/ledger"
	"standin/internal/persona"
	"standin/internal/profile"
	"standin/internal/provider"
	"standin/internal/reply"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the stand-in (all enabled channels + dispatch pipeline)",
		Long:  "Starts every enabled channel, the webhook server, the admin API, and the dispatch pipeline. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	profiles, err := profile.NewStore(cfg.Storage.DBPath, cfg.General.HistoryWindow, logger)
	if err != nil {
		return fmt.Errorf("profile store: %w", err)
	}
	defer profiles.Close()

	ledgerStore, err := ledger.NewStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}
	defer ledgerStore.Close()

	p, err := persona.Load(cfg.Persona.Path, cfg.General.OwnerName, logger)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	factory := provider.NewFactory(cfg, logger)
	prov, err := factory.Build()
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	limiter := reply.NewRateLimiter(cfg.General.RateBurst, cfg.General.RatePerMinute)
	generator := reply.NewGenerator(prov, limiter,
		time.Duration(cfg.General.GenerationTimeoutSec)*time.Second, logger)
	builder := reply.NewContextBuilder(p)

	policies := make(map[domain.Platform]domain.PlatformPolicy, len(cfg.Policies))
	for name, pc := range cfg.Policies {
		platform := domain.Platform(name)
		policies[platform] = pc.Policy(platform)
	}

	queue := reply.NewQueue(messageBus, profiles, ledgerStore, builder, generator, policies,
		reply.QueueOptions{
			InterMessageDelay: time.Duration(cfg.General.InterMessageDelayMs) * time.Millisecond,
			DispatchRetries:   cfg.General.DispatchRetries,
		}, logger)
	queue.Start(ctx)

	health := map[string]domain.HealthReporter{
		"provider": prov,
	}

	type liveChannel interface {
		domain.Channel
		domain.HealthReporter
	}
	startChannel := func(ch liveChannel) {
		health[ch.Name()] = ch
		go func() {
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		queue.RegisterSender(domain.PlatformTelegram, tg)
		startChannel(tg)
	}

	if cfg.Channels.Slack.Enabled && cfg.Channels.Slack.BotToken != "" {
		sl := channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		})
		queue.RegisterSender(domain.PlatformSlack, sl)
		startChannel(sl)
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc := channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		})
		queue.RegisterSender(domain.PlatformDiscord, dc)
		startChannel(dc)
	}

	if cfg.Channels.Email.Enabled && cfg.Channels.Email.Address != "" {
		em := channel.NewEmail(cfg.Channels.Email, logger)
		queue.RegisterSender(domain.PlatformEmail, em)
		startChannel(em)
	}

	// WhatsApp sends through the Cloud API; inbound arrives via webhook.
	if cfg.Channels.WhatsApp.Enabled {
		wa := channel.NewWhatsApp(cfg.Channels.WhatsApp, logger)
		queue.RegisterSender(domain.PlatformWhatsApp, wa)
		health[wa.Name()] = wa
		logger.Info("channel enabled", "channel", "whatsapp")
	}

	// Bridged platforms: outbound goes to the relay endpoint, inbound via webhook.
	for name, rc := range cfg.Channels.Relays {
		platform := domain.Platform(name)
		if !rc.Enabled || !platform.Valid() {
			continue
		}
		rl := channel.NewRelay(platform, rc, logger)
		queue.RegisterSender(platform, rl)
		health[rl.Name()] = rl
		logger.Info("relay enabled", "platform", name, "url", rc.URL)
	}

	if cfg.Channels.Webhook.Enabled {
		wh := channel.NewWebhook(channel.WebhookConfig{
			Port:        cfg.Channels.Webhook.Port,
			Secret:      cfg.Channels.Webhook.Secret,
			AppSecret:   cfg.Channels.WhatsApp.AppSecret,
			VerifyToken: cfg.Channels.WhatsApp.VerifyToken,
			Logger:      logger,
		})
		startChannel(wh)
	}

	var admin *channel.Admin
	if cfg.Admin.Enabled {
		admin = channel.NewAdmin(cfg.Admin, ledgerStore, queue, health, logger)
		queue.SetEventHook(admin.HandleEvent)
		go func() {
			if err := admin.Start(ctx); err != nil {
				logger.Error("admin API error", "err", err)
			}
		}()
	}

	logger.Info("standin started", "version", version, "owner", p.Owner)

	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if admin != nil {
			admin.Stop()
		}
		messageBus.Close()
		queue.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Review and resolve held replies",
		Long:  "Talks to the running daemon's admin API. Approving a reply dispatches it; rejecting discards it.",
	}

	var platformFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			path := "/api/approvals"
			if platformFilter != "" {
				path += "?platform=" + platformFilter
			}
			body, err := adminGet(cfg, path)
			if err != nil {
				return err
			}
			return printPendingApprovals(body)
		},
	}
	list.Flags().StringVarP(&platformFilter, "platform", "p", "", "filter by platform")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "approve [id]",
		Short: "Approve and dispatch a held reply",
		Args:  cobra.ExactArgs(1),
		RunE:  resolveApproval("approve"),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reject [id]",
		Short: "Reject and discard a held reply",
		Args:  cobra.ExactArgs(1),
		RunE:  resolveApproval("reject"),
	})

	return cmd
}

func resolveApproval(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		body, err := adminPost(cfg, fmt.Sprintf("/api/approvals/%s/%s", args[0], action))
		if err != nil {
			return err
		}
		var resp struct {
			Success bool   `json:"success"`
			Status  string `json:"status"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("bad response: %w", err)
		}
		if !resp.Success {
			return fmt.Errorf("%s failed: %s", action, resp.Error)
		}
		logger.Info("approval resolved", "id", args[0], "decision", resp.Status)
		return nil
	}
}

func printPendingApprovals(body []byte) error {
	var resp struct {
		Approvals []domain.PendingApproval `json:"approvals"`
		Count     int                      `json:"count"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("bad response: %w", err)
	}
	if resp.Count == 0 {
		fmt.Println("no pending approvals")
		return nil
	}
	for _, pa := range resp.Approvals {
		fmt.Printf("%s  [%s] %s (%s)\n", pa.ID, pa.Message.Platform, pa.Message.SenderName, pa.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  them: %s\n", pa.Message.Body)
		fmt.Printf("  you:  %s\n\n", pa.SuggestedReply)
	}
	return nil
}

// --- admin API client ---

func adminRequest(cfg *config.Config, method, path string) ([]byte, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Admin.Port, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if cfg.Admin.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Admin.Token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("admin API %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("admin API %d", resp.StatusCode)
	}
	return body, nil
}

func adminGet(cfg *config.Config, path string) ([]byte, error) {
	return adminRequest(cfg, "GET", path)
}

func adminPost(cfg *config.Config, path string) ([]byte, error) {
	return adminRequest(cfg, "POST", path)
}
