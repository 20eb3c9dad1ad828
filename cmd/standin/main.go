package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/persona"
	"standin/internal/provider"
	"standin/internal/reply"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "standin",
		Short: "Standin: auto-reply stand-in for your messaging accounts",
		Long:  "Standin answers messages across your platforms in your voice, with per-platform policies, approval holds, and a full reply ledger.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.standin/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(approvalsCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("next: add provider API keys and channel tokens, then run 'standin serve'")
			return nil
		},
	}
}

func simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate [platform] [sender] [message]",
		Short: "Run one message through the pipeline without dispatching",
		Long:  "Builds the prompt, generates a reply, and prints what would happen (sent, held, or suppressed). Nothing is delivered or recorded.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform := domain.Platform(args[0])
			if !platform.Valid() {
				return fmt.Errorf("unknown platform: %s", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				logger.Warn("config not found, using defaults", "err", err)
				cfg = config.Defaults()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pc, ok := cfg.Policies[string(platform)]
			if !ok {
				fmt.Println("outcome: suppressed (no policy configured)")
				return nil
			}
			policy := pc.Policy(platform)

			if reason, suppressed := reply.Precheck(policy, args[1]); suppressed {
				fmt.Printf("outcome: suppressed (%s)\n", reason)
				return nil
			}

			p, err := persona.Load(cfg.Persona.Path, cfg.General.OwnerName, logger)
			if err != nil {
				return fmt.Errorf("load persona: %w", err)
			}
			builder := reply.NewContextBuilder(p)

			factory := provider.NewFactory(cfg, logger)
			prov, err := factory.Build()
			if err != nil {
				return fmt.Errorf("build provider: %w", err)
			}

			limiter := reply.NewRateLimiter(cfg.General.RateBurst, cfg.General.RatePerMinute)
			generator := reply.NewGenerator(prov, limiter,
				time.Duration(cfg.General.GenerationTimeoutSec)*time.Second, logger)

			msg := domain.InboundMessage{
				Platform:   platform,
				SenderID:   args[1],
				SenderName: args[1],
				Body:       args[2],
				ReceivedAt: time.Now(),
			}
			promptCtx := builder.Build(msg, nil, policy)
			text, fallbackUsed := generator.Generate(ctx, promptCtx, policy)

			outcome := "sent"
			if reply.RequiresApproval(policy, nil) {
				outcome = "held for approval"
			}
			fmt.Printf("outcome: %s\n", outcome)
			if fallbackUsed {
				fmt.Println("note: generation failed, this is the static fallback")
			}
			fmt.Printf("reply: %s\n", text)
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [provider]",
		Short: "Open a browser to log in to a web-based provider (chatgpt)",
		Long:  "Opens a visible Chrome window for you to log in. Cookies are saved for later headless use.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			factory := provider.NewFactory(cfg, logger)
			p, err := factory.Get(args[0])
			if err != nil || p == nil {
				return fmt.Errorf("unknown or disabled provider: %s", args[0])
			}

			type loginable interface {
				Login(context.Context) error
			}
			if l, ok := p.(loginable); ok {
				return l.Login(ctx)
			}
			return fmt.Errorf("provider %s does not support browser login", args[0])
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config, provider, and daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx := context.Background()
			factory := provider.NewFactory(cfg, logger)
			if prov := factory.HealthyProvider(ctx); prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}

			// The daemon is up when its admin API answers.
			if health, err := adminGet(cfg, "/api/health"); err == nil {
				logger.Info("daemon", "running", true, "health", string(health))
			} else {
				logger.Info("daemon", "running", false)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.ownerName)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.ownerName \"Sam Chen\")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
