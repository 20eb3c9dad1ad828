package config

// Defaults returns the baseline configuration.
//
// The per-platform approvalRequired split (chat platforms auto-send,
// email/instagram/linkedin hold for review) is a default, not a rule:
// every platform can be flipped in config.json.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			OwnerName:            "the account owner",
			LogLevel:             "info",
			DefaultProvider:      "openai",
			HistoryWindow:        20,
			InterMessageDelayMs:  1000,
			GenerationTimeoutSec: 45,
			DispatchRetries:      3,
			RateBurst:            5,
			RatePerMinute:        30,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				Mode:         "api",
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
			},
			"ollama": {
				Enabled:      false,
				Mode:         "api",
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Policies: map[string]PolicyConfig{
			"whatsapp": {
				Enabled:           true,
				ApprovalRequired:  false,
				Style:             "casual",
				MaxResponseLength: 300,
			},
			"telegram": {
				Enabled:           true,
				ApprovalRequired:  false,
				Style:             "casual",
				MaxResponseLength: 300,
			},
			"slack": {
				Enabled:           true,
				ApprovalRequired:  false,
				Style:             "brief",
				MaxResponseLength: 400,
			},
			"discord": {
				Enabled:           true,
				ApprovalRequired:  false,
				Style:             "casual",
				MaxResponseLength: 400,
			},
			"email": {
				Enabled:           true,
				ApprovalRequired:  true,
				Style:             "professional",
				MaxResponseLength: 1200,
			},
			"instagram": {
				Enabled:           true,
				ApprovalRequired:  true,
				Style:             "casual",
				MaxResponseLength: 250,
			},
			"linkedin": {
				Enabled:           true,
				ApprovalRequired:  true,
				Style:             "professional",
				MaxResponseLength: 600,
			},
			"sms": {
				Enabled:           true,
				ApprovalRequired:  false,
				Style:             "brief",
				MaxResponseLength: 160,
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			Slack:   SlackConfig{Enabled: false},
			Discord: DiscordConfig{Enabled: false},
			WhatsApp: WhatsAppConfig{
				Enabled: false,
			},
			Email: EmailConfig{
				Enabled:     false,
				IMAPPort:    993,
				SMTPPort:    587,
				PollSeconds: 60,
			},
			Webhook: WebhookConfig{
				Enabled: true,
				Port:    9090,
			},
		},
		Persona: PersonaConfig{
			Path: "~/.standin/persona.yaml",
		},
		Storage: StorageConfig{
			DBPath: "~/.standin/standin.db",
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
