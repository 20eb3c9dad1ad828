package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"standin/internal/domain"
)

// Config is the root configuration for Standin.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Policies  map[string]PolicyConfig   `json:"policies"` // keyed by platform name
	Channels  ChannelsConfig            `json:"channels"`
	Persona   PersonaConfig             `json:"persona"`
	Storage   StorageConfig             `json:"storage"`
	Admin     AdminConfig               `json:"admin"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	OwnerName            string   `json:"ownerName"`
	LogLevel             string   `json:"logLevel"`
	LogFile              string   `json:"logFile,omitempty"`
	DefaultProvider      string   `json:"defaultProvider"`
	FailoverChain        []string `json:"failoverChain,omitempty"` // provider failover order
	HistoryWindow        int      `json:"historyWindow"`           // turns kept per contact
	InterMessageDelayMs  int      `json:"interMessageDelayMs"`     // pause between drains
	GenerationTimeoutSec int      `json:"generationTimeoutSeconds"`
	DispatchRetries      int      `json:"dispatchRetries"`
	RateBurst            int      `json:"rateBurst,omitempty"`
	RatePerMinute        float64  `json:"ratePerMinute,omitempty"`
}

type ProviderConfig struct {
	Enabled      bool              `json:"enabled"`
	Mode         string            `json:"mode"` // "api" | "browser"
	APIBase      string            `json:"apiBase,omitempty"`
	APIKey       string            `json:"apiKey,omitempty"`
	DefaultModel string            `json:"defaultModel,omitempty"`
	ProfileDir   string            `json:"profileDir,omitempty"`
	Selectors    map[string]string `json:"selectors,omitempty"`
}

// PolicyConfig is the JSON shape of a per-platform policy.
type PolicyConfig struct {
	Enabled           bool           `json:"enabled"`
	ApprovalRequired  bool           `json:"approvalRequired"`
	Style             string         `json:"style"` // casual | professional | brief
	MaxResponseLength int            `json:"maxResponseLength"`
	WhitelistOnly     bool           `json:"whitelistOnly"`
	Whitelist         FlexStringList `json:"whitelist,omitempty"`
	Blacklist         FlexStringList `json:"blacklist,omitempty"`
	Fallback          string         `json:"fallback,omitempty"`
}

// Policy converts the config entry into the domain policy for a platform.
func (pc PolicyConfig) Policy(platform domain.Platform) domain.PlatformPolicy {
	return domain.PlatformPolicy{
		Platform:          platform,
		Enabled:           pc.Enabled,
		ApprovalRequired:  pc.ApprovalRequired,
		Style:             domain.ResponseStyle(pc.Style),
		MaxResponseLength: pc.MaxResponseLength,
		WhitelistOnly:     pc.WhitelistOnly,
		Whitelist:         pc.Whitelist,
		Blacklist:         pc.Blacklist,
		Fallback:          pc.Fallback,
	}
}

type ChannelsConfig struct {
	Telegram TelegramConfig         `json:"telegram"`
	Slack    SlackConfig            `json:"slack"`
	Discord  DiscordConfig          `json:"discord,omitempty"`
	WhatsApp WhatsAppConfig         `json:"whatsapp"`
	Email    EmailConfig            `json:"email"`
	Webhook  WebhookConfig          `json:"webhook"`
	Relays   map[string]RelayConfig `json:"relays,omitempty"` // instagram, linkedin, sms bridges
}

type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ParseMode string `json:"parseMode"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to one guild
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
}

type EmailConfig struct {
	Enabled      bool   `json:"enabled"`
	Address      string `json:"address"`
	Password     string `json:"password"`
	IMAPHost     string `json:"imapHost"`
	IMAPPort     int    `json:"imapPort"`
	SMTPHost     string `json:"smtpHost"`
	SMTPPort     int    `json:"smtpPort"`
	PollSeconds  int    `json:"pollSeconds"`
	SubjectReply string `json:"subjectReply,omitempty"` // subject prefix for replies
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Secret  string `json:"secret,omitempty"` // HMAC secret for signed payloads
}

// RelayConfig points outbound replies for a bridged platform at an external
// HTTP endpoint (the bridge delivers to the real platform).
type RelayConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token,omitempty"`
}

type PersonaConfig struct {
	Path string `json:"path"` // YAML persona file
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Token   string `json:"token,omitempty"` // bearer token for the admin API
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.standin).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".standin"
	}
	return filepath.Join(home, ".standin")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Persona.Path = ExpandPath(cfg.Persona.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.HistoryWindow < 1 || cfg.General.HistoryWindow > 200 {
		errs = append(errs, "general.historyWindow must be between 1 and 200")
	}
	if cfg.General.GenerationTimeoutSec < 1 {
		errs = append(errs, "general.generationTimeoutSeconds must be >= 1")
	}
	if cfg.General.InterMessageDelayMs < 0 {
		errs = append(errs, "general.interMessageDelayMs must be >= 0")
	}
	if cfg.General.DispatchRetries < 0 || cfg.General.DispatchRetries > 10 {
		errs = append(errs, "general.dispatchRetries must be between 0 and 10")
	}

	if cfg.Channels.Webhook.Port < 0 || cfg.Channels.Webhook.Port > 65535 {
		errs = append(errs, "channels.webhook.port must be between 0 and 65535")
	}
	if cfg.Admin.Port < 0 || cfg.Admin.Port > 65535 {
		errs = append(errs, "admin.port must be between 0 and 65535")
	}

	for name, pol := range cfg.Policies {
		if !domain.Platform(name).Valid() {
			errs = append(errs, fmt.Sprintf("policies.%s: unknown platform", name))
			continue
		}
		if pol.MaxResponseLength < 10 {
			errs = append(errs, fmt.Sprintf("policies.%s.maxResponseLength must be >= 10", name))
		}
		switch pol.Style {
		case "", "casual", "professional", "brief":
			// valid
		default:
			errs = append(errs, fmt.Sprintf("policies.%s.style must be one of: casual, professional, brief", name))
		}
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.Mode == "api" && pc.APIBase == "" {
			// Skip providers with built-in endpoints.
			if name != "ollama" && name != "claude" {
				errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required for API mode", name))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a deep copy with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	out := &Config{}
	if err := json.Unmarshal(data, out); err != nil {
		return cfg
	}

	for name, pc := range out.Providers {
		pc.APIKey = mask(pc.APIKey)
		out.Providers[name] = pc
	}
	out.Channels.Telegram.Token = mask(out.Channels.Telegram.Token)
	out.Channels.Slack.BotToken = mask(out.Channels.Slack.BotToken)
	out.Channels.Slack.AppToken = mask(out.Channels.Slack.AppToken)
	out.Channels.Discord.Token = mask(out.Channels.Discord.Token)
	out.Channels.WhatsApp.AccessToken = mask(out.Channels.WhatsApp.AccessToken)
	out.Channels.WhatsApp.AppSecret = mask(out.Channels.WhatsApp.AppSecret)
	out.Channels.Email.Password = mask(out.Channels.Email.Password)
	out.Channels.Webhook.Secret = mask(out.Channels.Webhook.Secret)
	for name, rc := range out.Channels.Relays {
		rc.Token = mask(rc.Token)
		out.Channels.Relays[name] = rc
	}
	out.Admin.Token = mask(out.Admin.Token)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
