package reply

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"standin/internal/domain"
	"standin/internal/metrics"
)

const genericFallback = "Thanks for your message! I'll get back to you as soon as I can."

// defaultFallbacks is the static per-platform fallback table, used when
// generation fails and the policy does not configure its own fallback text.
var defaultFallbacks = map[domain.Platform]string{
	domain.PlatformWhatsApp:  "Hey! I'm tied up right now, I'll reply properly soon.",
	domain.PlatformEmail:     "Thank you for your email. I will get back to you shortly.",
	domain.PlatformInstagram: "Thanks for the message! I'll get back to you soon.",
	domain.PlatformLinkedIn:  "Thank you for reaching out. I will respond as soon as possible.",
	domain.PlatformTelegram:  "I'm away from my phone right now, back to you shortly!",
	domain.PlatformSlack:     "Stepping away for a bit, I'll follow up here soon.",
	domain.PlatformDiscord:   "AFK right now, will reply when I'm back!",
	domain.PlatformSMS:       "Can't reply right now, will text you back soon.",
}

// Fallback returns the static reply for a platform, honoring a per-policy
// override first.
func Fallback(policy domain.PlatformPolicy) string {
	if policy.Fallback != "" {
		return policy.Fallback
	}
	if fb, ok := defaultFallbacks[policy.Platform]; ok {
		return fb
	}
	return genericFallback
}

// Generator turns a prompt context into reply text. Provider failures,
// timeouts and empty completions never propagate: the caller always gets
// usable text, falling back to the platform's static reply.
type Generator struct {
	provider domain.Provider
	limiter  *RateLimiter
	timeout  time.Duration
	logger   *slog.Logger
}

func NewGenerator(provider domain.Provider, limiter *RateLimiter, timeout time.Duration, logger *slog.Logger) *Generator {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Generator{provider: provider, limiter: limiter, timeout: timeout, logger: logger}
}

// Generate returns the reply text and whether the fallback was used.
func (g *Generator) Generate(ctx context.Context, pc PromptContext, policy domain.PlatformPolicy) (string, bool) {
	if err := g.limiter.Wait(ctx); err != nil {
		g.logger.Warn("rate limiter interrupted", "platform", policy.Platform, "error", err)
		return Fallback(policy), true
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := domain.CompletionRequest{
		Messages:    pc.Messages(),
		MaxTokens:   tokenBudget(policy.MaxResponseLength),
		Temperature: 0.7,
	}

	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	raw, err := g.provider.Complete(callCtx, req)
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		g.logger.Warn("generation failed, using fallback",
			"platform", policy.Platform, "provider", g.provider.Name(), "error", err)
		return Fallback(policy), true
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		g.logger.Warn("provider returned empty completion, using fallback",
			"platform", policy.Platform, "provider", g.provider.Name())
		return Fallback(policy), true
	}

	if policy.MaxResponseLength > 0 {
		text = Truncate(text, policy.MaxResponseLength)
	}
	return text, false
}

// tokenBudget derives the upstream request budget from the character limit.
// Rough 4-chars-per-token heuristic with a floor so short limits still leave
// the model room to form a sentence.
func tokenBudget(maxChars int) int {
	if maxChars <= 0 {
		return 512
	}
	budget := maxChars / 4
	if budget < 60 {
		budget = 60
	}
	return budget
}

// Truncate caps s at max characters, preferring the last sentence boundary
// that fits; when none fits it hard-cuts to max-3 and appends an ellipsis.
// Counts runes, never bytes, so multibyte text is not split mid-character.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if idx := strings.LastIndex(cut, ". "); idx >= 0 {
		return cut[:idx+1]
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
