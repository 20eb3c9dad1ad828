// Package browser drives a persistent Chrome profile with chromedp so that
// web-only chat UIs can serve as reply providers.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	exchangeTimeout = 2 * time.Minute
	renderGrace     = 300 * time.Millisecond

	// Plain desktop UA; chat sites block the default headless one.
	browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// ChatPage describes one chat website: where it lives and the CSS selectors
// needed to hold a conversation on it.
type ChatPage struct {
	URL    string
	Input  string // message input area
	Submit string // send button
	Reply  string // response text blocks
	Busy   string // typing/streaming indicator; gone means the reply is done
}

// ChatGPTPage returns the selectors for chatgpt.com.
func ChatGPTPage() ChatPage {
	return ChatPage{
		URL:    "https://chatgpt.com",
		Input:  "#prompt-textarea",
		Submit: "[data-testid='send-button']",
		Reply:  ".markdown.prose",
		Busy:   ".result-streaming",
	}
}

// Bridge owns a Chrome user-data directory. Cookies captured during Login
// survive in the profile, so later headless sessions are authenticated.
type Bridge struct {
	profileDir string
	logger     *slog.Logger
}

type BridgeConfig struct {
	ProfileDir string // Chrome user data directory
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".standin", "chrome-profiles", "default")
	}
	return &Bridge{profileDir: cfg.ProfileDir, logger: cfg.Logger}
}

// allocOpts builds the Chrome launch options for this profile. The
// automation-control flags keep bot-detection from flagging the session.
func (b *Bridge) allocOpts(visible bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(browserUA),
	)
	if visible {
		return append(opts, chromedp.Flag("headless", false))
	}
	return append(opts, chromedp.Headless)
}

// session starts a Chrome tab on this profile. The returned cancel tears
// down both the tab and the allocator.
func (b *Bridge) session(parent context.Context, visible bool) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o700); err != nil {
		b.logger.Error("cannot create profile dir", "dir", b.profileDir, "err", err)
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, b.allocOpts(visible)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	return tabCtx, func() {
		cancelTab()
		cancelAlloc()
	}
}

// Login opens a visible window on the profile and waits for the owner to
// authenticate; the session cookies land in the profile directory.
func (b *Bridge) Login(ctx context.Context, url string) error {
	tabCtx, done := b.session(ctx, true)
	defer done()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	b.logger.Info("log in in the opened window, then press Ctrl+C to save the session", "url", url)
	<-ctx.Done()
	b.logger.Info("session saved", "profile", b.profileDir)
	return nil
}

// Exchange types message into the chat page, submits it, and scrapes the
// reply once the busy indicator clears.
func (b *Bridge) Exchange(ctx context.Context, page ChatPage, message string) (string, error) {
	tabCtx, done := b.session(ctx, false)
	defer done()

	tabCtx, cancel := context.WithTimeout(tabCtx, exchangeTimeout)
	defer cancel()

	err := chromedp.Run(tabCtx,
		chromedp.Navigate(page.URL),
		chromedp.WaitVisible(page.Input, chromedp.ByQuery),
		chromedp.Click(page.Input, chromedp.ByQuery),
		chromedp.SendKeys(page.Input, message, chromedp.ByQuery),
		chromedp.Click(page.Submit, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("submit message: %w", err)
	}

	if err := b.awaitIdle(tabCtx, page.Busy); err != nil {
		return "", fmt.Errorf("wait for reply: %w", err)
	}

	var reply string
	script := fmt.Sprintf(`(() => {
		const nodes = document.querySelectorAll(%q);
		if (!nodes.length) return "";
		const last = nodes[nodes.length - 1];
		return last.innerText || last.textContent || "";
	})()`, page.Reply)
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(script, &reply)); err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

// awaitIdle polls until the busy selector leaves the DOM. The tab context's
// deadline bounds the wait.
func (b *Bridge) awaitIdle(ctx context.Context, busySel string) error {
	check := fmt.Sprintf("document.querySelector(%q) !== null", busySel)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			var busy bool
			if err := chromedp.Run(ctx, chromedp.Evaluate(check, &busy)); err != nil {
				return err
			}
			if !busy {
				// let the final tokens render
				time.Sleep(renderGrace)
				return nil
			}
		}
	}
}
