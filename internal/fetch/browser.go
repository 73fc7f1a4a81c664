package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserFetcher is the heavy high-fidelity tier: headless Chrome via Rod
// with the stealth page setup. A browser is launched per fetch and torn down
// afterwards; this tier only runs when the HTTP tier failed, so the cost is
// paid rarely and no Chrome process lingers between cycles.
type BrowserFetcher struct {
	navTimeout  time.Duration
	settleDelay time.Duration
	logger      *slog.Logger
}

// NewBrowserFetcher creates the browser tier.
func NewBrowserFetcher(logger *slog.Logger) *BrowserFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserFetcher{
		navTimeout:  45 * time.Second,
		settleDelay: 5 * time.Second,
		logger:      logger,
	}
}

// Fetch renders the page in headless Chrome and returns its HTML. A page
// whose title still shows a bot challenge after rendering counts as blocked.
func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect chrome: %w", err)
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("create stealth page: %w", err)
	}

	page = page.Timeout(f.navTimeout)
	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	// Give client-side rendering a moment to settle.
	select {
	case <-time.After(f.settleDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	info, err := page.Info()
	if err == nil && blockedTitle(info.Title) {
		return "", fmt.Errorf("%w after rendering", ErrBlocked)
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}
