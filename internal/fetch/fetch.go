// Package fetch acquires live page content through a tiered fallback chain:
// a fast HTTP GET first, headless Chrome only when that fails. Both tiers
// recognize bot-challenge interstitials as failures even when bytes were
// returned, so a challenge page never reaches a plugin as if it were the
// event page.
package fetch

import (
	"context"
	"log/slog"
)

// Tier labels reported alongside fetch results.
const (
	TierHTTP    = "http"
	TierBrowser = "browser"
	TierFailed  = "failed"
)

// Tiered chains the HTTP tier and the browser tier.
type Tiered struct {
	http    *HTTPFetcher
	browser *BrowserFetcher
	logger  *slog.Logger
}

// NewTiered creates the standard two-tier fetcher.
func NewTiered(logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{
		http:    NewHTTPFetcher(logger),
		browser: NewBrowserFetcher(logger),
		logger:  logger,
	}
}

// Fetch returns the page content and the tier that produced it. allowNon200
// requests best-effort content from the HTTP tier for the plugin-generation
// path; the poller always passes false.
func (t *Tiered) Fetch(ctx context.Context, pageURL string, allowNon200 bool) (string, string, error) {
	html, err := t.http.Fetch(ctx, pageURL, allowNon200)
	if err == nil {
		return html, TierHTTP, nil
	}

	t.logger.Info("http tier failed, falling back to browser", "url", pageURL, "error", err)

	html, berr := t.browser.Fetch(ctx, pageURL)
	if berr == nil {
		return html, TierBrowser, nil
	}

	t.logger.Warn("browser tier failed", "url", pageURL, "error", berr)
	return "", TierFailed, berr
}
