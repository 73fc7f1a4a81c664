package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// ErrBlocked marks a response recognized as a bot challenge.
var ErrBlocked = errors.New("blocked by bot challenge")

// HTTPFetcher is the fast low-fidelity tier: a plain GET with browser-like
// headers. It covers most static pages; anything it cannot get through
// falls to the browser tier.
type HTTPFetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPFetcher creates the HTTP tier.
func NewHTTPFetcher(logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: 20 * time.Second},
		logger: logger,
	}
}

// Fetch GETs a page. A recognized block is ErrBlocked and is not retried at
// this tier; transient transport errors are retried briefly. With
// allowNon200, a non-200 response that still carries substantial content is
// returned best-effort for the plugin-generation path.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string, allowNon200 bool) (string, error) {
	var html string

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			setBrowserHeaders(req)

			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			// Cap the read so a runaway page cannot exhaust memory.
			body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			text := string(body)

			if Blocked(resp.StatusCode, text) {
				f.logger.Warn("bot challenge at http tier", "url", pageURL, "status", resp.StatusCode)
				return retry.Unrecoverable(fmt.Errorf("%w (HTTP %d)", ErrBlocked, resp.StatusCode))
			}

			if resp.StatusCode != http.StatusOK {
				if allowNon200 && len(text) > 1000 {
					f.logger.Info("accepting non-200 content", "url", pageURL, "status", resp.StatusCode, "bytes", len(text))
					html = text
					return nil
				}
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			html = text
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Info("retrying http fetch", "url", pageURL, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
}
