// Package monitor runs the polling loop: fetch each watched page, parse it
// with its plugin, persist the state, and notify on transitions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/dshills/ticketwatch/internal/ticket"
	"github.com/dshills/ticketwatch/internal/watchlist"
)

// ErrEmptyWatchlist is returned by Run when there is nothing to watch at
// startup.
var ErrEmptyWatchlist = errors.New("watchlist is empty")

// Fetcher retrieves page HTML and reports which tier served it.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, allowNon200 bool) (html, tier string, err error)
}

// Store is the watchlist persistence the loop needs.
type Store interface {
	ListAll(ctx context.Context) ([]watchlist.Entry, error)
	UpdateState(ctx context.Context, url, state string, resetFailures bool) error
	IncrementFailures(ctx context.Context, url string) (int, error)
}

// Plugin parses one platform's pages.
type Plugin interface {
	Name() string
	Parse(html, pageURL string) (ticket.CheckResult, error)
}

// Registry resolves plugins by name.
type Registry interface {
	Load(name string) (Plugin, error)
}

// Notifier delivers alerts. Remote is the durable channel (Telegram); Local
// is the best-effort desktop popup.
type Notifier interface {
	Remote(ctx context.Context, message string) bool
	Local(title, message string)
}

// Options tune the poll cadence and the advisory backoff. Zero values take
// the defaults (60s interval, factor 2, 10m cap).
type Options struct {
	Interval      time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
}

type Monitor struct {
	store    Store
	registry Registry
	fetcher  Fetcher
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	// last notified state per URL; only rewritten on change
	prev map[string]ticket.State
}

func New(store Store, registry Registry, fetcher Fetcher, notifier Notifier, opts Options, logger *slog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.BackoffFactor <= 1 {
		opts.BackoffFactor = 2
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:    store,
		registry: registry,
		fetcher:  fetcher,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		prev:     make(map[string]ticket.State),
	}
}

// Run polls until ctx is cancelled. The watchlist is re-read every cycle so
// entries added or removed from another terminal take effect live.
func (m *Monitor) Run(ctx context.Context) error {
	entries, err := m.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("read watchlist: %w", err)
	}
	if len(entries) == 0 {
		return ErrEmptyWatchlist
	}

	for _, e := range entries {
		m.prev[e.URL] = ticket.State(e.LastState)
	}

	m.logger.Info("monitor started",
		"urls", len(entries), "interval", m.opts.Interval)
	m.announceStart(ctx, entries)

	start := time.Now()
	cycles := 0

	for ctx.Err() == nil {
		entries, err := m.store.ListAll(ctx)
		if err != nil {
			m.logger.Error("read watchlist", "error", err)
			if !m.sleep(ctx) {
				break
			}
			continue
		}
		if len(entries) == 0 {
			m.logger.Info("watchlist empty, sleeping")
			if !m.sleep(ctx) {
				break
			}
			continue
		}

		cycles++
		for _, entry := range entries {
			if ctx.Err() != nil {
				break
			}
			m.check(ctx, cycles, entry)
		}

		if !m.sleep(ctx) {
			break
		}
	}

	m.logger.Info("monitor stopped",
		"cycles", cycles, "uptime", time.Since(start).Round(time.Second))
	return nil
}

// check runs one entry through fetch, parse, persist, notify.
func (m *Monitor) check(ctx context.Context, cycle int, entry watchlist.Entry) {
	p, err := m.registry.Load(entry.PluginName)
	if err != nil {
		m.logger.Warn("plugin not available, skipping",
			"plugin", entry.PluginName, "url", entry.URL, "error", err)
		return
	}

	html, tier, err := m.fetcher.Fetch(ctx, entry.URL, false)
	if err != nil {
		failures, ierr := m.store.IncrementFailures(ctx, entry.URL)
		if ierr != nil {
			m.logger.Error("record fetch failure", "url", entry.URL, "error", ierr)
			return
		}
		m.logger.Warn("fetch failed",
			"cycle", cycle, "url", entry.URL, "tier", tier,
			"failures", failures, "backoff", m.backoff(failures), "error", err)
		return
	}

	res, err := p.Parse(html, entry.URL)
	if err != nil {
		m.logger.Error("plugin parse fault",
			"plugin", entry.PluginName, "url", entry.URL, "error", err)
		if uerr := m.store.UpdateState(ctx, entry.URL, string(ticket.StateUnknown), false); uerr != nil {
			m.logger.Error("record parse fault", "url", entry.URL, "error", uerr)
		}
		return
	}

	if err := m.store.UpdateState(ctx, entry.URL, string(res.State), true); err != nil {
		m.logger.Error("record state", "url", entry.URL, "error", err)
		return
	}

	m.logger.Info("checked",
		"cycle", cycle, "url", entry.URL, "state", res.State,
		"tier", tier, "details", res.Details)

	prev, ok := m.prev[entry.URL]
	if !ok {
		prev = ticket.StateUnknown
	}
	if res.State != prev {
		m.notifyChange(ctx, entry.URL, prev, res)
		m.prev[entry.URL] = res.State
	}
}

// backoff is advisory: it names how stale the entry is allowed to get, the
// loop cadence itself never changes.
func (m *Monitor) backoff(failures int) time.Duration {
	d := time.Duration(float64(m.opts.Interval) * math.Pow(m.opts.BackoffFactor, float64(failures)))
	if d > m.opts.MaxBackoff || d < 0 {
		d = m.opts.MaxBackoff
	}
	return d
}

func (m *Monitor) notifyChange(ctx context.Context, url string, prev ticket.State, res ticket.CheckResult) {
	event := res.EventName
	if event == "" {
		event = url
	}
	m.logger.Info("state changed", "url", url, "from", prev, "to", res.State)

	switch {
	case res.State == ticket.StateAvailable:
		msg := fmt.Sprintf("*TICKETS AVAILABLE!*\n\n%s\n[BOOK NOW](%s)\n\n%s", event, url, res.Details)
		m.notifier.Remote(ctx, msg)
		m.notifier.Local("TICKETS AVAILABLE!", event)
	case res.State == ticket.StateComingSoon && prev == ticket.StateNotAvailable:
		msg := fmt.Sprintf("*Event now listed!*\n\nStatus: Coming Soon\n%s\n%s\n\n[View page](%s)", event, res.Details, url)
		m.notifier.Remote(ctx, msg)
		m.notifier.Local("Event Listed!", event+" — Coming Soon")
	case res.State == ticket.StateSoldOut:
		m.notifier.Remote(ctx, fmt.Sprintf("*Sold Out*\n%s\n%s", event, res.Details))
	default:
		m.notifier.Remote(ctx, fmt.Sprintf("State changed: %s -> %s\n%s\n%s", prev, res.State, event, res.Details))
	}
}

func (m *Monitor) announceStart(ctx context.Context, entries []watchlist.Entry) {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s\n", e.URL)
	}
	m.notifier.Remote(ctx, fmt.Sprintf("*Monitor Started*\nWatching %d URLs:\n%sPolling every %s",
		len(entries), sb.String(), m.opts.Interval))
}

func (m *Monitor) sleep(ctx context.Context) bool {
	t := time.NewTimer(m.opts.Interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
