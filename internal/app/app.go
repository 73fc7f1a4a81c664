// Package app wires configuration, storage, plugins, fetching and
// notifications into the ticketwatch commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/ticketwatch/internal/analyze"
	"github.com/dshills/ticketwatch/internal/config"
	"github.com/dshills/ticketwatch/internal/fetch"
	"github.com/dshills/ticketwatch/internal/monitor"
	"github.com/dshills/ticketwatch/internal/notify"
	"github.com/dshills/ticketwatch/internal/plugin"
	"github.com/dshills/ticketwatch/internal/watchlist"
)

// ErrEmptyWatchlist mirrors the monitor sentinel so main only imports app.
var ErrEmptyWatchlist = monitor.ErrEmptyWatchlist

// Options come from the command line.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFile    string
}

// generateFunc produces a validated plugin for a page. Swappable so command
// tests run without a live provider.
type generateFunc func(ctx context.Context, pageURL, html, watchFor string) (*analyze.Result, error)

type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *watchlist.Store
	registry *plugin.Registry
	fetcher  monitor.Fetcher
	generate generateFunc
	telegram *notify.Telegram
	desktop  *notify.Desktop
	closeLog func()
}

func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, closeLog := newLogger(level, opts.LogFile)

	store, err := watchlist.Open(cfg.Paths.DBPath)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open watchlist: %w", err)
	}

	registry, err := plugin.NewRegistry(cfg.Paths.PluginsDir, logger)
	if err != nil {
		store.Close()
		closeLog()
		return nil, fmt.Errorf("open plugin registry: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		fetcher:  fetch.NewTiered(logger),
		telegram: notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger),
		desktop:  notify.NewDesktop(logger),
		closeLog: closeLog,
	}
	// Provider construction is deferred to first use so only the add
	// command needs an API key.
	a.generate = func(ctx context.Context, pageURL, html, watchFor string) (*analyze.Result, error) {
		provider, err := analyze.NewProvider(cfg.AI.Provider, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			return nil, err
		}
		return analyze.NewGenerator(provider, logger).Generate(ctx, pageURL, html, watchFor)
	}
	return a, nil
}

func (a *App) Close() {
	a.registry.Close()
	a.store.Close()
	a.closeLog()
}

// Add puts a URL on the watchlist, generating a plugin when no existing one
// matches. A non-empty watchFor always generates a fresh plugin tailored to
// that event.
func (a *App) Add(ctx context.Context, url, watchFor string) error {
	existing, err := a.store.Get(ctx, url)
	switch {
	case err == nil:
		fmt.Printf("Already watching: %s (plugin: %s)\n", url, existing.PluginName)
		return nil
	case !errors.Is(err, watchlist.ErrNotFound):
		return err
	}

	if watchFor == "" {
		if p := a.registry.FindForURL(url); p != nil {
			fmt.Printf("Matched existing plugin: %s\n", p.Name())
			if html, _, ferr := a.fetcher.Fetch(ctx, url, false); ferr == nil {
				a.smokeTest(p, url, html)
			}
			if err := a.store.Add(ctx, url, p.Name(), ""); err != nil {
				return err
			}
			fmt.Printf("Added to watchlist with plugin '%s'\n", p.Name())
			return nil
		}
		fmt.Printf("No existing plugin matches %s\n", url)
	} else {
		fmt.Printf("Watching for: %s\n", watchFor)
	}
	fmt.Println("Fetching page...")

	html, tier, err := a.fetcher.Fetch(ctx, url, true)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	fmt.Printf("Fetched via %s (%d bytes)\n", tier, len(html))
	fmt.Println("Generating plugin with AI...")

	res, err := a.generate(ctx, url, analyze.StripNoise(html), watchFor)
	if err != nil {
		return fmt.Errorf("generate plugin: %w", err)
	}

	fmt.Printf("Generated plugin: %s (confidence: %.2f)\n", res.PlatformName, res.Confidence)
	if res.Notes != "" {
		fmt.Printf("Strategy: %s\n", res.Notes)
	}

	if _, err := a.registry.Save(res.PlatformName, res.PluginCode); err != nil {
		return fmt.Errorf("save plugin: %w", err)
	}
	p, err := a.registry.Reload(res.PlatformName)
	if err != nil {
		return fmt.Errorf("generated plugin failed to load after saving: %w", err)
	}
	a.smokeTest(p, url, html)

	if err := a.store.Add(ctx, url, res.PlatformName, res.EventName); err != nil {
		return err
	}
	fmt.Printf("Added to watchlist: %s\n", url)
	return nil
}

// smokeTest parses already-fetched page HTML so a broken plugin is visible
// at add time rather than on the first poll.
func (a *App) smokeTest(p *plugin.Plugin, url, html string) {
	res, err := p.Parse(html, url)
	if err != nil {
		fmt.Printf("Warning: plugin parse failed on smoke test: %v\n", err)
		fmt.Println("Plugin saved but may need manual fixing.")
		return
	}
	fmt.Printf("Smoke test: %s — %s\n", res.State, res.Details)
}

func (a *App) List(ctx context.Context) error {
	entries, err := a.store.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Watchlist is empty. Use 'ticketwatch add <url>' to add a URL.")
		return nil
	}

	fmt.Printf("%-70s %-20s %-15s %s\n", "URL", "Plugin", "State", "Last Check")
	fmt.Println(strings.Repeat("-", 130))
	for _, e := range entries {
		lastCheck := "never"
		if e.LastCheck != "" {
			lastCheck = e.LastCheck
			if len(lastCheck) > 19 {
				lastCheck = lastCheck[:19]
			}
		}
		fmt.Printf("%-70s %-20s %-15s %s\n", e.URL, e.PluginName, e.LastState, lastCheck)
	}
	return nil
}

func (a *App) Remove(ctx context.Context, url string) error {
	removed, err := a.store.Remove(ctx, url)
	if err != nil {
		return err
	}
	if removed {
		fmt.Printf("Removed: %s\n", url)
	} else {
		fmt.Printf("Not found in watchlist: %s\n", url)
	}
	return nil
}

// Run starts the polling loop and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	m := monitor.New(a.store,
		registryAdapter{a.registry},
		a.fetcher,
		notifierAdapter{telegram: a.telegram, desktop: a.desktop},
		monitor.Options{
			Interval:      a.cfg.Poll.Interval.Std(),
			BackoffFactor: a.cfg.Poll.BackoffFactor,
			MaxBackoff:    a.cfg.Poll.MaxBackoff.Std(),
		},
		a.logger)
	return m.Run(ctx)
}

type registryAdapter struct {
	r *plugin.Registry
}

func (a registryAdapter) Load(name string) (monitor.Plugin, error) {
	return a.r.Load(name)
}

type notifierAdapter struct {
	telegram *notify.Telegram
	desktop  *notify.Desktop
}

func (n notifierAdapter) Remote(ctx context.Context, msg string) bool {
	return n.telegram.Send(ctx, msg)
}

func (n notifierAdapter) Local(title, msg string) {
	n.desktop.Send(title, msg)
}
