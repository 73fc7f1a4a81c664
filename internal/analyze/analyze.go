// Package analyze turns a ticketing page into a working parser plugin. It
// prompts an AI provider with the page HTML, statically validates the
// returned Lua source, and feeds validation errors back to the model for a
// bounded number of repair rounds.
package analyze

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/ticketwatch/internal/plugin/validate"
)

// DefaultMaxRetries is the number of repair rounds after the first attempt.
const DefaultMaxRetries = 2

// Result is a generated plugin plus the model's own assessment of it.
type Result struct {
	PlatformName string
	PluginCode   string
	EventName    string
	Confidence   float64
	Notes        string
}

// Generator drives plugin generation against a single provider.
type Generator struct {
	provider   Provider
	maxRetries int
	logger     *slog.Logger
}

func NewGenerator(provider Provider, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider:   provider,
		maxRetries: DefaultMaxRetries,
		logger:     logger,
	}
}

// Generate produces a validated plugin for the page, or an error when the
// provider fails or every attempt produced invalid code. watchFor narrows
// the plugin to one event on a multi-event page; empty means whole-page.
func (g *Generator) Generate(ctx context.Context, pageURL, html, watchFor string) (*Result, error) {
	attempts := 1 + g.maxRetries
	prompt := buildGeneratePrompt(pageURL, html, watchFor)

	for attempt := 1; attempt <= attempts; attempt++ {
		g.logger.Info("calling AI provider",
			"provider", g.provider.Name(), "attempt", attempt, "of", attempts)

		raw, err := g.provider.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", g.provider.Name(), err)
		}

		obj, ok := extractJSON(raw)
		if !ok {
			g.logger.Warn("provider response was not valid JSON", "provider", g.provider.Name())
			prompt = buildFixPrompt("Response was not valid JSON", truncate(raw, 2000))
			continue
		}

		res := &Result{
			PlatformName: obj.Get("platform_name").String(),
			PluginCode:   obj.Get("plugin_code").String(),
			EventName:    obj.Get("event_name").String(),
			Confidence:   obj.Get("confidence").Float(),
			Notes:        obj.Get("notes").String(),
		}

		violations := validate.Validate(res.PluginCode)
		if len(violations) == 0 {
			g.logger.Info("plugin generated",
				"platform", res.PlatformName, "confidence", res.Confidence)
			return res, nil
		}

		g.logger.Warn("generated plugin failed validation",
			"violations", strings.Join(violations, "; "))
		prompt = buildFixPrompt(strings.Join(violations, "\n"), res.PluginCode)
	}

	return nil, fmt.Errorf("no valid plugin after %d attempts", attempts)
}

var fenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// extractJSON pulls the response object out of model output that may be
// fenced or surrounded by prose.
func extractJSON(text string) (gjson.Result, bool) {
	text = strings.TrimSpace(text)
	if gjson.Valid(text) {
		if r := gjson.Parse(text); r.IsObject() {
			return r, true
		}
	}

	if m := fenceRE.FindStringSubmatch(text); m != nil && gjson.Valid(m[1]) {
		if r := gjson.Parse(m[1]); r.IsObject() {
			return r, true
		}
	}

	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		if cand := text[i : j+1]; gjson.Valid(cand) {
			if r := gjson.Parse(cand); r.IsObject() {
				return r, true
			}
		}
	}

	return gjson.Result{}, false
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
