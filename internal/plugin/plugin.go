// Package plugin implements the registry for generated page parsers: it
// stores validated Lua source on disk, loads each blob into a sandboxed
// interpreter, matches plugins to URLs and manages the load cache. The
// registry is the second half of a two-phase gate: source reaches it only
// through validation, and load revalidates stored source.
package plugin

import (
	"fmt"
	"regexp"

	glua "github.com/yuin/gopher-lua"

	luaenv "github.com/dshills/ticketwatch/internal/plugin/lua"
	"github.com/dshills/ticketwatch/internal/plugin/validate"
	"github.com/dshills/ticketwatch/internal/ticket"
)

// Plugin is a loaded, executable page parser: a URL pattern set and a parse
// entry point bound inside a sandboxed Lua state. Plugins are owned by the
// registry cache; callers look them up per use and never hold one across a
// reload.
type Plugin struct {
	name     string
	patterns []*regexp.Regexp
	state    *luaenv.State
	parseFn  glua.LValue
}

// newPlugin executes validated source in a fresh sandboxed state and binds
// the required globals. The source must already have passed validation.
func newPlugin(name, source string) (*Plugin, error) {
	state, err := luaenv.NewState(0)
	if err != nil {
		return nil, fmt.Errorf("create lua state: %w", err)
	}

	if err := state.Run(source); err != nil {
		state.Close()
		return nil, fmt.Errorf("execute plugin chunk: %w", err)
	}

	rawPatterns, err := luaenv.StringList(state.Global(validate.GlobalPatterns))
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("%w: %v", ErrMissingSymbols, err)
	}

	parseFn := state.Global(validate.GlobalParse)
	if _, ok := parseFn.(*glua.LFunction); !ok {
		state.Close()
		return nil, fmt.Errorf("%w: %s is not a function", ErrMissingSymbols, validate.GlobalParse)
	}

	compiled := make([]*regexp.Regexp, 0, len(rawPatterns))
	for _, p := range rawPatterns {
		rx, err := regexp.Compile(p)
		if err != nil {
			state.Close()
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		compiled = append(compiled, rx)
	}

	return &Plugin{
		name:     name,
		patterns: compiled,
		state:    state,
		parseFn:  parseFn,
	}, nil
}

// Name returns the plugin's unique name.
func (p *Plugin) Name() string { return p.name }

// Patterns returns the source text of the plugin's URL patterns.
func (p *Plugin) Patterns() []string {
	out := make([]string, len(p.patterns))
	for i, rx := range p.patterns {
		out[i] = rx.String()
	}
	return out
}

// MatchesURL reports whether any pattern matches anywhere in the URL.
// Search semantics, not full-match.
func (p *Plugin) MatchesURL(url string) bool {
	for _, rx := range p.patterns {
		if rx.MatchString(url) {
			return true
		}
	}
	return false
}

// Parse runs the plugin's entry point against page content. Faults in the
// plugin come back as errors; they never crash the caller.
func (p *Plugin) Parse(html, url string) (ticket.CheckResult, error) {
	return p.state.Call(p.parseFn, html, url)
}

// close releases the plugin's interpreter. Called by the registry when the
// plugin is evicted.
func (p *Plugin) close() {
	p.state.Close()
}
