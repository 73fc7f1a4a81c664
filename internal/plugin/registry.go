package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/ticketwatch/internal/plugin/validate"
)

const sourceExt = ".lua"

// Registry stores plugin source blobs in a directory (one <name>.lua per
// plugin) and caches loaded plugins by name. Save and explicit eviction are
// the only mutations; every write path routes through Save so the cache can
// never silently diverge from storage. The registry is driven from the
// single poller goroutine and holds no locks.
type Registry struct {
	dir    string
	cache  map[string]*Plugin
	logger *slog.Logger
}

// NewRegistry creates a registry over the given plugin directory, creating
// it if needed.
func NewRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin dir: %w", err)
	}
	return &Registry{
		dir:    dir,
		cache:  make(map[string]*Plugin),
		logger: logger,
	}, nil
}

// Dir returns the storage directory.
func (r *Registry) Dir() string { return r.dir }

// Load returns the named plugin, from cache when previously loaded. A cache
// miss reads the stored source, revalidates it, executes it in a fresh
// sandbox and caches the result. Missing or unloadable source is
// ErrPluginNotFound; the polling loop treats that as skip, not fatal.
func (r *Registry) Load(name string) (*Plugin, error) {
	if p, ok := r.cache[name]; ok {
		return p, nil
	}

	source, err := os.ReadFile(r.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
		}
		return nil, fmt.Errorf("read plugin %s: %w", name, err)
	}

	// No code path may execute unvalidated source. The acquisition path
	// validated before Save, but the blob on disk could have been placed
	// or edited out-of-band, so load rechecks the static gate.
	if violations := validate.Validate(string(source)); len(violations) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrValidationFailed, name, strings.Join(violations, "; "))
	}

	p, err := newPlugin(name, string(source))
	if err != nil {
		return nil, fmt.Errorf("load plugin %s: %w", name, err)
	}

	r.cache[name] = p
	return p, nil
}

// LoadAll loads every stored plugin, sorted lexicographically by name. A
// single plugin's failure is logged and skipped; it never aborts the
// enumeration.
func (r *Registry) LoadAll() []*Plugin {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.logger.Warn("cannot enumerate plugin dir", "dir", r.dir, "error", err)
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sourceExt) || strings.HasPrefix(e.Name(), "_") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), sourceExt))
	}
	sort.Strings(names)

	plugins := make([]*Plugin, 0, len(names))
	for _, name := range names {
		p, err := r.Load(name)
		if err != nil {
			r.logger.Warn("plugin failed to load", "name", name, "error", err)
			continue
		}
		plugins = append(plugins, p)
	}
	return plugins
}

// FindForURL returns the first plugin whose pattern set matches the URL, or
// nil. Enumeration order is the lexicographic name order from LoadAll, so
// matching is deterministic.
func (r *Registry) FindForURL(url string) *Plugin {
	for _, p := range r.LoadAll() {
		if p.MatchesURL(url) {
			r.logger.Info("matched existing plugin", "name", p.Name(), "url", url)
			return p
		}
	}
	return nil
}

// Save writes plugin source to storage, overwriting any prior version, and
// unconditionally evicts the name from the cache so the next Load re-reads
// from disk. Returns the storage path.
func (r *Registry) Save(name, source string) (string, error) {
	path := r.path(name)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("save plugin %s: %w", name, err)
	}
	r.evict(name)
	r.logger.Info("saved plugin", "name", name, "path", path)
	return path, nil
}

// Reload forces eviction and loads the freshest on-disk source. Required
// right after Save so a smoke test runs the just-validated code rather than
// a stale cached unit.
func (r *Registry) Reload(name string) (*Plugin, error) {
	r.evict(name)
	return r.Load(name)
}

// Close evicts everything, releasing the cached interpreters.
func (r *Registry) Close() {
	for name := range r.cache {
		r.evict(name)
	}
}

func (r *Registry) evict(name string) {
	if p, ok := r.cache[name]; ok {
		p.close()
		delete(r.cache, name)
	}
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+sourceExt)
}
