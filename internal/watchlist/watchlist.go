// Package watchlist persists watch targets in SQLite. Entries are keyed by
// URL; the poller mutates last_state, last_check and consecutive_failures on
// every cycle and re-reads the full list at the top of each cycle, so adds
// and removes from another process take effect without a restart.
package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS watchlist (
	url         TEXT PRIMARY KEY,
	plugin_name TEXT NOT NULL,
	event_name  TEXT NOT NULL DEFAULT '',
	added_at    TEXT NOT NULL,
	last_state  TEXT NOT NULL DEFAULT 'UNKNOWN',
	last_check  TEXT NOT NULL DEFAULT '',
	consecutive_failures INTEGER NOT NULL DEFAULT 0
);
`

// Entry is one persisted watch target.
type Entry struct {
	URL                 string
	PluginName          string
	EventName           string
	AddedAt             string
	LastState           string
	LastCheck           string
	ConsecutiveFailures int
}

// ErrNotFound is returned when no entry exists for a URL.
var ErrNotFound = errors.New("watchlist entry not found")

// Store is the SQLite-backed watchlist.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the watchlist database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open watchlist db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create watchlist schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a watch target, or updates its plugin and event name when the
// URL is already watched.
func (s *Store) Add(ctx context.Context, url, pluginName, eventName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (url, plugin_name, event_name, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET plugin_name = excluded.plugin_name, event_name = excluded.event_name
	`, url, pluginName, eventName, now())
	if err != nil {
		return fmt.Errorf("add watchlist entry: %w", err)
	}
	return nil
}

// Remove deletes a watch target. Returns true when it existed.
func (s *Store) Remove(ctx context.Context, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM watchlist WHERE url = ?", url)
	if err != nil {
		return false, fmt.Errorf("remove watchlist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns a single entry by URL, or ErrNotFound.
func (s *Store) Get(ctx context.Context, url string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectCols+" WHERE url = ?", url)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return e, err
}

// ListAll returns every watched entry in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+" ORDER BY added_at")
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateState records the last observed state and check time for a URL.
// resetFailures clears the consecutive failure counter; the poller passes
// false for a parse fault so a crashing plugin does not erase the
// backoff-relevant accounting.
func (s *Store) UpdateState(ctx context.Context, url, state string, resetFailures bool) error {
	var err error
	if resetFailures {
		_, err = s.db.ExecContext(ctx,
			"UPDATE watchlist SET last_state = ?, last_check = ?, consecutive_failures = 0 WHERE url = ?",
			state, now(), url)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE watchlist SET last_state = ?, last_check = ? WHERE url = ?",
			state, now(), url)
	}
	if err != nil {
		return fmt.Errorf("update watchlist state: %w", err)
	}
	return nil
}

// IncrementFailures bumps the consecutive failure counter and returns the
// new count.
func (s *Store) IncrementFailures(ctx context.Context, url string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		"UPDATE watchlist SET consecutive_failures = consecutive_failures + 1 WHERE url = ?", url)
	if err != nil {
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		"SELECT consecutive_failures FROM watchlist WHERE url = ?", url).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

const selectCols = "SELECT url, plugin_name, event_name, added_at, last_state, last_check, consecutive_failures FROM watchlist"

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	err := row.Scan(&e.URL, &e.PluginName, &e.EventName, &e.AddedAt, &e.LastState, &e.LastCheck, &e.ConsecutiveFailures)
	return e, err
}

// now returns the current UTC time in RFC 3339, the storage format for all
// watchlist timestamps.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
