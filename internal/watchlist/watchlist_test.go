package watchlist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "watchlist.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddGetRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "https://tickets.example/e/1", "ticketsite", "Big Gig"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	e, err := s.Get(ctx, "https://tickets.example/e/1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if e.PluginName != "ticketsite" || e.EventName != "Big Gig" {
		t.Errorf("entry = %+v", e)
	}
	if e.LastState != "UNKNOWN" {
		t.Errorf("new entry should start UNKNOWN, got %q", e.LastState)
	}
	if e.AddedAt == "" {
		t.Error("added_at should be stamped")
	}

	ok, err := s.Remove(ctx, "https://tickets.example/e/1")
	if err != nil || !ok {
		t.Fatalf("Remove() = %v, %v", ok, err)
	}
	if ok, _ := s.Remove(ctx, "https://tickets.example/e/1"); ok {
		t.Error("second Remove should report not found")
	}
	if _, err := s.Get(ctx, "https://tickets.example/e/1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove = %v, want ErrNotFound", err)
	}
}

func TestAddUpsertsExistingURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "https://tickets.example/e/1", "old_plugin", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "https://tickets.example/e/1", "new_plugin", "Renamed"); err != nil {
		t.Fatal(err)
	}

	e, err := s.Get(ctx, "https://tickets.example/e/1")
	if err != nil {
		t.Fatal(err)
	}
	if e.PluginName != "new_plugin" || e.EventName != "Renamed" {
		t.Errorf("upsert should update plugin and event, got %+v", e)
	}

	entries, err := s.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("upsert should not duplicate, got %d entries", len(entries))
	}
}

func TestUpdateStateResetsFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url := "https://tickets.example/e/2"

	if err := s.Add(ctx, url, "p", ""); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		n, err := s.IncrementFailures(ctx, url)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Errorf("IncrementFailures #%d = %d", i, n)
		}
	}

	// Parse fault: state recorded, counter untouched.
	if err := s.UpdateState(ctx, url, "UNKNOWN", false); err != nil {
		t.Fatal(err)
	}
	e, _ := s.Get(ctx, url)
	if e.ConsecutiveFailures != 3 {
		t.Errorf("failures should survive a non-reset update, got %d", e.ConsecutiveFailures)
	}
	if e.LastState != "UNKNOWN" || e.LastCheck == "" {
		t.Errorf("entry = %+v", e)
	}

	// Successful parse: counter cleared.
	if err := s.UpdateState(ctx, url, "AVAILABLE", true); err != nil {
		t.Fatal(err)
	}
	e, _ = s.Get(ctx, url)
	if e.ConsecutiveFailures != 0 || e.LastState != "AVAILABLE" {
		t.Errorf("entry = %+v", e)
	}
}

func TestIncrementFailuresUnknownURL(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.IncrementFailures(context.Background(), "https://nope.example/"); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementFailures on missing URL = %v, want ErrNotFound", err)
	}
}
