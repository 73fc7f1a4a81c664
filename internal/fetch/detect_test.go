package fetch

import "testing"

func TestBlocked(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"ok page", 200, "<html><title>Event</title></html>", false},
		{"403 with content", 403, "<html>some page</html>", true},
		{"503 with content", 503, "<html>some page</html>", true},
		{"challenge marker in 200", 200, "<html><title>Just a moment...</title></html>", true},
		{"attention required", 200, "Attention Required! | Cloudflare", true},
		{"verification marker", 200, `<div id="cf-browser-verification"></div>`, true},
		{"plain 404", 404, "not found", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Blocked(tt.status, tt.body); got != tt.want {
				t.Errorf("Blocked(%d, ...) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestBlockedTitle(t *testing.T) {
	if !blockedTitle("Just a moment...") {
		t.Error("challenge title should be blocked")
	}
	if blockedTitle("Big Gig — Tickets") {
		t.Error("real title should not be blocked")
	}
}
