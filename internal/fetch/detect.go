package fetch

import (
	"net/http"
	"strings"
)

// blockSignals are marker substrings a bot-challenge interstitial leaves in
// the returned document. Content carrying one of these is a fetch failure
// even though bytes came back: feeding a challenge page to a plugin would
// classify the event from the wrong document.
var blockSignals = []string{
	"Just a moment",
	"Attention Required",
	"cf-browser-verification",
}

// Blocked reports whether a response looks like a bot challenge rather than
// the real page.
func Blocked(statusCode int, body string) bool {
	if statusCode == http.StatusForbidden || statusCode == http.StatusServiceUnavailable {
		return true
	}
	for _, sig := range blockSignals {
		if strings.Contains(body, sig) {
			return true
		}
	}
	return false
}

// blockedTitle reports whether a rendered page title still shows a
// challenge, used by the browser tier after navigation.
func blockedTitle(title string) bool {
	return strings.Contains(title, "Just a moment") || strings.Contains(title, "Attention Required")
}
