package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const validLua = `local re = require("re")
local ticket = require("ticket")

patterns = {"https://tickets\\.example\\.com/.*"}

function parse(html, url)
  if re.match(html, "(?i)sold out") then
    return ticket.result(ticket.SOLD_OUT, "no tickets left")
  end
  return ticket.result(ticket.UNKNOWN)
end
`

const brokenLua = `patterns = {"https://tickets\\.example\\.com/.*"}

function parse(html, url)
  local f = io.open("/etc/passwd")
  return ticket.result(ticket.UNKNOWN)
end
`

func responseJSON(t *testing.T, code string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"platform_name": "example_tickets",
		"plugin_code":   code,
		"event_name":    "Spring Tour",
		"confidence":    0.9,
		"notes":         "looks for the sold out banner",
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// scriptedProvider replays canned responses and records the prompts it saw.
type scriptedProvider struct {
	responses []string
	err       error
	prompts   []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	i := len(p.prompts) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func TestGenerateFirstAttempt(t *testing.T) {
	p := &scriptedProvider{responses: []string{responseJSON(t, validLua)}}
	g := NewGenerator(p, nil)

	res, err := g.Generate(context.Background(), "https://tickets.example.com/e/1", "<html></html>", "")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.PlatformName != "example_tickets" {
		t.Errorf("PlatformName = %q", res.PlatformName)
	}
	if res.EventName != "Spring Tour" {
		t.Errorf("EventName = %q", res.EventName)
	}
	if res.Confidence != 0.9 {
		t.Errorf("Confidence = %v", res.Confidence)
	}
	if len(p.prompts) != 1 {
		t.Errorf("provider called %d times, want 1", len(p.prompts))
	}
}

func TestGenerateRepairsInvalidCode(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		responseJSON(t, brokenLua),
		responseJSON(t, validLua),
	}}
	g := NewGenerator(p, nil)

	res, err := g.Generate(context.Background(), "https://tickets.example.com/e/1", "<html></html>", "")
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if res.PluginCode != validLua {
		t.Error("did not adopt the repaired code")
	}
	if len(p.prompts) != 2 {
		t.Fatalf("provider called %d times, want 2", len(p.prompts))
	}
	if !strings.Contains(p.prompts[1], "forbidden call: open()") {
		t.Errorf("fix prompt missing violation, got:\n%s", p.prompts[1])
	}
	if !strings.Contains(p.prompts[1], "io.open") {
		t.Error("fix prompt missing previous code")
	}
}

func TestGenerateRepairsNonJSON(t *testing.T) {
	p := &scriptedProvider{responses: []string{
		"Sure! Here is a plugin for you.",
		responseJSON(t, validLua),
	}}
	g := NewGenerator(p, nil)

	if _, err := g.Generate(context.Background(), "https://x.test", "<html></html>", ""); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if !strings.Contains(p.prompts[1], "not valid JSON") {
		t.Error("fix prompt missing JSON complaint")
	}
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	p := &scriptedProvider{responses: []string{responseJSON(t, brokenLua)}}
	g := NewGenerator(p, nil)

	_, err := g.Generate(context.Background(), "https://x.test", "<html></html>", "")
	if err == nil {
		t.Fatal("expected error when every attempt is invalid")
	}
	if len(p.prompts) != 1+DefaultMaxRetries {
		t.Errorf("provider called %d times, want %d", len(p.prompts), 1+DefaultMaxRetries)
	}
}

func TestGenerateProviderError(t *testing.T) {
	want := errors.New("rate limited")
	p := &scriptedProvider{err: want}
	g := NewGenerator(p, nil)

	if _, err := g.Generate(context.Background(), "https://x.test", "<html></html>", ""); !errors.Is(err, want) {
		t.Errorf("error = %v, want wrapped %v", err, want)
	}
}

func TestGenerateWatchForInPrompt(t *testing.T) {
	p := &scriptedProvider{responses: []string{responseJSON(t, validLua)}}
	g := NewGenerator(p, nil)

	if _, err := g.Generate(context.Background(), "https://x.test", "<html></html>", "Spring Tour Osaka"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.prompts[0], "Spring Tour Osaka") {
		t.Error("watch target missing from prompt")
	}
}

func TestPromptDocumentsSubjectFirstRe(t *testing.T) {
	// The re host module reads the subject as argument 1 and the pattern as
	// argument 2. The prompt must document that same order, or generated
	// plugins compile page HTML as a regex and fault on every real page.
	prompt := buildGeneratePrompt("https://x.test", "<html></html>", "")
	for _, sig := range []string{
		"re.match(s, pattern)",
		"re.find(s, pattern)",
		"re.find_all(s, pattern)",
		"re.groups(s, pattern)",
	} {
		if !strings.Contains(prompt, sig) {
			t.Errorf("prompt missing %q", sig)
		}
	}
	for _, wrong := range []string{
		"re.match(pattern, s)",
		"re.find(pattern, s)",
		"re.find_all(pattern, s)",
		"re.groups(pattern, s)",
	} {
		if strings.Contains(prompt, wrong) {
			t.Errorf("prompt documents pattern-first signature %q", wrong)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"bare object", `{"plugin_code": "x"}`, true},
		{"fenced json", "```json\n{\"plugin_code\": \"x\"}\n```", true},
		{"fenced no lang", "```\n{\"plugin_code\": \"x\"}\n```", true},
		{"embedded in prose", `Here you go: {"plugin_code": "x"} hope it helps`, true},
		{"prose only", "I could not generate a plugin.", false},
		{"bare array", `[1, 2, 3]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := extractJSON(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && obj.Get("plugin_code").String() != "x" {
				t.Errorf("plugin_code = %q", obj.Get("plugin_code").String())
			}
		})
	}
}

func TestStripNoise(t *testing.T) {
	in := `<html><head><script>var x = 1;</script><style>.a{}</style></head>` +
		`<body><h1>Spring Tour</h1><svg><path d="M0 0"/></svg><p>Buy now</p></body></html>`
	out := StripNoise(in)
	for _, gone := range []string{"var x = 1", ".a{}", "M0 0"} {
		if strings.Contains(out, gone) {
			t.Errorf("noise %q survived", gone)
		}
	}
	for _, kept := range []string{"Spring Tour", "Buy now"} {
		if !strings.Contains(out, kept) {
			t.Errorf("content %q stripped", kept)
		}
	}
}
