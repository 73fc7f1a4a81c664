package lua

import (
	"strings"
	"testing"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/ticketwatch/internal/ticket"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(0)
	if err != nil {
		t.Fatalf("NewState() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStateRunAndCall(t *testing.T) {
	s := newTestState(t)

	src := `
local re = require("re")
local ticket = require("ticket")

patterns = { "example%.com" }

function parse(html, url)
	if re.match(html, "(?i)sold out") then
		return { state = ticket.SOLD_OUT, details = "banner", event_name = "Gig" }
	end
	return { state = ticket.UNKNOWN }
end
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	pats, err := StringList(s.Global("patterns"))
	if err != nil {
		t.Fatalf("StringList() error: %v", err)
	}
	if len(pats) != 1 || pats[0] != "example%.com" {
		t.Errorf("patterns = %v", pats)
	}

	res, err := s.Call(s.Global("parse"), "<html>SOLD OUT</html>", "https://example.com/x")
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if res.State != ticket.StateSoldOut || res.Details != "banner" || res.EventName != "Gig" {
		t.Errorf("result = %+v", res)
	}
}

func TestCallRejectsInvalidState(t *testing.T) {
	s := newTestState(t)

	src := `
patterns = { ".*" }
function parse(html, url)
	return { state = "NOT_TARGET_EVENT" }
end
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if _, err := s.Call(s.Global("parse"), "", ""); err == nil {
		t.Error("a sixth state value should be a parse fault")
	}
}

func TestCallRejectsNonTableReturn(t *testing.T) {
	s := newTestState(t)

	if err := s.Run(`patterns = { ".*" }
function parse(html, url) return "AVAILABLE" end`); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if _, err := s.Call(s.Global("parse"), "", ""); err == nil {
		t.Error("non-table return should be a parse fault")
	}
}

func TestCallSurfacesLuaErrorAsFault(t *testing.T) {
	s := newTestState(t)

	if err := s.Run(`patterns = { ".*" }
function parse(html, url) error("boom") end`); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	_, err := s.Call(s.Global("parse"), "", "")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected the lua error to surface, got %v", err)
	}
}

func TestSandboxRemovesDangerousGlobals(t *testing.T) {
	s := newTestState(t)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "setmetatable", "rawset"} {
		if v := s.L.GetGlobal(name); v != glua.LNil {
			t.Errorf("%s should be removed, got %T", name, v)
		}
	}
}

func TestSandboxRequireWhitelist(t *testing.T) {
	s := newTestState(t)

	if err := s.Run(`local str = require("string")`); err != nil {
		t.Errorf("require(\"string\") should work: %v", err)
	}
	if err := s.Run(`local j = require("json")`); err != nil {
		t.Errorf("require(\"json\") should work: %v", err)
	}
	if err := s.Run(`local io = require("io")`); err == nil {
		t.Error("require(\"io\") should be rejected by the sandbox")
	}
	if err := s.Run(`local os = require("os")`); err == nil {
		t.Error("require(\"os\") should be rejected by the sandbox")
	}
}

func TestJSONModule(t *testing.T) {
	s := newTestState(t)

	src := `
local json = require("json")
local v = json.decode('{"offers": [{"availability": "InStock"}], "count": 2}')
decoded_availability = v.offers[1].availability
decoded_count = v.count
bad = json.decode("{nope")
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := s.Global("decoded_availability"); got.String() != "InStock" {
		t.Errorf("decoded availability = %v", got)
	}
	if got := s.Global("decoded_count"); got.String() != "2" {
		t.Errorf("decoded count = %v", got)
	}
	if got := s.Global("bad"); got != glua.LNil {
		t.Errorf("malformed JSON should decode to nil, got %v", got)
	}
}

func TestHTMLModule(t *testing.T) {
	s := newTestState(t)

	src := `
local html = require("html")
local page = [[<html><head><title>Big Gig &amp; Friends</title></head>
<body><div class="status">Sold Out</div><a class="buy" href="/buy">Buy</a></body></html>]]
page_title = html.title(page)
status = html.text(page, ".status")
buy_href = html.attr(page, "a.buy", "href")
unescaped = html.unescape("Big Gig &amp; Friends")
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := s.Global("page_title").String(); got != "Big Gig & Friends" {
		t.Errorf("title = %q", got)
	}
	if got := s.Global("status").String(); got != "Sold Out" {
		t.Errorf("status = %q", got)
	}
	if got := s.Global("buy_href").String(); got != "/buy" {
		t.Errorf("href = %q", got)
	}
	if got := s.Global("unescaped").String(); got != "Big Gig & Friends" {
		t.Errorf("unescape = %q", got)
	}
}

func TestURLModule(t *testing.T) {
	s := newTestState(t)

	src := `
local url = require("url")
local u = url.parse("https://tickets.example.com/event/123?ref=home")
host = u.host
path = u.path
ref = u.query.ref
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := s.Global("host").String(); got != "tickets.example.com" {
		t.Errorf("host = %q", got)
	}
	if got := s.Global("path").String(); got != "/event/123" {
		t.Errorf("path = %q", got)
	}
	if got := s.Global("ref").String(); got != "home" {
		t.Errorf("ref = %q", got)
	}
}

func TestReModule(t *testing.T) {
	s := newTestState(t)

	src := `
local re = require("re")
found = re.find("Price: $42.50", "\\$[0-9.]+")
all = re.find_all("a1 b2 c3", "[a-z][0-9]")
groups = re.groups("Mar 8 2026", "([A-Za-z]+) ([0-9]+) ([0-9]+)")
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := s.Global("found").String(); got != "$42.50" {
		t.Errorf("find = %q", got)
	}
	all, err := StringList(s.Global("all"))
	if err != nil || len(all) != 3 {
		t.Errorf("find_all = %v (%v)", all, err)
	}
	groups, err := StringList(s.Global("groups"))
	if err != nil || len(groups) != 3 || groups[0] != "Mar" {
		t.Errorf("groups = %v (%v)", groups, err)
	}
}

func TestReModuleSubjectNeverCompiled(t *testing.T) {
	s := newTestState(t)

	// Page text is full of regex metacharacters. It is the subject, never
	// the pattern, so none of these calls may raise.
	src := `
local re = require("re")
local page = "<body>[limited ( availability</body>"
matched = re.match(page, "(?i)sold out")
found = re.find(page, "availability")
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := s.Global("matched"); got != glua.LFalse {
		t.Errorf("match = %v, want false", got)
	}
	if got := s.Global("found").String(); got != "availability" {
		t.Errorf("find = %q", got)
	}
}

func TestTicketModuleConstants(t *testing.T) {
	s := newTestState(t)

	src := `
local ticket = require("ticket")
r = ticket.result(ticket.AVAILABLE, "on sale", "Big Gig")
`
	if err := s.Run(src); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	res, err := checkResultFromLua(s.Global("r"))
	if err != nil {
		t.Fatalf("checkResultFromLua() error: %v", err)
	}
	if res.State != ticket.StateAvailable || res.Details != "on sale" || res.EventName != "Big Gig" {
		t.Errorf("result = %+v", res)
	}
}
