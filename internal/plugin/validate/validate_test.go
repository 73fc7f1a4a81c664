package validate

import (
	"strings"
	"testing"
)

const goodPlugin = `
local re = require("re")
local ticket = require("ticket")

patterns = { "https?://(.+%.)?example%.com/.*" }

function parse(html, url)
	if re.match(html, "(?i)sold out") then
		return { state = ticket.SOLD_OUT, details = "sold out banner" }
	end
	if re.match(html, "(?i)book now") then
		return { state = ticket.AVAILABLE, details = "booking button present" }
	end
	return { state = ticket.UNKNOWN }
end
`

func TestValidateAcceptsGoodPlugin(t *testing.T) {
	violations := Validate(goodPlugin)
	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	first := Validate(goodPlugin)
	second := Validate(goodPlugin)
	if len(first) != len(second) {
		t.Errorf("validation not idempotent: %v vs %v", first, second)
	}
}

func TestValidateSyntaxError(t *testing.T) {
	violations := Validate("function parse(html, url) return { end")
	if len(violations) != 1 {
		t.Fatalf("expected exactly one violation for unparsable source, got %v", violations)
	}
	if !strings.Contains(violations[0], "syntax error") {
		t.Errorf("violation should describe the parse error, got %q", violations[0])
	}
}

func TestValidateForbiddenRequire(t *testing.T) {
	src := `
local io = require("io")
patterns = { ".*" }
function parse(html, url) return { state = "UNKNOWN" } end
`
	violations := Validate(src)
	if len(violations) == 0 {
		t.Fatal("expected violations for require(\"io\")")
	}
	if !strings.Contains(violations[0], "require") {
		t.Errorf("violation should mention the require, got %q", violations[0])
	}
}

func TestValidateAllowsSubmodulesOfAllowedNamespace(t *testing.T) {
	src := `
local ent = require("html.entities")
patterns = { ".*" }
function parse(html, url) return { state = "UNKNOWN" } end
`
	if violations := Validate(src); len(violations) != 0 {
		t.Errorf("html.entities should be admitted by the html namespace, got %v", violations)
	}
}

func TestValidateDynamicRequire(t *testing.T) {
	src := `
local name = "i" .. "o"
local mod = require(name)
patterns = { ".*" }
function parse(html, url) return { state = "UNKNOWN" } end
`
	violations := Validate(src)
	if len(violations) != 1 || !strings.Contains(violations[0], "dynamic require") {
		t.Errorf("computed require target should be rejected, got %v", violations)
	}
}

func TestValidateForbiddenCalls(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"load", `patterns = { ".*" }
function parse(html, url)
	local f = load("return 1")
	return { state = "UNKNOWN" }
end`},
		{"attribute open", `patterns = { ".*" }
function parse(html, url)
	local f = io.open("/etc/passwd")
	return { state = "UNKNOWN" }
end`},
		{"setmetatable", `patterns = { ".*" }
function parse(html, url)
	setmetatable({}, {})
	return { state = "UNKNOWN" }
end`},
		{"rawget in nested block", `patterns = { ".*" }
function parse(html, url)
	for i = 1, 10 do
		if i > 5 then
			rawget(_G, "os")
		end
	end
	return { state = "UNKNOWN" }
end`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := Validate(tt.src)
			if len(violations) == 0 {
				t.Fatal("expected a forbidden call violation")
			}
			if !strings.Contains(violations[0], "forbidden call") {
				t.Errorf("got %q", violations[0])
			}
		})
	}
}

func TestValidateMissingPatterns(t *testing.T) {
	src := `function parse(html, url) return { state = "UNKNOWN" } end`
	violations := Validate(src)
	if len(violations) != 1 || !strings.Contains(violations[0], GlobalPatterns) {
		t.Errorf("expected exactly the missing patterns violation, got %v", violations)
	}
}

func TestValidateMissingParse(t *testing.T) {
	src := `patterns = { ".*" }`
	violations := Validate(src)
	if len(violations) != 1 || !strings.Contains(violations[0], GlobalParse) {
		t.Errorf("expected exactly the missing parse violation, got %v", violations)
	}
}

func TestValidateBothRequiredSymbolsMissing(t *testing.T) {
	violations := Validate(`local x = 1`)
	if len(violations) != 2 {
		t.Fatalf("both omissions should be flagged, got %v", violations)
	}
}

func TestValidateLocalBindingsDoNotSatisfyRequirements(t *testing.T) {
	// The registry reads globals after executing the chunk, so local
	// bindings must not pass the gate.
	src := `
local patterns = { ".*" }
local function parse(html, url) return { state = "UNKNOWN" } end
`
	violations := Validate(src)
	if len(violations) != 2 {
		t.Errorf("local bindings should not count, got %v", violations)
	}
}

func TestValidateParseAssignedFunction(t *testing.T) {
	src := `
patterns = { ".*" }
parse = function(html, url) return { state = "UNKNOWN" } end
`
	if violations := Validate(src); len(violations) != 0 {
		t.Errorf("parse = function(...) should satisfy the entry point, got %v", violations)
	}
}

func TestValidateForbiddenCallInsideTableConstructor(t *testing.T) {
	src := `
patterns = { ".*" }
function parse(html, url)
	local t = { f = loadstring("return 1") }
	return { state = "UNKNOWN" }
end
`
	violations := Validate(src)
	if len(violations) != 1 || !strings.Contains(violations[0], "loadstring") {
		t.Errorf("call targets inside table constructors should be found, got %v", violations)
	}
}
