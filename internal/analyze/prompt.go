package analyze

import "fmt"

// maxPromptHTML bounds the HTML sent in a prompt so it fits the model's
// context window.
const maxPromptHTML = 500_000

const generatePrompt = `You are a plugin generator for a universal ticket monitoring system.

Given the HTML of a ticketing page and its URL, generate a Lua plugin that parses the page to determine ticket availability.

The plugin MUST define exactly these two globals:

1. patterns = {...}  -- a list of Go regular expression strings (RE2 syntax) that match URLs for this platform

2. function parse(html, url) ... end
   CRITICAL: parse MUST accept exactly two arguments, html and url, both strings, and MUST return a table built with ticket.result.

Available modules (ONLY these may be required):
- string, table, math (standard Lua)
- re: re.match(s, pattern) -> bool, re.find(s, pattern) -> string|nil, re.find_all(s, pattern) -> list, re.groups(s, pattern) -> list|nil (subject string first, pattern second, like Lua's string.match)
- json: json.decode(s), json.encode(v)
- html: html.title(doc), html.text(doc), html.text(doc, selector), html.select(doc, selector) -> list, html.attr(doc, selector, name), html.unescape(s)
- url: url.parse(s) -> table, url.host(s)
- ticket: state constants and the result constructor

The ONLY valid states are:
- ticket.UNKNOWN
- ticket.NOT_AVAILABLE
- ticket.COMING_SOON
- ticket.AVAILABLE
- ticket.SOLD_OUT
Do NOT use any other state. There is no NOT_TARGET_EVENT or any other value.

ticket.result(state, details, event_name) builds the return value:
- state: one of the constants above (required)
- details: human-readable summary string (optional)
- event_name: name of the event (optional)

Example of correct usage:
  return ticket.result(ticket.AVAILABLE, "Tickets on sale", "Concert Name")

Guidelines:
- Look for booking buttons, "sold out" text, "coming soon" text, price listings, etc.
- Be defensive: if parsing fails, return ticket.result(ticket.UNKNOWN)
- patterns should match the domain broadly (not just this specific URL); escape literal dots as \.
- Do NOT require io, os, or any module not listed above
- Do NOT use load, loadstring, dofile, or other dangerous functions
%s
Respond with a JSON object (no markdown fencing):
{
  "platform_name": "short_snake_case_name",
  "plugin_code": "full Lua source code",
  "event_name": "name of the event from the page",
  "confidence": 0.0-1.0,
  "notes": "brief explanation of parsing strategy"
}

URL: %s

HTML (truncated):
%s
`

const fixPrompt = "The plugin code you generated has validation errors. Please fix them and respond with the same JSON format.\n" +
	"\n" +
	"Errors:\n" +
	"%s\n" +
	"\n" +
	"Previous code:\n" +
	"```lua\n" +
	"%s\n" +
	"```\n" +
	"\n" +
	"Respond with the same JSON format as before (no markdown fencing):\n" +
	"{\n" +
	"  \"platform_name\": \"...\",\n" +
	"  \"plugin_code\": \"fixed Lua source code\",\n" +
	"  \"event_name\": \"...\",\n" +
	"  \"confidence\": 0.0-1.0,\n" +
	"  \"notes\": \"...\"\n" +
	"}\n"

// watchBlock steers the plugin at a single event on a multi-event page.
func watchBlock(watchFor string) string {
	if watchFor == "" {
		return ""
	}
	return fmt.Sprintf("\nIMPORTANT: the user is specifically watching for: %s\n"+
		"The plugin must specifically track THIS event/item. The page may list many events.\n"+
		"- If the specific event is NOT found on the page, return ticket.NOT_AVAILABLE\n"+
		"- If found but marked 'coming soon' or 'notify me', return ticket.COMING_SOON\n"+
		"- If found and bookable, return ticket.AVAILABLE\n"+
		"- If found but sold out, return ticket.SOLD_OUT\n"+
		"- Include the matching event details in the details field\n", watchFor)
}

func buildGeneratePrompt(pageURL, html, watchFor string) string {
	if len(html) > maxPromptHTML {
		html = html[:maxPromptHTML]
	}
	return fmt.Sprintf(generatePrompt, watchBlock(watchFor), pageURL, html)
}

func buildFixPrompt(errs, code string) string {
	return fmt.Sprintf(fixPrompt, errs, code)
}
