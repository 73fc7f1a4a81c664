package lua

import (
	"encoding/json"
	"fmt"
	stdhtml "html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/ticketwatch/internal/ticket"
)

// PreloadHostModules registers the host capability modules a plugin may
// require: regex matching, JSON decoding, markup queries, URL parsing and
// the shared contract types. Together with the sandbox these define the
// complete capability surface of generated code.
func PreloadHostModules(L *lua.LState) {
	L.PreloadModule("re", reLoader())
	L.PreloadModule("json", jsonLoader)
	L.PreloadModule("html", htmlLoader)
	L.PreloadModule("url", urlLoader)
	L.PreloadModule("ticket", ticketLoader)
}

// reLoader exposes Go's regexp package (RE2 syntax). Patterns are compiled
// lazily and cached per state. A bad pattern raises, which a protected parse
// call surfaces as a parse fault.
func reLoader() lua.LGFunction {
	cache := make(map[string]*regexp.Regexp)

	compile := func(L *lua.LState, pattern string) *regexp.Regexp {
		if rx, ok := cache[pattern]; ok {
			return rx
		}
		rx, err := regexp.Compile(pattern)
		if err != nil {
			L.RaiseError("re: %v", err)
			return nil
		}
		cache[pattern] = rx
		return rx
	}

	return func(L *lua.LState) int {
		mod := L.NewTable()

		L.SetField(mod, "match", L.NewFunction(func(L *lua.LState) int {
			s := L.CheckString(1)
			rx := compile(L, L.CheckString(2))
			L.Push(lua.LBool(rx.MatchString(s)))
			return 1
		}))

		L.SetField(mod, "find", L.NewFunction(func(L *lua.LState) int {
			s := L.CheckString(1)
			rx := compile(L, L.CheckString(2))
			m := rx.FindString(s)
			if m == "" && !rx.MatchString(s) {
				L.Push(lua.LNil)
			} else {
				L.Push(lua.LString(m))
			}
			return 1
		}))

		L.SetField(mod, "find_all", L.NewFunction(func(L *lua.LState) int {
			s := L.CheckString(1)
			rx := compile(L, L.CheckString(2))
			out := L.NewTable()
			for _, m := range rx.FindAllString(s, -1) {
				out.Append(lua.LString(m))
			}
			L.Push(out)
			return 1
		}))

		L.SetField(mod, "groups", L.NewFunction(func(L *lua.LState) int {
			s := L.CheckString(1)
			rx := compile(L, L.CheckString(2))
			m := rx.FindStringSubmatch(s)
			if m == nil {
				L.Push(lua.LNil)
				return 1
			}
			out := L.NewTable()
			for _, g := range m[1:] {
				out.Append(lua.LString(g))
			}
			L.Push(out)
			return 1
		}))

		L.Push(mod)
		return 1
	}
}

// jsonLoader exposes decode/encode over encoding/json. decode returns
// (value) on success or (nil, message) on malformed input so plugins can
// stay defensive without pcall.
func jsonLoader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "decode", L.NewFunction(func(L *lua.LState) int {
		var v any
		if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(goToLua(L, v))
		return 1
	}))

	L.SetField(mod, "encode", L.NewFunction(func(L *lua.LState) int {
		data, err := json.Marshal(luaToGo(L.CheckAny(1), make(map[*lua.LTable]bool)))
		if err != nil {
			L.RaiseError("json: %v", err)
			return 0
		}
		L.Push(lua.LString(data))
		return 1
	}))

	L.Push(mod)
	return 1
}

// htmlLoader exposes goquery-backed document queries plus entity unescaping.
// Every function takes the raw HTML string; plugins hold no document handles
// across calls, which keeps the surface value-oriented and leak-free.
func htmlLoader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "title", L.NewFunction(func(L *lua.LState) int {
		doc, err := parseDoc(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(strings.TrimSpace(doc.Find("title").First().Text())))
		return 1
	}))

	L.SetField(mod, "text", L.NewFunction(func(L *lua.LState) int {
		doc, err := parseDoc(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		sel := L.OptString(2, "")
		if sel == "" {
			L.Push(lua.LString(strings.TrimSpace(doc.Text())))
			return 1
		}
		found, err := findSafe(doc, sel)
		if err != nil {
			L.RaiseError("html: %v", err)
			return 0
		}
		L.Push(lua.LString(strings.TrimSpace(found.Text())))
		return 1
	}))

	L.SetField(mod, "select", L.NewFunction(func(L *lua.LState) int {
		doc, err := parseDoc(L.CheckString(1))
		if err != nil {
			L.Push(L.NewTable())
			return 1
		}
		found, err := findSafe(doc, L.CheckString(2))
		if err != nil {
			L.RaiseError("html: %v", err)
			return 0
		}
		out := L.NewTable()
		found.Each(func(_ int, s *goquery.Selection) {
			out.Append(lua.LString(strings.TrimSpace(s.Text())))
		})
		L.Push(out)
		return 1
	}))

	L.SetField(mod, "attr", L.NewFunction(func(L *lua.LState) int {
		doc, err := parseDoc(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		found, err := findSafe(doc, L.CheckString(2))
		if err != nil {
			L.RaiseError("html: %v", err)
			return 0
		}
		if val, ok := found.First().Attr(L.CheckString(3)); ok {
			L.Push(lua.LString(val))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetField(mod, "unescape", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(stdhtml.UnescapeString(L.CheckString(1))))
		return 1
	}))

	L.Push(mod)
	return 1
}

func parseDoc(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// findSafe runs a selector query, converting goquery's panic on an invalid
// selector into an error.
func findSafe(doc *goquery.Document, selector string) (sel *goquery.Selection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid selector %q", selector)
		}
	}()
	return doc.Find(selector), nil
}

// urlLoader exposes net/url parsing.
func urlLoader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "parse", L.NewFunction(func(L *lua.LState) int {
		u, err := url.Parse(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		out := L.NewTable()
		L.SetField(out, "scheme", lua.LString(u.Scheme))
		L.SetField(out, "host", lua.LString(u.Host))
		L.SetField(out, "path", lua.LString(u.Path))
		query := L.NewTable()
		for k, vs := range u.Query() {
			if len(vs) > 0 {
				L.SetField(query, k, lua.LString(vs[0]))
			}
		}
		L.SetField(out, "query", query)
		L.Push(out)
		return 1
	}))

	L.SetField(mod, "host", L.NewFunction(func(L *lua.LState) int {
		u, err := url.Parse(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(u.Host))
		return 1
	}))

	L.Push(mod)
	return 1
}

// ticketLoader exposes the contract types: the five state constants and a
// result constructor. These are the only values a parse function should
// build its return table from.
func ticketLoader(L *lua.LState) int {
	mod := L.NewTable()

	for _, s := range []ticket.State{
		ticket.StateUnknown,
		ticket.StateNotAvailable,
		ticket.StateComingSoon,
		ticket.StateAvailable,
		ticket.StateSoldOut,
	} {
		L.SetField(mod, string(s), lua.LString(s))
	}

	L.SetField(mod, "result", L.NewFunction(func(L *lua.LState) int {
		out := L.NewTable()
		L.SetField(out, "state", lua.LString(L.CheckString(1)))
		if d := L.OptString(2, ""); d != "" {
			L.SetField(out, "details", lua.LString(d))
		}
		if e := L.OptString(3, ""); e != "" {
			L.SetField(out, "event_name", lua.LString(e))
		}
		L.Push(out)
		return 1
	}))

	L.Push(mod)
	return 1
}

// goToLua converts a decoded JSON value into a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua value into a JSON-encodable Go value. Cycles break
// to nil; functions and userdata have no encoding and become nil.
func luaToGo(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a slice when it is a contiguous array,
// otherwise to a map.
func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	maxN := t.Len()
	if maxN > 0 {
		count := 0
		isArray := true
		t.ForEach(func(k, _ lua.LValue) {
			count++
			if kn, ok := k.(lua.LNumber); !ok || float64(kn) != float64(int(kn)) || int(kn) < 1 {
				isArray = false
			}
		})
		if isArray && count == maxN {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(t.RawGetInt(i), visited))
			}
			return arr
		}
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = luaToGo(v, visited)
	})
	return m
}
