package lua

import (
	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts a Lua state to the fixed plugin capability set: pure
// text and data processing, nothing else. Plugins get no filesystem, no
// network, no shell and no dynamic code loading; that constraint is also
// what lets the poller trust a plugin to return promptly.
type Sandbox struct {
	L *lua.LState
}

// NewSandbox creates a sandbox for the given state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// safeModules are the built-in libraries a plugin may require. Everything
// beyond these is preloaded by the host (re, json, html, url, ticket) and
// resolved through package.preload.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Install applies the sandbox restrictions. The state must already have its
// base libraries opened; Install strips the escape hatches they carry.
func (s *Sandbox) Install() {
	// Dynamic code loading, environment manipulation and raw attribute
	// access. The validator rejects these by name before source is ever
	// saved; removing them at runtime keeps the no-unvalidated-execution
	// invariant even for source placed on disk out-of-band.
	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring",
		"getfenv", "setfenv",
		"rawget", "rawset", "rawequal",
		"getmetatable", "setmetatable",
	} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
}

// installSafeRequire clears the module search paths and replaces require
// with a whitelist-based version. Only the safe built-ins and host modules
// registered via PreloadModule resolve; everything else raises.
func (s *Sandbox) installSafeRequire() {
	if pkgTable, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if safeModules[modName] || s.isPreloaded(modName) {
			L.Push(originalRequire)
			L.Push(lua.LString(modName))
			L.Call(1, 1)
			return 1
		}

		L.RaiseError("module %q is not available", modName)
		return 0 // unreachable, but required for Go compiler
	}))
}

// isPreloaded reports whether a host module is registered in package.preload.
func (s *Sandbox) isPreloaded(name string) bool {
	pkgTable, ok := s.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return false
	}
	preload, ok := s.L.GetField(pkgTable, "preload").(*lua.LTable)
	if !ok {
		return false
	}
	return preload.RawGetString(name) != lua.LNil
}
