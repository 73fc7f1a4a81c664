// Package lua hosts the sandboxed runtime that executes validated plugin
// source. Each plugin owns one State: a gopher-lua interpreter with only the
// safe built-in libraries opened, the sandbox installed and the host modules
// (re, json, html, url, ticket) preloaded.
//
// gopher-lua's LState is not goroutine-safe. The poller drives all plugin
// execution from a single goroutine, so no synchronization is layered on
// top; a concurrent poller would need to revisit this.
package lua

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/ticketwatch/internal/ticket"
)

// DefaultParseTimeout bounds one parse invocation. The sandbox leaves a
// plugin nothing to block on, so this is a backstop against runaway loops,
// not a scheduling mechanism.
const DefaultParseTimeout = 10 * time.Second

// State is a sandboxed Lua interpreter dedicated to one plugin.
type State struct {
	L       *lua.LState
	timeout time.Duration
}

// NewState creates a sandboxed state with the host modules preloaded.
// A timeout of zero selects DefaultParseTimeout.
func NewState(timeout time.Duration) (*State, error) {
	if timeout <= 0 {
		timeout = DefaultParseTimeout
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	// Open only the safe subset of the standard libraries. Package must be
	// opened first so the others register in package.loaded.
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open lua library %s: %w", lib.name, err)
		}
	}

	PreloadHostModules(L)
	NewSandbox(L).Install()

	return &State{L: L, timeout: timeout}, nil
}

// Close releases the interpreter.
func (s *State) Close() {
	s.L.Close()
}

// Run executes plugin source in the state, binding its module-scope globals.
// The caller must only ever pass source that passed validation.
func (s *State) Run(source string) (err error) {
	defer recoverLuaPanic(&err)
	return s.L.DoString(source)
}

// Global returns a global binding from the executed chunk.
func (s *State) Global(name string) lua.LValue {
	return s.L.GetGlobal(name)
}

// Call invokes a plugin function with the page content and URL and converts
// its return value. The invocation runs under the state's execution timeout
// and panic recovery; any fault comes back as an error, never a crash.
func (s *State) Call(fn lua.LValue, html, pageURL string) (result ticket.CheckResult, err error) {
	defer recoverLuaPanic(&err)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	if callErr := s.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(html), lua.LString(pageURL)); callErr != nil {
		return ticket.CheckResult{}, fmt.Errorf("plugin parse: %w", callErr)
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)
	return checkResultFromLua(ret)
}

// recoverLuaPanic converts a panic out of the interpreter into an error.
func recoverLuaPanic(err *error) {
	if r := recover(); r != nil {
		switch v := r.(type) {
		case error:
			*err = v
		case string:
			*err = errors.New(v)
		default:
			*err = fmt.Errorf("lua panic: %v", r)
		}
	}
}
