package lua

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/ticketwatch/internal/ticket"
)

// checkResultFromLua converts a plugin's return value into a CheckResult.
// The contract is a table with a required "state" field holding one of the
// five state strings, plus optional "details" and "event_name" strings.
// Anything else is a parse fault.
func checkResultFromLua(lv lua.LValue) (ticket.CheckResult, error) {
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		return ticket.CheckResult{}, fmt.Errorf("plugin returned %s, want table", lv.Type())
	}

	stateVal := tbl.RawGetString("state")
	stateStr, ok := stateVal.(lua.LString)
	if !ok {
		return ticket.CheckResult{}, errors.New("plugin result has no state field")
	}
	state, err := ticket.ParseState(string(stateStr))
	if err != nil {
		return ticket.CheckResult{}, err
	}

	res := ticket.CheckResult{State: state}
	if v, ok := tbl.RawGetString("details").(lua.LString); ok {
		res.Details = string(v)
	}
	if v, ok := tbl.RawGetString("event_name").(lua.LString); ok {
		res.EventName = string(v)
	}
	return res, nil
}

// StringList converts a Lua array table of strings into a Go slice. Used by
// the registry to read the plugin's patterns global; a non-table value or a
// non-string element is an error rather than a silent skip.
func StringList(lv lua.LValue) ([]string, error) {
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("expected table of strings, got %s", lv.Type())
	}

	var out []string
	var convErr error
	tbl.ForEach(func(_, v lua.LValue) {
		s, ok := v.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("expected string element, got %s", v.Type())
			return
		}
		out = append(out, string(s))
	})
	if convErr != nil {
		return nil, convErr
	}
	return out, nil
}
