// Package validate implements the static acceptance gate for generated
// plugin source. Validation parses the Lua source into a syntax tree and
// inspects it without executing a line: acceptance is decided from the text
// alone, before the registry is allowed to instantiate it.
//
// The checks are syntactic and conservative. An unrecognized require or a
// forbidden call name is rejected even when unreachable. This is not a
// dataflow analysis; the threat model is imperfect generated code, not a
// determined human attacker.
package validate

import (
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Required module-scope symbols. The registry reads these globals after
// executing an accepted chunk, so the validator insists they are bound.
const (
	// GlobalPatterns is the required URL pattern table binding.
	GlobalPatterns = "patterns"

	// GlobalParse is the required parse entry point.
	GlobalParse = "parse"
)

// allowedModules is the closed allow-list of require targets. Keyed by the
// top-level path segment, so "html.entities" is admitted by "html". The
// first three are Lua built-ins left open by the sandbox; the rest are host
// modules the runtime preloads.
var allowedModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
	"re":     true,
	"json":   true,
	"html":   true,
	"url":    true,
	"ticket": true,
}

// forbiddenCalls is the deny-list of capability-escalating call names:
// dynamic evaluation and compilation, dynamic chunk loading, filesystem
// open, environment access, and raw/metatable attribute manipulation.
// Matched by simple name or attribute name anywhere in the tree.
var forbiddenCalls = map[string]bool{
	"load":         true,
	"loadstring":   true,
	"dofile":       true,
	"loadfile":     true,
	"open":         true,
	"getfenv":      true,
	"setfenv":      true,
	"rawget":       true,
	"rawset":       true,
	"getmetatable": true,
	"setmetatable": true,
}

// Validate statically checks candidate plugin source and returns the list of
// violations, in source order. An empty slice means the source is accepted.
// Validate is pure: it never executes the source and has no side effects.
func Validate(source string) []string {
	chunk, err := parse.Parse(strings.NewReader(source), "plugin")
	if err != nil {
		// Unparsable input gets exactly one violation; nothing else can
		// be determined about it.
		return []string{fmt.Sprintf("syntax error: %v", err)}
	}

	w := &walker{}
	w.stmts(chunk)

	violations := w.violations
	if !w.hasPatterns {
		violations = append(violations, fmt.Sprintf("missing global %q table", GlobalPatterns))
	}
	if !w.hasParse {
		violations = append(violations, fmt.Sprintf("missing global %s() function", GlobalParse))
	}
	return violations
}

// walker accumulates violations while traversing the syntax tree. Top-level
// statements are inspected for the required global bindings; every statement
// at any depth is inspected for forbidden calls and requires.
type walker struct {
	violations  []string
	hasPatterns bool
	hasParse    bool
	depth       int
}

func (w *walker) stmts(stmts []ast.Stmt) {
	w.depth++
	for _, s := range stmts {
		w.stmt(s)
	}
	w.depth--
}

func (w *walker) stmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.AssignStmt:
		if w.depth == 1 {
			w.checkRequiredAssign(st)
		}
		w.exprs(st.Lhs)
		w.exprs(st.Rhs)
	case *ast.LocalAssignStmt:
		w.exprs(st.Exprs)
	case *ast.FuncCallStmt:
		w.expr(st.Expr)
	case *ast.DoBlockStmt:
		w.stmts(st.Stmts)
	case *ast.WhileStmt:
		w.expr(st.Condition)
		w.stmts(st.Stmts)
	case *ast.RepeatStmt:
		w.expr(st.Condition)
		w.stmts(st.Stmts)
	case *ast.IfStmt:
		w.expr(st.Condition)
		w.stmts(st.Then)
		w.stmts(st.Else)
	case *ast.NumberForStmt:
		w.expr(st.Init)
		w.expr(st.Limit)
		w.expr(st.Step)
		w.stmts(st.Stmts)
	case *ast.GenericForStmt:
		w.exprs(st.Exprs)
		w.stmts(st.Stmts)
	case *ast.FuncDefStmt:
		if w.depth == 1 {
			if name, ok := st.Name.Func.(*ast.IdentExpr); ok && st.Name.Method == "" && name.Value == GlobalParse {
				w.hasParse = true
			}
		}
		w.expr(st.Func)
	case *ast.ReturnStmt:
		w.exprs(st.Exprs)
	}
}

// checkRequiredAssign marks the required globals when a top-level assignment
// binds them. A parse = function(...) form counts as the entry point.
func (w *walker) checkRequiredAssign(st *ast.AssignStmt) {
	for i, lhs := range st.Lhs {
		ident, ok := lhs.(*ast.IdentExpr)
		if !ok {
			continue
		}
		switch ident.Value {
		case GlobalPatterns:
			w.hasPatterns = true
		case GlobalParse:
			if i < len(st.Rhs) {
				if _, ok := st.Rhs[i].(*ast.FunctionExpr); ok {
					w.hasParse = true
				}
			}
		}
	}
}

func (w *walker) exprs(exprs []ast.Expr) {
	for _, e := range exprs {
		w.expr(e)
	}
}

func (w *walker) expr(e ast.Expr) {
	switch ex := e.(type) {
	case *ast.FuncCallExpr:
		w.call(ex)
	case *ast.AttrGetExpr:
		w.expr(ex.Object)
		w.expr(ex.Key)
	case *ast.TableExpr:
		for _, f := range ex.Fields {
			if f.Key != nil {
				w.expr(f.Key)
			}
			w.expr(f.Value)
		}
	case *ast.FunctionExpr:
		w.stmts(ex.Stmts)
	case *ast.LogicalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.RelationalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		w.expr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		w.expr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		w.expr(ex.Expr)
	}
}

// call checks a call expression against the require allow-list and the
// forbidden-call deny-list, then descends into its arguments.
func (w *walker) call(ex *ast.FuncCallExpr) {
	name := calledName(ex)

	switch {
	case name == "require":
		w.checkRequire(ex)
	case forbiddenCalls[name]:
		w.violations = append(w.violations, fmt.Sprintf("forbidden call: %s()", name))
	}

	if ex.Func != nil {
		w.expr(ex.Func)
	}
	if ex.Receiver != nil {
		w.expr(ex.Receiver)
	}
	w.exprs(ex.Args)
}

// checkRequire enforces the module allow-list. Only literal string arguments
// are acceptable: a computed module path is a dynamic import form and is
// rejected outright rather than resolved.
func (w *walker) checkRequire(ex *ast.FuncCallExpr) {
	if len(ex.Args) == 0 {
		w.violations = append(w.violations, "dynamic require: missing module name")
		return
	}
	lit, ok := ex.Args[0].(*ast.StringExpr)
	if !ok {
		w.violations = append(w.violations, "dynamic require: module name must be a string literal")
		return
	}
	top, _, _ := strings.Cut(lit.Value, ".")
	if !allowedModules[top] {
		w.violations = append(w.violations, fmt.Sprintf("forbidden require: %s", lit.Value))
	}
}

// calledName extracts the name a call targets: the simple identifier for
// f(...), the attribute name for a.b(...) and the method name for a:b(...).
func calledName(ex *ast.FuncCallExpr) string {
	if ex.Method != "" {
		return ex.Method
	}
	switch fn := ex.Func.(type) {
	case *ast.IdentExpr:
		return fn.Value
	case *ast.AttrGetExpr:
		if key, ok := fn.Key.(*ast.StringExpr); ok {
			return key.Value
		}
	}
	return ""
}
