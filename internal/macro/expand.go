package macro

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// MaxDepth bounds nested expansion of macro results.
const MaxDepth = 64

var (
	// ErrUnknownMacro is returned when a macro import names a macro its module
	// does not define.
	ErrUnknownMacro = errors.New("unknown macro")

	// ErrNotProvider is returned when a macro import names a module that
	// defines no macros.
	ErrNotProvider = errors.New("module provides no macros")
)

// Func expands one macro call into an expression.
type Func func(call *Call) (syntax.Expr, error)

// Provider is implemented by Go values backing macro modules.
type Provider interface {
	Macros() map[string]Func
}

// Resolved pairs a binding with the module it names.
type Resolved struct {
	Binding Binding
	Module  *module.Module
}

// Call describes a macro invocation being expanded.
type Call struct {
	Name string
	Expr *syntax.CallExpr
	ctx  *ExpansionContext
}

// Args returns the call's arguments.
func (c *Call) Args() []syntax.Expr { return c.Expr.Args }

// Pos returns the position of the call.
func (c *Call) Pos() syntax.Position { return syntax.Start(c.Expr) }

// Source returns the source text of e, taken from the module text when e
// comes from it and formatted otherwise.
func (c *Call) Source(e syntax.Expr) string {
	return c.ctx.sourceOf(e)
}

// Parse parses src as an expression located at the call.
func (c *Call) Parse(src string) (syntax.Expr, error) {
	e, err := c.ctx.options.ParseExpr("<macro "+c.Name+">", src, 0)
	if err != nil {
		return nil, fmt.Errorf("macro %s produced invalid code: %w", c.Name, err)
	}
	Relocate(e, c.Pos())
	return e, nil
}

// ExpansionContext expands the macros bound in one module.
type ExpansionContext struct {
	file    *syntax.File
	lines   []string
	macros  map[string]Func
	loads   map[*syntax.LoadStmt]bool
	options *syntax.FileOptions
	depth   int

	// original holds the nodes present before expansion. Only their
	// positions refer to the module text.
	original map[syntax.Node]bool
}

// NewExpansionContext prepares expansion of f, whose text is source, using
// the resolved macro modules.
func NewExpansionContext(f *syntax.File, source string, modules []Resolved) (*ExpansionContext, error) {
	options := f.Options
	if options == nil {
		options = module.DefaultFileOptions()
	}
	c := &ExpansionContext{
		file:    f,
		lines:   strings.Split(source, "\n"),
		macros:  make(map[string]Func),
		loads:   make(map[*syntax.LoadStmt]bool),
		options: options,

		original: make(map[syntax.Node]bool),
	}
	syntax.Walk(f, func(n syntax.Node) bool {
		if n != nil {
			c.original[n] = true
		}
		return true
	})
	for _, r := range modules {
		defined, err := Macros(r.Module)
		if err != nil {
			return nil, err
		}
		for _, alias := range r.Binding.Names {
			fn, ok := defined[alias.Name]
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMacro, r.Binding.Module, alias.Name)
			}
			c.macros[alias.Local] = fn
		}
		if r.Binding.Load != nil {
			c.loads[r.Binding.Load] = true
		}
	}
	return c, nil
}

// Expand rewrites the module tree in place and returns it.
func (c *ExpansionContext) Expand() (*syntax.File, error) {
	w := &Walker{VisitExpr: c.visit}
	stmts, err := w.WalkStmts(c.file.Stmts)
	if err != nil {
		return nil, err
	}
	for i, stmt := range stmts {
		if load, ok := stmt.(*syntax.LoadStmt); ok && c.loads[load] {
			stmts[i] = Pass(load.Load)
		}
	}
	c.file.Stmts = stmts
	return c.file, nil
}

func (c *ExpansionContext) visit(e syntax.Expr) (syntax.Expr, bool, error) {
	call, ok := e.(*syntax.CallExpr)
	if !ok {
		return e, true, nil
	}
	id, ok := call.Fn.(*syntax.Ident)
	if !ok {
		return e, true, nil
	}
	fn, ok := c.macros[id.Name]
	if !ok {
		return e, true, nil
	}
	if c.depth >= MaxDepth {
		return nil, false, fmt.Errorf("%s: macro %s: expansion too deep", syntax.Start(call), id.Name)
	}

	out, err := fn(&Call{Name: id.Name, Expr: call, ctx: c})
	if err != nil {
		return nil, false, fmt.Errorf("%s: macro %s: %w", syntax.Start(call), id.Name, err)
	}
	if out == nil {
		return nil, false, fmt.Errorf("%s: macro %s returned no expression", syntax.Start(call), id.Name)
	}
	FillPositions(out, syntax.Start(call))

	c.depth++
	defer func() { c.depth-- }()
	out, err = (&Walker{VisitExpr: c.visit}).WalkExpr(out)
	return out, false, err
}

// sourceOf slices the text of e out of the module source. Rune columns are
// 1-based; expressions spanning lines, or produced by a macro, are
// formatted instead.
func (c *ExpansionContext) sourceOf(e syntax.Expr) string {
	start, end := e.Span()
	if !c.original[e] || !start.IsValid() || start.Filename() != c.file.Path || start.Line != end.Line {
		return FormatExpr(e)
	}
	line := int(start.Line) - 1
	if line < 0 || line >= len(c.lines) {
		return FormatExpr(e)
	}
	runes := []rune(c.lines[line])
	lo, hi := int(start.Col)-1, int(end.Col)-1
	if lo < 0 || hi > len(runes) || lo >= hi {
		return FormatExpr(e)
	}
	return string(runes[lo:hi])
}

// Macros returns the macros defined by mod.
//
// Go modules provide them through a Provider. Starlark modules export a
// dict named "macros" mapping macro names to functions; each function is
// called with the source text of the call's arguments and returns the source
// text of the replacement expression.
func Macros(mod *module.Module) (map[string]Func, error) {
	if p, ok := mod.Native.(Provider); ok {
		return p.Macros(), nil
	}
	dict, ok := mod.Globals[MarkerName].(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotProvider, mod.Name)
	}
	out := make(map[string]Func, dict.Len())
	for _, item := range dict.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("%s: macros key %s is not a string", mod.Name, item[0])
		}
		fn, ok := item[1].(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: macro %s is not callable", mod.Name, name)
		}
		out[name] = starlarkMacro(mod.Name, fn)
	}
	return out, nil
}

func starlarkMacro(modName string, fn starlark.Callable) Func {
	return func(call *Call) (syntax.Expr, error) {
		args := make(starlark.Tuple, 0, len(call.Args()))
		for _, arg := range call.Args() {
			args = append(args, starlark.String(call.Source(arg)))
		}
		thread := &starlark.Thread{Name: "macro:" + modName + "." + call.Name}
		v, err := starlark.Call(thread, fn, args, nil)
		if err != nil {
			return nil, err
		}
		src, ok := starlark.AsString(v)
		if !ok {
			return nil, fmt.Errorf("returned %s, want string", v.Type())
		}
		return call.Parse(src)
	}
}
