package macro

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// StdModule is the name of the builtin macro module.
const StdModule = "stdmacros"

// stdProvider implements the builtin macros.
type stdProvider struct{}

func (stdProvider) Macros() map[string]Func {
	return map[string]Func{
		"show":      show,
		"stringify": stringify,
	}
}

// show(expr) expands to (source_of_expr, expr).
func show(call *Call) (syntax.Expr, error) {
	arg, err := singleArg(call)
	if err != nil {
		return nil, err
	}
	pos := call.Pos()
	return &syntax.TupleExpr{
		Lparen: pos,
		List:   []syntax.Expr{stringLiteral(call.Source(arg), pos), arg},
		Rparen: pos,
	}, nil
}

// stringify(expr) expands to the source text of expr.
func stringify(call *Call) (syntax.Expr, error) {
	arg, err := singleArg(call)
	if err != nil {
		return nil, err
	}
	return stringLiteral(call.Source(arg), call.Pos()), nil
}

func singleArg(call *Call) (syntax.Expr, error) {
	args := call.Args()
	if len(args) != 1 {
		return nil, fmt.Errorf("want 1 argument, got %d", len(args))
	}
	if bin, ok := args[0].(*syntax.BinaryExpr); ok && bin.Op == syntax.EQ {
		return nil, fmt.Errorf("unexpected keyword argument")
	}
	return args[0], nil
}

func stringLiteral(s string, pos syntax.Position) *syntax.Literal {
	return &syntax.Literal{
		Token:    syntax.STRING,
		TokenPos: pos,
		Raw:      strconv.Quote(s),
		Value:    s,
	}
}

// InstallStd registers the builtin macro module with b.
//
// The module also exports each macro as a function that fails when called,
// so a module importing the macros still loads when expansion is disabled and
// reports the problem at the first use.
func InstallStd(b *module.BuiltinFinder) {
	b.Register(StdModule, func(mod *module.Module) error {
		mod.Native = stdProvider{}
		names := starlark.NewDict(2)
		for name := range (stdProvider{}).Macros() {
			fn := unexpanded(name)
			mod.Globals[name] = fn
			if err := names.SetKey(starlark.String(name), fn); err != nil {
				return err
			}
		}
		mod.Globals[MarkerName] = names
		return nil
	})
}

func unexpanded(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("%s is a macro and was not expanded (is macro expansion enabled?)", b.Name())
	})
}
