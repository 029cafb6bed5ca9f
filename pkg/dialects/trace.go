package dialects

import (
	"strconv"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/splice"
	"go.starlark.net/syntax"
)

// Trace prints "SOURCE = VALUE" for every top-level expression statement
// that is not a call. It relies on the show macro, so macro expansion must
// be enabled.
var Trace = &dialect.Dialect{
	Name: "trace",
	Doc:  "Prints each bare expression statement with its value.",
	Tree: func(body []syntax.Stmt) ([]syntax.Stmt, error) {
		traced := make([]syntax.Stmt, len(body))
		for i, stmt := range body {
			traced[i] = traceStmt(stmt)
		}
		return splice.Splice(traced, traceTemplate(), bodyMarker)
	},
}

// traceTemplate is
//
//	load("stdmacros", "macros", "show")
//	__body__
func traceTemplate() []syntax.Stmt {
	return []syntax.Stmt{
		&syntax.LoadStmt{
			Module: &syntax.Literal{Token: syntax.STRING, Raw: strconv.Quote(macro.StdModule), Value: macro.StdModule},
			From:   []*syntax.Ident{{Name: macro.MarkerName}, {Name: "show"}},
			To:     []*syntax.Ident{{Name: macro.MarkerName}, {Name: "show"}},
		},
		marker(),
	}
}

// traceStmt turns "EXPR" into print("%s = %r" % show(EXPR)).
func traceStmt(stmt syntax.Stmt) syntax.Stmt {
	expr, ok := stmt.(*syntax.ExprStmt)
	if !ok {
		return stmt
	}
	switch x := expr.X.(type) {
	case *syntax.CallExpr:
		return stmt
	case *syntax.Literal:
		if x.Token == syntax.STRING {
			return stmt
		}
	}
	pos, _ := expr.Span()
	format := &syntax.Literal{Token: syntax.STRING, TokenPos: pos, Raw: `"%s = %r"`, Value: "%s = %r"}
	show := &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: pos, Name: "show"},
		Lparen: pos,
		Args:   []syntax.Expr{expr.X},
		Rparen: pos,
	}
	return &syntax.ExprStmt{X: &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: pos, Name: "print"},
		Lparen: pos,
		Args:   []syntax.Expr{&syntax.BinaryExpr{X: format, OpPos: pos, Op: syntax.PERCENT, Y: show}},
		Rparen: pos,
	}}
}

func init() {
	dialect.Register(Trace)
}
