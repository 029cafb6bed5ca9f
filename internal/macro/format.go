package macro

import (
	"strconv"
	"strings"

	"go.starlark.net/syntax"
)

// FormatExpr renders an expression as Starlark source text. Layout and
// comments of the original are not preserved.
func FormatExpr(e syntax.Expr) string {
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}

func writeExprs(sb *strings.Builder, xs []syntax.Expr) {
	for i, x := range xs {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeExpr(sb, x)
	}
}

func writeExpr(sb *strings.Builder, e syntax.Expr) {
	switch e := e.(type) {
	case *syntax.Ident:
		sb.WriteString(e.Name)
	case *syntax.Literal:
		if e.Raw != "" {
			sb.WriteString(e.Raw)
		} else if s, ok := e.Value.(string); ok {
			sb.WriteString(strconv.Quote(s))
		} else {
			sb.WriteString(syntaxValue(e.Value))
		}
	case *syntax.ParenExpr:
		if t, ok := e.X.(*syntax.TupleExpr); ok {
			writeTuple(sb, t, true)
			break
		}
		sb.WriteByte('(')
		writeExpr(sb, e.X)
		sb.WriteByte(')')
	case *syntax.BinaryExpr:
		writeExpr(sb, e.X)
		if e.Op == syntax.EQ {
			// keyword argument
			sb.WriteByte('=')
		} else {
			sb.WriteString(" " + e.Op.String() + " ")
		}
		writeExpr(sb, e.Y)
	case *syntax.UnaryExpr:
		sb.WriteString(e.Op.String())
		if e.Op == syntax.NOT {
			sb.WriteByte(' ')
		}
		if e.X != nil {
			writeExpr(sb, e.X)
		}
	case *syntax.CallExpr:
		writeExpr(sb, e.Fn)
		sb.WriteByte('(')
		writeExprs(sb, e.Args)
		sb.WriteByte(')')
	case *syntax.DotExpr:
		writeExpr(sb, e.X)
		sb.WriteByte('.')
		sb.WriteString(e.Name.Name)
	case *syntax.IndexExpr:
		writeExpr(sb, e.X)
		sb.WriteByte('[')
		writeExpr(sb, e.Y)
		sb.WriteByte(']')
	case *syntax.SliceExpr:
		writeExpr(sb, e.X)
		sb.WriteByte('[')
		if e.Lo != nil {
			writeExpr(sb, e.Lo)
		}
		sb.WriteByte(':')
		if e.Hi != nil {
			writeExpr(sb, e.Hi)
		}
		if e.Step != nil {
			sb.WriteByte(':')
			writeExpr(sb, e.Step)
		}
		sb.WriteByte(']')
	case *syntax.ListExpr:
		sb.WriteByte('[')
		writeExprs(sb, e.List)
		sb.WriteByte(']')
	case *syntax.TupleExpr:
		writeTuple(sb, e, true)
	case *syntax.DictExpr:
		sb.WriteByte('{')
		writeExprs(sb, e.List)
		sb.WriteByte('}')
	case *syntax.DictEntry:
		writeExpr(sb, e.Key)
		sb.WriteString(": ")
		writeExpr(sb, e.Value)
	case *syntax.CondExpr:
		writeExpr(sb, e.True)
		sb.WriteString(" if ")
		writeExpr(sb, e.Cond)
		sb.WriteString(" else ")
		writeExpr(sb, e.False)
	case *syntax.LambdaExpr:
		sb.WriteString("lambda")
		if len(e.Params) > 0 {
			sb.WriteByte(' ')
			writeExprs(sb, e.Params)
		}
		sb.WriteString(": ")
		writeExpr(sb, e.Body)
	case *syntax.Comprehension:
		open, closing := "[", "]"
		if e.Curly {
			open, closing = "{", "}"
		}
		sb.WriteString(open)
		writeExpr(sb, e.Body)
		for _, clause := range e.Clauses {
			switch c := clause.(type) {
			case *syntax.ForClause:
				sb.WriteString(" for ")
				if t, ok := c.Vars.(*syntax.TupleExpr); ok {
					writeTuple(sb, t, false)
				} else {
					writeExpr(sb, c.Vars)
				}
				sb.WriteString(" in ")
				writeExpr(sb, c.X)
			case *syntax.IfClause:
				sb.WriteString(" if ")
				writeExpr(sb, c.Cond)
			}
		}
		sb.WriteString(closing)
	}
}

func writeTuple(sb *strings.Builder, t *syntax.TupleExpr, paren bool) {
	if paren {
		sb.WriteByte('(')
	}
	writeExprs(sb, t.List)
	if len(t.List) == 1 {
		sb.WriteByte(',')
	}
	if paren {
		sb.WriteByte(')')
	}
}

func syntaxValue(v any) string {
	switch v := v.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case interface{ String() string }:
		return v.String()
	}
	return "None"
}
