package macro

import (
	"go.starlark.net/syntax"
)

// FillPositions gives every node under n that lacks a source position the
// position anchor. Nodes that already have one keep it.
func FillPositions(n syntax.Node, anchor syntax.Position) {
	setPositions(n, anchor, false)
}

// Relocate moves every node under n to pos. It is used for code produced from
// text that has no meaningful location of its own.
func Relocate(n syntax.Node, pos syntax.Position) {
	setPositions(n, pos, true)
}

func setPositions(root syntax.Node, pos syntax.Position, force bool) {
	syntax.Walk(root, func(n syntax.Node) bool {
		if n == nil {
			return false
		}
		for _, p := range positions(n) {
			if force || !p.IsValid() {
				*p = pos
			}
		}
		return true
	})
}

// positions returns pointers to the position fields of n.
func positions(n syntax.Node) []*syntax.Position {
	switch n := n.(type) {
	case *syntax.AssignStmt:
		return []*syntax.Position{&n.OpPos}
	case *syntax.BranchStmt:
		return []*syntax.Position{&n.TokenPos}
	case *syntax.DefStmt:
		return []*syntax.Position{&n.Def, &n.Lparen, &n.Rparen}
	case *syntax.ForStmt:
		return []*syntax.Position{&n.For}
	case *syntax.WhileStmt:
		return []*syntax.Position{&n.While}
	case *syntax.IfStmt:
		return []*syntax.Position{&n.If, &n.ElsePos}
	case *syntax.LoadStmt:
		return []*syntax.Position{&n.Load, &n.Rparen}
	case *syntax.ReturnStmt:
		return []*syntax.Position{&n.Return}
	case *syntax.BinaryExpr:
		return []*syntax.Position{&n.OpPos}
	case *syntax.CallExpr:
		return []*syntax.Position{&n.Lparen, &n.Rparen}
	case *syntax.Comprehension:
		return []*syntax.Position{&n.Lbrack, &n.Rbrack}
	case *syntax.ForClause:
		return []*syntax.Position{&n.For, &n.In}
	case *syntax.IfClause:
		return []*syntax.Position{&n.If}
	case *syntax.CondExpr:
		return []*syntax.Position{&n.If, &n.ElsePos}
	case *syntax.DictEntry:
		return []*syntax.Position{&n.Colon}
	case *syntax.DictExpr:
		return []*syntax.Position{&n.Lbrace, &n.Rbrace}
	case *syntax.DotExpr:
		return []*syntax.Position{&n.Dot, &n.NamePos}
	case *syntax.Ident:
		return []*syntax.Position{&n.NamePos}
	case *syntax.IndexExpr:
		return []*syntax.Position{&n.Lbrack, &n.Rbrack}
	case *syntax.LambdaExpr:
		return []*syntax.Position{&n.Lambda}
	case *syntax.ListExpr:
		return []*syntax.Position{&n.Lbrack, &n.Rbrack}
	case *syntax.Literal:
		return []*syntax.Position{&n.TokenPos}
	case *syntax.ParenExpr:
		return []*syntax.Position{&n.Lparen, &n.Rparen}
	case *syntax.SliceExpr:
		return []*syntax.Position{&n.Lbrack, &n.Rbrack}
	case *syntax.TupleExpr:
		// An unparenthesized tuple has no paren positions.
		if len(n.List) == 0 {
			return []*syntax.Position{&n.Lparen, &n.Rparen}
		}
	case *syntax.UnaryExpr:
		return []*syntax.Position{&n.OpPos}
	}
	return nil
}
