package macro

import (
	"go.starlark.net/syntax"
)

// Walker rewrites Starlark syntax trees.
//
// VisitStmt is called for each statement before its children and returns the
// statements that replace it and whether to descend into them. VisitExpr is
// called for each expression before its children and returns the replacement
// and whether to descend into it. A nil visitor keeps every node.
type Walker struct {
	VisitStmt func(s syntax.Stmt) ([]syntax.Stmt, bool, error)
	VisitExpr func(e syntax.Expr) (syntax.Expr, bool, error)
}

// WalkStmts rewrites a statement list and returns the new list.
func (w *Walker) WalkStmts(stmts []syntax.Stmt) ([]syntax.Stmt, error) {
	out := make([]syntax.Stmt, 0, len(stmts))
	for _, s := range stmts {
		repl, descend := []syntax.Stmt{s}, true
		if w.VisitStmt != nil {
			var err error
			repl, descend, err = w.VisitStmt(s)
			if err != nil {
				return nil, err
			}
		}
		for _, r := range repl {
			if descend {
				if err := w.walkStmt(r); err != nil {
					return nil, err
				}
			}
			out = append(out, r)
		}
	}
	return out, nil
}

// walkBody rewrites a compound statement body, which must stay non-empty.
func (w *Walker) walkBody(body []syntax.Stmt, at syntax.Position) ([]syntax.Stmt, error) {
	out, err := w.WalkStmts(body)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		out = []syntax.Stmt{Pass(at)}
	}
	return out, nil
}

func (w *Walker) walkStmt(s syntax.Stmt) error {
	var err error
	walk := func(p *syntax.Expr) {
		if err == nil && *p != nil {
			*p, err = w.WalkExpr(*p)
		}
	}
	body := func(p *[]syntax.Stmt, at syntax.Position) {
		if err == nil && *p != nil {
			*p, err = w.walkBody(*p, at)
		}
	}

	switch s := s.(type) {
	case *syntax.ExprStmt:
		walk(&s.X)
	case *syntax.AssignStmt:
		walk(&s.LHS)
		walk(&s.RHS)
	case *syntax.IfStmt:
		walk(&s.Cond)
		body(&s.True, s.If)
		body(&s.False, s.ElsePos)
	case *syntax.ForStmt:
		walk(&s.Vars)
		walk(&s.X)
		body(&s.Body, s.For)
	case *syntax.WhileStmt:
		walk(&s.Cond)
		body(&s.Body, s.While)
	case *syntax.DefStmt:
		for i := range s.Params {
			walk(&s.Params[i])
		}
		body(&s.Body, s.Def)
	case *syntax.ReturnStmt:
		walk(&s.Result)
	case *syntax.LoadStmt, *syntax.BranchStmt:
	}
	return err
}

// WalkExpr rewrites an expression and returns its replacement.
func (w *Walker) WalkExpr(e syntax.Expr) (syntax.Expr, error) {
	if e == nil {
		return nil, nil
	}
	descend := true
	if w.VisitExpr != nil {
		var err error
		e, descend, err = w.VisitExpr(e)
		if err != nil {
			return nil, err
		}
	}
	if !descend || e == nil {
		return e, nil
	}

	var err error
	walk := func(p *syntax.Expr) {
		if err == nil && *p != nil {
			*p, err = w.WalkExpr(*p)
		}
	}
	list := func(xs []syntax.Expr) {
		for i := range xs {
			walk(&xs[i])
		}
	}

	switch n := e.(type) {
	case *syntax.BinaryExpr:
		walk(&n.X)
		walk(&n.Y)
	case *syntax.CallExpr:
		walk(&n.Fn)
		list(n.Args)
	case *syntax.Comprehension:
		walk(&n.Body)
		for _, clause := range n.Clauses {
			switch c := clause.(type) {
			case *syntax.ForClause:
				walk(&c.Vars)
				walk(&c.X)
			case *syntax.IfClause:
				walk(&c.Cond)
			}
		}
	case *syntax.CondExpr:
		walk(&n.Cond)
		walk(&n.True)
		walk(&n.False)
	case *syntax.DictEntry:
		walk(&n.Key)
		walk(&n.Value)
	case *syntax.DictExpr:
		list(n.List)
	case *syntax.DotExpr:
		walk(&n.X)
	case *syntax.IndexExpr:
		walk(&n.X)
		walk(&n.Y)
	case *syntax.LambdaExpr:
		list(n.Params)
		walk(&n.Body)
	case *syntax.ListExpr:
		list(n.List)
	case *syntax.ParenExpr:
		walk(&n.X)
	case *syntax.SliceExpr:
		walk(&n.X)
		walk(&n.Lo)
		walk(&n.Hi)
		walk(&n.Step)
	case *syntax.TupleExpr:
		list(n.List)
	case *syntax.UnaryExpr:
		walk(&n.X)
	case *syntax.Ident, *syntax.Literal:
	}
	return e, err
}

// Pass returns a pass statement at pos.
func Pass(pos syntax.Position) *syntax.BranchStmt {
	return &syntax.BranchStmt{Token: syntax.PASS, TokenPos: pos}
}
