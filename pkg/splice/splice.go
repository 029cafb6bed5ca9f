// Package splice merges user code into template syntax trees.
//
// A template is an ordinary list of Starlark statements containing a marker
// statement: a bare identifier such as
//
//	__body__
//
// Splicing replaces the marker by
//
//	if 1:
//	    <user statements>
//
// and moves every load statement of both trees to the front. Starlark only
// allows loads at top level, and the macro expander must see macro imports
// before the calls that use them.
package splice

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"go.starlark.net/syntax"
)

var (
	// ErrEmptyBody is returned when there are no user statements to splice.
	ErrEmptyBody = errors.New("splice: empty body")

	// ErrNoWalker is returned by a Splicer without a tree rewriter.
	ErrNoWalker = errors.New("splice: no tree walker available")

	// ErrMarkerNotFound is returned when the template has no marker statement.
	ErrMarkerNotFound = errors.New("splice: marker not found in template")
)

// StmtVisitor is called for each statement during a rewrite. It returns the
// replacement statements and whether to descend into them.
type StmtVisitor func(s syntax.Stmt) ([]syntax.Stmt, bool, error)

// Splicer merges user code into templates.
type Splicer struct {
	// Rewrite applies visit to every statement of stmts, including nested
	// ones, and returns the rewritten list. A Splicer without one fails with
	// ErrNoWalker.
	Rewrite func(stmts []syntax.Stmt, visit StmtVisitor) ([]syntax.Stmt, error)

	Logger *slog.Logger
}

// New returns a Splicer using the macro package's tree walker.
func New(logger *slog.Logger) *Splicer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Splicer{Rewrite: rewrite, Logger: logger}
}

func rewrite(stmts []syntax.Stmt, visit StmtVisitor) ([]syntax.Stmt, error) {
	return (&macro.Walker{VisitStmt: visit}).WalkStmts(stmts)
}

// Splice merges body into template at the statement tag using the default
// Splicer.
func Splice(body, template []syntax.Stmt, tag string) ([]syntax.Stmt, error) {
	return New(nil).Splice(body, template, tag)
}

// Splice merges body into template at the first marker statement named tag.
//
// Template nodes without a position take the position of the first user
// statement. Loads found anywhere in either tree are replaced by pass and
// moved to the front of the result: macro imports first, then the other
// loads, each group with the template's before the body's. A load is hoisted
// once per position; loads without one are told apart by identity.
func (s *Splicer) Splice(body, template []syntax.Stmt, tag string) ([]syntax.Stmt, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	if s.Rewrite == nil {
		return nil, ErrNoWalker
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	h := &hoister{seen: make(map[loadKey]bool), synthesized: make(map[*syntax.LoadStmt]bool)}
	for _, stmt := range template {
		h.markSynthesized(stmt)
	}

	anchor, _ := body[0].Span()
	for _, stmt := range template {
		macro.FillPositions(stmt, anchor)
	}

	template, templateLoads, err := s.hoist(template, h)
	if err != nil {
		return nil, err
	}
	body, bodyLoads, err := s.hoist(body, h)
	if err != nil {
		return nil, err
	}

	found := false
	template, err = s.Rewrite(template, func(stmt syntax.Stmt) ([]syntax.Stmt, bool, error) {
		if found || !isMarker(stmt, tag) {
			return []syntax.Stmt{stmt}, true, nil
		}
		found = true
		pos, _ := stmt.Span()
		return []syntax.Stmt{guard(body, pos)}, false, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMarkerNotFound, tag)
	}

	logger.Debug("spliced body into template",
		slog.String("marker", tag),
		slog.Int("statements", len(body)),
		slog.Int("macro_imports", len(templateLoads.macros)+len(bodyLoads.macros)),
		slog.Int("loads", len(templateLoads.plain)+len(bodyLoads.plain)))

	out := make([]syntax.Stmt, 0, templateLoads.len()+bodyLoads.len()+len(template))
	for _, group := range [][]*syntax.LoadStmt{templateLoads.macros, bodyLoads.macros, templateLoads.plain, bodyLoads.plain} {
		for _, load := range group {
			out = append(out, load)
		}
	}
	return append(out, template...), nil
}

// loadKey identifies a hoisted load: by position when it has one from
// source, by identity otherwise.
type loadKey struct {
	pos  syntax.Position
	node *syntax.LoadStmt
}

type hoister struct {
	seen map[loadKey]bool
	// synthesized holds template loads built without a position. They are
	// given the anchor position before hoisting, so it cannot tell them apart.
	synthesized map[*syntax.LoadStmt]bool
}

func (h *hoister) markSynthesized(stmt syntax.Stmt) {
	syntax.Walk(stmt, func(n syntax.Node) bool {
		if load, ok := n.(*syntax.LoadStmt); ok && !load.Load.IsValid() {
			h.synthesized[load] = true
		}
		return true
	})
}

// first reports whether load has not been hoisted before, and records it.
func (h *hoister) first(load *syntax.LoadStmt) bool {
	key := loadKey{node: load}
	if load.Load.IsValid() && !h.synthesized[load] {
		key = loadKey{pos: load.Load}
	}
	if h.seen[key] {
		return false
	}
	h.seen[key] = true
	return true
}

type hoisted struct {
	macros []*syntax.LoadStmt
	plain  []*syntax.LoadStmt
}

func (l hoisted) len() int { return len(l.macros) + len(l.plain) }

// hoist replaces the loads of stmts by pass and returns them in order of
// appearance, macro imports apart from the others.
func (s *Splicer) hoist(stmts []syntax.Stmt, h *hoister) ([]syntax.Stmt, hoisted, error) {
	var loads hoisted
	out, err := s.Rewrite(stmts, func(stmt syntax.Stmt) ([]syntax.Stmt, bool, error) {
		load, ok := stmt.(*syntax.LoadStmt)
		if !ok {
			return []syntax.Stmt{stmt}, true, nil
		}
		if h.first(load) {
			if macro.IsMacroImport(load) {
				loads.macros = append(loads.macros, load)
			} else {
				loads.plain = append(loads.plain, load)
			}
		}
		return []syntax.Stmt{macro.Pass(load.Load)}, false, nil
	})
	return out, loads, err
}

func isMarker(stmt syntax.Stmt, tag string) bool {
	expr, ok := stmt.(*syntax.ExprStmt)
	if !ok {
		return false
	}
	id, ok := expr.X.(*syntax.Ident)
	return ok && id.Name == tag
}

// guard wraps body in a conditional that always executes.
func guard(body []syntax.Stmt, pos syntax.Position) *syntax.IfStmt {
	return &syntax.IfStmt{
		If:   pos,
		Cond: &syntax.Literal{Token: syntax.INT, TokenPos: pos, Raw: "1", Value: int64(1)},
		True: body,
	}
}
