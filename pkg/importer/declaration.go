package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/syntax"
)

const (
	// Marker is the text opening a dialect declaration.
	Marker = "from __lang__ import"

	// LangName is the global holding the dialect name of a dialect module.
	LangName = "__lang__"
)

var declarationPattern = regexp.MustCompile(`(?m)^from __lang__ import[ \t]+([0-9A-Za-z_]+)[ \t\r]*$`)

// declaration is the dialect declaration line of a source text.
type declaration struct {
	Dialect    string
	Line       int32
	start, end int
}

// findDeclaration returns the single declaration line of src.
func findDeclaration(src string) (declaration, error) {
	matches := declarationPattern.FindAllStringSubmatchIndex(src, -1)
	if len(matches) != 1 {
		return declaration{}, fmt.Errorf("want exactly one %q line, found %d", Marker+" NAME", len(matches))
	}
	m := matches[0]
	return declaration{
		Dialect: src[m[2]:m[3]],
		Line:    int32(strings.Count(src[:m[0]], "\n") + 1),
		start:   m[0],
		end:     m[1],
	}, nil
}

// rewrite replaces the declaration line of src by an assignment of the
// dialect name, keeping every other line where it was.
func (d declaration) rewrite(src string) string {
	line := src[d.start:d.end]
	eol := ""
	if strings.HasSuffix(line, "\r") {
		eol = "\r"
	}
	return src[:d.start] + LangName + " = " + strconv.Quote(d.Dialect) + eol + src[d.end:]
}

// assignment builds the statement binding LangName to name at pos.
func assignment(name string, pos syntax.Position) *syntax.AssignStmt {
	return &syntax.AssignStmt{
		OpPos: pos,
		Op:    syntax.EQ,
		LHS:   &syntax.Ident{NamePos: pos, Name: LangName},
		RHS: &syntax.Literal{
			Token:    syntax.STRING,
			TokenPos: pos,
			Raw:      strconv.Quote(name),
			Value:    name,
		},
	}
}

// locate returns the index of the statement starting on line. The
// declaration must be the first statement, or the second after a docstring.
func locate(stmts []syntax.Stmt, line int32) (int, error) {
	for i, stmt := range stmts {
		start, _ := stmt.Span()
		if start.Line != line {
			continue
		}
		if !isPlaceholder(stmt) {
			break
		}
		if i == 0 || (i == 1 && isDocstring(stmts[0])) {
			return i, nil
		}
		return -1, fmt.Errorf("declaration on line %d must be the first statement, or follow the module docstring", line)
	}
	return -1, fmt.Errorf("no declaration statement on line %d", line)
}

func isPlaceholder(stmt syntax.Stmt) bool {
	assign, ok := stmt.(*syntax.AssignStmt)
	if !ok || assign.Op != syntax.EQ {
		return false
	}
	id, ok := assign.LHS.(*syntax.Ident)
	return ok && id.Name == LangName
}

func isDocstring(stmt syntax.Stmt) bool {
	expr, ok := stmt.(*syntax.ExprStmt)
	if !ok {
		return false
	}
	lit, ok := expr.X.(*syntax.Literal)
	return ok && lit.Token == syntax.STRING
}
