package dialects

import (
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/splice"
	"go.starlark.net/syntax"
)

const bodyMarker = "__body__"

// Guard wraps the module body in a conditional that always executes.
var Guard = &dialect.Dialect{
	Name: "guard",
	Doc:  "Runs the module body inside if 1:.",
	Tree: func(body []syntax.Stmt) ([]syntax.Stmt, error) {
		return splice.Splice(body, []syntax.Stmt{marker()}, bodyMarker)
	},
}

func marker() syntax.Stmt {
	return &syntax.ExprStmt{X: &syntax.Ident{Name: bodyMarker}}
}

func init() {
	dialect.Register(Guard)
}
