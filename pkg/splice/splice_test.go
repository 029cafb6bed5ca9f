package splice

import (
	"testing"

	"github.com/leapstack-labs/stardialect/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/syntax"
)

const tag = "__body__"

func stmts(t *testing.T, src string) []syntax.Stmt {
	t.Helper()
	f, err := (&syntax.FileOptions{TopLevelControl: true}).Parse("splice.star", src, 0)
	require.NoError(t, err)
	return f.Stmts
}

func assignedName(t *testing.T, s syntax.Stmt) string {
	t.Helper()
	assign, ok := s.(*syntax.AssignStmt)
	require.True(t, ok, "want assignment, got %T", s)
	return assign.LHS.(*syntax.Ident).Name
}

func isPass(s syntax.Stmt) bool {
	b, ok := s.(*syntax.BranchStmt)
	return ok && b.Token == syntax.PASS
}

func TestSpliceErrors(t *testing.T) {
	body := stmts(t, "x = 1\n")

	_, err := Splice(nil, stmts(t, tag+"\n"), tag)
	assert.ErrorIs(t, err, ErrEmptyBody)

	_, err = (&Splicer{}).Splice(body, stmts(t, tag+"\n"), tag)
	assert.ErrorIs(t, err, ErrNoWalker)

	_, err = Splice(body, stmts(t, "other\n"), tag)
	require.ErrorIs(t, err, ErrMarkerNotFound)
	assert.Contains(t, err.Error(), tag)
}

func TestSpliceGuard(t *testing.T) {
	body := stmts(t, "x = 1\ny = 2\n")
	template := stmts(t, "before = 0\n"+tag+"\nafter = 3\n")
	markerPos, _ := template[1].Span()

	out, err := New(testutil.NewTestLogger(t)).Splice(body, template, tag)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "before", assignedName(t, out[0]))
	assert.Equal(t, "after", assignedName(t, out[2]))

	guard, ok := out[1].(*syntax.IfStmt)
	require.True(t, ok)
	assert.Equal(t, markerPos, guard.If)
	assert.Equal(t, int64(1), guard.Cond.(*syntax.Literal).Value)
	require.Len(t, guard.True, 2)
	assert.Equal(t, "x", assignedName(t, guard.True[0]))
	assert.Equal(t, "y", assignedName(t, guard.True[1]))
	assert.Nil(t, guard.False)
}

func TestSpliceNestedMarker(t *testing.T) {
	body := stmts(t, "x = 1\n")
	template := stmts(t, "if cond:\n    "+tag+"\n"+tag+"\n")

	out, err := Splice(body, template, tag)
	require.NoError(t, err)
	require.Len(t, out, 2)

	outer := out[0].(*syntax.IfStmt)
	require.Len(t, outer.True, 1)
	inner, ok := outer.True[0].(*syntax.IfStmt)
	require.True(t, ok)
	assert.Equal(t, "x", assignedName(t, inner.True[0]))

	// Only the first marker is replaced.
	_, ok = out[1].(*syntax.ExprStmt)
	assert.True(t, ok)
}

func TestSpliceHoistsLoads(t *testing.T) {
	template := stmts(t, "load(\"helpers\", \"h\")\nload(\"stdmacros\", \"macros\", \"show\")\n"+tag+"\n")
	body := stmts(t, "x = 1\nload(\"m\", \"macros\", \"a\")\nload(\"util\", \"f\")\n")

	out, err := Splice(body, template, tag)
	require.NoError(t, err)
	require.Len(t, out, 7)

	// Macro imports come first, then the other loads, template before body.
	var modules []string
	for _, s := range out[:4] {
		load, ok := s.(*syntax.LoadStmt)
		require.True(t, ok, "want load, got %T", s)
		modules = append(modules, load.ModuleName())
	}
	assert.Equal(t, []string{"stdmacros", "m", "helpers", "util"}, modules)
	assert.True(t, isPass(out[4]))
	assert.True(t, isPass(out[5]))

	guard := out[6].(*syntax.IfStmt)
	require.Len(t, guard.True, 3)
	assert.Equal(t, "x", assignedName(t, guard.True[0]))
	assert.True(t, isPass(guard.True[1]))
	assert.True(t, isPass(guard.True[2]), "no load is left inside the conditional")
}

func TestSpliceSharedImportHoistedOnce(t *testing.T) {
	load := stmts(t, "load(\"stdmacros\", \"macros\", \"show\")\n")[0]
	template := []syntax.Stmt{load, stmts(t, tag+"\n")[0]}
	body := []syntax.Stmt{load, stmts(t, "x = 1\n")[0]}

	out, err := Splice(body, template, tag)
	require.NoError(t, err)

	loads := 0
	for _, s := range out {
		if _, ok := s.(*syntax.LoadStmt); ok {
			loads++
		}
	}
	assert.Equal(t, 1, loads)
}

func TestSpliceDeduplicatesByPosition(t *testing.T) {
	src := "load(\"stdmacros\", \"macros\", \"show\")\n"
	original := stmts(t, src)[0].(*syntax.LoadStmt)
	copied := *original
	template := []syntax.Stmt{original, stmts(t, tag+"\n")[0]}
	body := []syntax.Stmt{&copied, stmts(t, "x = 1\n")[0]}

	out, err := Splice(body, template, tag)
	require.NoError(t, err)
	_, ok := out[0].(*syntax.LoadStmt)
	assert.True(t, ok)
	_, ok = out[1].(*syntax.LoadStmt)
	assert.False(t, ok, "a load at the same position is hoisted once")
}

func TestSpliceKeepsSynthesizedLoads(t *testing.T) {
	synthesized := func(module string) *syntax.LoadStmt {
		return &syntax.LoadStmt{
			Module: &syntax.Literal{Token: syntax.STRING, Value: module, Raw: `"` + module + `"`},
			From:   []*syntax.Ident{{Name: "f"}},
			To:     []*syntax.Ident{{Name: "f"}},
		}
	}
	marker := &syntax.ExprStmt{X: &syntax.Ident{Name: tag}}
	template := []syntax.Stmt{synthesized("a"), synthesized("b"), marker}

	out, err := Splice(stmts(t, "x = 1\n"), template, tag)
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, "a", out[0].(*syntax.LoadStmt).ModuleName())
	assert.Equal(t, "b", out[1].(*syntax.LoadStmt).ModuleName())
}

func TestSpliceFillsTemplatePositions(t *testing.T) {
	body := stmts(t, "\n\nx = 1\n")
	anchor, _ := body[0].Span()

	marker := &syntax.ExprStmt{X: &syntax.Ident{Name: tag}}
	setup := &syntax.AssignStmt{
		Op:  syntax.EQ,
		LHS: &syntax.Ident{Name: "ready"},
		RHS: &syntax.Ident{Name: "True"},
	}

	out, err := Splice(body, []syntax.Stmt{setup, marker}, tag)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, anchor, setup.OpPos)
	assert.Equal(t, anchor, setup.LHS.(*syntax.Ident).NamePos)
	assert.Equal(t, int32(3), out[1].(*syntax.IfStmt).If.Line)
}
