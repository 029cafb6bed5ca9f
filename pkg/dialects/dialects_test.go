package dialects

import (
	"testing"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/splice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/syntax"
)

func body(t *testing.T, src string) []syntax.Stmt {
	t.Helper()
	f, err := (&syntax.FileOptions{TopLevelControl: true}).Parse("body.star", src, 0)
	require.NoError(t, err)
	return f.Stmts
}

func TestRegistered(t *testing.T) {
	tests := []struct {
		name string
		caps []string
	}{
		{name: "identity", caps: []string{dialect.SourceTransformerName}},
		{name: "unless", caps: []string{dialect.SourceTransformerName}},
		{name: "guard", caps: []string{dialect.TreeTransformerName}},
		{name: "trace", caps: []string{dialect.TreeTransformerName}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := dialect.Get(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.caps, d.Capabilities())
			assert.NotEmpty(t, d.Doc)
			assert.NoError(t, d.Validate())
		})
	}
}

func TestIdentity(t *testing.T) {
	src := "from __lang__ import identity\nx = 1\n"
	out, err := Identity.TransformSource(src)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestUnless(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{name: "block", src: "unless x:\n    y()\n", want: "if not (x):\n    y()\n"},
		{name: "indented with comment", src: "    unless a == b:  # c\n", want: "    if not (a == b):  # c\n"},
		{name: "colon in condition", src: "unless d == {1: 2}:\n", want: "if not (d == {1: 2}):\n"},
		{name: "colon and hash in string", src: "unless x == \":#\":\n", want: "if not (x == \":#\"):\n"},
		{name: "hash in string with comment", src: "unless s.endswith('#'):  # tag\n", want: "if not (s.endswith('#')):  # tag\n"},
		{name: "escaped quote", src: "unless s == 'it\\'s:':\n", want: "if not (s == 'it\\'s:'):\n"},
		{name: "open bracket", src: "unless f(a,\n", want: "unless f(a,\n"},
		{name: "crlf", src: "unless x:\r\n", want: "if not (x):\r\n"},
		{name: "identifier prefix", src: "unlessx = 1\n", want: "unlessx = 1\n"},
		{name: "inside string", src: "x = 'unless y:'\n", want: "x = 'unless y:'\n"},
		{name: "single-line body", src: "unless x: pass\n", want: "unless x: pass\n"},
		{name: "declaration kept", src: "from __lang__ import unless\n", want: "from __lang__ import unless\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unless.TransformSource(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGuard(t *testing.T) {
	out, err := Guard.TransformTree(body(t, "x = 1\ny = 2\n"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	guard, ok := out[0].(*syntax.IfStmt)
	require.True(t, ok)
	assert.Len(t, guard.True, 2)
	assert.Equal(t, int32(1), guard.If.Line)

	_, err = Guard.TransformTree(nil)
	assert.ErrorIs(t, err, splice.ErrEmptyBody)
}

func TestTrace(t *testing.T) {
	out, err := Trace.TransformTree(body(t, "x\nf(x)\n'doc'\ny = 1\n"))
	require.NoError(t, err)
	require.Len(t, out, 3)

	load, ok := out[0].(*syntax.LoadStmt)
	require.True(t, ok)
	assert.Equal(t, macro.StdModule, load.ModuleName())
	assert.True(t, macro.IsMacroImport(load))
	assert.True(t, load.Load.IsValid())

	guard, ok := out[2].(*syntax.IfStmt)
	require.True(t, ok)
	require.Len(t, guard.True, 4)

	traced := guard.True[0].(*syntax.ExprStmt).X.(*syntax.CallExpr)
	assert.Equal(t, "print", traced.Fn.(*syntax.Ident).Name)
	assert.Equal(t, `print("%s = %r" % show(x))`, macro.FormatExpr(traced))

	call := guard.True[1].(*syntax.ExprStmt).X.(*syntax.CallExpr)
	assert.Equal(t, "f", call.Fn.(*syntax.Ident).Name)
	_, ok = guard.True[2].(*syntax.ExprStmt).X.(*syntax.Literal)
	assert.True(t, ok)
	_, ok = guard.True[3].(*syntax.AssignStmt)
	assert.True(t, ok)
}
