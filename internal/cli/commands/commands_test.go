package commands

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/leapstack-labs/stardialect/internal/dag"
	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	_ "github.com/leapstack-labs/stardialect/pkg/dialects"
)

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		name  string
		cmd   *cobra.Command
		flags []string
	}{
		{name: "run", cmd: NewRunCommand(), flags: []string{"watch"}},
		{name: "check", cmd: NewCheckCommand()},
		{name: "graph", cmd: NewGraphCommand()},
		{name: "test", cmd: NewTestCommand(), flags: []string{"jobs"}},
		{name: "dialects", cmd: NewDialectsCommand()},
		{name: "macros", cmd: NewMacrosCommand()},
		{name: "repl", cmd: NewREPLCommand(), flags: []string{"dialect"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.cmd.Name())
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			assert.NotEmpty(t, tt.cmd.Long, "Long should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestModuleTarget(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "demo.star")
	require.NoError(t, os.WriteFile(file, []byte("x = 1\n"), 0o644))

	name, got, err := moduleTarget(file)
	require.NoError(t, err)
	assert.Equal(t, "demo", name)
	assert.Equal(t, dir, got)

	name, got, err = moduleTarget("pkg.mod")
	require.NoError(t, err)
	assert.Equal(t, "pkg.mod", name)
	assert.Empty(t, got)

	_, _, err = moduleTarget("not a module")
	assert.Error(t, err)

	_, _, err = moduleTarget(filepath.Join(dir, "missing.star"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "my-file.star")
	require.NoError(t, os.WriteFile(bad, []byte("x = 1\n"), 0o644))
	_, _, err = moduleTarget(bad)
	assert.Error(t, err)
}

func TestImportGraph(t *testing.T) {
	env := importer.NewEnvironment(importer.Config{
		FS: fstest.MapFS{
			"app.star": {Data: []byte("from __lang__ import unless\nload('lib', 'x')\nunless x:\n    fail('x')\n")},
			"lib.star": {Data: []byte("x = 1\n")},
		},
	})
	_, err := env.Import(t.Context(), "app")
	require.NoError(t, err)

	result, err := ImportGraph(dag.FromImporter(env.Importer))
	require.NoError(t, err)
	mods := result.Modules
	require.Len(t, mods, 3)

	// Imports load in the order the module made them.
	assert.Equal(t, "unless", mods[0].Name)
	assert.Equal(t, 0, mods[0].Level)
	assert.Equal(t, []string{"app"}, mods[0].ImportedBy)
	assert.Equal(t, "lib", mods[1].Name)
	assert.Equal(t, 0, mods[1].Level)

	app := mods[2]
	assert.Equal(t, "app", app.Name)
	assert.Equal(t, 1, app.Level)
	assert.Equal(t, "unless", app.Dialect)
	assert.Equal(t, []string{"unless", "lib"}, app.Imports)
	assert.Equal(t, []string{"lib", "unless"}, app.Dependencies)
	assert.Empty(t, app.ImportedBy)

	assert.Equal(t, 2, result.Edges)
	assert.Equal(t, []string{"lib", "unless"}, result.Roots)
	assert.Equal(t, []string{"app"}, result.Leaves)
}

func TestFindTestDirs(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{
		"a/test",
		"b/c/test",
		".hidden/test",
		"build/test",
		"dist/x/test",
		"d",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	dirs, err := FindTestDirs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a", "test"),
		filepath.Join(root, "b", "c", "test"),
	}, dirs)
}

func TestTestModules(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"test_a.star", "test_b.star", "helper.star", "test_c.txt", "test-d.star"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "test_dir.star"), 0o755))

	names, err := TestModules(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"test_a", "test_b"}, names)
}

func TestChunkComplete(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		last string
		want bool
	}{
		{name: "simple statement", buf: "x = 1\n", last: "x = 1", want: true},
		{name: "block header", buf: "if x:\n", last: "if x:", want: false},
		{name: "block body", buf: "if x:\n    y = 1\n", last: "    y = 1", want: false},
		{name: "block ended", buf: "if x:\n    y = 1\n\n", last: "", want: true},
		{name: "open bracket", buf: "x = [1,\n", last: "x = [1,", want: false},
		{name: "closed bracket", buf: "x = [1,\n2]\n", last: "2]", want: true},
		{name: "bracket in string", buf: "x = '('\n", last: "x = '('", want: true},
		{name: "bracket in comment", buf: "x = 1  # (\n", last: "x = 1  # (", want: true},
		{name: "line continuation", buf: "x = 1 + \\\n", last: "x = 1 + \\", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkComplete(tt.buf, tt.last))
		})
	}
}

func newTestEnvironment(t *testing.T, files fstest.MapFS, macros bool) *importer.Environment {
	t.Helper()
	return importer.NewEnvironment(importer.Config{
		FS:     files,
		Macros: macros,
		FileOptions: &syntax.FileOptions{
			TopLevelControl: true,
			GlobalReassign:  true,
			While:           true,
			Set:             true,
			Recursion:       true,
		},
	})
}

func TestSessionPlain(t *testing.T) {
	env := newTestEnvironment(t, fstest.MapFS{}, false)
	s, err := NewSession(t.Context(), env, "", false)
	require.NoError(t, err)

	v, err := s.Eval(t.Context(), "x = 20\n")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = s.Eval(t.Context(), "x + 1\n")
	require.NoError(t, err)
	assert.Equal(t, "21", v.String())

	_, err = s.Eval(t.Context(), "def double(n):\n    return n * 2\n\n")
	require.NoError(t, err)

	v, err = s.Eval(t.Context(), "double(x)\n")
	require.NoError(t, err)
	assert.Equal(t, "40", v.String())

	_, err = s.Eval(t.Context(), "undefined_name\n")
	assert.Error(t, err)

	assert.Contains(t, s.Globals(), "double")
	assert.NotContains(t, s.Globals(), importer.LangName)
}

func TestSessionSourceDialect(t *testing.T) {
	env := newTestEnvironment(t, fstest.MapFS{}, false)
	s, err := NewSession(t.Context(), env, "unless", false)
	require.NoError(t, err)
	assert.Equal(t, starlark.String("unless"), s.Globals()[importer.LangName])

	_, err = s.Eval(t.Context(), "hit = 0\n")
	require.NoError(t, err)
	_, err = s.Eval(t.Context(), "unless hit:\n    hit = 5\n\n")
	require.NoError(t, err)

	v, err := s.Eval(t.Context(), "hit\n")
	require.NoError(t, err)
	assert.Equal(t, "5", v.String())
}

func TestSessionTreeDialect(t *testing.T) {
	env := newTestEnvironment(t, fstest.MapFS{}, false)
	s, err := NewSession(t.Context(), env, "guard", false)
	require.NoError(t, err)

	_, err = s.Eval(t.Context(), "y = 3\n")
	require.NoError(t, err)
	require.Contains(t, s.Globals(), "y")
	assert.Equal(t, "3", s.Globals()["y"].String())
}

func TestSessionMacros(t *testing.T) {
	env := newTestEnvironment(t, fstest.MapFS{}, true)
	s, err := NewSession(t.Context(), env, "", true)
	require.NoError(t, err)

	_, err = s.Eval(t.Context(), "load('stdmacros', 'macros', 'stringify')\nsrc = stringify(1 + 2)\n")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("1 + 2"), s.Globals()["src"])
}

func TestSessionUnknownDialect(t *testing.T) {
	env := newTestEnvironment(t, fstest.MapFS{}, false)
	_, err := NewSession(t.Context(), env, "no_such_dialect", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, importer.ErrDialectImport)
}

func TestSessionNotADialect(t *testing.T) {
	env := newTestEnvironment(t, fstest.MapFS{"plain.star": {Data: []byte("x = 1\n")}}, false)
	_, err := NewSession(t.Context(), env, "plain", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, importer.ErrNoCapability)
}
