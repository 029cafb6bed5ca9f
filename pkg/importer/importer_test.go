package importer_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"github.com/leapstack-labs/stardialect/internal/testutil"
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	_ "github.com/leapstack-labs/stardialect/pkg/dialects"
)

func mapFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, src := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(src)}
	}
	return fsys
}

func newEnv(t *testing.T, files map[string]string, macros bool) *importer.Environment {
	t.Helper()
	return importer.NewEnvironment(importer.Config{
		FS:     mapFS(files),
		Macros: macros,
		Logger: testutil.NewTestLogger(t),
	})
}

func importModule(t *testing.T, env *importer.Environment, name string) *module.Module {
	t.Helper()
	mod, err := env.Import(t.Context(), name)
	require.NoError(t, err)
	return mod
}

func loaderOf(t *testing.T, mod *module.Module) *importer.Loader {
	t.Helper()
	l, ok := mod.Spec.Loader.(*importer.Loader)
	require.True(t, ok, "module %s was not loaded as a dialect module", mod.Name)
	return l
}

// importError imports name and returns the dialect import error it fails with.
func importError(t *testing.T, env *importer.Environment, name string) *importer.Error {
	t.Helper()
	_, err := env.Import(t.Context(), name)
	require.Error(t, err)
	var ie *importer.Error
	require.ErrorAs(t, err, &ie)
	return ie
}

// Starlark dialects used by the tests. Marker text inside their own source
// is split so that they are not taken for dialect modules themselves.
var starlarkDialects = map[string]string{
	"numbers.star": `"""Spells out ONE."""

def source_transformer(src):
    return src.replace("ONE", "1")
`,
	"eraser.star": `def source_transformer(src):
    return src.replace("from __lang" + "__ import eraser", "")
`,
	"blank.star": `def source_transformer(src):
    return ""
`,
	"nothing.star": `def source_transformer(src):
    return None
`,
	"boom.star": `def source_transformer(src):
    fail("boom")
`,
	"twice.star": `def source_transformer(src):
    return src + "\nfrom __lang" + "__ import twice\n"
`,
	"hollow.star": "x = 1\n",
	"meta.star": `from __lang__ import unless

def source_transformer(src):
    unless src:
        fail("empty module")
    return src
`,
}

func withDialects(files map[string]string) map[string]string {
	out := make(map[string]string, len(files)+len(starlarkDialects))
	for name, src := range starlarkDialects {
		out[name] = src
	}
	for name, src := range files {
		out[name] = src
	}
	return out
}

func TestPlainModuleDeclined(t *testing.T) {
	env := newEnv(t, map[string]string{"plain.star": "x = 1\n"}, false)

	spec, err := env.Finder.FindSpec(env.Context(t.Context()), "plain", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)

	mod := importModule(t, env, "plain")
	_, ok := mod.Spec.Loader.(*module.SourceFileLoader)
	assert.True(t, ok)
	assert.NotContains(t, mod.Globals, importer.LangName)
}

func TestIdentityDialect(t *testing.T) {
	env := newEnv(t, map[string]string{
		"a.star": "from __lang__ import identity\nx = 1 + 1\n",
	}, false)

	mod := importModule(t, env, "a")
	assert.Equal(t, starlark.String("identity"), mod.Globals[importer.LangName])
	assert.Equal(t, "2", mod.Globals["x"].String())

	l := loaderOf(t, mod)
	assert.Equal(t, "identity", l.Dialect())
	assert.Equal(t, []string{dialect.SourceTransformerName}, l.Stages())
	assert.NotNil(t, l.Program())
	assert.Equal(t, "a.star", l.Original().Origin)

	filename, err := l.GetFilename("a")
	require.NoError(t, err)
	assert.Equal(t, "a.star", filename)
	src, err := l.GetSource("a")
	require.NoError(t, err)
	assert.Contains(t, src, importer.Marker)
	isPkg, err := l.IsPackage("a")
	require.NoError(t, err)
	assert.False(t, isPkg)

	// The declaration becomes an assignment at the declaration's position.
	first, ok := l.Tree().Stmts[0].(*syntax.AssignStmt)
	require.True(t, ok)
	assert.Equal(t, importer.LangName, first.LHS.(*syntax.Ident).Name)
	assert.Equal(t, int32(1), first.OpPos.Line)
}

func TestDeclarationAfterDocstring(t *testing.T) {
	env := newEnv(t, map[string]string{
		"doc.star": "\"\"\"Module doc.\"\"\"\nfrom __lang__ import identity\nx = 1\n",
	}, false)

	mod := importModule(t, env, "doc")
	assert.Equal(t, starlark.String("identity"), mod.Globals[importer.LangName])
	assert.Equal(t, "1", mod.Globals["x"].String())
}

func TestGuardDialectPreservesBehavior(t *testing.T) {
	src := `def f(n):
    return n * 2
x = f(3)
items = [i for i in range(3)]
total = 0
for i in items:
    total += i
names = {"a": 1}
names_len = len(names)
`
	env := newEnv(t, map[string]string{
		"plain.star":   src,
		"guarded.star": "from __lang__ import guard\n" + src,
	}, false)

	plain := importModule(t, env, "plain")
	guarded := importModule(t, env, "guarded")

	for name, want := range plain.Globals {
		got, ok := guarded.Globals[name]
		require.True(t, ok, "missing global %s", name)
		if _, isFunc := want.(*starlark.Function); isFunc {
			continue
		}
		assert.Equal(t, want.String(), got.String(), name)
	}
	assert.Equal(t, starlark.String("guard"), guarded.Globals[importer.LangName])

	l := loaderOf(t, guarded)
	assert.Equal(t, []string{dialect.TreeTransformerName}, l.Stages())
	require.Len(t, l.Tree().Stmts, 2)
	_, ok := l.Tree().Stmts[1].(*syntax.IfStmt)
	assert.True(t, ok)
}

func TestGuardDialectWithLoad(t *testing.T) {
	body := "load(\"lib\", \"y\")\nx = y + 1\n"
	env := newEnv(t, map[string]string{
		"lib.star":     "y = 41\n",
		"plain.star":   body,
		"guarded.star": "from __lang__ import guard\n" + body,
	}, false)

	plain := importModule(t, env, "plain")
	guarded := importModule(t, env, "guarded")
	assert.Equal(t, starlark.MakeInt(42), plain.Globals["x"])
	assert.Equal(t, plain.Globals["x"], guarded.Globals["x"])
	assert.Contains(t, env.Importer.Imports("guarded"), "lib")
}

func TestTraceDialectWithLoad(t *testing.T) {
	files := fstest.MapFS{
		"lib.star":  {Data: []byte("y = 41\n")},
		"user.star": {Data: []byte("from __lang__ import trace\nload(\"lib\", \"y\")\ny\n")},
	}

	var printed []string
	env := importer.NewEnvironment(importer.Config{
		FS:     files,
		Macros: true,
		Logger: testutil.NewTestLogger(t),
		Print: func(_ *starlark.Thread, msg string) {
			printed = append(printed, msg)
		},
	})

	importModule(t, env, "user")
	assert.Equal(t, []string{"y = 41"}, printed)
}

func TestDialectWithoutTransforms(t *testing.T) {
	env := newEnv(t, withDialects(map[string]string{
		"user.star": "from __lang__ import hollow\nx = 1\n",
	}), false)

	ie := importError(t, env, "user")
	assert.ErrorIs(t, ie, importer.ErrNoCapability)
	assert.Equal(t, "hollow", ie.Dialect)
	assert.Equal(t, "user", ie.Module)
	assert.Contains(t, ie.Error(), "hollow")
}

func TestDeclarationErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "no identifier", src: "from __lang__ import \nx = 1\n"},
		{name: "trailing text", src: "from __lang__ import a b\nx = 1\n"},
		{name: "indented", src: "if True:\n    from __lang__ import identity\n"},
		{name: "two declarations", src: "from __lang__ import no_such_dialect\nfrom __lang__ import no_such_dialect\n"},
		{name: "misplaced", src: "x = 1\nfrom __lang__ import identity\n"},
		{name: "after two strings", src: "\"a\"\n\"b\"\nfrom __lang__ import identity\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, map[string]string{"user.star": tt.src}, false)
			ie := importError(t, env, "user")
			assert.ErrorIs(t, ie, importer.ErrDeclaration)
			assert.Equal(t, "user.star", ie.File)
		})
	}
}

func TestDialectImportFailure(t *testing.T) {
	env := newEnv(t, map[string]string{
		"user.star": "from __lang__ import no_such_dialect\nx = 1\n",
	}, false)

	ie := importError(t, env, "user")
	assert.ErrorIs(t, ie, importer.ErrDialectImport)
	assert.ErrorIs(t, ie, module.ErrModuleNotFound)
	assert.Equal(t, "no_such_dialect", ie.Dialect)

	_, ok := env.Importer.Lookup("user")
	assert.False(t, ok)
}

func TestStarlarkSourceTransformer(t *testing.T) {
	env := newEnv(t, withDialects(map[string]string{
		"user.star": "from __lang__ import numbers\nx = ONE + ONE\n",
	}), false)

	mod := importModule(t, env, "user")
	assert.Equal(t, "2", mod.Globals["x"].String())
	assert.Equal(t, starlark.String("numbers"), mod.Globals[importer.LangName])

	// The dialect is an ordinary module.
	dmod, ok := env.Importer.Lookup("numbers")
	require.True(t, ok)
	d := dialect.Inspect(dmod)
	require.NoError(t, d.Validate())
	assert.Equal(t, []string{dialect.SourceTransformerName}, d.Capabilities())
}

func TestDialectWrittenInDialect(t *testing.T) {
	env := newEnv(t, withDialects(map[string]string{
		"user.star": "from __lang__ import meta\nx = 1\n",
	}), false)

	mod := importModule(t, env, "user")
	assert.Equal(t, starlark.String("meta"), mod.Globals[importer.LangName])

	dmod, ok := env.Importer.Lookup("meta")
	require.True(t, ok)
	assert.Equal(t, starlark.String("unless"), dmod.Globals[importer.LangName])
}

func TestSourceTransformerErrors(t *testing.T) {
	tests := []struct {
		dialect string
		kind    error
		message string
	}{
		{dialect: "eraser", kind: importer.ErrDeclarationRemoved},
		{dialect: "blank", kind: importer.ErrEmptySource},
		{dialect: "nothing", kind: importer.ErrEmptySource},
		{dialect: "boom", kind: importer.ErrTransform, message: "boom"},
		{dialect: "twice", kind: importer.ErrDeclaration},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			env := newEnv(t, withDialects(map[string]string{
				"user.star": "from __lang__ import " + tt.dialect + "\nx = 1\n",
			}), false)

			ie := importError(t, env, "user")
			assert.ErrorIs(t, ie, tt.kind)
			assert.Equal(t, tt.dialect, ie.Dialect)
			if tt.message != "" {
				assert.Contains(t, ie.Error(), tt.message)
			}
		})
	}
}

func TestParseAndCompileErrors(t *testing.T) {
	env := newEnv(t, map[string]string{
		"syntax.star":  "from __lang__ import identity\nx = = 1\n",
		"resolve.star": "from __lang__ import identity\nx = undefined_name\n",
	}, false)

	ie := importError(t, env, "syntax")
	assert.ErrorIs(t, ie, importer.ErrParse)

	ie = importError(t, env, "resolve")
	assert.ErrorIs(t, ie, importer.ErrCompile)
	assert.Contains(t, ie.Error(), "undefined_name")
	assert.Equal(t, "resolve.star", ie.File)
}

var failingTree = &dialect.Dialect{
	Name: "failing_tree",
	Tree: func([]syntax.Stmt) ([]syntax.Stmt, error) {
		return nil, errors.New("tree rejected")
	},
}

var registerOnce sync.Once

func TestTreeTransformerError(t *testing.T) {
	registerOnce.Do(func() { dialect.Register(failingTree) })
	env := newEnv(t, map[string]string{
		"user.star": "from __lang__ import failing_tree\nx = 1\n",
	}, false)

	ie := importError(t, env, "user")
	assert.ErrorIs(t, ie, importer.ErrTransform)
	assert.Contains(t, ie.Error(), "tree rejected")
}

func TestUnlessDialect(t *testing.T) {
	env := newEnv(t, map[string]string{
		"user.star": `from __lang__ import unless
hit = []
unless False:
    hit.append(1)
unless True:  # never
    hit.append(2)
`,
	}, false)

	mod := importModule(t, env, "user")
	assert.Equal(t, "[1]", mod.Globals["hit"].String())
}

func TestTraceDialect(t *testing.T) {
	files := fstest.MapFS{
		"user.star": {Data: []byte("from __lang__ import trace\nx = 1\nx + 1\nprint('plain')\n")},
	}

	var mu sync.Mutex
	var printed []string
	env := importer.NewEnvironment(importer.Config{
		FS:     files,
		Macros: true,
		Logger: testutil.NewTestLogger(t),
		Print: func(_ *starlark.Thread, msg string) {
			mu.Lock()
			defer mu.Unlock()
			printed = append(printed, msg)
		},
	})

	mod := importModule(t, env, "user")
	assert.Equal(t, []string{"x + 1 = 2", "plain"}, printed)
	assert.Equal(t, []string{dialect.TreeTransformerName, macro.MarkerName}, loaderOf(t, mod).Stages())
}

func TestTraceDialectWithoutMacros(t *testing.T) {
	env := newEnv(t, map[string]string{
		"user.star": "from __lang__ import trace\nx = 1\nx\n",
	}, false)

	_, err := env.Import(t.Context(), "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was not expanded")
}

func TestMacrosInDialectModule(t *testing.T) {
	env := newEnv(t, map[string]string{
		"user.star": "from __lang__ import identity\nload(\"stdmacros\", \"macros\", \"stringify\")\ns = stringify(a + b)\n",
	}, true)

	mod := importModule(t, env, "user")
	assert.Equal(t, starlark.String("a + b"), mod.Globals["s"])
	assert.Equal(t, []string{dialect.SourceTransformerName, macro.MarkerName}, loaderOf(t, mod).Stages())
}

func TestMacroExpansionFailure(t *testing.T) {
	env := newEnv(t, map[string]string{
		"user.star": "from __lang__ import identity\nload(\"stdmacros\", \"macros\", \"nope\")\n",
	}, true)

	ie := importError(t, env, "user")
	assert.ErrorIs(t, ie, importer.ErrTransform)
	assert.ErrorIs(t, ie, macro.ErrUnknownMacro)
}

func TestNopExpander(t *testing.T) {
	assert.IsType(t, importer.NopExpander{}, importer.ExpanderFor(false))
	assert.IsType(t, importer.MacroExpander{}, importer.ExpanderFor(true))

	f, err := module.DefaultFileOptions().Parse("x.star", "load(\"stdmacros\", \"macros\", \"show\")\n", 0)
	require.NoError(t, err)
	nop := importer.NopExpander{}
	assert.Nil(t, nop.Detect(f, "x", "", "x"))
	out, err := nop.Expand(t.Context(), f, "", nil)
	require.NoError(t, err)
	assert.Same(t, f, out)
	assert.Len(t, importer.MacroExpander{}.Detect(f, "x", "", "x"), 1)
}

func TestFinderDeclinesBuiltinsAndMisses(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mp := module.NewMetaPath(dialect.Builtins())
	imp := module.NewImporter(mp)
	ctx := module.NewContext(context.Background(), imp)

	f := importer.NewFinder(mp, importer.WithLogger(logger))
	importer.Activate(mp, f)

	spec, err := f.FindSpec(ctx, importer.LangName, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)
	assert.Empty(t, buf.String())

	spec, err = f.FindSpec(ctx, "identity", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)

	spec, err = f.FindSpec(ctx, "missing", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)
	assert.Contains(t, buf.String(), "missing")

	buf.Reset()
	quiet := importer.NewFinder(mp, importer.WithLogger(logger), importer.WithQuietMisses("missing"))
	_, err = quiet.FindSpec(ctx, "missing", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

// failingSource is a source loader whose source cannot be read.
type failingSource struct {
	err error
}

func (l failingSource) CreateModule(*module.Spec) (*module.Module, error) { return nil, nil }
func (l failingSource) ExecModule(context.Context, *module.Module) error { return nil }
func (l failingSource) GetSource(string) (string, error)                { return "", l.err }
func (l failingSource) GetFilename(name string) (string, error)         { return name + ".star", nil }
func (l failingSource) IsPackage(string) (bool, error)                  { return false, nil }

func TestTransformDeclinesUnreadableSource(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		logged bool
	}{
		{name: "no source", err: fmt.Errorf("frozen: %w", module.ErrNoSource), logged: false},
		{name: "read error", err: errors.New("disk on fire"), logged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			mp := module.NewMetaPath(dialect.Builtins())
			ctx := module.NewContext(context.Background(), module.NewImporter(mp))
			f := importer.NewFinder(mp, importer.WithLogger(logger))

			spec, err := f.Transform(ctx, &module.Spec{Name: "m", Origin: "m.star", Loader: failingSource{err: tt.err}})
			require.NoError(t, err)
			assert.Nil(t, spec)

			if tt.logged {
				assert.Contains(t, buf.String(), "level=WARN")
				assert.Contains(t, buf.String(), "disk on fire")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTransformDeclinesPlainSpec(t *testing.T) {
	files := map[string]string{"plain.star": "x = 1\n", "empty.star": ""}
	env := newEnv(t, files, false)
	ctx := env.Context(t.Context())
	finder := module.NewFileFinder(mapFS(files), nil)

	for _, name := range []string{"plain", "empty"} {
		spec, err := finder.FindSpec(ctx, name, nil, nil)
		require.NoError(t, err)
		require.NotNil(t, spec)

		out, err := env.Finder.Transform(ctx, spec)
		require.NoError(t, err)
		assert.Nil(t, out)
	}
}

func TestActivateIdempotent(t *testing.T) {
	mp := module.NewMetaPath(module.NewBuiltinFinder())

	first := importer.NewFinder(mp)
	importer.Activate(mp, first)
	importer.Activate(mp, first)

	second := importer.NewFinder(mp)
	importer.Activate(mp, second)

	count := 0
	for _, f := range mp.Finders() {
		if _, ok := f.(*importer.Finder); ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, mp.Len())
	assert.Same(t, second, mp.Finders()[0])
}

// stubFinder is a test finder; dialect finders never delegate to it.
type stubFinder struct {
	*module.FileFinder
}

func TestFinderSkipsTestAndSkippedFinders(t *testing.T) {
	files := mapFS(map[string]string{"a.star": "from __lang__ import identity\nx = 1\n"})

	mp := module.NewMetaPath(dialect.Builtins(), stubFinder{module.NewFileFinder(files, nil)})
	ctx := module.NewContext(context.Background(), module.NewImporter(mp))
	f := importer.NewFinder(mp)
	importer.Activate(mp, f)

	spec, err := f.FindSpec(ctx, "a", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)

	mp = module.NewMetaPath(dialect.Builtins(), module.NewFileFinder(files, nil))
	ctx = module.NewContext(context.Background(), module.NewImporter(mp))
	f = importer.NewFinder(mp)
	importer.Activate(mp, f)

	spec, err = f.FindSpec(ctx, "a", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, spec)

	mp = module.NewMetaPath(dialect.Builtins(), module.NewFileFinder(files, nil))
	ctx = module.NewContext(context.Background(), module.NewImporter(mp))
	skipping := importer.NewFinder(mp, importer.WithSkip(func(other module.Finder) bool {
		_, ok := other.(*module.FileFinder)
		return ok
	}))
	importer.Activate(mp, skipping)

	spec, err = skipping.FindSpec(ctx, "a", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, spec)
}

func TestEnvironment(t *testing.T) {
	env := newEnv(t, nil, true)

	assert.Same(t, env.Importer, module.FromContext(env.Context(t.Context())))
	assert.Same(t, env.Finder, env.MetaPath.Finders()[0])
	_, ok := env.MetaPath.Finders()[1].(*macro.Finder)
	assert.True(t, ok)
	assert.Contains(t, env.Builtins.Names(), macro.StdModule)
	assert.Contains(t, env.Builtins.Names(), "identity")

	env = newEnv(t, nil, false)
	assert.Equal(t, 3, env.MetaPath.Len())
}

func TestErrorFormat(t *testing.T) {
	cause := errors.New("cause")
	e := &importer.Error{Kind: importer.ErrCompile, Module: "m", File: "m.star", Dialect: "d", Err: cause}
	assert.Equal(t, "cannot compile dialect output: module m (m.star), dialect d: cause", e.Error())
	assert.ErrorIs(t, e, importer.ErrCompile)
	assert.ErrorIs(t, e, cause)

	bare := &importer.Error{Kind: importer.ErrNoCapability, Module: "m"}
	assert.Equal(t, "module has no dialect transformers: module m", bare.Error())
	assert.ErrorIs(t, bare, dialect.ErrNoCapability)
}
