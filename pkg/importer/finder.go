// Package importer intercepts module loading to translate dialect modules
// into plain Starlark.
//
// A dialect module starts with a declaration line naming its dialect:
//
//	from __lang__ import unless
//
// The Finder recognizes the line in the raw text, imports the dialect,
// applies its transforms, expands macros and compiles the result. The
// declaration becomes the global __lang__ holding the dialect name.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
)

// DefaultQuietMiss is the lookup that is declined without logging.
const DefaultQuietMiss = LangName

// Finder finds dialect modules. It must be the first finder of its meta path.
type Finder struct {
	metaPath *module.MetaPath
	expander Expander
	logger   *slog.Logger
	quiet    map[string]bool
	skip     []func(module.Finder) bool
}

// Option configures a Finder.
type Option func(*Finder)

// WithLogger sets the finder's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithExpander sets the second-stage expander.
func WithExpander(e Expander) Option {
	return func(f *Finder) {
		if e != nil {
			f.expander = e
		}
	}
}

// WithQuietMisses replaces the names whose failed lookups are not logged.
func WithQuietMisses(names ...string) Option {
	return func(f *Finder) {
		f.quiet = make(map[string]bool, len(names))
		for _, n := range names {
			f.quiet[n] = true
		}
	}
}

// WithSkip adds a predicate selecting finders not to delegate to.
func WithSkip(pred func(module.Finder) bool) Option {
	return func(f *Finder) {
		f.skip = append(f.skip, pred)
	}
}

// NewFinder creates a dialect finder delegating to the other finders of
// metaPath. Macro expansion is enabled unless another expander is given.
func NewFinder(metaPath *module.MetaPath, opts ...Option) *Finder {
	f := &Finder{
		metaPath: metaPath,
		expander: MacroExpander{},
		logger:   slog.New(slog.DiscardHandler),
		quiet:    map[string]bool{DefaultQuietMiss: true},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Intercepts implements module.Interceptor.
func (f *Finder) Intercepts() bool { return true }

// FindSpec implements module.Finder. It returns nil for modules that are not
// dialect modules and an error when a dialect module cannot be prepared.
func (f *Finder) FindSpec(ctx context.Context, name string, path []string, target *module.Module) (*module.Spec, error) {
	spec, err := f.delegate(ctx, name, path, target)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		if !f.quiet[name] {
			f.logger.Debug("no finder found module", slog.String("module", name))
		}
		return nil, nil
	}
	if _, ok := spec.Loader.(module.SourceLoader); !ok {
		f.logger.Debug("loader has no source", slog.String("module", name))
		return nil, nil
	}
	return f.Transform(ctx, spec)
}

// delegate asks the other finders of the meta path for the untransformed spec.
func (f *Finder) delegate(ctx context.Context, name string, path []string, target *module.Module) (*module.Spec, error) {
	for _, other := range f.metaPath.Finders() {
		if f.skipped(other) {
			continue
		}
		spec, err := other.FindSpec(ctx, name, path, target)
		if err != nil {
			return nil, err
		}
		if spec != nil {
			return spec, nil
		}
	}
	return nil, nil
}

func (f *Finder) skipped(other module.Finder) bool {
	if other == module.Finder(f) {
		return true
	}
	if _, ok := other.(*macro.Finder); ok {
		return true
	}
	if isTestFinder(other) {
		return true
	}
	for _, pred := range f.skip {
		if pred(other) {
			return true
		}
	}
	return false
}

// isTestFinder reports whether other is defined in a test package.
func isTestFinder(other module.Finder) bool {
	t := reflect.TypeOf(other)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.HasSuffix(t.PkgPath(), "_test")
}

// Transform prepares the module found as spec. It returns nil when spec is
// not a dialect module.
func (f *Finder) Transform(ctx context.Context, spec *module.Spec) (*module.Spec, error) {
	name := spec.Name
	if spec.Origin == module.OriginBuiltin {
		return nil, nil
	}
	sl, ok := spec.Loader.(module.SourceLoader)
	if !ok {
		return nil, nil
	}
	source, err := sl.GetSource(name)
	if err != nil {
		if !errors.Is(err, module.ErrNoSource) {
			f.logger.Warn("cannot read source", slog.String("module", name), slog.Any("error", err))
		}
		return nil, nil
	}
	if source == "" || !strings.Contains(source, Marker) {
		return nil, nil
	}
	filename, _ := sl.GetFilename(name)

	fail := func(kind error, dialectName string, err error) (*module.Spec, error) {
		e := &Error{Kind: kind, Module: name, File: filename, Dialect: dialectName, Err: err}
		f.logger.Error("dialect import failed",
			slog.String("module", name),
			slog.String("file", filename),
			slog.String("dialect", dialectName),
			slog.Any("error", e))
		return nil, e
	}

	decl, err := findDeclaration(source)
	if err != nil {
		return fail(ErrDeclaration, "", err)
	}
	log := f.logger.With(slog.String("module", name), slog.String("dialect", decl.Dialect))
	log.Info("detected dialect module", slog.String("file", filename))

	imp := module.FromContext(ctx)
	if imp == nil {
		return fail(ErrDialectImport, decl.Dialect, errors.New("no importer in context"))
	}
	dmod, err := imp.Import(ctx, decl.Dialect)
	if err != nil {
		return fail(ErrDialectImport, decl.Dialect, err)
	}
	d := dialect.Inspect(dmod)
	if err := d.Validate(); err != nil {
		return fail(ErrNoCapability, decl.Dialect, nil)
	}

	var stages []string
	text := source
	if d.Source != nil {
		text, err = d.Source(source)
		if err != nil {
			return fail(ErrTransform, decl.Dialect, err)
		}
		if text == "" {
			return fail(ErrEmptySource, decl.Dialect, nil)
		}
		if !strings.Contains(text, Marker) {
			return fail(ErrDeclarationRemoved, decl.Dialect, nil)
		}
		stages = append(stages, dialect.SourceTransformerName)
		log.Info("applied source transformer")
	}

	// The transformed text must still carry exactly one declaration.
	placed, err := findDeclaration(text)
	if err != nil {
		return fail(ErrDeclaration, decl.Dialect, err)
	}
	placed.Dialect = decl.Dialect
	text = placed.rewrite(text)

	tree, err := imp.FileOptions().Parse(filename, text, 0)
	if err != nil {
		return fail(ErrParse, decl.Dialect, err)
	}
	if len(tree.Stmts) == 0 {
		return fail(ErrParse, decl.Dialect, errors.New("module has no statements"))
	}

	i, err := locate(tree.Stmts, placed.Line)
	if err != nil {
		return fail(ErrDeclaration, decl.Dialect, err)
	}
	pos, _ := tree.Stmts[i].Span()
	preamble := append(tree.Stmts[:i:i], assignment(decl.Dialect, pos))
	body := tree.Stmts[i+1:]

	if d.Tree != nil {
		body, err = d.Tree(body)
		if err != nil {
			return fail(ErrTransform, decl.Dialect, err)
		}
		stages = append(stages, dialect.TreeTransformerName)
		log.Info("applied tree transformer", slog.Int("statements", len(body)))
	}
	tree.Stmts = append(preamble, body...)

	if bindings := f.expander.Detect(tree, name, spec.Parent(), name); len(bindings) > 0 {
		tree, err = f.expander.Expand(ctx, tree, text, bindings)
		if err != nil {
			return fail(ErrTransform, decl.Dialect, fmt.Errorf("expand macros: %w", err))
		}
		stages = append(stages, macro.MarkerName)
		log.Info("expanded macros", slog.Int("imports", len(bindings)))
	}

	prog, err := starlark.FileProgram(tree, imp.Predeclared().Has)
	if err != nil {
		return fail(ErrCompile, decl.Dialect, err)
	}
	log.Info("compiled dialect module")

	return &module.Spec{
		Name:   name,
		Origin: spec.Origin,
		Loader: &Loader{
			original: spec,
			program:  prog,
			tree:     tree,
			dialect:  decl.Dialect,
			stages:   stages,
		},
		SubmoduleSearchLocations: spec.SubmoduleSearchLocations,
	}, nil
}

var _ module.Interceptor = (*Finder)(nil)
