package macro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Finder expands macros in ordinary (non-dialect) modules. It finds the
// module with the remaining finders of its meta path and, when the source
// imports macros, returns a spec whose loader runs the expanded code.
type Finder struct {
	metaPath *module.MetaPath
	logger   *slog.Logger
}

// NewFinder creates a macro finder delegating to the other finders of metaPath.
func NewFinder(metaPath *module.MetaPath, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Finder{metaPath: metaPath, logger: logger}
}

// Intercepts implements module.Interceptor.
func (f *Finder) Intercepts() bool { return true }

// FindSpec implements module.Finder.
func (f *Finder) FindSpec(ctx context.Context, name string, path []string, target *module.Module) (*module.Spec, error) {
	spec, err := f.findOriginal(ctx, name, path, target)
	if err != nil || spec == nil || spec.Origin == module.OriginBuiltin {
		return nil, err
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
	if !strings.Contains(source, MarkerName) {
		return nil, nil
	}
	filename, _ := sl.GetFilename(name)

	tree, err := module.FileOptionsFrom(ctx).Parse(filename, source, 0)
	if err != nil {
		return nil, err
	}
	bindings := Detect(tree, name, spec.Parent(), name)
	if len(bindings) == 0 {
		return nil, nil
	}

	f.logger.Info("expanding macros", slog.String("module", name), slog.String("file", filename))
	tree, err = ExpandTree(ctx, tree, source, bindings)
	if err != nil {
		return nil, err
	}
	prog, err := starlark.FileProgram(tree, module.PredeclaredFrom(ctx).Has)
	if err != nil {
		f.logger.Error("compile failed", slog.String("module", name), slog.String("file", filename), slog.Any("error", err))
		return nil, fmt.Errorf("compile %s: %w", filename, err)
	}

	return &module.Spec{
		Name:                     name,
		Origin:                   spec.Origin,
		Loader:                   &Loader{original: spec, program: prog, tree: tree},
		SubmoduleSearchLocations: spec.SubmoduleSearchLocations,
	}, nil
}

func (f *Finder) findOriginal(ctx context.Context, name string, path []string, target *module.Module) (*module.Spec, error) {
	for _, other := range f.metaPath.Finders() {
		if other == module.Finder(f) {
			continue
		}
		if _, ok := other.(module.Interceptor); ok {
			continue
		}
		spec, err := other.FindSpec(ctx, name, path, target)
		if err != nil || spec != nil {
			return spec, err
		}
	}
	return nil, nil
}

// ExpandTree imports the modules named by bindings and expands their macros
// in tree. The importer is taken from ctx.
func ExpandTree(ctx context.Context, tree *syntax.File, source string, bindings []Binding) (*syntax.File, error) {
	imp := module.FromContext(ctx)
	if imp == nil {
		return nil, fmt.Errorf("expand macros in %s: no importer", tree.Path)
	}
	resolved := make([]Resolved, 0, len(bindings))
	for _, b := range bindings {
		mod, err := imp.Import(ctx, b.Module)
		if err != nil {
			return nil, fmt.Errorf("import macro module %s: %w", b.Module, err)
		}
		resolved = append(resolved, Resolved{Binding: b, Module: mod})
	}
	ec, err := NewExpansionContext(tree, source, resolved)
	if err != nil {
		return nil, err
	}
	return ec.Expand()
}

// Loader runs a macro-expanded module. File and package queries are answered
// by the loader of the unexpanded module.
type Loader struct {
	original *module.Spec
	program  *starlark.Program
	tree     *syntax.File
}

// CreateModule implements module.Loader.
func (l *Loader) CreateModule(*module.Spec) (*module.Module, error) { return nil, nil }

// ExecModule implements module.Loader.
func (l *Loader) ExecModule(ctx context.Context, mod *module.Module) error {
	return module.ExecProgram(ctx, l.program, mod)
}

// Tree returns the expanded syntax tree.
func (l *Loader) Tree() *syntax.File { return l.tree }

// GetFilename implements module.SourceLoader.
func (l *Loader) GetFilename(name string) (string, error) {
	return l.original.Loader.(module.SourceLoader).GetFilename(name)
}

// IsPackage implements module.SourceLoader.
func (l *Loader) IsPackage(name string) (bool, error) {
	return l.original.Loader.(module.SourceLoader).IsPackage(name)
}

// GetSource implements module.SourceLoader with the unexpanded source.
func (l *Loader) GetSource(name string) (string, error) {
	return l.original.Loader.(module.SourceLoader).GetSource(name)
}
