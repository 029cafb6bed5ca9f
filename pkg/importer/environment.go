package importer

import (
	"context"
	"io/fs"
	"log/slog"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"github.com/leapstack-labs/stardialect/pkg/dialect"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Config describes an import environment.
type Config struct {
	// FS holds the search path. When nil, each search path entry is an
	// on-disk directory.
	FS         fs.FS
	SearchPath []string

	// Macros enables second-stage macro expansion, for dialect modules and
	// for plain modules alike.
	Macros bool

	// QuietMisses replaces the names whose failed lookups are not logged.
	QuietMisses []string

	FileOptions *syntax.FileOptions
	Predeclared starlark.StringDict
	Print       func(thread *starlark.Thread, msg string)
	Logger      *slog.Logger
}

// Environment is a meta path with an activated dialect finder and the
// importer using it.
type Environment struct {
	MetaPath *module.MetaPath
	Importer *module.Importer
	Finder   *Finder
	Builtins *module.BuiltinFinder
}

// NewEnvironment builds the meta path for cfg: the dialect finder, the macro
// finder when macros are enabled, the builtin modules (registered dialects
// and the standard macros), then the search path.
func NewEnvironment(cfg Config) *Environment {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	builtins := dialect.Builtins()
	macro.InstallStd(builtins)

	mp := module.NewMetaPath(builtins)
	if cfg.FS != nil {
		mp.Append(module.NewFileFinder(cfg.FS, cfg.SearchPath))
	} else {
		for _, dir := range cfg.SearchPath {
			mp.Append(module.NewDirFinder(dir))
		}
	}
	if cfg.Macros {
		mp.InsertFront(macro.NewFinder(mp, logger.With(slog.String("component", "macro"))))
	}

	opts := []Option{
		WithLogger(logger.With(slog.String("component", "importer"))),
		WithExpander(ExpanderFor(cfg.Macros)),
	}
	if cfg.QuietMisses != nil {
		opts = append(opts, WithQuietMisses(cfg.QuietMisses...))
	}
	finder := NewFinder(mp, opts...)
	Activate(mp, finder)

	imp := module.NewImporter(mp,
		module.WithPredeclared(cfg.Predeclared),
		module.WithFileOptions(cfg.FileOptions),
		module.WithPrint(cfg.Print),
		module.WithLogger(logger),
	)
	return &Environment{MetaPath: mp, Importer: imp, Finder: finder, Builtins: builtins}
}

// Import imports name.
func (e *Environment) Import(ctx context.Context, name string) (*module.Module, error) {
	return e.Importer.Import(ctx, name)
}

// Context returns ctx carrying the environment's importer, for calling
// finders and loaders directly.
func (e *Environment) Context(ctx context.Context) context.Context {
	return module.NewContext(ctx, e.Importer)
}
