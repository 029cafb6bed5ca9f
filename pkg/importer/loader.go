package importer

import (
	"context"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Loader executes a transformed dialect module. File and package queries are
// answered by the loader that found the untransformed source.
type Loader struct {
	original *module.Spec
	program  *starlark.Program
	tree     *syntax.File
	dialect  string
	stages   []string
}

// CreateModule implements module.Loader. The importer allocates the module.
func (l *Loader) CreateModule(*module.Spec) (*module.Module, error) { return nil, nil }

// ExecModule runs the compiled module with mod's globals as its namespace.
func (l *Loader) ExecModule(ctx context.Context, mod *module.Module) error {
	return module.ExecProgram(ctx, l.program, mod)
}

// GetSource returns the untransformed source.
func (l *Loader) GetSource(name string) (string, error) {
	return l.source().GetSource(name)
}

// GetFilename implements module.SourceLoader.
func (l *Loader) GetFilename(name string) (string, error) {
	return l.source().GetFilename(name)
}

// IsPackage implements module.SourceLoader.
func (l *Loader) IsPackage(name string) (bool, error) {
	return l.source().IsPackage(name)
}

// Original returns the spec the module was found with before transformation.
func (l *Loader) Original() *module.Spec { return l.original }

// Tree returns the final syntax tree of the module.
func (l *Loader) Tree() *syntax.File { return l.tree }

// Program returns the compiled module.
func (l *Loader) Program() *starlark.Program { return l.program }

// Dialect returns the name of the module's dialect.
func (l *Loader) Dialect() string { return l.dialect }

// Stages lists the transforms applied to the module, in order.
func (l *Loader) Stages() []string { return l.stages }

func (l *Loader) source() module.SourceLoader {
	return l.original.Loader.(module.SourceLoader)
}
