package module

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultFileOptions returns the dialect options used when none are configured.
// Top-level control flow must be allowed so that rewritten modules may wrap
// their body in a conditional.
func DefaultFileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

// Importer resolves module names through a MetaPath and caches the results.
type Importer struct {
	metaPath    *MetaPath
	predeclared starlark.StringDict
	options     *syntax.FileOptions
	print       func(thread *starlark.Thread, msg string)
	logger      *slog.Logger

	mu      sync.Mutex
	modules map[string]*record
	// imports maps a module to the modules it imported, in first-import order.
	imports map[string][]string
}

// record tracks one module through loading. done is closed once mod or err
// is set; finished is set at the same time under the importer's lock.
type record struct {
	mod      *Module
	err      error
	finished bool
	done     chan struct{}
	owner    *chain
}

// chain is one top-level import together with the nested imports it makes.
// waiting is the record the chain is blocked on, guarded by the importer's lock.
type chain struct {
	waiting *record
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithPredeclared sets the predeclared globals visible to every module.
func WithPredeclared(predeclared starlark.StringDict) ImporterOption {
	return func(imp *Importer) {
		if predeclared != nil {
			imp.predeclared = predeclared
		}
	}
}

// WithFileOptions sets the Starlark dialect options used to parse modules.
func WithFileOptions(opts *syntax.FileOptions) ImporterOption {
	return func(imp *Importer) {
		if opts != nil {
			imp.options = opts
		}
	}
}

// WithPrint sets the handler for the Starlark print builtin.
func WithPrint(print func(thread *starlark.Thread, msg string)) ImporterOption {
	return func(imp *Importer) {
		imp.print = print
	}
}

// WithLogger sets the importer's logger.
func WithLogger(logger *slog.Logger) ImporterOption {
	return func(imp *Importer) {
		if logger != nil {
			imp.logger = logger
		}
	}
}

// NewImporter creates an importer consulting metaPath.
func NewImporter(metaPath *MetaPath, opts ...ImporterOption) *Importer {
	imp := &Importer{
		metaPath:    metaPath,
		predeclared: starlark.StringDict{},
		options:     DefaultFileOptions(),
		logger:      slog.New(slog.DiscardHandler),
		modules:     make(map[string]*record),
		imports:     make(map[string][]string),
	}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// MetaPath returns the finder chain used by the importer.
func (imp *Importer) MetaPath() *MetaPath { return imp.metaPath }

// Predeclared returns the globals predeclared for every module.
func (imp *Importer) Predeclared() starlark.StringDict { return imp.predeclared }

// FileOptions returns the Starlark dialect options for parsing.
func (imp *Importer) FileOptions() *syntax.FileOptions { return imp.options }

// Logger returns the importer's logger.
func (imp *Importer) Logger() *slog.Logger { return imp.logger }

// Lookup returns an already loaded module.
func (imp *Importer) Lookup(name string) (*Module, bool) {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	rec, ok := imp.modules[name]
	if !ok || rec.mod == nil {
		return nil, false
	}
	select {
	case <-rec.done:
		return rec.mod, true
	default:
		return nil, false
	}
}

// Modules returns the names of all successfully loaded modules.
func (imp *Importer) Modules() []string {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	names := make([]string, 0, len(imp.modules))
	for name, rec := range imp.modules {
		if rec.mod != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Imports returns the names of the modules that name imported while
// loading, whether or not those imports succeeded.
func (imp *Importer) Imports(name string) []string {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	return slices.Clone(imp.imports[name])
}

// Import returns the module called name, loading it on first use.
//
// Concurrent imports of the same name wait for the first one to finish.
// Waiting on a module whose loader waits, directly or through other
// imports, on the caller fails with a CycleError instead of blocking.
// A module whose loading fails is not cached; the next import retries.
func (imp *Importer) Import(ctx context.Context, name string) (*Module, error) {
	stack := importStack(ctx)
	if slices.Contains(stack, name) {
		return nil, &CycleError{Chain: append(slices.Clone(stack), name)}
	}
	own := importChain(ctx)
	if own == nil {
		own = &chain{}
		ctx = context.WithValue(ctx, chainKey{}, own)
	}

	imp.mu.Lock()
	if n := len(stack); n > 0 && !slices.Contains(imp.imports[stack[n-1]], name) {
		imp.imports[stack[n-1]] = append(imp.imports[stack[n-1]], name)
	}
	if rec, ok := imp.modules[name]; ok {
		if imp.waitsOn(rec, own) {
			imp.mu.Unlock()
			return nil, &CycleError{Chain: append(slices.Clone(stack), name)}
		}
		own.waiting = rec
		imp.mu.Unlock()

		select {
		case <-rec.done:
		case <-ctx.Done():
		}
		imp.mu.Lock()
		own.waiting = nil
		finished := rec.finished
		imp.mu.Unlock()

		if !finished {
			return nil, ctx.Err()
		}
		if rec.err != nil {
			return nil, rec.err
		}
		return rec.mod, nil
	}
	rec := &record{done: make(chan struct{}), owner: own}
	imp.modules[name] = rec
	imp.mu.Unlock()

	mod, err := imp.load(withImport(ctx, imp, name), name)

	imp.mu.Lock()
	rec.mod, rec.err, rec.finished = mod, err, true
	if err != nil {
		delete(imp.modules, name)
	}
	imp.mu.Unlock()
	close(rec.done)

	return mod, err
}

// waitsOn reports whether the import loading rec is, through the records
// other imports are blocked on, waiting for own. It is called with imp.mu held.
func (imp *Importer) waitsOn(rec *record, own *chain) bool {
	seen := make(map[*chain]bool)
	for r := rec; r != nil && !r.finished && !seen[r.owner]; r = r.owner.waiting {
		if r.owner == own {
			return true
		}
		seen[r.owner] = true
	}
	return false
}

// FindSpec asks each finder on the meta path, in order, for a spec.
func (imp *Importer) FindSpec(ctx context.Context, name string, path []string) (*Spec, error) {
	for _, f := range imp.metaPath.Finders() {
		spec, err := f.FindSpec(ctx, name, path, nil)
		if err != nil {
			return nil, err
		}
		if spec != nil {
			return spec, nil
		}
	}
	return nil, nil
}

func (imp *Importer) load(ctx context.Context, name string) (*Module, error) {
	if !ValidName(name) {
		return nil, &NotFoundError{Name: name}
	}

	var path []string
	if parentName, _ := splitName(name); parentName != "" {
		parent, err := imp.Import(ctx, parentName)
		if err != nil {
			return nil, err
		}
		if !parent.Spec.IsPackage() {
			return nil, fmt.Errorf("%w: %q is not a package", ErrModuleNotFound, parentName)
		}
		path = parent.Spec.SubmoduleSearchLocations
	}

	spec, err := imp.FindSpec(ctx, name, path)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, &NotFoundError{Name: name}
	}

	mod, err := spec.Loader.CreateModule(spec)
	if err != nil {
		return nil, fmt.Errorf("create module %s: %w", name, err)
	}
	if mod == nil {
		mod = NewModule(spec)
	}

	imp.logger.Debug("executing module", slog.String("module", name), slog.String("origin", spec.Origin))
	if err := spec.Loader.ExecModule(ctx, mod); err != nil {
		return nil, err
	}
	mod.Globals.Freeze()
	return mod, nil
}

// Thread returns a Starlark thread whose load statements resolve through the
// importer that is executing ctx's import chain.
func Thread(ctx context.Context, name string) *starlark.Thread {
	thread := &starlark.Thread{Name: name}
	imp := FromContext(ctx)
	if imp == nil {
		thread.Load = func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("cannot load %q: no importer", module)
		}
		return thread
	}
	thread.Print = imp.print
	thread.Load = func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
		mod, err := imp.Import(ctx, module)
		if err != nil {
			return nil, err
		}
		return mod.Exports(), nil
	}
	return thread
}

// ExecProgram runs prog's top-level statements with mod's globals as the
// target namespace.
func ExecProgram(ctx context.Context, prog *starlark.Program, mod *Module) error {
	predeclared := starlark.StringDict{}
	if imp := FromContext(ctx); imp != nil {
		predeclared = imp.predeclared
	}
	thread := Thread(ctx, mod.Name)
	globals, err := prog.Init(thread, predeclared)
	for name, value := range globals {
		mod.Globals[name] = value
	}
	return err
}

// FileOptionsFrom returns the parse options of the importer driving ctx.
func FileOptionsFrom(ctx context.Context) *syntax.FileOptions {
	if imp := FromContext(ctx); imp != nil {
		return imp.options
	}
	return DefaultFileOptions()
}

// PredeclaredFrom returns the predeclared globals of the importer driving ctx.
func PredeclaredFrom(ctx context.Context) starlark.StringDict {
	if imp := FromContext(ctx); imp != nil {
		return imp.predeclared
	}
	return starlark.StringDict{}
}

type importerKey struct{}

type stackKey struct{}

type chainKey struct{}

// NewContext returns a context carrying imp, so loaders invoked outside an
// Import call can still resolve load statements.
func NewContext(ctx context.Context, imp *Importer) context.Context {
	return context.WithValue(ctx, importerKey{}, imp)
}

// FromContext returns the importer carried by ctx, if any.
func FromContext(ctx context.Context) *Importer {
	imp, _ := ctx.Value(importerKey{}).(*Importer)
	return imp
}

func withImport(ctx context.Context, imp *Importer, name string) context.Context {
	stack := append(slices.Clone(importStack(ctx)), name)
	ctx = context.WithValue(ctx, stackKey{}, stack)
	return NewContext(ctx, imp)
}

func importChain(ctx context.Context) *chain {
	c, _ := ctx.Value(chainKey{}).(*chain)
	return c
}

func importStack(ctx context.Context) []string {
	stack, _ := ctx.Value(stackKey{}).([]string)
	return stack
}
