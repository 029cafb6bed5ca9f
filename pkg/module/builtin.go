package module

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InitFunc populates a builtin module.
type InitFunc func(mod *Module) error

// BuiltinFinder serves modules implemented in Go. Their specs carry
// OriginBuiltin and their loader yields no source text.
type BuiltinFinder struct {
	mu      sync.RWMutex
	modules map[string]InitFunc
}

// NewBuiltinFinder creates an empty builtin finder.
func NewBuiltinFinder() *BuiltinFinder {
	return &BuiltinFinder{modules: make(map[string]InitFunc)}
}

// Register adds or replaces the builtin module called name.
func (b *BuiltinFinder) Register(name string, init InitFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modules[name] = init
}

// Names returns the registered module names (sorted).
func (b *BuiltinFinder) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.modules))
	for name := range b.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindSpec implements Finder.
func (b *BuiltinFinder) FindSpec(_ context.Context, name string, _ []string, _ *Module) (*Spec, error) {
	b.mu.RLock()
	init, ok := b.modules[name]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &Spec{
		Name:   name,
		Origin: OriginBuiltin,
		Loader: builtinLoader{init: init},
	}, nil
}

type builtinLoader struct {
	init InitFunc
}

func (builtinLoader) CreateModule(*Spec) (*Module, error) { return nil, nil }

func (l builtinLoader) ExecModule(_ context.Context, mod *Module) error {
	if err := l.init(mod); err != nil {
		return fmt.Errorf("initialize builtin module %s: %w", mod.Name, err)
	}
	return nil
}
