// Package module implements the Starlark module system that dialects plug into.
//
// Resolution follows a finder/loader protocol: an Importer asks each Finder on
// its MetaPath, in order, for a Spec describing the requested module. The first
// Finder that answers wins, and the Spec's Loader then creates and executes the
// module. Modules are bound in the Importer's cache only after successful
// execution, so a failed import leaves no partially initialised module behind.
package module

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// OriginBuiltin is the origin of modules implemented in Go rather than loaded
// from source text.
const OriginBuiltin = "builtin"

var (
	// ErrModuleNotFound is returned when no finder on the meta path knows a module.
	ErrModuleNotFound = errors.New("module not found")

	// ErrNoSource is returned by a SourceLoader that cannot produce source text
	// for a module it otherwise knows about.
	ErrNoSource = errors.New("no source available")
)

// Finder locates modules. FindSpec returns (nil, nil) when the finder does not
// handle the requested name; the importer then asks the next finder.
type Finder interface {
	FindSpec(ctx context.Context, name string, path []string, target *Module) (*Spec, error)
}

// Loader executes a module described by a Spec.
//
// CreateModule may return nil to request a default module object.
// ExecModule populates the module's globals.
type Loader interface {
	CreateModule(spec *Spec) (*Module, error)
	ExecModule(ctx context.Context, mod *Module) error
}

// SourceLoader is implemented by loaders that can yield the raw source text of
// the modules they load.
type SourceLoader interface {
	Loader
	GetSource(name string) (string, error)
	GetFilename(name string) (string, error)
	IsPackage(name string) (bool, error)
}

// Interceptor is implemented by finders that hand back rewritten code for
// modules found by other finders. Delegating finders skip interceptors so a
// module is never rewritten twice.
type Interceptor interface {
	Finder
	Intercepts() bool
}

// Spec describes how to load a module.
type Spec struct {
	Name   string
	Origin string
	Loader Loader

	// SubmoduleSearchLocations is non-nil for packages. It is passed as the
	// path argument when finding submodules.
	SubmoduleSearchLocations []string
}

// IsPackage reports whether the spec describes a package.
func (s *Spec) IsPackage() bool {
	return s.SubmoduleSearchLocations != nil
}

// Parent returns the name of the enclosing package, or "" for top-level modules.
func (s *Spec) Parent() string {
	if s.IsPackage() {
		return s.Name
	}
	parent, _ := splitName(s.Name)
	return parent
}

// Module is a loaded (or loading) module.
type Module struct {
	Name    string
	Spec    *Spec
	Globals starlark.StringDict

	// Native carries the Go value backing a builtin module, such as a dialect
	// definition or a macro provider. It is nil for Starlark modules.
	Native any
}

// NewModule returns an empty module for spec.
func NewModule(spec *Spec) *Module {
	return &Module{
		Name:    spec.Name,
		Spec:    spec,
		Globals: make(starlark.StringDict),
	}
}

// Exports returns the module's public globals (names not starting with "_").
func (m *Module) Exports() starlark.StringDict {
	exports := make(starlark.StringDict, len(m.Globals))
	for name, value := range m.Globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}
	return exports
}

// Filename returns the file the module was loaded from, as reported by its
// loader, falling back to the spec origin.
func (m *Module) Filename() string {
	if m.Spec == nil {
		return ""
	}
	if sl, ok := m.Spec.Loader.(SourceLoader); ok {
		if fn, err := sl.GetFilename(m.Name); err == nil {
			return fn
		}
	}
	return m.Spec.Origin
}

func (m *Module) String() string {
	return fmt.Sprintf("<module %q from %q>", m.Name, m.Filename())
}

// NotFoundError reports a module that no finder could locate.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no module named %q", e.Name)
}

// Is makes errors.Is(err, ErrModuleNotFound) succeed.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}

// CycleError reports an import cycle.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "import cycle detected: " + strings.Join(e.Chain, " -> ")
}

// splitName splits "a.b.c" into ("a.b", "c").
func splitName(name string) (parent, last string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// ValidName reports whether name is a dotted sequence of identifiers.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if !isIdent(part) {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
