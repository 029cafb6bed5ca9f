package dialect

import (
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
)

// Dialect registry
var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]*Dialect)
)

// Get returns a registered dialect by name.
func Get(name string) (*Dialect, bool) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[strings.ToLower(name)]
	return d, ok
}

// Register registers a dialect in the global registry.
// Called by dialect implementations in their init() functions.
func Register(d *Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[strings.ToLower(d.Name)] = d
}

// List returns all registered dialect names (sorted).
func List() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install registers every dialect in the registry as a builtin module of b,
// so that importing a dialect by name goes through the ordinary import path.
func Install(b *module.BuiltinFinder) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	for name, d := range dialects {
		b.Register(name, ModuleInit(d))
	}
}

// ModuleInit returns the builtin module initializer for d.
func ModuleInit(d *Dialect) module.InitFunc {
	return func(mod *module.Module) error {
		mod.Native = d
		mod.Globals["name"] = starlark.String(d.Name)
		mod.Globals["__doc__"] = starlark.String(d.Doc)
		return nil
	}
}

// Builtins returns a new BuiltinFinder serving every registered dialect.
func Builtins() *module.BuiltinFinder {
	b := module.NewBuiltinFinder()
	Install(b)
	return b
}
