// Package macro implements second-stage macro expansion for Starlark modules.
//
// A module requests macros with a load statement whose first symbol is
// "macros":
//
//	load("stdmacros", "macros", "show", s="stringify")
//
// Every other symbol of that load names a macro. Calls to those names are
// replaced at load time by the expression the macro returns, and the load
// itself is replaced by a pass statement.
package macro

import (
	"strings"

	"go.starlark.net/syntax"
)

// MarkerName is the first symbol of a macro import.
const MarkerName = "macros"

// Alias binds a macro to a local name.
type Alias struct {
	Local string
	Name  string
}

// Binding is one macro import found in a module.
type Binding struct {
	// Module is the absolute name of the module providing the macros.
	Module string
	Names  []Alias
	Load   *syntax.LoadStmt
}

// IsMacroImport reports whether s is a load statement importing macros.
func IsMacroImport(s syntax.Stmt) bool {
	load, ok := s.(*syntax.LoadStmt)
	return ok && len(load.From) > 0 && load.From[0].Name == MarkerName
}

// Detect returns the macro imports among the top-level statements of f.
// Relative module names (".x") are resolved against packageName, or against
// the parent of moduleName when packageName is empty. A module cannot import
// macros from itself (fullname); such loads are ignored.
func Detect(f *syntax.File, moduleName, packageName, fullname string) []Binding {
	if packageName == "" {
		if i := strings.LastIndexByte(moduleName, '.'); i >= 0 {
			packageName = moduleName[:i]
		}
	}

	var bindings []Binding
	for _, stmt := range f.Stmts {
		if !IsMacroImport(stmt) {
			continue
		}
		load := stmt.(*syntax.LoadStmt)
		b := Binding{
			Module: resolveRelative(load.ModuleName(), packageName),
			Load:   load,
		}
		if b.Module == fullname {
			continue
		}
		for i := 1; i < len(load.From); i++ {
			b.Names = append(b.Names, Alias{Local: load.To[i].Name, Name: load.From[i].Name})
		}
		bindings = append(bindings, b)
	}
	return bindings
}

func resolveRelative(name, pkg string) string {
	if !strings.HasPrefix(name, ".") {
		return name
	}
	rel := strings.TrimLeft(name, ".")
	up := len(name) - len(rel) - 1
	parts := strings.Split(pkg, ".")
	if pkg == "" {
		parts = nil
	}
	if up > len(parts) {
		up = len(parts)
	}
	parts = parts[:len(parts)-up]
	if rel != "" {
		parts = append(parts, rel)
	}
	return strings.Join(parts, ".")
}
