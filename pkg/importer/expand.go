package importer

import (
	"context"

	"github.com/leapstack-labs/stardialect/internal/macro"
	"go.starlark.net/syntax"
)

// Expander runs the second-stage macro expansion over a dialect module.
type Expander interface {
	// Detect returns the macro imports of tree.
	Detect(tree *syntax.File, moduleName, packageName, fullname string) []macro.Binding

	// Expand imports the macro modules of bindings and expands their macros
	// in tree.
	Expand(ctx context.Context, tree *syntax.File, source string, bindings []macro.Binding) (*syntax.File, error)
}

// MacroExpander expands macros with the macro package.
type MacroExpander struct{}

// Detect implements Expander.
func (MacroExpander) Detect(tree *syntax.File, moduleName, packageName, fullname string) []macro.Binding {
	return macro.Detect(tree, moduleName, packageName, fullname)
}

// Expand implements Expander.
func (MacroExpander) Expand(ctx context.Context, tree *syntax.File, source string, bindings []macro.Binding) (*syntax.File, error) {
	return macro.ExpandTree(ctx, tree, source, bindings)
}

// NopExpander is used when macro expansion is disabled. It never finds
// macro imports.
type NopExpander struct{}

// Detect implements Expander.
func (NopExpander) Detect(*syntax.File, string, string, string) []macro.Binding { return nil }

// Expand implements Expander.
func (NopExpander) Expand(_ context.Context, tree *syntax.File, _ string, _ []macro.Binding) (*syntax.File, error) {
	return tree, nil
}

// ExpanderFor returns the expander to use when macro expansion is enabled
// or not.
func ExpanderFor(enabled bool) Expander {
	if enabled {
		return MacroExpander{}
	}
	return NopExpander{}
}
