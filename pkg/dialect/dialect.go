// Package dialect defines what a module must provide to act as a dialect.
//
// A dialect is an ordinary importable module exposing at least one of two
// transforms:
//
//   - a text-level transform, "source_transformer", taking the full source text
//     of a module and returning replacement source text. It must keep the
//     "from __lang__ import NAME" line intact.
//   - a tree-level transform, "ast_transformer", taking the module body (the
//     declaration already removed) and returning a replacement body.
//
// Go dialects are registered with Register and served as builtin modules.
// Starlark modules become text-level dialects by defining a source_transformer
// function.
package dialect

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Names looked up on a dialect module.
const (
	SourceTransformerName = "source_transformer"
	TreeTransformerName   = "ast_transformer"
)

// ErrNoCapability is returned for a module exposing neither transform.
var ErrNoCapability = errors.New("module has no dialect transformers")

// SourceFunc rewrites the full source text of a module.
type SourceFunc func(src string) (string, error)

// TreeFunc rewrites the body of a module.
type TreeFunc func(body []syntax.Stmt) ([]syntax.Stmt, error)

// SourceTransformer is implemented by Go values offering a text-level transform.
type SourceTransformer interface {
	TransformSource(src string) (string, error)
}

// TreeTransformer is implemented by Go values offering a tree-level transform.
type TreeTransformer interface {
	TransformTree(body []syntax.Stmt) ([]syntax.Stmt, error)
}

// Dialect is a named pair of optional transforms.
type Dialect struct {
	Name string
	Doc  string

	Source SourceFunc
	Tree   TreeFunc
}

// TransformSource implements SourceTransformer.
func (d *Dialect) TransformSource(src string) (string, error) {
	if d.Source == nil {
		return src, nil
	}
	return d.Source(src)
}

// TransformTree implements TreeTransformer.
func (d *Dialect) TransformTree(body []syntax.Stmt) ([]syntax.Stmt, error) {
	if d.Tree == nil {
		return body, nil
	}
	return d.Tree(body)
}

// Capabilities lists the transform names the dialect provides.
func (d *Dialect) Capabilities() []string {
	var caps []string
	if d.Source != nil {
		caps = append(caps, SourceTransformerName)
	}
	if d.Tree != nil {
		caps = append(caps, TreeTransformerName)
	}
	return caps
}

// Validate checks that at least one transform is present.
func (d *Dialect) Validate() error {
	if d.Source == nil && d.Tree == nil {
		return fmt.Errorf("%w: %s", ErrNoCapability, d.Name)
	}
	return nil
}

// Inspect reports the dialect transforms a loaded module exposes.
//
// Go-backed modules are checked for the SourceTransformer and TreeTransformer
// interfaces; a *Dialect contributes only the transforms it sets. Starlark
// modules are checked for a callable source_transformer global.
// The result is not validated; call Validate.
func Inspect(mod *module.Module) *Dialect {
	d := &Dialect{Name: mod.Name}

	switch native := mod.Native.(type) {
	case *Dialect:
		d.Doc = native.Doc
		d.Source = native.Source
		d.Tree = native.Tree
	case nil:
	default:
		if st, ok := native.(SourceTransformer); ok {
			d.Source = st.TransformSource
		}
		if tt, ok := native.(TreeTransformer); ok {
			d.Tree = tt.TransformTree
		}
	}

	if d.Source == nil {
		if fn, ok := mod.Globals[SourceTransformerName].(starlark.Callable); ok {
			d.Source = starlarkSource(mod.Name, fn)
		}
	}
	if d.Doc == "" {
		if doc, ok := mod.Globals["__doc__"].(starlark.String); ok {
			d.Doc = string(doc)
		}
	}
	return d
}

// starlarkSource adapts a Starlark source_transformer function.
func starlarkSource(name string, fn starlark.Callable) SourceFunc {
	return func(src string) (string, error) {
		thread := &starlark.Thread{Name: "dialect:" + name}
		v, err := starlark.Call(thread, fn, starlark.Tuple{starlark.String(src)}, nil)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", name, SourceTransformerName, err)
		}
		switch v := v.(type) {
		case starlark.String:
			return string(v), nil
		case starlark.NoneType:
			return "", nil
		default:
			return "", fmt.Errorf("%s.%s returned %s, want string", name, SourceTransformerName, v.Type())
		}
	}
}
