package macro

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/syntax"
)

// Function is a public function found in a macro module.
type Function struct {
	Name      string   `json:"name" yaml:"name"`
	Args      []string `json:"args" yaml:"args"`
	Docstring string   `json:"docstring,omitempty" yaml:"docstring,omitempty"`
	Line      int      `json:"line" yaml:"line"`
}

// Signature returns a human-readable signature for the function.
func (f *Function) Signature() string {
	return f.Name + "(" + strings.Join(f.Args, ", ") + ")"
}

// Entry describes one module of a macro directory. It is built from the
// syntax tree alone; the module is never executed.
type Entry struct {
	Module    string      `json:"module" yaml:"module"`
	File      string      `json:"file" yaml:"file"`
	Doc       string      `json:"doc,omitempty" yaml:"doc,omitempty"`
	Macros    []string    `json:"macros" yaml:"macros"`
	Functions []*Function `json:"functions" yaml:"functions"`
}

// CatalogError reports a macro file that could not be parsed.
type CatalogError struct {
	File    string
	Message string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("macros/%s: %s", path.Base(e.File), e.Message)
}

// Catalog lists the macro modules under dir of fsys. Module names follow the
// file layout ("a/b.star" is "a.b", "a/__init__.star" is "a"). A missing
// directory yields no entries.
func Catalog(fsys fs.FS, dir string) ([]*Entry, error) {
	info, err := fs.Stat(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access macros directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("macros path is not a directory: %s", dir)
	}

	var entries []*Entry
	err = fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != module.SourceExt {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return &CatalogError{File: p, Message: fmt.Sprintf("failed to read file: %v", err)}
		}
		rel := p
		if dir != "." {
			rel = strings.TrimPrefix(p, dir+"/")
		}
		entry, err := CatalogFile(moduleNameOf(rel), p, content)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b *Entry) int { return strings.Compare(a.Module, b.Module) })
	return entries, nil
}

// CatalogFile parses one macro module.
func CatalogFile(name, filename string, content []byte) (*Entry, error) {
	f, err := module.DefaultFileOptions().Parse(filename, content, syntax.RetainComments)
	if err != nil {
		return nil, &CatalogError{File: filename, Message: err.Error()}
	}

	entry := &Entry{
		Module: name,
		File:   filename,
		Doc:    docstring(f.Stmts),
		Macros: []string{},
	}
	for _, stmt := range f.Stmts {
		switch s := stmt.(type) {
		case *syntax.DefStmt:
			if strings.HasPrefix(s.Name.Name, "_") {
				continue
			}
			entry.Functions = append(entry.Functions, &Function{
				Name:      s.Name.Name,
				Args:      params(s.Params),
				Docstring: docstring(s.Body),
				Line:      int(s.Name.NamePos.Line),
			})
		case *syntax.AssignStmt:
			id, ok := s.LHS.(*syntax.Ident)
			if !ok || id.Name != MarkerName || s.Op != syntax.EQ {
				continue
			}
			if dict, ok := s.RHS.(*syntax.DictExpr); ok {
				entry.Macros = dictKeys(dict)
			}
		}
	}
	if p, ok := builtinProviders[name]; ok && len(entry.Macros) == 0 {
		entry.Macros = sortedKeys(p.Macros())
	}
	return entry, nil
}

// StdEntry describes the builtin macro module.
func StdEntry() *Entry {
	return &Entry{
		Module: StdModule,
		File:   module.OriginBuiltin,
		Doc:    "Builtin macros.",
		Macros: sortedKeys(stdProvider{}.Macros()),
	}
}

var builtinProviders = map[string]Provider{StdModule: stdProvider{}}

func sortedKeys(m map[string]Func) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func dictKeys(dict *syntax.DictExpr) []string {
	keys := []string{}
	for _, e := range dict.List {
		entry, ok := e.(*syntax.DictEntry)
		if !ok {
			continue
		}
		if lit, ok := entry.Key.(*syntax.Literal); ok && lit.Token == syntax.STRING {
			keys = append(keys, lit.Value.(string))
		}
	}
	slices.Sort(keys)
	return keys
}

func moduleNameOf(rel string) string {
	rel = strings.TrimSuffix(rel, module.SourceExt)
	rel = strings.TrimSuffix(rel, "/"+strings.TrimSuffix(module.PackageInit, module.SourceExt))
	return strings.ReplaceAll(rel, "/", ".")
}

// params renders function parameters, with defaults as "x=1".
func params(list []syntax.Expr) []string {
	var args []string
	for _, param := range list {
		switch p := param.(type) {
		case *syntax.Ident:
			args = append(args, p.Name)
		case *syntax.BinaryExpr:
			if ident, ok := p.X.(*syntax.Ident); ok && p.Op == syntax.EQ {
				args = append(args, ident.Name+"="+FormatExpr(p.Y))
			}
		case *syntax.UnaryExpr:
			prefix := "*"
			if p.Op == syntax.STARSTAR {
				prefix = "**"
			}
			if ident, ok := p.X.(*syntax.Ident); ok {
				args = append(args, prefix+ident.Name)
			} else {
				args = append(args, prefix)
			}
		}
	}
	return args
}

// docstring returns the leading string literal of body, if any.
func docstring(body []syntax.Stmt) string {
	if len(body) == 0 {
		return ""
	}
	stmt, ok := body[0].(*syntax.ExprStmt)
	if !ok {
		return ""
	}
	lit, ok := stmt.X.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return ""
	}
	s, _ := lit.Value.(string)
	return strings.TrimSpace(s)
}
