// Package dag builds the import graph of loaded modules.
// It supports cycle detection, topological ordering, and change propagation.
package dag

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"go.starlark.net/starlark"
)

// Node is one module in the graph.
type Node struct {
	// Name is the dotted module name.
	Name string `json:"name" yaml:"name"`
	// File is the source file, empty for builtin modules.
	File string `json:"file,omitempty" yaml:"file,omitempty"`
	// Dialect names the dialect the module was written in, if any.
	Dialect string `json:"dialect,omitempty" yaml:"dialect,omitempty"`
}

// Graph is a directed graph of modules. An edge runs from a module to each
// module it imports.
type Graph struct {
	nodes      map[string]*Node
	imports    map[string][]string // module -> modules it imports
	importedBy map[string][]string // module -> modules importing it
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]*Node),
		imports:    make(map[string][]string),
		importedBy: make(map[string][]string),
	}
}

// FromImporter builds the graph of every module imp has loaded.
// Imports of modules that failed to load are left out.
func FromImporter(imp *module.Importer) *Graph {
	g := NewGraph()
	names := imp.Modules()
	for _, name := range names {
		mod, ok := imp.Lookup(name)
		if !ok {
			continue
		}
		n := &Node{Name: name}
		if mod.Spec != nil && mod.Spec.Origin != module.OriginBuiltin {
			n.File = mod.Filename()
		}
		if lang, ok := mod.Globals[importer.LangName].(starlark.String); ok {
			n.Dialect = string(lang)
		}
		g.AddNode(n)
	}
	for _, name := range names {
		for _, dep := range imp.Imports(name) {
			if _, ok := g.nodes[dep]; ok && dep != name {
				_ = g.AddImport(name, dep)
			}
		}
	}
	return g
}

// AddNode adds n, replacing any node with the same name.
func (g *Graph) AddNode(n *Node) {
	if _, exists := g.nodes[n.Name]; !exists {
		g.imports[n.Name] = []string{}
		g.importedBy[n.Name] = []string{}
	}
	g.nodes[n.Name] = n
}

// AddImport records that module from imports module to.
func (g *Graph) AddImport(from, to string) error {
	if _, exists := g.nodes[from]; !exists {
		return fmt.Errorf("module %q is not in the graph", from)
	}
	if _, exists := g.nodes[to]; !exists {
		return fmt.Errorf("module %q is not in the graph", to)
	}
	if from == to {
		return fmt.Errorf("module %q imports itself", from)
	}

	if !contains(g.imports[from], to) {
		g.imports[from] = append(g.imports[from], to)
	}
	if !contains(g.importedBy[to], from) {
		g.importedBy[to] = append(g.importedBy[to], from)
	}
	return nil
}

// Node returns the module called name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Imports returns the modules name imports directly.
func (g *Graph) Imports(name string) []string {
	return g.imports[name]
}

// ImportedBy returns the modules that import name directly.
func (g *Graph) ImportedBy(name string) []string {
	return g.importedBy[name]
}

// Nodes returns all modules sorted by name.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Name < nodes[j].Name
	})
	return nodes
}

// Len returns the number of modules.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of import edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, deps := range g.imports {
		count += len(deps)
	}
	return count
}

// FindCycle returns an import cycle as a chain starting and ending with the
// same module, or nil if there is none.
func (g *Graph) FindCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var chain []string

	var dfs func(name string) []string
	dfs = func(name string) []string {
		visited[name] = true
		onStack[name] = true
		chain = append(chain, name)

		for _, dep := range g.imports[name] {
			if onStack[dep] {
				for i, n := range chain {
					if n == dep {
						return append(append([]string{}, chain[i:]...), dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			}
		}

		chain = chain[:len(chain)-1]
		onStack[name] = false
		return nil
	}

	for _, n := range g.Nodes() {
		if !visited[n.Name] {
			if cycle := dfs(n.Name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalSort returns the modules with every module after the modules it
// imports, which is the order they finish loading in.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &module.CycleError{Chain: cycle}
	}

	visited := make(map[string]bool)
	var result []*Node

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, dep := range g.imports[name] {
			visit(dep)
		}
		result = append(result, g.nodes[name])
	}

	for _, n := range g.Nodes() {
		visit(n.Name)
	}
	return result, nil
}

// Levels groups modules by import depth. Level 0 holds modules that import
// nothing; a module at level N imports at least one module at level N-1.
func (g *Graph) Levels() ([][]string, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &module.CycleError{Chain: cycle}
	}

	assigned := make(map[string]int)

	var levelOf func(name string) int
	levelOf = func(name string) int {
		if level, ok := assigned[name]; ok {
			return level
		}
		level := 0
		for _, dep := range g.imports[name] {
			if l := levelOf(dep) + 1; l > level {
				level = l
			}
		}
		assigned[name] = level
		return level
	}

	maxLevel := -1
	for name := range g.nodes {
		if level := levelOf(name); level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	for name, level := range assigned {
		levels[level] = append(levels[level], name)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}
	return levels, nil
}

// Affected returns the changed modules and every module that imports one of
// them, directly or not.
func (g *Graph) Affected(changed []string) []string {
	affected := make(map[string]bool)

	var mark func(name string)
	mark = func(name string) {
		if affected[name] {
			return
		}
		affected[name] = true
		for _, user := range g.importedBy[name] {
			mark(user)
		}
	}

	for _, name := range changed {
		if _, exists := g.nodes[name]; exists {
			mark(name)
		}
	}
	return sortedKeys(affected)
}

// Dependencies returns every module name imports, directly or not.
func (g *Graph) Dependencies(name string) []string {
	deps := make(map[string]bool)

	var mark func(n string)
	mark = func(n string) {
		for _, dep := range g.imports[n] {
			if !deps[dep] {
				deps[dep] = true
				mark(dep)
			}
		}
	}

	mark(name)
	return sortedKeys(deps)
}

// Roots returns the modules that import nothing.
func (g *Graph) Roots() []string {
	var roots []string
	for name := range g.nodes {
		if len(g.imports[name]) == 0 {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots
}

// Leaves returns the modules nothing imports.
func (g *Graph) Leaves() []string {
	var leaves []string
	for name := range g.nodes {
		if len(g.importedBy[name]) == 0 {
			leaves = append(leaves, name)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// ForFiles returns the modules loaded from any of files.
func (g *Graph) ForFiles(files []string) []string {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[filepath.Clean(f)] = true
	}
	var names []string
	for name, n := range g.nodes {
		if n.File != "" && want[filepath.Clean(n.File)] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func sortedKeys(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for k := range set {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
