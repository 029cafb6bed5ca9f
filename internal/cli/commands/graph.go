package commands

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/stardialect/internal/dag"
	"github.com/spf13/cobra"
)

// GraphModule is one module of the graph command's output.
type GraphModule struct {
	dag.Node     `yaml:",inline"`
	Level        int      `json:"level" yaml:"level"`
	Imports      []string `json:"imports,omitempty" yaml:"imports,omitempty"`
	ImportedBy   []string `json:"imported_by,omitempty" yaml:"imported_by,omitempty"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// GraphResult is the structured output of the graph command.
type GraphResult struct {
	Modules []GraphModule `json:"modules" yaml:"modules"`
	Edges   int           `json:"edges" yaml:"edges"`
	// Roots import nothing; Leaves are imported by nothing.
	Roots  []string `json:"roots" yaml:"roots"`
	Leaves []string `json:"leaves" yaml:"leaves"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <module|file.star>",
		Short: "Show the modules a module imports",
		Long: `Import a module and list every module loaded on the way, in load order.

Each module is shown with its import depth, the dialect it is written in, the
modules it imports directly and how many modules it depends on in total.
Dialect modules and macro modules appear like any other import. A summary
names the roots, which import nothing, and the entry points, which nothing
imports.`,
		Example: `  stardialect graph app.star
  stardialect graph pkg.example -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, args[0])
		},
	}
}

func runGraph(cmd *cobra.Command, arg string) error {
	cc := NewCommandContext(cmd)
	name, dir, err := moduleTarget(arg)
	if err != nil {
		return err
	}
	var extra []string
	if dir != "" {
		extra = append(extra, dir)
	}

	env, err := cc.NewEnvironment(extra...)
	if err != nil {
		return err
	}
	if _, err := env.Import(cmd.Context(), name); err != nil {
		return describeImportError(err)
	}

	result, err := ImportGraph(dag.FromImporter(env.Importer))
	if err != nil {
		return err
	}
	if ok, err := cc.Renderer.Structured(result); ok {
		return err
	}

	rows := make([][]string, 0, len(result.Modules))
	for _, m := range result.Modules {
		rows = append(rows, []string{
			strconv.Itoa(m.Level),
			m.Name,
			m.Dialect,
			strings.Join(m.Imports, ", "),
			strconv.Itoa(len(m.Dependencies)),
			m.File,
		})
	}
	cc.Renderer.Table([]string{"Level", "Module", "Dialect", "Imports", "Deps", "File"}, rows)

	muted := cc.Renderer.Styles().Muted
	cc.Renderer.Println(muted.Render(strconv.Itoa(len(result.Modules)) + " modules, " + strconv.Itoa(result.Edges) + " imports"))
	cc.Renderer.Println(muted.Render("roots: " + strings.Join(result.Roots, ", ")))
	cc.Renderer.Println(muted.Render("entry points: " + strings.Join(result.Leaves, ", ")))
	return nil
}

// ImportGraph describes the modules of g in load order.
func ImportGraph(g *dag.Graph) (*GraphResult, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	levelOf := make(map[string]int, g.Len())
	for i, names := range levels {
		for _, n := range names {
			levelOf[n] = i
		}
	}

	mods := make([]GraphModule, 0, len(order))
	for _, n := range order {
		mods = append(mods, GraphModule{
			Node:         *n,
			Level:        levelOf[n.Name],
			Imports:      g.Imports(n.Name),
			ImportedBy:   g.ImportedBy(n.Name),
			Dependencies: g.Dependencies(n.Name),
		})
	}
	return &GraphResult{Modules: mods, Edges: g.EdgeCount(), Roots: g.Roots(), Leaves: g.Leaves()}, nil
}
