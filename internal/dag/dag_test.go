package dag

import (
	"testing"
	"testing/fstest"

	_ "github.com/leapstack-labs/stardialect/pkg/dialects"
	"github.com/leapstack-labs/stardialect/pkg/importer"
	"github.com/leapstack-labs/stardialect/pkg/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond builds app -> {lib, util}, lib -> base, util -> base.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	for _, name := range []string{"app", "lib", "util", "base"} {
		g.AddNode(&Node{Name: name, File: name + ".star"})
	}
	require.NoError(t, g.AddImport("app", "lib"))
	require.NoError(t, g.AddImport("app", "util"))
	require.NoError(t, g.AddImport("lib", "base"))
	require.NoError(t, g.AddImport("util", "base"))
	return g
}

func TestGraph_AddImport(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, 4, g.EdgeCount())

	require.NoError(t, g.AddImport("app", "lib"))
	assert.Equal(t, 4, g.EdgeCount(), "duplicate edges are ignored")

	assert.Equal(t, []string{"lib", "util"}, g.Imports("app"))
	assert.ElementsMatch(t, []string{"lib", "util"}, g.ImportedBy("base"))

	assert.Error(t, g.AddImport("app", "missing"))
	assert.Error(t, g.AddImport("missing", "app"))
	assert.Error(t, g.AddImport("app", "app"))
}

func TestGraph_AddNodeReplaces(t *testing.T) {
	g := diamond(t)
	g.AddNode(&Node{Name: "lib", Dialect: "guard"})

	n, ok := g.Node("lib")
	require.True(t, ok)
	assert.Equal(t, "guard", n.Dialect)
	assert.Equal(t, []string{"base"}, g.Imports("lib"), "edges survive replacement")
}

func TestGraph_TopologicalSort(t *testing.T) {
	order, err := diamond(t).TopologicalSort()
	require.NoError(t, err)

	names := make([]string, 0, len(order))
	for _, n := range order {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"base", "lib", "util", "app"}, names)
}

func TestGraph_Levels(t *testing.T) {
	levels, err := diamond(t).Levels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"base"}, {"lib", "util"}, {"app"}}, levels)

	levels, err = NewGraph().Levels()
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestGraph_FindCycle(t *testing.T) {
	g := diamond(t)
	assert.Nil(t, g.FindCycle())

	require.NoError(t, g.AddImport("base", "app"))
	cycle := g.FindCycle()
	require.NotEmpty(t, cycle)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])

	_, err := g.TopologicalSort()
	var cycleErr *module.CycleError
	assert.ErrorAs(t, err, &cycleErr)

	_, err = g.Levels()
	assert.ErrorAs(t, err, &cycleErr)
}

func TestGraph_Affected(t *testing.T) {
	g := diamond(t)

	assert.Equal(t, []string{"app", "base", "lib", "util"}, g.Affected([]string{"base"}))
	assert.Equal(t, []string{"app", "lib"}, g.Affected([]string{"lib"}))
	assert.Equal(t, []string{"app"}, g.Affected([]string{"app", "unknown"}))
	assert.Empty(t, g.Affected(nil))
}

func TestGraph_Dependencies(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, []string{"base", "lib", "util"}, g.Dependencies("app"))
	assert.Empty(t, g.Dependencies("base"))
}

func TestGraph_RootsAndLeaves(t *testing.T) {
	g := diamond(t)
	assert.Equal(t, []string{"base"}, g.Roots())
	assert.Equal(t, []string{"app"}, g.Leaves())
}

func TestGraph_ForFiles(t *testing.T) {
	g := diamond(t)
	g.AddNode(&Node{Name: "stdmacros"})

	assert.Equal(t, []string{"base", "lib"}, g.ForFiles([]string{"./base.star", "lib.star", "other.star"}))
	assert.Empty(t, g.ForFiles(nil))
}

func TestFromImporter(t *testing.T) {
	env := importer.NewEnvironment(importer.Config{
		FS: fstest.MapFS{
			"app.star":  {Data: []byte("from __lang__ import identity\nload('lib', 'x')\nload('guard', 'name')\ny = x\n")},
			"lib.star":  {Data: []byte("x = 1\n")},
			"bad.star":  {Data: []byte("x = \n")},
			"uses.star": {Data: []byte("load('bad', 'x')\n")},
		},
		SearchPath: []string{"."},
	})

	_, err := env.Import(t.Context(), "app")
	require.NoError(t, err)
	_, err = env.Import(t.Context(), "uses")
	require.Error(t, err)

	g := FromImporter(env.Importer)
	assert.Equal(t, 4, g.Len(), "app, lib and the two dialect modules")

	app, ok := g.Node("app")
	require.True(t, ok)
	assert.Equal(t, "identity", app.Dialect)
	assert.Equal(t, "app.star", app.File)
	assert.ElementsMatch(t, []string{"identity", "lib", "guard"}, g.Imports("app"))

	id, ok := g.Node("identity")
	require.True(t, ok)
	assert.Empty(t, id.File, "builtin modules have no file")

	_, ok = g.Node("uses")
	assert.False(t, ok, "failed imports are left out")
	_, ok = g.Node("bad")
	assert.False(t, ok)
}
