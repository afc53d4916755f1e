package pathsolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csgraph/provider/internal/graph"
	"github.com/csgraph/provider/internal/types"
)

func TestSolveChainsThroughFQDNEdges(t *testing.T) {
	g := graph.New()
	g.RegisterFile(&types.FileRecord{ID: 1})

	ns := g.AddNode(types.KindDefinition, 1, types.Span{}, types.Attrs{types.AttrSymbol: "MyApp.Controllers"})
	cls := g.AddNode(types.KindDefinition, 1, types.Span{}, types.Attrs{types.AttrSymbol: "HomeController"})
	method := g.AddNode(types.KindDefinition, 1, types.Span{}, types.Attrs{types.AttrSymbol: "Index"})
	g.AddEdge(cls, ns, 0, types.EdgeFQDN)
	g.AddEdge(method, cls, 0, types.EdgeFQDN)

	paths := Solve(g, 1)
	byNode := map[types.NodeHandle]string{}
	for _, p := range paths {
		byNode[p.Node] = p.FQDN
	}

	assert.Equal(t, "MyApp.Controllers", byNode[ns])
	assert.Equal(t, "MyApp.Controllers.HomeController", byNode[cls])
	assert.Equal(t, "MyApp.Controllers.HomeController.Index", byNode[method])
}

func TestSolveNoParentReturnsOwnSymbol(t *testing.T) {
	g := graph.New()
	g.RegisterFile(&types.FileRecord{ID: 1})
	ref := g.AddNode(types.KindReference, 1, types.Span{}, types.Attrs{types.AttrSymbol: "System.Web.Mvc.Controller"})

	paths := Solve(g, 1)
	require.Len(t, paths, 1)
	assert.Equal(t, ref, paths[0].Node)
	assert.Equal(t, "System.Web.Mvc.Controller", paths[0].FQDN)
}

func TestSolveTruncatesCycle(t *testing.T) {
	g := graph.New()
	g.RegisterFile(&types.FileRecord{ID: 1})
	a := g.AddNode(types.KindDefinition, 1, types.Span{}, types.Attrs{types.AttrSymbol: "A"})
	b := g.AddNode(types.KindDefinition, 1, types.Span{}, types.Attrs{types.AttrSymbol: "B"})
	g.AddEdge(a, b, 0, types.EdgeFQDN)
	g.AddEdge(b, a, 0, types.EdgeFQDN)

	assert.NotPanics(t, func() {
		Solve(g, 1)
	})
}

func TestBuildIndexCoversAllFiles(t *testing.T) {
	g := graph.New()
	g.RegisterFile(&types.FileRecord{ID: 1})
	g.RegisterFile(&types.FileRecord{ID: 2})
	h1 := g.AddNode(types.KindReference, 1, types.Span{}, types.Attrs{types.AttrSymbol: "Foo"})
	h2 := g.AddNode(types.KindReference, 2, types.Span{}, types.Attrs{types.AttrSymbol: "Bar"})

	idx := BuildIndex(g)
	assert.Equal(t, "Foo", idx[h1])
	assert.Equal(t, "Bar", idx[h2])
}
