package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csgraph/provider/internal/types"
)

func TestInternIsBijective(t *testing.T) {
	g := New()
	a := g.Intern("System.Web.Mvc")
	b := g.Intern("System.Web.Mvc")
	c := g.Intern("System.Web.Http")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	s, ok := g.Symbol(a)
	require.True(t, ok)
	assert.Equal(t, "System.Web.Mvc", s)
}

func TestAddNodeTracksFileRecord(t *testing.T) {
	g := New()
	rec := &types.FileRecord{ID: 1, AbsPath: "/repo/Foo.cs", SourceType: types.SourceUser}
	g.RegisterFile(rec)

	h := g.AddNode(types.KindDefinition, 1, types.Span{}, types.Attrs{types.AttrSyntaxType: string(types.SyntaxClassDef)})
	assert.Equal(t, types.NodeHandle(0), h)
	assert.Equal(t, 1, g.NodeCount())

	stored, ok := g.File(1)
	require.True(t, ok)
	assert.Equal(t, []types.NodeHandle{h}, stored.NodeHandles)
}

func TestOutgoingOrderedByPrecedenceThenHandle(t *testing.T) {
	g := New()
	rec := &types.FileRecord{ID: 1}
	g.RegisterFile(rec)

	a := g.AddNode(types.KindReference, 1, types.Span{}, nil)
	b := g.AddNode(types.KindDefinition, 1, types.Span{}, nil)
	c := g.AddNode(types.KindDefinition, 1, types.Span{}, nil)

	g.AddEdge(a, c, 5, types.EdgeFQDN)
	g.AddEdge(a, b, 1, types.EdgeFQDN)

	out := g.Outgoing(a)
	require.Len(t, out, 2)
	assert.Equal(t, b, out[0].To, "lower precedence sorts first")
	assert.Equal(t, c, out[1].To)
}

func TestOutgoingByLabelFilters(t *testing.T) {
	g := New()
	rec := &types.FileRecord{ID: 1}
	g.RegisterFile(rec)
	a := g.AddNode(types.KindReference, 1, types.Span{}, nil)
	b := g.AddNode(types.KindDefinition, 1, types.Span{}, nil)
	c := g.AddNode(types.KindDefinition, 1, types.Span{}, nil)
	g.AddEdge(a, b, 0, types.EdgeFQDN)
	g.AddEdge(a, c, 0, types.EdgePlain)

	fqdn := g.OutgoingByLabel(a, types.EdgeFQDN)
	require.Len(t, fqdn, 1)
	assert.Equal(t, b, fqdn[0].To)
}

func TestIterNodesStableOrder(t *testing.T) {
	g := New()
	rec := &types.FileRecord{ID: 1}
	g.RegisterFile(rec)
	for i := 0; i < 5; i++ {
		g.AddNode(types.KindReference, 1, types.Span{}, nil)
	}
	var seen []types.NodeHandle
	g.IterNodes(func(n Node) bool {
		seen = append(seen, n.Handle)
		return true
	})
	require.Len(t, seen, 5)
	for i, h := range seen {
		assert.Equal(t, types.NodeHandle(i), h)
	}
}

func TestSealPreventsMutation(t *testing.T) {
	g := New()
	rec := &types.FileRecord{ID: 1}
	g.RegisterFile(rec)
	g.Seal()
	assert.True(t, g.Sealed())

	assert.Panics(t, func() {
		g.AddNode(types.KindReference, 1, types.Span{}, nil)
	})
}

func TestAddUsingAppendsToFileRecord(t *testing.T) {
	g := New()
	rec := &types.FileRecord{ID: 1, AbsPath: "/repo/Foo.cs"}
	g.RegisterFile(rec)

	g.AddUsing(1, "System.Web.Mvc")
	g.AddUsing(1, "System.Linq")

	stored, ok := g.File(1)
	require.True(t, ok)
	assert.Equal(t, []string{"System.Web.Mvc", "System.Linq"}, stored.Usings)
}

func TestAddUsingAfterSealPanics(t *testing.T) {
	g := New()
	g.RegisterFile(&types.FileRecord{ID: 1})
	g.Seal()

	assert.Panics(t, func() {
		g.AddUsing(1, "System")
	})
}

func TestFilesSortedByID(t *testing.T) {
	g := New()
	g.RegisterFile(&types.FileRecord{ID: 3})
	g.RegisterFile(&types.FileRecord{ID: 1})
	g.RegisterFile(&types.FileRecord{ID: 2})

	files := g.Files()
	require.Len(t, files, 3)
	assert.Equal(t, types.FileID(1), files[0].ID)
	assert.Equal(t, types.FileID(2), files[1].ID)
	assert.Equal(t, types.FileID(3), files[2].ID)
}
