// Package pathsolver precomputes, per file, the fully-qualified name each
// node in that file resolves to (§4.4). Doing this once at build time
// means the query engine looks up a candidate's FQDN instead of walking
// FQDN edges for every request.
package pathsolver

import (
	"fmt"

	"github.com/csgraph/provider/internal/graph"
	"github.com/csgraph/provider/internal/types"
)

// PartialPath is one node's precomputed qualified name, ready to persist
// and reload without re-walking the graph.
type PartialPath struct {
	Node types.NodeHandle
	FQDN string
}

// Solve computes forward partial paths for every node owned by file: a
// fixed-point walk of each node's FQDN-edge chain, memoized so shared
// prefixes are only concatenated once (§4.4 Algorithm).
//
// Determinism follows directly from the graph's own edge ordering
// (source-handle, edge-precedence, destination-handle): each node has at
// most one outgoing FQDN edge, so the "worklist" degenerates to a simple
// walk, but cycles are still guarded against (I6) by tracking visited
// handles and truncating on a repeat.
func Solve(g *graph.Graph, file types.FileID) []PartialPath {
	rec, ok := g.File(file)
	if !ok {
		return nil
	}

	memo := make(map[types.NodeHandle]string, len(rec.NodeHandles))
	out := make([]PartialPath, 0, len(rec.NodeHandles))

	for _, h := range rec.NodeHandles {
		fqdn := resolve(g, h, memo, nil)
		out = append(out, PartialPath{Node: h, FQDN: fqdn})
	}
	return out
}

func resolve(g *graph.Graph, h types.NodeHandle, memo map[types.NodeHandle]string, visiting []types.NodeHandle) string {
	if cached, ok := memo[h]; ok {
		return cached
	}
	for _, v := range visiting {
		if v == h {
			// Cycle in the FQDN chain (I6): truncate here rather than
			// recursing forever.
			return ""
		}
	}

	node, ok := g.Node(h)
	if !ok {
		return ""
	}
	symbol := node.Attrs[types.AttrSymbol]

	parents := g.OutgoingByLabel(h, types.EdgeFQDN)
	if len(parents) == 0 {
		memo[h] = symbol
		return symbol
	}

	// A declaration has at most one FQDN parent by construction; if the
	// rule evaluator ever emits more than one, take the lowest-precedence
	// edge (the canonical ordering Outgoing already applies).
	parentFQDN := resolve(g, parents[0].To, memo, append(visiting, h))
	fqdn := symbol
	if parentFQDN != "" {
		fqdn = fmt.Sprintf("%s.%s", parentFQDN, symbol)
	}
	memo[h] = fqdn
	return fqdn
}

// Index is a lookup table from node handle to precomputed FQDN, the shape
// the persistence layer stores and the query engine consults.
type Index map[types.NodeHandle]string

// BuildIndex runs Solve across every file registered in g.
func BuildIndex(g *graph.Graph) Index {
	idx := make(Index)
	for _, rec := range g.Files() {
		for _, p := range Solve(g, rec.ID) {
			idx[p.Node] = p.FQDN
		}
	}
	return idx
}
