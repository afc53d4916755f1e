// Package graph implements the stack-graph arena: interned symbols, a
// dense node array partitioned by file, and directed edges with
// precedence. Nodes and edges are values in flat slices indexed by
// integer handle (§9 DESIGN NOTES): cross-references are handles, never
// pointers, so serialization is a bulk copy and cycles are harmless.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/csgraph/provider/internal/types"
)

// Edge is a directed edge (from, to, precedence). FQDN edges are the
// backbone the query engine walks to reconstruct qualified names.
type Edge struct {
	From       types.NodeHandle
	To         types.NodeHandle
	Precedence int
	Label      types.EdgeLabel
}

// Node is one arena entry: a kind discriminator, owning file, byte span
// (zero for a node that stands for no source text), and tagged
// attributes.
type Node struct {
	Handle types.NodeHandle
	Kind   types.NodeKind
	File   types.FileID
	Span   types.Span
	Attrs  types.Attrs
}

// Graph is the append-only arena during build, and a shared read-only
// structure once Seal has been called (§4.3, §5). Mutation after sealing
// panics, matching the append-only-then-immutable lifecycle in §3.
type Graph struct {
	mu sync.RWMutex

	sealed bool

	symbols   []string
	symbolIdx map[string]types.SymbolHandle

	nodes []Node

	// outgoing/incoming index edges by node handle for O(1) traversal.
	edges    []Edge
	outgoing map[types.NodeHandle][]int // indices into edges
	incoming map[types.NodeHandle][]int

	files map[types.FileID]*types.FileRecord
}

// New returns an empty graph in the building state.
func New() *Graph {
	return &Graph{
		symbolIdx: make(map[string]types.SymbolHandle),
		outgoing:  make(map[types.NodeHandle][]int),
		incoming:  make(map[types.NodeHandle][]int),
		files:     make(map[types.FileID]*types.FileRecord),
	}
}

// Intern returns the stable handle for str, allocating a new one on first
// sight. Equal strings always intern to equal handles (I3).
func (g *Graph) Intern(str string) types.SymbolHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.symbolIdx[str]; ok {
		return h
	}
	h := types.SymbolHandle(len(g.symbols))
	g.symbols = append(g.symbols, str)
	g.symbolIdx[str] = h
	return h
}

// Symbol resolves a previously interned handle back to its string.
func (g *Graph) Symbol(h types.SymbolHandle) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(h) >= len(g.symbols) {
		return "", false
	}
	return g.symbols[h], true
}

// Symbols returns every interned string, indexed by SymbolHandle. The
// persistence layer's symbols table is a direct dump of this slice.
func (g *Graph) Symbols() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.symbols))
	copy(out, g.symbols)
	return out
}

// AddNode appends a node to the arena, returning its handle. Handles are
// dense and monotonically increasing across the whole graph, not just
// within a file. A file reloaded from persistence gets fresh handles here;
// its persisted handle values are not reused.
func (g *Graph) AddNode(kind types.NodeKind, file types.FileID, span types.Span, attrs types.Attrs) types.NodeHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		panic("graph: AddNode after seal")
	}
	h := types.NodeHandle(len(g.nodes))
	if attrs == nil {
		attrs = types.Attrs{}
	}
	g.nodes = append(g.nodes, Node{Handle: h, Kind: kind, File: file, Span: span, Attrs: attrs})
	if rec, ok := g.files[file]; ok {
		rec.NodeHandles = append(rec.NodeHandles, h)
	}
	return h
}

// AddEdge appends a directed edge. Precedence orders sibling edges for
// deterministic traversal (§4.4).
func (g *Graph) AddEdge(src, dst types.NodeHandle, precedence int, label types.EdgeLabel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		panic("graph: AddEdge after seal")
	}
	idx := len(g.edges)
	g.edges = append(g.edges, Edge{From: src, To: dst, Precedence: precedence, Label: label})
	g.outgoing[src] = append(g.outgoing[src], idx)
	g.incoming[dst] = append(g.incoming[dst], idx)
}

// RegisterFile installs a file record before nodes for that file are
// added, so AddNode can append handles to it as it goes.
func (g *Graph) RegisterFile(rec *types.FileRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		panic("graph: RegisterFile after seal")
	}
	if rec.NodeHandles == nil {
		rec.NodeHandles = []types.NodeHandle{}
	}
	g.files[rec.ID] = rec
}

// AddUsing records a `using X;` namespace import against file, so the query
// engine can qualify a bare reference candidate with it later. Duplicate
// namespaces are kept as written; callers only ever append what the syntax
// frontend actually saw.
func (g *Graph) AddUsing(file types.FileID, ns string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sealed {
		panic("graph: AddUsing after seal")
	}
	if rec, ok := g.files[file]; ok {
		rec.Usings = append(rec.Usings, ns)
	}
}

// File returns the file record for id, if registered.
func (g *Graph) File(id types.FileID) (*types.FileRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.files[id]
	return rec, ok
}

// Files returns every registered file record.
func (g *Graph) Files() []*types.FileRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*types.FileRecord, 0, len(g.files))
	for _, rec := range g.files {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Node returns the node stored at handle.
func (g *Graph) Node(h types.NodeHandle) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(h) >= len(g.nodes) {
		return Node{}, false
	}
	return g.nodes[h], true
}

// IterNodes calls fn for every node in increasing handle order, stopping
// early if fn returns false.
func (g *Graph) IterNodes(fn func(Node) bool) {
	g.mu.RLock()
	nodes := g.nodes
	g.mu.RUnlock()
	for _, n := range nodes {
		if !fn(n) {
			return
		}
	}
}

// NodeCount returns the number of nodes in the arena.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Attr returns node h's value for key, as an interned-string attribute.
func (g *Graph) Attr(h types.NodeHandle, key string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(h) >= len(g.nodes) {
		return "", false
	}
	v, ok := g.nodes[h].Attrs[key]
	return v, ok
}

// Outgoing returns edges leaving h, ordered by (precedence, destination
// handle) for deterministic traversal (§4.4 Determinism).
func (g *Graph) Outgoing(h types.NodeHandle) []Edge {
	return g.edgesFor(h, g.outgoing)
}

// Incoming returns edges entering h, in the same canonical order.
func (g *Graph) Incoming(h types.NodeHandle) []Edge {
	return g.edgesFor(h, g.incoming)
}

func (g *Graph) edgesFor(h types.NodeHandle, index map[types.NodeHandle][]int) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idxs := index[h]
	out := make([]Edge, len(idxs))
	for i, idx := range idxs {
		out[i] = g.edges[idx]
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Precedence != out[j].Precedence {
			return out[i].Precedence < out[j].Precedence
		}
		return out[i].To < out[j].To
	})
	return out
}

// OutgoingByLabel filters Outgoing to edges carrying label.
func (g *Graph) OutgoingByLabel(h types.NodeHandle, label types.EdgeLabel) []Edge {
	all := g.Outgoing(h)
	out := all[:0:0]
	for _, e := range all {
		if e.Label == label {
			out = append(out, e)
		}
	}
	return out
}

// Seal performs the monotonic Building→Sealed transition (§5). It is safe
// to call more than once; subsequent calls are no-ops.
func (g *Graph) Seal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sealed = true
}

// Sealed reports whether the graph has completed its build phase.
func (g *Graph) Sealed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sealed
}

// String is a diagnostic summary used by logs, not the wire protocol.
func (g *Graph) String() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fmt.Sprintf("graph{nodes=%d edges=%d files=%d sealed=%v}", len(g.nodes), len(g.edges), len(g.files), g.sealed)
}
