// Package rules implements the graph-rule evaluator (§4.2): it walks a
// parsed C# syntax tree and emits stack-graph nodes and edges into the
// graph model. The rule set is compiled Go code: the switch in walk
// dispatches each tree-sitter node kind to a per-kind emission handler.
package rules

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/csgraph/provider/internal/graph"
	"github.com/csgraph/provider/internal/syntax"
	"github.com/csgraph/provider/internal/types"
)

// frame is one entry of the lexical context stack maintained while
// walking a file. Declarations look up the stack to find their FQDN
// parent; location tagging for reference nodes uses the innermost named
// frame.
type frame struct {
	kind   string // "namespace", "class", "method", "field"
	handle types.NodeHandle
	named  bool // false for the synthetic file-root frame
}

// Emitter carries the state for one file's rule evaluation pass.
type Emitter struct {
	g      *graph.Graph
	file   types.FileID
	source types.SourceType
	tree   *syntax.Tree
	stack  []frame

	missingKinds map[string]bool // observed RuleMissingForSyntax kinds, for diagnostics

	// ResolveAliases controls whether `using X = Y;` aliases get resolved
	// when emitting references to X. Aliasing resolution is out of scope
	// (references carry their verbatim written text, unexpanded), so this
	// always stays false; the field exists so a future rule change has
	// somewhere to plug in without changing Emit's signature.
	ResolveAliases bool
}

// Emit walks tree and appends the resulting nodes/edges to g under file,
// tagging every emitted node with source (§4.2 Contract).
func Emit(g *graph.Graph, file types.FileID, source types.SourceType, tree *syntax.Tree) *Emitter {
	e := &Emitter{g: g, file: file, source: source, tree: tree, missingKinds: map[string]bool{}, ResolveAliases: false}

	root := tree.Root()
	rootHandle := e.g.AddNode(types.KindScope, e.file, spanOf(root), types.Attrs{
		types.AttrSourceType: string(e.source),
		types.AttrSyntaxType: string(types.SyntaxCompUnit),
	})
	e.stack = append(e.stack, frame{kind: "root", handle: rootHandle, named: false})

	e.walk(root)
	return e
}

// MissingKinds returns the tree-sitter node kinds whose handler found no
// name child to emit (RuleMissingForSyntax, §4.2 Failure). No node is
// emitted for such a declaration; its children are still walked. Kinds
// that have no handler at all are not recorded here.
func (e *Emitter) MissingKinds() []string {
	out := make([]string, 0, len(e.missingKinds))
	for k := range e.missingKinds {
		out = append(out, k)
	}
	return out
}

func (e *Emitter) top() frame {
	return e.stack[len(e.stack)-1]
}

func (e *Emitter) push(f frame) {
	e.stack = append(e.stack, f)
}

func (e *Emitter) pop() {
	e.stack = e.stack[:len(e.stack)-1]
}

// locationTag returns the innermost named frame kind, used to tag
// reference nodes for the query engine's location filter.
func (e *Emitter) locationTag() string {
	for i := len(e.stack) - 1; i >= 0; i-- {
		f := e.stack[i]
		if f.named {
			return f.kind
		}
	}
	return ""
}

// parentHandle returns the nearest named enclosing context, if any, for
// building a declaration's FQDN edge.
func (e *Emitter) parentHandle() (types.NodeHandle, bool) {
	for i := len(e.stack) - 1; i >= 0; i-- {
		if e.stack[i].named {
			return e.stack[i].handle, true
		}
	}
	return 0, false
}

// text returns n's source text, interning it into the graph's symbol table
// (I3 bijective interning) before handing it back for the node's attrs.
func (e *Emitter) text(n *tree_sitter.Node) string {
	s := e.tree.Text(n)
	e.g.Intern(s)
	return s
}

func spanOf(n *tree_sitter.Node) types.Span {
	start := n.StartPosition()
	end := n.EndPosition()
	return types.Span{
		StartByte: uint32(n.StartByte()),
		EndByte:   uint32(n.EndByte()),
		StartLine: uint32(start.Row) + 1,
		StartCol:  uint32(start.Column) + 1,
		EndLine:   uint32(end.Row) + 1,
		EndCol:    uint32(end.Column) + 1,
	}
}

func childByType(n *tree_sitter.Node, kind string) *tree_sitter.Node {
	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		c := n.Child(i)
		if c != nil && c.Kind() == kind {
			return c
		}
	}
	return nil
}

func childrenByType(n *tree_sitter.Node, kind string) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		c := n.Child(i)
		if c != nil && c.Kind() == kind {
			out = append(out, c)
		}
	}
	return out
}

// isTypeNameKind reports whether kind is a node shape that names a
// user-visible type (as opposed to a predefined_type like "int").
func isTypeNameKind(kind string) bool {
	switch kind {
	case "identifier", "qualified_name", "generic_name", "name":
		return true
	default:
		return false
	}
}

// typeNameNode peels a generic_name down to the plain name it qualifies,
// e.g. List<int> -> the "List" identifier/qualified_name.
func typeNameNode(n *tree_sitter.Node) *tree_sitter.Node {
	if n.Kind() != "generic_name" {
		return n
	}
	if id := childByType(n, "identifier"); id != nil {
		return id
	}
	if qn := childByType(n, "qualified_name"); qn != nil {
		return qn
	}
	return n
}

// walk performs the pre-order traversal, dispatching to the per-kind
// emission handlers below. Kinds with no handler, bare identifiers
// included, are recursed into and emit no node of their own.
func (e *Emitter) walk(n *tree_sitter.Node) {
	switch n.Kind() {
	case "namespace_declaration", "file_scoped_namespace_declaration":
		e.emitNamespace(n)
		return
	case "class_declaration", "struct_declaration", "interface_declaration", "record_declaration":
		e.emitClassLike(n)
		return
	case "method_declaration", "constructor_declaration":
		e.emitMethod(n)
		return
	case "field_declaration":
		e.emitField(n)
		return
	case "property_declaration":
		e.emitProperty(n)
		return
	case "local_declaration_statement":
		e.emitLocal(n)
		return
	case "using_directive":
		e.emitUsing(n)
		return
	case "invocation_expression":
		e.emitInvocation(n)
		return
	case "object_creation_expression":
		e.emitObjectCreation(n)
		return
	}

	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		if c := n.Child(i); c != nil {
			e.walk(c)
		}
	}
}

func (e *Emitter) emitNamespace(n *tree_sitter.Node) {
	nameNode := childByType(n, "qualified_name")
	if nameNode == nil {
		nameNode = childByType(n, "identifier")
	}
	if nameNode == nil {
		e.missingKinds[n.Kind()] = true
		e.walkChildren(n)
		return
	}

	attrs := types.Attrs{
		types.AttrSourceType: string(e.source),
		types.AttrSyntaxType: string(types.SyntaxNamespaceDeclaration),
		types.AttrSymbol:     e.text(nameNode),
	}
	h := e.g.AddNode(types.KindDefinition, e.file, spanOf(nameNode), attrs)
	if parent, ok := e.parentHandle(); ok {
		e.g.AddEdge(h, parent, 0, types.EdgeFQDN)
	}

	e.push(frame{kind: "namespace", handle: h, named: true})
	e.walkChildren(n)
	e.pop()
}

func (e *Emitter) emitClassLike(n *tree_sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		e.missingKinds[n.Kind()] = true
		e.walkChildren(n)
		return
	}

	attrs := types.Attrs{
		types.AttrSourceType: string(e.source),
		types.AttrSyntaxType: string(types.SyntaxClassDef),
		types.AttrSymbol:     e.text(nameNode),
	}
	h := e.g.AddNode(types.KindDefinition, e.file, spanOf(nameNode), attrs)
	if parent, ok := e.parentHandle(); ok {
		e.g.AddEdge(h, parent, 0, types.EdgeFQDN)
	}

	if bases := childByType(n, "base_list"); bases != nil {
		e.emitTypeReferences(bases, "class")
	}

	e.push(frame{kind: "class", handle: h, named: true})
	e.walkChildren(n)
	e.pop()
}

func (e *Emitter) emitMethod(n *tree_sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		e.missingKinds[n.Kind()] = true
		e.walkChildren(n)
		return
	}

	attrs := types.Attrs{
		types.AttrSourceType: string(e.source),
		types.AttrSyntaxType: string(types.SyntaxMethodName),
		types.AttrSymbol:     e.text(nameNode),
	}
	h := e.g.AddNode(types.KindDefinition, e.file, spanOf(nameNode), attrs)
	if parent, ok := e.parentHandle(); ok {
		e.g.AddEdge(h, parent, 0, types.EdgeFQDN)
	}

	if params := n.ChildByFieldName("parameters"); params != nil {
		e.emitParameters(params, h)
	}
	if retType := n.ChildByFieldName("type"); retType != nil && isTypeNameKind(retType.Kind()) {
		e.emitReference(typeNameNode(retType), "method")
	}

	e.push(frame{kind: "method", handle: h, named: true})
	e.walkChildren(n)
	e.pop()
}

func (e *Emitter) emitParameters(params *tree_sitter.Node, methodHandle types.NodeHandle) {
	for _, p := range childrenByType(params, "parameter") {
		nameNode := p.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		attrs := types.Attrs{
			types.AttrSourceType: string(e.source),
			types.AttrSyntaxType: string(types.SyntaxArgument),
			types.AttrSymbol:     e.text(nameNode),
		}
		h := e.g.AddNode(types.KindDefinition, e.file, spanOf(nameNode), attrs)
		e.g.AddEdge(h, methodHandle, 0, types.EdgeFQDN)

		if typeNode := p.ChildByFieldName("type"); typeNode != nil && isTypeNameKind(typeNode.Kind()) {
			e.emitReference(typeNameNode(typeNode), "method")
		}
	}
}

func (e *Emitter) emitField(n *tree_sitter.Node) {
	decl := childByType(n, "variable_declaration")
	if decl == nil {
		e.missingKinds[n.Kind()] = true
		e.walkChildren(n)
		return
	}
	if typeNode := decl.ChildByFieldName("type"); typeNode != nil && isTypeNameKind(typeNode.Kind()) {
		e.emitReference(typeNameNode(typeNode), "field")
	}

	parent, hasParent := e.parentHandle()
	for _, declarator := range childrenByType(decl, "variable_declarator") {
		nameNode := childByType(declarator, "identifier")
		if nameNode == nil {
			continue
		}
		attrs := types.Attrs{
			types.AttrSourceType: string(e.source),
			types.AttrSyntaxType: string(types.SyntaxFieldName),
			types.AttrSymbol:     e.text(nameNode),
		}
		h := e.g.AddNode(types.KindDefinition, e.file, spanOf(nameNode), attrs)
		if hasParent {
			e.g.AddEdge(h, parent, 0, types.EdgeFQDN)
		}
	}

	e.push(frame{kind: "field", handle: 0, named: false})
	e.walkChildren(n)
	e.pop()
}

func (e *Emitter) emitProperty(n *tree_sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		e.missingKinds[n.Kind()] = true
		e.walkChildren(n)
		return
	}
	if typeNode := n.ChildByFieldName("type"); typeNode != nil && isTypeNameKind(typeNode.Kind()) {
		e.emitReference(typeNameNode(typeNode), "field")
	}

	attrs := types.Attrs{
		types.AttrSourceType: string(e.source),
		types.AttrSyntaxType: string(types.SyntaxFieldName),
		types.AttrSymbol:     e.text(nameNode),
	}
	h := e.g.AddNode(types.KindDefinition, e.file, spanOf(nameNode), attrs)
	if parent, ok := e.parentHandle(); ok {
		e.g.AddEdge(h, parent, 0, types.EdgeFQDN)
	}

	e.push(frame{kind: "field", handle: 0, named: false})
	e.walkChildren(n)
	e.pop()
}

func (e *Emitter) emitLocal(n *tree_sitter.Node) {
	decl := childByType(n, "variable_declaration")
	if decl == nil {
		e.missingKinds[n.Kind()] = true
		e.walkChildren(n)
		return
	}
	if typeNode := decl.ChildByFieldName("type"); typeNode != nil && isTypeNameKind(typeNode.Kind()) {
		e.emitReference(typeNameNode(typeNode), e.locationTag())
	}

	parent, hasParent := e.parentHandle()
	for _, declarator := range childrenByType(decl, "variable_declarator") {
		nameNode := childByType(declarator, "identifier")
		if nameNode == nil {
			continue
		}
		attrs := types.Attrs{
			types.AttrSourceType: string(e.source),
			types.AttrSyntaxType: string(types.SyntaxLocalVar),
			types.AttrSymbol:     e.text(nameNode),
		}
		h := e.g.AddNode(types.KindDefinition, e.file, spanOf(nameNode), attrs)
		if hasParent {
			e.g.AddEdge(h, parent, 0, types.EdgeFQDN)
		}
	}

	e.walkChildren(n)
}

// emitUsing emits an import node for a using directive and, for a plain
// namespace import (not a `using Alias = Namespace;` alias, recognised by an
// `=` token child, or by a name_equals child in older grammar versions),
// records the namespace against the
// file so the query engine can qualify bare reference candidates with it.
// The import node itself never gets an FQDN edge and is never a "name"
// candidate: aliasing (§9) is still unresolved, only the plain-import case
// is used, and only at query time.
func (e *Emitter) emitUsing(n *tree_sitter.Node) {
	nameNode := childByType(n, "qualified_name")
	if nameNode == nil {
		nameNode = childByType(n, "identifier")
	}
	if nameNode == nil {
		e.missingKinds[n.Kind()] = true
		return
	}
	ns := e.text(nameNode)
	attrs := types.Attrs{
		types.AttrSourceType: string(e.source),
		types.AttrSyntaxType: string(types.SyntaxImport),
		types.AttrSymbol:     ns,
	}
	e.g.AddNode(types.KindReference, e.file, spanOf(nameNode), attrs)

	if childByType(n, "name_equals") == nil && childByType(n, "=") == nil {
		e.g.AddUsing(e.file, ns)
	}
}

func (e *Emitter) emitInvocation(n *tree_sitter.Node) {
	fn := n.ChildByFieldName("function")
	if fn != nil {
		switch fn.Kind() {
		case "member_access_expression":
			e.emitReference(fn, e.locationTag())
		case "identifier", "qualified_name", "generic_name":
			e.emitReference(typeNameNode(fn), e.locationTag())
		}
	}
	e.walkChildren(n)
}

func (e *Emitter) emitObjectCreation(n *tree_sitter.Node) {
	if typeNode := n.ChildByFieldName("type"); typeNode != nil && isTypeNameKind(typeNode.Kind()) {
		e.emitReference(typeNameNode(typeNode), e.locationTag())
	}
	e.walkChildren(n)
}

// emitTypeReferences walks a base_list, emitting a Reference for every
// base-type or interface name it names.
func (e *Emitter) emitTypeReferences(baseList *tree_sitter.Node, location string) {
	count := baseList.ChildCount()
	for i := uint(0); i < count; i++ {
		c := baseList.Child(i)
		if c == nil || !isTypeNameKind(c.Kind()) {
			continue
		}
		e.emitReference(typeNameNode(c), location)
	}
}

// emitReference emits a self-contained Reference node whose symbol is the
// node's own written text. Written qualified names (e.g.
// "System.Web.Mvc.Controller") are already fully qualified in source, so no
// FQDN edge is needed; a bare identifier is recorded as-is, not resolved
// against enclosing using-directives here — the query engine qualifies bare
// candidates against the file's recorded using-namespaces itself, so this
// node does not need to carry that information redundantly. A `using
// Alias = Namespace;` alias is still never unwound (§9 non-goal).
func (e *Emitter) emitReference(n *tree_sitter.Node, location string) types.NodeHandle {
	attrs := types.Attrs{
		types.AttrSourceType: string(e.source),
		types.AttrSyntaxType: string(types.SyntaxName),
		types.AttrSymbol:     e.text(n),
	}
	if location != "" {
		attrs[types.AttrLocation] = location
	}
	return e.g.AddNode(types.KindReference, e.file, spanOf(n), attrs)
}

func (e *Emitter) walkChildren(n *tree_sitter.Node) {
	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		if c := n.Child(i); c != nil {
			e.walk(c)
		}
	}
}
