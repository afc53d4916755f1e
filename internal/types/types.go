// Package types defines the value types shared across the graph model,
// rule evaluator, partial-path solver, persistence layer, and query engine:
// handles, syntax/source tags, spans, and the wire-facing incident shape.
package types

import "fmt"

// FileID identifies one indexed file. Handles are partitioned by file, so
// FileID doubles as the partition key for node ownership.
type FileID uint32

// SymbolHandle identifies an interned string. Equal strings intern to equal
// handles (I3): the symbol table is the single source of truth for that
// bijection.
type SymbolHandle uint32

// NodeHandle identifies one node in the graph arena. Handles are dense and
// monotonically increasing within one graph. They are not preserved across
// save/load: project.rehydrate gives a reloaded file's nodes fresh handles
// and remaps its persisted edges onto them.
type NodeHandle uint32

// NodeKind discriminates the stack-graph node variants (§3). The evaluator
// branches on Kind; the graph model stores it inline rather than using a
// type hierarchy.
type NodeKind uint8

const (
	KindRoot NodeKind = iota
	KindScope
	KindPushSymbol
	KindPopSymbol
	KindReference
	KindDefinition
	KindJumpTo
)

func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindScope:
		return "scope"
	case KindPushSymbol:
		return "push_symbol"
	case KindPopSymbol:
		return "pop_symbol"
	case KindReference:
		return "reference"
	case KindDefinition:
		return "definition"
	case KindJumpTo:
		return "jump_to"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SyntaxType tags the C# construct a node represents. Nodes that stand for
// concrete C# syntax carry one, as does each file's root Scope
// (comp_unit).
type SyntaxType string

const (
	SyntaxImport               SyntaxType = "import"
	SyntaxCompUnit             SyntaxType = "comp_unit"
	SyntaxNamespaceDeclaration SyntaxType = "namespace_declaration"
	SyntaxClassDef             SyntaxType = "class_def"
	SyntaxMethodName           SyntaxType = "method_name"
	SyntaxFieldName            SyntaxType = "field_name"
	SyntaxLocalVar             SyntaxType = "local_var"
	SyntaxArgument             SyntaxType = "argument"
	SyntaxName                 SyntaxType = "name"
)

// SourceType distinguishes user code from decompiled dependency code (I2:
// every node has exactly one).
type SourceType string

const (
	SourceUser       SourceType = "source"
	SourceDependency SourceType = "dependency"
)

// EdgeLabel tags an edge's role. FQDN edges are the backbone the query
// engine walks to reconstruct qualified names (§4.2).
type EdgeLabel string

const (
	EdgeFQDN  EdgeLabel = "FQDN"
	EdgePlain EdgeLabel = ""
)

// Span is a byte range within a file, with the line/column position of its
// start and end resolved against that file's newline table.
type Span struct {
	StartByte uint32
	EndByte   uint32
	StartLine uint32 // 1-based
	StartCol  uint32 // 1-based
	EndLine   uint32
	EndCol    uint32
}

// Attrs is the tagged-attribute bag every node carries. Keys are the
// well-known attribute names below; values are either a SyntaxType,
// SourceType, or a plain string for evaluator-defined tags.
type Attrs map[string]string

const (
	AttrSyntaxType = "syntax_type"
	AttrSourceType = "source_type"
	AttrSymbol     = "symbol"
	// AttrLocation tags a Reference node with the syntactic position it
	// was found in (class/method/field/namespace); the "referenced"
	// capability surfaces use sites, not declarations, so location
	// filtering keys off this tag rather than syntax_type.
	AttrLocation = "location"
)

func (a Attrs) SyntaxType() (SyntaxType, bool) {
	v, ok := a[AttrSyntaxType]
	return SyntaxType(v), ok
}

func (a Attrs) SourceType() (SourceType, bool) {
	v, ok := a[AttrSourceType]
	return SourceType(v), ok
}

// Location is the query-side location-kind filter (§4.7).
type Location string

const (
	LocationAll       Location = "all"
	LocationClass     Location = "class"
	LocationMethod    Location = "method"
	LocationField     Location = "field"
	LocationNamespace Location = "namespace"
)

// SyntaxTypesFor returns the SyntaxType values a Location filter selects
// against. LocationAll matches every name-bearing node, represented here
// by an empty slice — callers interpret that as "no restriction".
func SyntaxTypesFor(loc Location) []SyntaxType {
	switch loc {
	case LocationClass:
		return []SyntaxType{SyntaxClassDef}
	case LocationMethod:
		return []SyntaxType{SyntaxMethodName}
	case LocationField:
		return []SyntaxType{SyntaxFieldName}
	case LocationNamespace:
		return []SyntaxType{SyntaxNamespaceDeclaration}
	default:
		return nil
	}
}

// Incident is one query hit, converted from a node's span via its file's
// newline table (§4.7, §6).
type Incident struct {
	FileURI     string
	LineNumber  uint32
	ColumnStart uint32
	ColumnEnd   uint32
	SourceType  SourceType
}

// FileRecord is the persisted description of one indexed file (§3).
type FileRecord struct {
	ID          FileID
	AbsPath     string
	ContentHash string
	TreeSpan    Span
	SourceType  SourceType
	NodeHandles []NodeHandle
	// Usings holds the file's `using X;` namespace imports (not
	// `using X = Y;` aliases), in source order. The query engine uses these
	// to qualify a bare reference candidate against an imported namespace
	// without resolving the reference itself (§9 non-goal).
	Usings []string
}
