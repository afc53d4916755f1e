// Package syntax wraps the incremental tree-sitter C# grammar behind the
// narrow contract the graph-rule evaluator needs: parse bytes, get back a
// concrete syntax tree with byte spans (§4.1).
package syntax

import (
	"sync"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"

	csgerrors "github.com/csgraph/provider/internal/errors"
)

// Tree wraps a parsed file: the tree-sitter tree plus the source bytes it
// was parsed from, so callers can slice node spans directly.
type Tree struct {
	Source []byte
	inner  *tree_sitter.Tree
}

// Root returns the tree's root node (compilation_unit for a well-formed C#
// file).
func (t *Tree) Root() *tree_sitter.Node {
	return t.inner.RootNode()
}

// Text returns the source slice a node spans.
func (t *Tree) Text(n *tree_sitter.Node) string {
	return string(t.Source[n.StartByte():n.EndByte()])
}

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	if t.inner != nil {
		t.inner.Close()
	}
}

// Frontend parses C# source into concrete syntax trees. Parse calls on one
// instance are serialized by mu, since tree-sitter parsers are stateful; the
// project builder creates a Frontend per file so workers parse in parallel.
type Frontend struct {
	mu     sync.Mutex
	parser *tree_sitter.Parser
}

// NewFrontend constructs a Frontend bound to the C# grammar.
func NewFrontend() (*Frontend, error) {
	parser := tree_sitter.NewParser()
	lang := tree_sitter.NewLanguage(tree_sitter_csharp.Language())
	if err := parser.SetLanguage(lang); err != nil {
		return nil, err
	}
	return &Frontend{parser: parser}, nil
}

// Parse produces a Tree from raw file bytes. It fails with ParseFailed only
// when the input is not valid UTF-8 or the parser returns no tree; a
// syntactically broken C# file still
// parses successfully into a tree containing ERROR nodes (§4.1).
func (f *Frontend) Parse(file string, content []byte) (*Tree, error) {
	if !utf8.Valid(content) {
		return nil, csgerrors.ParseFailed(file, errInvalidUTF8)
	}

	f.mu.Lock()
	tree := f.parser.Parse(content, nil)
	f.mu.Unlock()

	if tree == nil {
		return nil, csgerrors.ParseFailed(file, errParserAborted)
	}
	return &Tree{Source: content, inner: tree}, nil
}

// Close releases the underlying tree-sitter parser.
func (f *Frontend) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parser != nil {
		f.parser.Close()
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	errInvalidUTF8   sentinelError = "invalid UTF-8"
	errParserAborted sentinelError = "parser aborted"
)
