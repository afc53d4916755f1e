package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csgerrors "github.com/csgraph/provider/internal/errors"
)

func TestParseValidCSharp(t *testing.T) {
	f, err := NewFrontend()
	require.NoError(t, err)
	defer f.Close()

	src := []byte("namespace Foo { class Bar { void Baz() {} } }")
	tree, err := f.Parse("Bar.cs", src)
	require.NoError(t, err)
	defer tree.Close()

	root := tree.Root()
	assert.Equal(t, "compilation_unit", root.Kind())
	assert.Equal(t, src, tree.Source)
}

func TestParseInvalidUTF8Fails(t *testing.T) {
	f, err := NewFrontend()
	require.NoError(t, err)
	defer f.Close()

	bad := []byte{0xff, 0xfe, 0x00}
	_, err = f.Parse("Bad.cs", bad)
	require.Error(t, err)

	var pe *csgerrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, csgerrors.KindParseFailed, pe.Kind)
}

func TestParseSyntacticallyInvalidStillSucceeds(t *testing.T) {
	f, err := NewFrontend()
	require.NoError(t, err)
	defer f.Close()

	src := []byte("class {{{ not valid c#")
	tree, err := f.Parse("Broken.cs", src)
	require.NoError(t, err, "a malformed file still yields a tree with ERROR nodes")
	defer tree.Close()
	assert.NotNil(t, tree.Root())
}

func TestTextSlicesNodeSpan(t *testing.T) {
	f, err := NewFrontend()
	require.NoError(t, err)
	defer f.Close()

	src := []byte("class Widget {}")
	tree, err := f.Parse("Widget.cs", src)
	require.NoError(t, err)
	defer tree.Close()

	root := tree.Root()
	classDecl := root.Child(0)
	require.NotNil(t, classDecl)
	nameNode := classDecl.ChildByFieldName("name")
	require.NotNil(t, nameNode)
	assert.Equal(t, "Widget", tree.Text(nameNode))
}
