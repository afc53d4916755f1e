package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolMissing(t *testing.T) {
	err := ToolMissing("ilspy_cmd")
	assert.Equal(t, KindToolMissing, err.Kind)
	assert.Contains(t, err.Error(), "ilspy_cmd")
}

func TestSubprocessFailed(t *testing.T) {
	underlying := errors.New("exit status 1")
	err := SubprocessFailed("paket restore", "no such package", underlying)
	assert.Equal(t, KindSubprocessFailed, err.Kind)
	assert.Contains(t, err.Error(), "paket restore")
	assert.Contains(t, err.Error(), "no such package")
	assert.ErrorIs(t, err, underlying)
}

func TestParseFailedWraps(t *testing.T) {
	underlying := errors.New("invalid utf-8")
	err := ParseFailed("Foo.cs", underlying)
	assert.True(t, errors.Is(err, underlying))
	assert.Contains(t, err.Error(), "Foo.cs")
}

func TestGraphCorruptRecoverable(t *testing.T) {
	err := GraphCorrupt("Bar.cs", errors.New("checksum mismatch"))
	assert.True(t, err.Recoverable, "graph corruption should be recoverable via re-index")
}

func TestPersistenceIORecoverable(t *testing.T) {
	err := PersistenceIO("save", errors.New("disk full"))
	assert.True(t, err.Recoverable)
}

func TestNoProjectAndDeadline(t *testing.T) {
	assert.Equal(t, KindNoProject, NoProject().Kind)
	assert.Equal(t, KindDeadlineExceeded, DeadlineExceeded().Kind)
	assert.Equal(t, KindCancelled, Cancelled().Kind)
}

func TestFromContextDistinguishesDeadlineFromCancel(t *testing.T) {
	assert.Equal(t, KindDeadlineExceeded, FromContext(context.DeadlineExceeded).Kind)
	assert.Equal(t, KindCancelled, FromContext(context.Canceled).Kind)
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := BadRegex(errors.New("unbalanced parens"))
	b := &ProviderError{Kind: KindBadRegex}
	assert.True(t, errors.Is(a, b))

	c := BadCondition(errors.New("unknown field"))
	assert.False(t, errors.Is(a, c))
}

func TestMultiErrorFiltersNil(t *testing.T) {
	me := NewMultiError([]error{nil, errors.New("a"), nil, errors.New("b")})
	assert.Len(t, me.Errors, 2)
	assert.Contains(t, me.Error(), "2 errors")
}

func TestMultiErrorNilWhenEmpty(t *testing.T) {
	me := NewMultiError([]error{nil, nil})
	assert.Nil(t, me)
}

func TestMultiErrorSingle(t *testing.T) {
	underlying := errors.New("only one")
	me := NewMultiError([]error{underlying})
	assert.Equal(t, "only one", me.Error())
}
