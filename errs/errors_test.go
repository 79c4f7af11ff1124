package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	inv := Invalid("container", "Merge", base)
	assert.True(t, IsInvalid(inv))
	assert.False(t, IsFatal(inv))
	assert.ErrorIs(t, inv, base)
	assert.Equal(t, "container.Merge: boom", inv.Error())

	fat := Fatal("redist", "Process", base)
	assert.True(t, IsFatal(fat))
	assert.False(t, IsInvalid(fat))

	// Unclassified errors are recoverable unless they carry a fatal sentinel
	assert.True(t, IsInvalid(base))
	assert.True(t, IsFatal(fmt.Errorf("scatter: %w", ErrGroupGeometry)))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
}

func TestWrapKeepsClass(t *testing.T) {
	fat := Fatal("comm", "Recv", ErrAborted)
	wrapped := Wrap(fat, "redist", "Process", "receive")
	assert.True(t, IsFatal(wrapped))
	assert.ErrorIs(t, wrapped, ErrAborted)
	assert.Contains(t, wrapped.Error(), "receive failed")

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
	assert.Equal(t, "resource", Resource("x", "y", errors.New("z")).(*ClassifiedError).Class.String())
}
