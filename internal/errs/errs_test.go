package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreError_Unwrap(t *testing.T) {
	inner := errors.New("conflict")
	err := NewStoreError("put", "doc-1", inner)

	assert.Equal(t, "store put doc-1: conflict", err.Error())
	assert.True(t, errors.Is(err, inner))
}

func TestIndexError_NoID(t *testing.T) {
	err := NewIndexError("load", "", errors.New("inverted bbox"))
	assert.Equal(t, "index load: inverted bbox", err.Error())
}

func TestWithRollback_Succeeded(t *testing.T) {
	orig := NewIndexError("insert", "a", errors.New("nan"))
	err := WithRollback("add", orig, nil)
	assert.Same(t, orig, err)
}

func TestWithRollback_Failed(t *testing.T) {
	orig := NewIndexError("insert", "a", errors.New("nan"))
	rb := NewStoreError("remove", "a", errors.New("io"))

	err := WithRollback("add", orig, rb)

	var rbErr *RollbackError
	require.True(t, errors.As(err, &rbErr))
	assert.Contains(t, err.Error(), "rollback failed")

	// Both failures stay reachable.
	assert.True(t, IsKind[*IndexError](err))
	assert.True(t, IsKind[*StoreError](err))
}

func TestIsKind(t *testing.T) {
	err := NewPredicateError("touches", "c1", errors.New("empty geometry"))
	assert.True(t, IsKind[*PredicateError](err))
	assert.False(t, IsKind[*ExtractionError](err))
	assert.False(t, IsKind[*UnknownRelationError](nil))
}
