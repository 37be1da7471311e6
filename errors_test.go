package loom_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
)

func TestNotFoundError(t *testing.T) {
	err := loom.NewNotFoundError("order", int64(7))
	require.True(t, loom.IsNotFound(err))
	require.True(t, errors.Is(err, loom.ErrNotFound))
	require.Equal(t, "order", err.Label())
	require.Equal(t, []any{int64(7)}, err.Key())
	require.Contains(t, err.Error(), "order not found")

	require.False(t, loom.IsNotFound(nil))
	require.False(t, loom.IsNotFound(errors.New("other")))

	// Wrapped errors still match.
	require.True(t, loom.IsNotFound(fmt.Errorf("get: %w", err)))
}

func TestNotSingularError(t *testing.T) {
	err := loom.NewNotSingularError("item")
	require.True(t, loom.IsNotSingular(err))
	require.True(t, errors.Is(err, loom.ErrNotSingular))
	require.False(t, loom.IsNotFound(err))
}

func TestNotLoadedError(t *testing.T) {
	err := loom.NewNotLoadedError("order_items")
	require.True(t, loom.IsNotLoaded(err))
	require.Contains(t, err.Error(), `"order_items"`)
	require.False(t, loom.IsNotLoaded(errors.New("other")))
}

func TestConstraintError(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: item.item_id")
	err := loom.NewConstraintError("duplicate key", cause)
	require.True(t, loom.IsConstraintError(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "constraint failed")
	require.False(t, loom.IsConstraintError(errors.New("other")))
}

func TestBackendError(t *testing.T) {
	cause := errors.New("database is locked")
	err := loom.NewBackendError("flush", cause)
	require.True(t, loom.IsBackendError(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "backend flush")
	require.False(t, loom.IsConstraintError(err))
}

func TestSchemaError(t *testing.T) {
	err := &loom.SchemaError{Kind: "order", Msg: "undeclared attribute"}
	require.True(t, loom.IsSchemaError(err))
	require.Contains(t, err.Error(), "order")
	require.False(t, loom.IsSchemaError(nil))
}
