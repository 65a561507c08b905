package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"enharness/internal/state"
)

func TestPutIsWriteOnce(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Put(state.KeyToken, "tok-1"))

	err := store.Put(state.KeyToken, "tok-2")
	require.Error(t, err)
	require.True(t, errors.Is(err, state.ErrAlreadySet))

	v, err := store.Get(state.KeyToken)
	require.NoError(t, err)
	require.Equal(t, "tok-1", v)
}

func TestOverwriteReplacesValue(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Put(state.KeyToken, "tok-1"))

	store.Overwrite(state.KeyToken, "tok-2")
	v, err := store.Get(state.KeyToken)
	require.NoError(t, err)
	require.Equal(t, "tok-2", v)
}

func TestGetMissingKey(t *testing.T) {
	store := NewStore()
	_, err := store.Get("absent")
	require.True(t, errors.Is(err, state.ErrNotFound))

	_, ok := store.Lookup("absent")
	require.False(t, ok)
}

func TestKeysFiltersByPrefix(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Put(state.ExistingOrderKey("b"), "b"))
	require.NoError(t, store.Put(state.ExistingOrderKey("a"), "a"))
	require.NoError(t, store.Put(state.NewOrderKey("c"), "c"))

	keys := store.Keys(state.ExistingOrderPrefix)
	require.Equal(t, []string{"existing_order_a", "existing_order_b"}, keys)
}
