package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPins_ReserveIsExclusive(t *testing.T) {
	reg := NewMemoryPins()
	ctx := context.Background()

	ok, err := reg.Reserve(ctx, "123456")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = reg.Reserve(ctx, "123456")
	require.NoError(t, err)
	require.False(t, ok, "second reservation of a held pin must fail")

	ok, err = reg.Reserve(ctx, "654321")
	require.NoError(t, err)
	require.True(t, ok, "unrelated pin is unaffected")
}

func TestMemoryPins_ReleaseFreesPin(t *testing.T) {
	reg := NewMemoryPins()
	ctx := context.Background()

	ok, err := reg.Reserve(ctx, "123456")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, reg.Release(ctx, "123456"))

	ok, err = reg.Reserve(ctx, "123456")
	require.NoError(t, err)
	require.True(t, ok, "released pin is reservable again")
}

func TestMemoryPins_ReleaseUnknownPinIsNoOp(t *testing.T) {
	reg := NewMemoryPins()
	require.NoError(t, reg.Release(context.Background(), "000000"))
}
