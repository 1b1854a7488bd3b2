package bitmap_test

import (
	"testing"

	"github.com/rufs-go/rufs/bitmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_FirstFreeAllocatesInOrder(t *testing.T) {
	a := bitmap.New(8)

	for want := 0; want < 8; want++ {
		got, err := a.FirstFree()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAllocator_FirstFreeFailsWhenFull(t *testing.T) {
	a := bitmap.New(4)
	for i := 0; i < 4; i++ {
		_, err := a.FirstFree()
		require.NoError(t, err)
	}

	_, err := a.FirstFree()
	require.Error(t, err)
}

func TestAllocator_UnsetFreesABitForReuse(t *testing.T) {
	a := bitmap.New(2)
	first, err := a.FirstFree()
	require.NoError(t, err)
	_, err = a.FirstFree()
	require.NoError(t, err)

	require.NoError(t, a.Unset(first))
	assert.False(t, a.Get(first))

	reused, err := a.FirstFree()
	require.NoError(t, err)
	assert.Equal(t, first, reused)
}

func TestAllocator_RoundTripsThroughBytes(t *testing.T) {
	a := bitmap.New(16)
	require.NoError(t, a.Set(0))
	require.NoError(t, a.Set(15))

	raw := a.Bytes()

	b := bitmap.FromBytes(raw, 16)
	assert.True(t, b.Get(0))
	assert.True(t, b.Get(15))
	assert.False(t, b.Get(1))
}
