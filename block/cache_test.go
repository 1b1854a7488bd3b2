package block_test

import (
	"testing"

	"github.com/rufs-go/rufs/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

type countingStore struct {
	*block.Device
	reads, writes int
}

func (c *countingStore) ReadBlock(blockNo block.ID, buf []byte) error {
	c.reads++
	return c.Device.ReadBlock(blockNo, buf)
}

func (c *countingStore) WriteBlock(blockNo block.ID, buf []byte) error {
	c.writes++
	return c.Device.WriteBlock(blockNo, buf)
}

func newCountingStore(numBlocks int) *countingStore {
	buf := make([]byte, numBlocks*block.Size)
	return &countingStore{Device: block.NewFromStream(bytesextra.NewReadWriteSeeker(buf))}
}

func TestCache_RepeatedReadsHitTheCacheOnce(t *testing.T) {
	backing := newCountingStore(4)
	cache := block.NewCache(backing, 4)

	buf := make([]byte, block.Size)
	require.NoError(t, cache.ReadBlock(1, buf))
	require.NoError(t, cache.ReadBlock(1, buf))
	require.NoError(t, cache.ReadBlock(1, buf))

	assert.Equal(t, 1, backing.reads)
}

func TestCache_WritesDoNotReachBackingUntilFlush(t *testing.T) {
	backing := newCountingStore(4)
	cache := block.NewCache(backing, 4)

	want := make([]byte, block.Size)
	want[0] = 0xAB
	require.NoError(t, cache.WriteBlock(2, want))
	assert.Equal(t, 0, backing.writes)

	require.NoError(t, cache.Flush())
	assert.Equal(t, 1, backing.writes)

	got := make([]byte, block.Size)
	require.NoError(t, backing.Device.ReadBlock(2, got))
	assert.Equal(t, want, got)
}

func TestCache_ReadReflectsUnflushedWrite(t *testing.T) {
	backing := newCountingStore(4)
	cache := block.NewCache(backing, 4)

	want := make([]byte, block.Size)
	want[10] = 0x42
	require.NoError(t, cache.WriteBlock(0, want))

	got := make([]byte, block.Size)
	require.NoError(t, cache.ReadBlock(0, got))
	assert.Equal(t, want, got)
	assert.Zero(t, backing.reads)
}

func TestCache_CloseFlushesAndClosesBacking(t *testing.T) {
	backing := newCountingStore(4)
	cache := block.NewCache(backing, 4)

	require.NoError(t, cache.WriteBlock(3, make([]byte, block.Size)))
	require.NoError(t, cache.Close())
	assert.Equal(t, 1, backing.writes)
}

func TestCache_GrowsPastInitialCapacityHint(t *testing.T) {
	backing := newCountingStore(8)
	cache := block.NewCache(backing, 1)

	buf := make([]byte, block.Size)
	buf[0] = 7
	require.NoError(t, cache.WriteBlock(6, buf))

	got := make([]byte, block.Size)
	require.NoError(t, cache.ReadBlock(6, got))
	assert.Equal(t, buf, got)
}
