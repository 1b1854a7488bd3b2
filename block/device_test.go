package block_test

import (
	"bytes"
	"testing"

	"github.com/rufs-go/rufs/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newMemoryDevice(t *testing.T, numBlocks int) *block.Device {
	t.Helper()
	buf := make([]byte, numBlocks*block.Size)
	stream := bytesextra.NewReadWriteSeeker(buf)
	return block.NewFromStream(stream)
}

func TestDevice_WriteThenReadRoundTrips(t *testing.T) {
	dev := newMemoryDevice(t, 4)

	want := bytes.Repeat([]byte{0xAB}, block.Size)
	require.NoError(t, dev.WriteBlock(2, want))

	got := make([]byte, block.Size)
	require.NoError(t, dev.ReadBlock(2, got))
	assert.Equal(t, want, got)
}

func TestDevice_UnwrittenBlockReadsAsZero(t *testing.T) {
	dev := newMemoryDevice(t, 2)

	got := make([]byte, block.Size)
	require.NoError(t, dev.ReadBlock(1, got))
	assert.Equal(t, make([]byte, block.Size), got)
}

func TestDevice_NegativeBlockNumberIsOutOfRange(t *testing.T) {
	dev := newMemoryDevice(t, 2)

	buf := make([]byte, block.Size)
	err := dev.ReadBlock(block.ID(0x80000000), buf) // int32(0x80000000) < 0
	require.Error(t, err)
}

func TestDevice_WrongSizedBufferIsRejected(t *testing.T) {
	dev := newMemoryDevice(t, 2)

	err := dev.WriteBlock(0, make([]byte, block.Size-1))
	require.Error(t, err)
}

func TestDevice_TotalBlocksMatchesBackingSize(t *testing.T) {
	dev := newMemoryDevice(t, 5)

	total, err := dev.TotalBlocks()
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
}
