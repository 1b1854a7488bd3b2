package inode_test

import (
	"testing"

	"github.com/rufs-go/rufs/block"
	"github.com/rufs-go/rufs/inode"
	"github.com/rufs-go/rufs/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func newTable(t *testing.T) (*inode.Table, layout.Superblock) {
	t.Helper()
	sb := layout.NewSuperblock()
	numBlocks := int(sb.DStartBlk) + 16
	buf := make([]byte, numBlocks*block.Size)
	dev := block.NewFromStream(bytesextra.NewReadWriteSeeker(buf))
	return inode.NewTable(dev, sb), sb
}

func TestInode_EncodeDecodeRoundTrips(t *testing.T) {
	want := inode.Inode{
		Ino:   3,
		Valid: 1,
		Size:  4096,
		Type:  inode.TypeDirectory,
		Link:  2,
		Vstat: inode.Vstat{Mode: 0o755, Nlink: 2, Size: 4096, Mtime: 1000},
	}
	want.DirectPtr[0] = 42

	raw := want.Encode()
	assert.Len(t, raw, inode.RawSize)

	got, err := inode.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInode_IndirectPtrAlwaysRoundTripsZero(t *testing.T) {
	in := inode.Inode{Ino: 1, Valid: 1}
	raw := in.Encode()

	got, err := inode.Decode(raw)
	require.NoError(t, err)
	for i, v := range got.IndirectPtr {
		assert.Zerof(t, v, "IndirectPtr[%d] must be zero", i)
	}
}

func TestTable_WriteIThenReadIRoundTrips(t *testing.T) {
	table, _ := newTable(t)

	in := inode.Inode{Valid: 1, Size: 100, Type: inode.TypeFile, Link: 1}
	in.DirectPtr[0] = 99
	require.NoError(t, table.WriteI(7, &in))

	var got inode.Inode
	require.NoError(t, table.ReadI(7, &got))
	assert.EqualValues(t, 7, got.Ino)
	assert.EqualValues(t, 1, got.Valid)
	assert.EqualValues(t, 99, got.DirectPtr[0])
}

func TestTable_NeighboringInodesDoNotClobberEachOther(t *testing.T) {
	table, _ := newTable(t)

	a := inode.Inode{Valid: 1, Size: 1}
	b := inode.Inode{Valid: 1, Size: 2}
	require.NoError(t, table.WriteI(0, &a))
	require.NoError(t, table.WriteI(1, &b))

	var gotA, gotB inode.Inode
	require.NoError(t, table.ReadI(0, &gotA))
	require.NoError(t, table.ReadI(1, &gotB))
	assert.EqualValues(t, 1, gotA.Size)
	assert.EqualValues(t, 2, gotB.Size)
}

func TestTable_ReadIRejectsOutOfRangeInodeNumber(t *testing.T) {
	table, sb := newTable(t)

	var out inode.Inode
	err := table.ReadI(uint16(sb.MaxInum), &out)
	require.Error(t, err)
}

func TestTable_WriteISetsInoField(t *testing.T) {
	table, _ := newTable(t)

	in := inode.Inode{Valid: 1}
	require.NoError(t, table.WriteI(5, &in))
	assert.EqualValues(t, 5, in.Ino)
}
