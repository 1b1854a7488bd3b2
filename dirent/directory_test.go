package dirent_test

import (
	"fmt"
	"testing"

	"github.com/rufs-go/rufs/block"
	"github.com/rufs-go/rufs/dirent"
	"github.com/rufs-go/rufs/inode"
	"github.com/rufs-go/rufs/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// sequentialAllocator hands out ascending absolute block numbers starting
// at the data region start, with no reuse -- enough to exercise
// directory growth in isolation from the real bitmap-backed allocator.
type sequentialAllocator struct {
	next block.ID
}

func (a *sequentialAllocator) AllocateBlock() (block.ID, error) {
	id := a.next
	a.next++
	return id, nil
}

func newEngine(t *testing.T, extraDataBlocks int) (*dirent.Engine, *inode.Table, layout.Superblock) {
	t.Helper()
	sb := layout.NewSuperblock()
	numBlocks := int(sb.DStartBlk) + extraDataBlocks
	buf := make([]byte, numBlocks*block.Size)
	dev := block.NewFromStream(bytesextra.NewReadWriteSeeker(buf))
	table := inode.NewTable(dev, sb)
	alloc := &sequentialAllocator{next: block.ID(sb.DStartBlk)}
	return dirent.NewEngine(dev, table, alloc), table, sb
}

func newDir(t *testing.T, table *inode.Table, ino uint16) *inode.Inode {
	t.Helper()
	dir := &inode.Inode{Ino: ino, Valid: 1, Type: inode.TypeDirectory, Link: 0}
	require.NoError(t, table.WriteI(ino, dir))
	return dir
}

func TestEngine_AddThenFindRoundTrips(t *testing.T) {
	eng, table, _ := newEngine(t, 4)
	dir := newDir(t, table, 0)

	require.NoError(t, eng.Add(dir, 5, "hello.txt"))

	got, err := eng.Find(dir, "hello.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Ino)
	assert.Equal(t, "hello.txt", got.NameString())

	var reloaded inode.Inode
	require.NoError(t, table.ReadI(0, &reloaded))
	assert.EqualValues(t, dirent.RawSize, reloaded.Size)
}

func TestEngine_AddDuplicateNameFails(t *testing.T) {
	eng, table, _ := newEngine(t, 4)
	dir := newDir(t, table, 0)

	require.NoError(t, eng.Add(dir, 5, "dup"))
	err := eng.Add(dir, 6, "dup")
	require.Error(t, err)
}

func TestEngine_RemoveThenFindFails(t *testing.T) {
	eng, table, _ := newEngine(t, 4)
	dir := newDir(t, table, 0)

	require.NoError(t, eng.Add(dir, 5, "gone.txt"))
	require.NoError(t, eng.Remove(dir, "gone.txt"))

	_, err := eng.Find(dir, "gone.txt")
	require.Error(t, err)

	var reloaded inode.Inode
	require.NoError(t, table.ReadI(0, &reloaded))
	assert.EqualValues(t, 0, reloaded.Size)
}

func TestEngine_AddAfterRemoveFindsOnlyTheNewEntry(t *testing.T) {
	eng, table, _ := newEngine(t, 4)
	dir := newDir(t, table, 0)

	require.NoError(t, eng.Add(dir, 5, "a"))
	require.NoError(t, eng.Remove(dir, "a"))
	require.NoError(t, eng.Add(dir, 6, "b"))

	_, err := eng.Find(dir, "a")
	require.Error(t, err)
	got, err := eng.Find(dir, "b")
	require.NoError(t, err)
	assert.EqualValues(t, 6, got.Ino)
}

func TestEngine_GrowsPastOneBlockOfEntries(t *testing.T) {
	eng, table, _ := newEngine(t, 4)
	dir := newDir(t, table, 0)

	for i := 0; i < dirent.EntriesPerBlock+1; i++ {
		name := fmt.Sprintf("f%d", i)
		require.NoError(t, eng.Add(dir, uint16(i+1), name))
	}

	var reloaded inode.Inode
	require.NoError(t, table.ReadI(0, &reloaded))
	assert.NotZero(t, reloaded.DirectPtr[1])

	got, err := eng.Find(dir, fmt.Sprintf("f%d", dirent.EntriesPerBlock))
	require.NoError(t, err)
	assert.EqualValues(t, dirent.EntriesPerBlock+1, got.Ino)
}

func TestEngine_ExhaustingAllDirectPointersReturnsNoSpace(t *testing.T) {
	eng, table, _ := newEngine(t, inode.DirectPtrCount+1)
	dir := newDir(t, table, 0)

	count := inode.DirectPtrCount * dirent.EntriesPerBlock
	for i := 0; i < count; i++ {
		require.NoError(t, eng.Add(dir, uint16(i%1000+1), fmt.Sprintf("f%d", i)))
	}

	err := eng.Add(dir, 999, "overflow")
	require.Error(t, err)
}

func TestEngine_AddDetectsDuplicateLiveInALaterBlockThanTheFreeSlot(t *testing.T) {
	eng, table, _ := newEngine(t, 4)
	dir := newDir(t, table, 0)

	// Fill the first block completely, then add one more entry so the
	// directory grows into a second block.
	for i := 0; i < dirent.EntriesPerBlock; i++ {
		require.NoError(t, eng.Add(dir, uint16(i+1), fmt.Sprintf("f%d", i)))
	}
	require.NoError(t, eng.Add(dir, 999, "dup"))

	// Tombstone an entry in the first block, opening a free slot there
	// while "dup" still lives, valid, in the second block.
	require.NoError(t, eng.Remove(dir, "f0"))

	err := eng.Add(dir, 1000, "dup")
	require.Error(t, err)

	got, err := eng.Find(dir, "dup")
	require.NoError(t, err)
	assert.EqualValues(t, 999, got.Ino)
}

func TestEngine_IsEmptyIgnoresDotAndDotDot(t *testing.T) {
	eng, table, _ := newEngine(t, 4)
	dir := newDir(t, table, 0)

	require.NoError(t, eng.Add(dir, 0, "."))
	require.NoError(t, eng.Add(dir, 0, ".."))

	empty, err := eng.IsEmpty(dir)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, eng.Add(dir, 9, "child"))
	empty, err = eng.IsEmpty(dir)
	require.NoError(t, err)
	assert.False(t, empty)
}
