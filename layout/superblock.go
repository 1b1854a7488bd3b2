// Package layout defines the disk image format: the superblock and the
// block accounting derived from it. This is the compatibility boundary
// spec'd bit-exact in the on-disk format.
package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/rufs-go/rufs/block"
	rufserrors "github.com/rufs-go/rufs/errors"
)

// MagicNumber identifies a valid rufs superblock.
const MagicNumber uint32 = 0x5C3A

// MaxInodes is the maximum number of inodes the file system can hold.
const MaxInodes = 1024

// MaxDataBlocks is the maximum number of data blocks the file system can
// index through its bitmap.
const MaxDataBlocks = 16384

// RootIno is the inode number of the root directory, fixed at format time.
const RootIno = 0

// SuperblockBlockNo, InodeBitmapBlockNo, and DataBitmapBlockNo are always
// the first three blocks of a rufs image.
const (
	SuperblockBlockNo  block.ID = 0
	InodeBitmapBlockNo block.ID = 1
	DataBitmapBlockNo  block.ID = 2
)

// Superblock is the first block of a rufs image: the disk-wide parameters
// that everything else is computed from. It never changes after mkfs.
type Superblock struct {
	MagicNum     uint32
	MaxInum      uint16
	MaxDnum      uint16
	IBitmapBlk   uint32
	DBitmapBlk   uint32
	IStartBlk    uint32
	DStartBlk    uint32
}

// rawSuperblock is the fixed little-endian wire layout of Superblock; field
// order and width are a compatibility boundary and must not change.
type rawSuperblock struct {
	MagicNum   uint32
	MaxInum    uint16
	MaxDnum    uint16
	IBitmapBlk uint32
	DBitmapBlk uint32
	IStartBlk  uint32
	DStartBlk  uint32
}

// InodeSize is the on-disk size of a single serialized inode record, see
// inode.RawSize. Declared here (rather than imported from package inode) to
// avoid a dependency cycle, since layout.New needs it to compute DStartBlk.
const InodeSize = 2 + 2 + 4 + 4 + 4 + 16*4 + 8*4 + vstatSize

// vstatSize is the size of the cached POSIX-stat projection embedded in
// every inode record.
const vstatSize = 4 + 8 + 8 + 8 + 8 + 8

// InodesPerBlock is how many packed inode records fit in one block.
const InodesPerBlock = block.Size / InodeSize

// NewSuperblock computes a Superblock for a freshly formatted image with
// exactly MaxInodes inodes and MaxDataBlocks data blocks, per the fixed
// geometry spec.md pins.
//
// The inode region is reserved in whole blocks of InodesPerBlock slots
// each, not in raw bytes: InodeSize doesn't evenly divide block.Size, so
// sizing the region by ceilDiv(MaxInodes*InodeSize, block.Size) reserves
// one block too few and InodeBlockFor would spill the last slots onto
// what DataBlockFor(0) considers the first data block.
func NewSuperblock() Superblock {
	dStartBlk := 3 + ceilDiv(MaxInodes, InodesPerBlock)
	return Superblock{
		MagicNum:   MagicNumber,
		MaxInum:    MaxInodes,
		MaxDnum:    MaxDataBlocks,
		IBitmapBlk: uint32(InodeBitmapBlockNo),
		DBitmapBlk: uint32(DataBitmapBlockNo),
		IStartBlk:  3,
		DStartBlk:  uint32(dStartBlk),
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Encode serializes the superblock into a single zero-padded block.
func (sb Superblock) Encode() []byte {
	out := make([]byte, block.Size)
	w := bytewriter.New(out)
	raw := rawSuperblock(sb)
	if err := binary.Write(w, binary.LittleEndian, &raw); err != nil {
		panic(err) // writing into a correctly-sized slice cannot fail
	}
	return out
}

// Decode parses a superblock out of a whole block previously produced by
// Encode, failing with KindCorrupt if the magic number doesn't match.
func Decode(raw []byte) (Superblock, error) {
	if len(raw) < block.Size {
		return Superblock{}, rufserrors.Errorf(rufserrors.KindCorrupt, "superblock block too short: %d bytes", len(raw))
	}

	var decoded rawSuperblock
	r := bytes.NewReader(raw)
	if err := binary.Read(r, binary.LittleEndian, &decoded); err != nil {
		return Superblock{}, rufserrors.ErrCorrupt.Wrap(err)
	}
	if decoded.MagicNum != MagicNumber {
		return Superblock{}, rufserrors.Errorf(
			rufserrors.KindCorrupt,
			"bad superblock magic: want %#x, got %#x",
			MagicNumber,
			decoded.MagicNum,
		)
	}
	return Superblock(decoded), nil
}

// InodeBlockFor returns the block that holds inode ino, and its byte offset
// within that block.
func (sb Superblock) InodeBlockFor(ino uint16) (block.ID, int, error) {
	if int(ino) >= int(sb.MaxInum) {
		return 0, 0, rufserrors.Errorf(rufserrors.KindOutOfRange, "inode %d >= max %d", ino, sb.MaxInum)
	}
	blockNo := block.ID(sb.IStartBlk) + block.ID(int(ino)/InodesPerBlock)
	offset := (int(ino) % InodesPerBlock) * InodeSize
	return blockNo, offset, nil
}

// DataBlockFor converts a logical data-region index into the absolute block
// number on the device. See DESIGN.md for why direct pointers store
// absolute numbers rather than this logical index.
func (sb Superblock) DataBlockFor(logical int) block.ID {
	return block.ID(sb.DStartBlk) + block.ID(logical)
}
