// Package inode implements the on-disk inode record and the inode table
// that maps an inode number to its (block, offset) location and back.
package inode

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/noxer/bytewriter"

	"github.com/rufs-go/rufs/block"
	rufserrors "github.com/rufs-go/rufs/errors"
	"github.com/rufs-go/rufs/layout"
)

// Type distinguishes the two kinds of inode rufs knows about.
type Type uint32

const (
	TypeFile Type = iota
	TypeDirectory
)

// DirectPtrCount is the number of direct data-block pointers an inode
// carries. rufs has no indirect blocks; IndirectPtr below exists only
// because the wire format reserves the space, and must always round-trip
// as zero.
const DirectPtrCount = 16

// IndirectPtrCount is the reserved-but-unused indirect pointer slots kept
// for wire compatibility with the original layout.
const IndirectPtrCount = 8

// Vstat is the cached POSIX-stat projection carried inside every inode
// record, so a getattr never needs to touch anything but the inode block.
type Vstat struct {
	Mode  uint32
	Nlink uint64
	Size  uint64
	Atime uint64
	Mtime uint64
	Ctime uint64
}

// Inode is the in-memory, decoded form of one inode record.
type Inode struct {
	Ino         uint16
	Valid       uint16
	Size        uint32
	Type        Type
	Link        uint32
	DirectPtr   [DirectPtrCount]uint32
	IndirectPtr [IndirectPtrCount]uint32
	Vstat       Vstat
}

// rawInode is the fixed little-endian wire layout. Field order and width
// are a compatibility boundary; layout.InodeSize must track this struct's
// encoded size exactly.
type rawInode struct {
	Ino         uint16
	Valid       uint16
	Size        uint32
	Type        uint32
	Link        uint32
	DirectPtr   [DirectPtrCount]uint32
	IndirectPtr [IndirectPtrCount]uint32
	Vstat       Vstat
}

// RawSize is the encoded size, in bytes, of a single inode record.
const RawSize = layout.InodeSize

func toRaw(in Inode) rawInode {
	return rawInode{
		Ino:         in.Ino,
		Valid:       in.Valid,
		Size:        in.Size,
		Type:        uint32(in.Type),
		Link:        in.Link,
		DirectPtr:   in.DirectPtr,
		IndirectPtr: in.IndirectPtr,
		Vstat:       in.Vstat,
	}
}

func fromRaw(raw rawInode) Inode {
	return Inode{
		Ino:         raw.Ino,
		Valid:       raw.Valid,
		Size:        raw.Size,
		Type:        Type(raw.Type),
		Link:        raw.Link,
		DirectPtr:   raw.DirectPtr,
		IndirectPtr: raw.IndirectPtr,
		Vstat:       raw.Vstat,
	}
}

// Encode serializes in into a zero-padded RawSize-byte record.
func (in Inode) Encode() []byte {
	out := make([]byte, RawSize)
	w := bytewriter.New(out)
	raw := toRaw(in)
	if err := binary.Write(w, binary.LittleEndian, &raw); err != nil {
		panic(err)
	}
	return out
}

// Decode parses a single inode record out of raw, which must be at least
// RawSize bytes.
func Decode(raw []byte) (Inode, error) {
	if len(raw) < RawSize {
		return Inode{}, rufserrors.Errorf(rufserrors.KindCorrupt, "inode record too short: %d bytes", len(raw))
	}
	var decoded rawInode
	r := bytes.NewReader(raw[:RawSize])
	if err := binary.Read(r, binary.LittleEndian, &decoded); err != nil {
		return Inode{}, rufserrors.ErrCorrupt.Wrap(err)
	}
	return fromRaw(decoded), nil
}

// IsValid reports whether the inode record is currently in use.
func (in Inode) IsValid() bool {
	return in.Valid != 0
}

// Table reads and writes individual inode records against a block device,
// using the geometry fixed by a Superblock.
type Table struct {
	dev block.Store
	sb  layout.Superblock
}

// NewTable builds a Table bound to dev using the geometry in sb.
func NewTable(dev block.Store, sb layout.Superblock) *Table {
	return &Table{dev: dev, sb: sb}
}

// ReadI loads inode ino into out. It fails with KindOutOfRange if ino is
// not a valid inode number for this geometry.
func (t *Table) ReadI(ino uint16, out *Inode) error {
	blockNo, offset, err := t.sb.InodeBlockFor(ino)
	if err != nil {
		return err
	}

	buf := make([]byte, block.Size)
	if err := t.dev.ReadBlock(blockNo, buf); err != nil {
		return err
	}

	decoded, err := Decode(buf[offset : offset+RawSize])
	if err != nil {
		return err
	}
	*out = decoded
	return nil
}

// WriteI persists in at inode number ino, read-modify-writing the block it
// shares with neighboring inode records.
func (t *Table) WriteI(ino uint16, in *Inode) error {
	blockNo, offset, err := t.sb.InodeBlockFor(ino)
	if err != nil {
		return err
	}

	buf := make([]byte, block.Size)
	if err := t.dev.ReadBlock(blockNo, buf); err != nil {
		return err
	}

	in.Ino = ino
	copy(buf[offset:offset+RawSize], in.Encode())

	return t.dev.WriteBlock(blockNo, buf)
}

// NowUnix returns the current time as the unix-seconds form stored in
// Vstat.Atime/Mtime/Ctime.
func NowUnix() uint64 {
	return uint64(time.Now().Unix())
}
