// Package dirent implements directory entries and the directory-as-file-of-
// entries engine built on top of them: find, add, and remove by name.
package dirent

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/rufs-go/rufs/block"
	rufserrors "github.com/rufs-go/rufs/errors"
)

// NameSize is the fixed width, in bytes, of a dirent's name field.
const NameSize = 208

// Dirent is one slot in a directory's entry list. A Valid of 0 marks a
// free slot or a tombstone: a slot that once held an entry but was removed.
// Engine.Add reuses the first such slot before growing the directory.
type Dirent struct {
	Ino   uint16
	Valid uint16
	Name  [NameSize]byte
	Len   uint16
}

// rawDirent mirrors Dirent; kept distinct so the wire layout is pinned
// independently of any future in-memory convenience fields.
type rawDirent struct {
	Ino   uint16
	Valid uint16
	Name  [NameSize]byte
	Len   uint16
}

// RawSize is the encoded size, in bytes, of a single directory entry.
const RawSize = 2 + 2 + NameSize + 2

// New builds a valid Dirent for name pointing at inode ino. It fails with
// KindInvalidArgument if name doesn't fit in NameSize bytes.
func New(ino uint16, name string) (Dirent, error) {
	if len(name) == 0 {
		return Dirent{}, rufserrors.Errorf(rufserrors.KindInvalidArgument, "directory entry name must not be empty")
	}
	if len(name) > NameSize {
		return Dirent{}, rufserrors.Errorf(rufserrors.KindInvalidArgument, "name %q exceeds %d bytes", name, NameSize)
	}
	var d Dirent
	d.Ino = ino
	d.Valid = 1
	copy(d.Name[:], name)
	d.Len = uint16(len(name))
	return d, nil
}

// NameString returns the entry's name as a string, trimmed to its recorded
// length.
func (d Dirent) NameString() string {
	return string(d.Name[:d.Len])
}

// Encode serializes d into a RawSize-byte record.
func (d Dirent) Encode() []byte {
	out := make([]byte, RawSize)
	w := bytewriter.New(out)
	raw := rawDirent(d)
	if err := binary.Write(w, binary.LittleEndian, &raw); err != nil {
		panic(err)
	}
	return out
}

// Decode parses a single directory entry out of raw, which must be at
// least RawSize bytes.
func Decode(raw []byte) (Dirent, error) {
	if len(raw) < RawSize {
		return Dirent{}, rufserrors.Errorf(rufserrors.KindCorrupt, "dirent record too short: %d bytes", len(raw))
	}
	var decoded rawDirent
	r := bytes.NewReader(raw[:RawSize])
	if err := binary.Read(r, binary.LittleEndian, &decoded); err != nil {
		return Dirent{}, rufserrors.ErrCorrupt.Wrap(err)
	}
	return Dirent(decoded), nil
}

// IsValid reports whether this slot currently holds a live entry.
func (d Dirent) IsValid() bool {
	return d.Valid != 0
}

// EntriesPerBlock is how many packed dirent records fit in one block.
const EntriesPerBlock = block.Size / RawSize
