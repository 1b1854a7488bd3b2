package dirent

import (
	"github.com/rufs-go/rufs/block"
	rufserrors "github.com/rufs-go/rufs/errors"
	"github.com/rufs-go/rufs/inode"
)

// BlockAllocator hands out a fresh absolute data block number when a
// directory needs to grow past what its current direct pointers cover.
type BlockAllocator interface {
	AllocateBlock() (block.ID, error)
}

// Engine implements the directory-as-file-of-entries operations: find,
// add, and remove, scanning a directory inode's direct data blocks densely
// packed with fixed-size entries.
type Engine struct {
	dev   block.Store
	table *inode.Table
	alloc BlockAllocator
}

// NewEngine builds a directory Engine over dev, reading/writing inode
// metadata through table and growing directories through alloc.
func NewEngine(dev block.Store, table *inode.Table, alloc BlockAllocator) *Engine {
	return &Engine{dev: dev, table: table, alloc: alloc}
}

// usedBlocks returns the direct pointers of dir that are actually
// allocated: the scan stops at the first zero slot, since block 0 is the
// superblock and can never legitimately appear as a data block pointer.
func usedBlocks(dir *inode.Inode) []block.ID {
	var out []block.ID
	for _, ptr := range dir.DirectPtr {
		if ptr == 0 {
			break
		}
		out = append(out, block.ID(ptr))
	}
	return out
}

// Find looks up name among dir's entries, returning ErrNotFound if no live
// entry matches.
func (e *Engine) Find(dir *inode.Inode, name string) (Dirent, error) {
	for _, blockNo := range usedBlocks(dir) {
		buf := make([]byte, block.Size)
		if err := e.dev.ReadBlock(blockNo, buf); err != nil {
			return Dirent{}, err
		}
		for slot := 0; slot < EntriesPerBlock; slot++ {
			off := slot * RawSize
			d, err := Decode(buf[off : off+RawSize])
			if err != nil {
				return Dirent{}, err
			}
			if d.IsValid() && d.NameString() == name {
				return d, nil
			}
		}
	}
	return Dirent{}, rufserrors.Errorf(rufserrors.KindNotFound, "no such directory entry: %q", name)
}

// List returns every live entry in dir, in on-disk order.
func (e *Engine) List(dir *inode.Inode) ([]Dirent, error) {
	var out []Dirent
	for _, blockNo := range usedBlocks(dir) {
		buf := make([]byte, block.Size)
		if err := e.dev.ReadBlock(blockNo, buf); err != nil {
			return nil, err
		}
		for slot := 0; slot < EntriesPerBlock; slot++ {
			off := slot * RawSize
			d, err := Decode(buf[off : off+RawSize])
			if err != nil {
				return nil, err
			}
			if d.IsValid() {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// Add inserts a new entry for name pointing at fIno into dir, growing dir
// by one data block if no existing block has room. It fails with
// AlreadyExists if name is already present, and NoSpace if dir has used
// all DirectPtrCount blocks and none has a free (or tombstoned) slot.
func (e *Engine) Add(dir *inode.Inode, fIno uint16, name string) error {
	entry, err := New(fIno, name)
	if err != nil {
		return err
	}

	blocks := usedBlocks(dir)

	// Scan every existing block up front for both a live duplicate and the
	// first free/tombstoned slot, so a duplicate living in a later block
	// isn't missed just because an earlier block already had room.
	bufs := make([][]byte, len(blocks))
	freeBlockIdx, freeSlot := -1, -1
	for i, blockNo := range blocks {
		buf := make([]byte, block.Size)
		if err := e.dev.ReadBlock(blockNo, buf); err != nil {
			return err
		}
		bufs[i] = buf

		for slot := 0; slot < EntriesPerBlock; slot++ {
			off := slot * RawSize
			d, err := Decode(buf[off : off+RawSize])
			if err != nil {
				return err
			}
			if d.IsValid() {
				if d.NameString() == name {
					return rufserrors.Errorf(rufserrors.KindAlreadyExists, "directory entry already exists: %q", name)
				}
				continue
			}
			if freeBlockIdx == -1 {
				freeBlockIdx, freeSlot = i, slot
			}
		}
	}

	if freeBlockIdx != -1 {
		off := freeSlot * RawSize
		buf := bufs[freeBlockIdx]
		copy(buf[off:off+RawSize], entry.Encode())
		if err := e.dev.WriteBlock(blocks[freeBlockIdx], buf); err != nil {
			return err
		}
		return e.bumpAfterAdd(dir)
	}

	if len(blocks) >= inode.DirectPtrCount {
		return rufserrors.ErrNoSpace.WithMessage("directory has exhausted all direct block pointers")
	}

	newBlockNo, err := e.alloc.AllocateBlock()
	if err != nil {
		return err
	}

	buf := make([]byte, block.Size)
	copy(buf[0:RawSize], entry.Encode())
	if err := e.dev.WriteBlock(newBlockNo, buf); err != nil {
		return err
	}

	dir.DirectPtr[len(blocks)] = uint32(newBlockNo)
	return e.bumpAfterAdd(dir)
}

func (e *Engine) bumpAfterAdd(dir *inode.Inode) error {
	dir.Size += RawSize
	dir.Link++
	dir.Vstat.Mtime = inode.NowUnix()
	dir.Vstat.Nlink = uint64(dir.Link)
	return e.table.WriteI(dir.Ino, dir)
}

// Remove tombstones the entry for name in dir: only its Valid bit is
// cleared, and a later Add may reuse the slot. No data block is freed, even
// if every slot in it is now a tombstone.
func (e *Engine) Remove(dir *inode.Inode, name string) error {
	for _, blockNo := range usedBlocks(dir) {
		buf := make([]byte, block.Size)
		if err := e.dev.ReadBlock(blockNo, buf); err != nil {
			return err
		}

		for slot := 0; slot < EntriesPerBlock; slot++ {
			off := slot * RawSize
			d, err := Decode(buf[off : off+RawSize])
			if err != nil {
				return err
			}
			if d.IsValid() && d.NameString() == name {
				d.Valid = 0
				copy(buf[off:off+RawSize], d.Encode())
				if err := e.dev.WriteBlock(blockNo, buf); err != nil {
					return err
				}

				dir.Size -= RawSize
				if dir.Link > 0 {
					dir.Link--
				}
				dir.Vstat.Mtime = inode.NowUnix()
				dir.Vstat.Nlink = uint64(dir.Link)
				return e.table.WriteI(dir.Ino, dir)
			}
		}
	}
	return rufserrors.Errorf(rufserrors.KindNotFound, "no such directory entry: %q", name)
}

// IsEmpty reports whether dir has no live entries other than "." and "..".
func (e *Engine) IsEmpty(dir *inode.Inode) (bool, error) {
	entries, err := e.List(dir)
	if err != nil {
		return false, err
	}
	for _, d := range entries {
		name := d.NameString()
		if name != "." && name != ".." {
			return false, nil
		}
	}
	return true, nil
}
