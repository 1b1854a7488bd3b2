// Package fs assembles the block device, bitmaps, inode table, and
// directory engine into the single façade the mount layer and CLI talk to.
package fs

import (
	"sync"
	"time"

	"github.com/rufs-go/rufs"
	"github.com/rufs-go/rufs/bitmap"
	"github.com/rufs-go/rufs/block"
	"github.com/rufs-go/rufs/dirent"
	rufserrors "github.com/rufs-go/rufs/errors"
	"github.com/rufs-go/rufs/inode"
	"github.com/rufs-go/rufs/layout"
	"github.com/rufs-go/rufs/namei"
)

// Filesystem is a mounted rufs image: everything needed to resolve paths
// and perform file/directory operations against a single block device.
//
// Every file and directory operation (GetAttr through Utimens) takes the
// same coarse lock; AllocateBlock runs under it as a callback from those
// operations, and Close does not take it. The lock exists since the on-disk
// structures (bitmaps, inode table, directory blocks) have no internal
// concurrency control of their own. The core algorithms themselves remain
// the single-threaded ones the format was designed around; the mutex only
// lets multiple FUSE-dispatched goroutines share one mounted image safely.
type Filesystem struct {
	mu sync.Mutex

	dev       block.Store
	sb        layout.Superblock
	table     *inode.Table
	dirEngine *dirent.Engine
	inodeBM   *bitmap.Allocator
	dataBM    *bitmap.Allocator
}

// Mount loads an already-formatted rufs image from dev. Reads and writes
// go through a write-back block.Cache in front of dev, since the
// superblock, both bitmaps, and the inode table are re-touched on
// practically every operation.
func Mount(backing *block.Device) (*Filesystem, error) {
	dev := block.NewCache(backing, int(layout.NewSuperblock().DStartBlk)+64)

	sbBuf := make([]byte, block.Size)
	if err := dev.ReadBlock(layout.SuperblockBlockNo, sbBuf); err != nil {
		return nil, err
	}
	sb, err := layout.Decode(sbBuf)
	if err != nil {
		return nil, err
	}

	f := &Filesystem{dev: dev, sb: sb}
	f.table = inode.NewTable(dev, sb)
	f.dirEngine = dirent.NewEngine(dev, f.table, f)

	f.inodeBM, err = f.loadBitmap(layout.InodeBitmapBlockNo, int(sb.MaxInum))
	if err != nil {
		return nil, err
	}
	f.dataBM, err = f.loadBitmap(layout.DataBitmapBlockNo, int(sb.MaxDnum))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Close releases the backing block device.
func (f *Filesystem) Close() error {
	return f.dev.Close()
}

func (f *Filesystem) loadBitmap(at block.ID, total int) (*bitmap.Allocator, error) {
	buf := make([]byte, block.Size)
	if err := f.dev.ReadBlock(at, buf); err != nil {
		return nil, err
	}
	return bitmap.FromBytes(buf, total), nil
}

func (f *Filesystem) persistBitmap(at block.ID, a *bitmap.Allocator) error {
	buf := make([]byte, block.Size)
	copy(buf, a.Bytes())
	return f.dev.WriteBlock(at, buf)
}

func (f *Filesystem) persistInodeBitmap() error {
	return f.persistBitmap(layout.InodeBitmapBlockNo, f.inodeBM)
}

func (f *Filesystem) persistDataBitmap() error {
	return f.persistBitmap(layout.DataBitmapBlockNo, f.dataBM)
}

// AllocateBlock implements dirent.BlockAllocator, handing a directory
// engine the next free absolute data block when it needs to grow.
func (f *Filesystem) AllocateBlock() (block.ID, error) {
	idx, err := f.dataBM.FirstFree()
	if err != nil {
		return 0, err
	}
	if err := f.persistDataBitmap(); err != nil {
		return 0, err
	}

	blockNo := f.sb.DataBlockFor(idx)
	zero := make([]byte, block.Size)
	if err := f.dev.WriteBlock(blockNo, zero); err != nil {
		return 0, err
	}
	return blockNo, nil
}

func (f *Filesystem) freeBlock(absolute block.ID) error {
	idx := int(absolute) - int(f.sb.DStartBlk)
	if idx < 0 || idx >= f.dataBM.Total() {
		return nil
	}
	if err := f.dataBM.Unset(idx); err != nil {
		return err
	}
	return f.persistDataBitmap()
}

func (f *Filesystem) allocateInode() (uint16, error) {
	idx, err := f.inodeBM.FirstFree()
	if err != nil {
		return 0, err
	}
	if err := f.persistInodeBitmap(); err != nil {
		return 0, err
	}
	return uint16(idx), nil
}

func (f *Filesystem) freeInode(ino uint16) error {
	if err := f.inodeBM.Unset(int(ino)); err != nil {
		return err
	}
	return f.persistInodeBitmap()
}

func (f *Filesystem) resolve(path string) (inode.Inode, error) {
	return namei.Resolve(f.table, f.dirEngine, path, layout.RootIno)
}

func (f *Filesystem) resolveParentAndLeaf(path string) (parent inode.Inode, leaf string, err error) {
	dirPart, leaf := splitPath(path)
	parent, err = namei.Resolve(f.table, f.dirEngine, dirPart, layout.RootIno)
	return parent, leaf, err
}

func toStat(in inode.Inode) rufs.FileStat {
	mode := in.Vstat.Mode
	if in.Type == inode.TypeDirectory {
		mode |= rufs.S_IFDIR
	} else {
		mode |= rufs.S_IFREG
	}
	return rufs.FileStat{
		InodeNumber:  uint64(in.Ino),
		Nlinks:       uint64(in.Link),
		ModeFlags:    mode,
		Size:         int64(in.Size),
		BlockSize:    block.Size,
		NumBlocks:    int64(countUsedBlocks(in)),
		LastModified: time.Unix(int64(in.Vstat.Mtime), 0),
	}
}

func countUsedBlocks(in inode.Inode) int {
	n := 0
	for _, ptr := range in.DirectPtr {
		if ptr == 0 {
			break
		}
		n++
	}
	return n
}

// GetAttr returns the stat information for the inode named by path.
func (f *Filesystem) GetAttr(path string) (rufs.FileStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	in, err := f.resolve(path)
	if err != nil {
		return rufs.FileStat{}, err
	}
	return toStat(in), nil
}

// ReadDir lists the live entries of the directory named by path.
func (f *Filesystem) ReadDir(path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if dir.Type != inode.TypeDirectory {
		return nil, rufserrors.Errorf(rufserrors.KindNotADirectory, "%q is not a directory", path)
	}

	entries, err := f.dirEngine.List(&dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.NameString())
	}
	return names, nil
}

// Mkdir creates a new, empty directory at path.
func (f *Filesystem) Mkdir(path string, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParentAndLeaf(path)
	if err != nil {
		return err
	}
	if parent.Type != inode.TypeDirectory {
		return rufserrors.Errorf(rufserrors.KindNotADirectory, "parent of %q is not a directory", path)
	}
	if _, err := f.dirEngine.Find(&parent, name); err == nil {
		return rufserrors.Errorf(rufserrors.KindAlreadyExists, "%q already exists", path)
	}

	newIno, err := f.allocateInode()
	if err != nil {
		return err
	}

	child := inode.Inode{
		Ino:   newIno,
		Valid: 1,
		Type:  inode.TypeDirectory,
		Vstat: inode.Vstat{Mode: mode, Mtime: inode.NowUnix(), Atime: inode.NowUnix(), Ctime: inode.NowUnix()},
	}
	if err := f.table.WriteI(newIno, &child); err != nil {
		return err
	}

	if err := f.dirEngine.Add(&child, newIno, "."); err != nil {
		return err
	}
	if err := f.dirEngine.Add(&child, parent.Ino, ".."); err != nil {
		return err
	}

	return f.dirEngine.Add(&parent, newIno, name)
}

// Create creates a new, empty regular file at path.
func (f *Filesystem) Create(path string, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParentAndLeaf(path)
	if err != nil {
		return err
	}
	if parent.Type != inode.TypeDirectory {
		return rufserrors.Errorf(rufserrors.KindNotADirectory, "parent of %q is not a directory", path)
	}
	if _, err := f.dirEngine.Find(&parent, name); err == nil {
		return rufserrors.Errorf(rufserrors.KindAlreadyExists, "%q already exists", path)
	}

	newIno, err := f.allocateInode()
	if err != nil {
		return err
	}

	child := inode.Inode{
		Ino:   newIno,
		Valid: 1,
		Type:  inode.TypeFile,
		Link:  1,
		Vstat: inode.Vstat{Mode: mode, Nlink: 1, Mtime: inode.NowUnix(), Atime: inode.NowUnix(), Ctime: inode.NowUnix()},
	}
	if err := f.table.WriteI(newIno, &child); err != nil {
		return err
	}

	return f.dirEngine.Add(&parent, newIno, name)
}

// Unlink removes the directory entry for path and, once its link count
// reaches zero, frees the inode and its data blocks.
func (f *Filesystem) Unlink(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParentAndLeaf(path)
	if err != nil {
		return err
	}

	entry, err := f.dirEngine.Find(&parent, name)
	if err != nil {
		return err
	}

	var target inode.Inode
	if err := f.table.ReadI(entry.Ino, &target); err != nil {
		return err
	}
	if target.Type == inode.TypeDirectory {
		return rufserrors.Errorf(rufserrors.KindIsADirectory, "%q is a directory", path)
	}

	if err := f.dirEngine.Remove(&parent, name); err != nil {
		return err
	}

	if target.Link > 0 {
		target.Link--
	}
	if target.Link == 0 {
		for _, ptr := range target.DirectPtr {
			if ptr == 0 {
				break
			}
			if err := f.freeBlock(block.ID(ptr)); err != nil {
				return err
			}
		}
		target.Valid = 0
		if err := f.table.WriteI(entry.Ino, &target); err != nil {
			return err
		}
		return f.freeInode(entry.Ino)
	}

	return f.table.WriteI(entry.Ino, &target)
}

// Rmdir removes the empty directory at path.
func (f *Filesystem) Rmdir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParentAndLeaf(path)
	if err != nil {
		return err
	}

	entry, err := f.dirEngine.Find(&parent, name)
	if err != nil {
		return err
	}

	var target inode.Inode
	if err := f.table.ReadI(entry.Ino, &target); err != nil {
		return err
	}
	if target.Type != inode.TypeDirectory {
		return rufserrors.Errorf(rufserrors.KindNotADirectory, "%q is not a directory", path)
	}

	empty, err := f.dirEngine.IsEmpty(&target)
	if err != nil {
		return err
	}
	if !empty {
		return rufserrors.Errorf(rufserrors.KindNotEmpty, "%q is not empty", path)
	}

	if err := f.dirEngine.Remove(&parent, name); err != nil {
		return err
	}

	for _, ptr := range target.DirectPtr {
		if ptr == 0 {
			break
		}
		if err := f.freeBlock(block.ID(ptr)); err != nil {
			return err
		}
	}
	target.Valid = 0
	if err := f.table.WriteI(entry.Ino, &target); err != nil {
		return err
	}
	return f.freeInode(entry.Ino)
}

// Read reads up to len(buf) bytes from the file at path starting at
// offset, returning the number of bytes actually read.
func (f *Filesystem) Read(path string, buf []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	in, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	if in.Type != inode.TypeFile {
		return 0, rufserrors.Errorf(rufserrors.KindIsADirectory, "%q is a directory", path)
	}

	if offset >= int64(in.Size) {
		return 0, nil
	}
	toRead := int64(len(buf))
	if offset+toRead > int64(in.Size) {
		toRead = int64(in.Size) - offset
	}

	var total int
	blockBuf := make([]byte, block.Size)
	for total < int(toRead) {
		pos := offset + int64(total)
		directIdx := int(pos / block.Size)
		inBlockOff := int(pos % block.Size)
		if directIdx >= inode.DirectPtrCount || in.DirectPtr[directIdx] == 0 {
			break
		}

		if err := f.dev.ReadBlock(block.ID(in.DirectPtr[directIdx]), blockBuf); err != nil {
			return total, err
		}

		n := copy(buf[total:int(toRead)], blockBuf[inBlockOff:])
		total += n
	}
	return total, nil
}

// Write writes buf to the file at path starting at offset, growing the
// file (and allocating new data blocks through the same allocator
// directories use) as needed.
func (f *Filesystem) Write(path string, buf []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParentAndLeaf(path)
	if err != nil {
		return 0, err
	}
	entry, err := f.dirEngine.Find(&parent, name)
	if err != nil {
		return 0, err
	}

	var in inode.Inode
	if err := f.table.ReadI(entry.Ino, &in); err != nil {
		return 0, err
	}
	if in.Type != inode.TypeFile {
		return 0, rufserrors.Errorf(rufserrors.KindIsADirectory, "%q is a directory", path)
	}

	var total int
	blockBuf := make([]byte, block.Size)
	for total < len(buf) {
		pos := offset + int64(total)
		directIdx := int(pos / block.Size)
		inBlockOff := int(pos % block.Size)
		if directIdx >= inode.DirectPtrCount {
			return total, rufserrors.ErrNoSpace.WithMessage("file has exhausted all direct block pointers")
		}

		if in.DirectPtr[directIdx] == 0 {
			newBlock, err := f.AllocateBlock()
			if err != nil {
				return total, err
			}
			in.DirectPtr[directIdx] = uint32(newBlock)
		}

		if err := f.dev.ReadBlock(block.ID(in.DirectPtr[directIdx]), blockBuf); err != nil {
			return total, err
		}
		n := copy(blockBuf[inBlockOff:], buf[total:])
		if err := f.dev.WriteBlock(block.ID(in.DirectPtr[directIdx]), blockBuf); err != nil {
			return total, err
		}
		total += n
	}

	if end := offset + int64(total); end > int64(in.Size) {
		in.Size = uint32(end)
	}
	in.Vstat.Mtime = inode.NowUnix()
	in.Vstat.Size = uint64(in.Size)
	if err := f.table.WriteI(entry.Ino, &in); err != nil {
		return total, err
	}
	return total, nil
}

// Truncate resizes the file at path to length bytes, freeing any data
// blocks beyond the new size.
func (f *Filesystem) Truncate(path string, length int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, name, err := f.resolveParentAndLeaf(path)
	if err != nil {
		return err
	}
	entry, err := f.dirEngine.Find(&parent, name)
	if err != nil {
		return err
	}

	var in inode.Inode
	if err := f.table.ReadI(entry.Ino, &in); err != nil {
		return err
	}
	if in.Type != inode.TypeFile {
		return rufserrors.Errorf(rufserrors.KindIsADirectory, "%q is a directory", path)
	}

	keepBlocks := 0
	if length > 0 {
		keepBlocks = int((length + block.Size - 1) / block.Size)
	}
	for i := keepBlocks; i < inode.DirectPtrCount; i++ {
		if in.DirectPtr[i] == 0 {
			break
		}
		if err := f.freeBlock(block.ID(in.DirectPtr[i])); err != nil {
			return err
		}
		in.DirectPtr[i] = 0
	}

	in.Size = uint32(length)
	in.Vstat.Size = uint64(length)
	in.Vstat.Mtime = inode.NowUnix()
	return f.table.WriteI(entry.Ino, &in)
}

// Utimens updates the access and modification times recorded for path.
func (f *Filesystem) Utimens(path string, atime, mtime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	in, err := f.resolve(path)
	if err != nil {
		return err
	}
	in.Vstat.Atime = uint64(atime.Unix())
	in.Vstat.Mtime = uint64(mtime.Unix())
	return f.table.WriteI(in.Ino, &in)
}

func splitPath(path string) (dir, leaf string) {
	if path == "" || path == "/" {
		return "/", ""
	}
	trimmed := path
	for len(trimmed) > 1 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	idx := -1
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "/", trimmed
	}
	if idx == 0 {
		return "/", trimmed[1:]
	}
	return trimmed[:idx], trimmed[idx+1:]
}
