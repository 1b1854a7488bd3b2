package fs

import (
	"github.com/rufs-go/rufs"
	"github.com/rufs-go/rufs/bitmap"
	"github.com/rufs-go/rufs/block"
	"github.com/rufs-go/rufs/dirent"
	"github.com/rufs-go/rufs/inode"
	"github.com/rufs-go/rufs/layout"
)

// Format writes a brand new rufs image to dev: a superblock, empty inode
// and data bitmaps, and a root directory containing "." and "..".
//
// The root inode's bitmap bit is set only after the root inode record and
// its directory data block have both been written. All of these writes go
// to the write-back block.Cache, which reaches the device only on Flush or
// Close and in no fixed block order, so this ordering holds for the calls
// made here, not for the order in which blocks land on the device.
func Format(backing *block.Device) (*Filesystem, error) {
	sb := layout.NewSuperblock()

	totalBlocks := sb.DStartBlk + uint32(sb.MaxDnum)
	_ = backing.Resize(totalBlocks) // best-effort; in-memory test streams ignore this

	dev := block.NewCache(backing, int(sb.DStartBlk)+64)

	f := &Filesystem{
		dev:     dev,
		sb:      sb,
		inodeBM: bitmap.New(int(sb.MaxInum)),
		dataBM:  bitmap.New(int(sb.MaxDnum)),
	}
	f.table = inode.NewTable(dev, sb)
	f.dirEngine = dirent.NewEngine(dev, f.table, f)

	root := inode.Inode{
		Ino:   layout.RootIno,
		Valid: 1,
		Type:  inode.TypeDirectory,
		Vstat: inode.Vstat{
			Mode:  rufs.DefaultDirMode,
			Mtime: inode.NowUnix(),
			Atime: inode.NowUnix(),
			Ctime: inode.NowUnix(),
		},
	}
	if err := f.table.WriteI(layout.RootIno, &root); err != nil {
		return nil, err
	}

	if err := f.dirEngine.Add(&root, layout.RootIno, "."); err != nil {
		return nil, err
	}
	if err := f.dirEngine.Add(&root, layout.RootIno, ".."); err != nil {
		return nil, err
	}

	if err := f.inodeBM.Set(int(layout.RootIno)); err != nil {
		return nil, err
	}
	if err := f.persistInodeBitmap(); err != nil {
		return nil, err
	}
	if err := f.persistDataBitmap(); err != nil {
		return nil, err
	}

	sbBuf := make([]byte, block.Size)
	copy(sbBuf, sb.Encode())
	if err := dev.WriteBlock(layout.SuperblockBlockNo, sbBuf); err != nil {
		return nil, err
	}

	return f, nil
}
