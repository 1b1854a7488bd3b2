// Package mount bridges a *fs.Filesystem onto a real mountpoint through
// FUSE, so the image can be explored with ordinary tools (ls, cat, mkdir)
// instead of only through this module's own API.
package mount

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	rufscore "github.com/rufs-go/rufs"
	rufserrors "github.com/rufs-go/rufs/errors"
	rufs "github.com/rufs-go/rufs/fs"
)

// Node is one FUSE inode, identified by the full rufs path it resolves to
// rather than by caching a rufs inode number, since every rufs.Filesystem
// operation already takes a path and re-resolves it under its own lock.
type Node struct {
	fs.Inode

	path string
	fsys *rufs.Filesystem
}

var (
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeReader    = (*Node)(nil)
	_ fs.NodeWriter    = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
)

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Root builds the FUSE root node for fsys. Pass the result to
// github.com/hanwen/go-fuse/v2/fs.Mount.
func Root(fsys *rufs.Filesystem) *Node {
	return &Node{path: "/", fsys: fsys}
}

func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return syscall.Errno(-rufserrors.NegatedErrno(err))
}

func (n *Node) child(name string) *Node {
	return &Node{path: childPath(n.path, name), fsys: n.fsys}
}

// posixMode translates a FileStat's internal mode projection into the POSIX
// mode bits the kernel expects in an Attr.Mode: rufs's own S_IFDIR/S_IFREG
// don't share the standard S_IFMT values, so the permission bits are kept
// and the type bits are swapped for fuse.S_IFDIR/fuse.S_IFREG.
func posixMode(stat rufs.FileStat) uint32 {
	perm := stat.ModeFlags &^ uint32(rufscore.S_IFMT)
	if stat.IsDir() {
		return perm | fuse.S_IFDIR
	}
	return perm | fuse.S_IFREG
}

func fillAttr(out *fuse.Attr, size, blocks uint64, mode uint32, nlink uint64, mtime time.Time) {
	out.Size = size
	out.Blocks = blocks
	out.Mode = mode
	out.Nlink = uint32(nlink)
	out.SetTimes(nil, &mtime, nil)
}

func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	stat, err := n.fsys.GetAttr(n.path)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, uint64(stat.Size), uint64(stat.NumBlocks), posixMode(stat), stat.Nlinks, stat.LastModified)
	return 0
}

func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.fsys.Truncate(n.path, int64(size)); err != nil {
			return errnoOf(err)
		}
	}
	if mtime, ok := in.GetMTime(); ok {
		if err := n.fsys.Utimens(n.path, mtime, mtime); err != nil {
			return errnoOf(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	stat, err := n.fsys.GetAttr(child.path)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, uint64(stat.Size), uint64(stat.NumBlocks), posixMode(stat), stat.Nlinks, stat.LastModified)

	mode := uint32(fuse.S_IFREG)
	if stat.IsDir() {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode, Ino: stat.InodeNumber}), 0
}

func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.fsys.ReadDir(n.path)
	if err != nil {
		return nil, errnoOf(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		stat, err := n.fsys.GetAttr(childPath(n.path, name))
		if err != nil {
			continue
		}
		mode := uint32(fuse.S_IFREG)
		if stat.IsDir() {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode, Ino: stat.InodeNumber})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.fsys.Mkdir(child.path, mode); err != nil {
		return nil, errnoOf(err)
	}

	stat, err := n.fsys.GetAttr(child.path)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, uint64(stat.Size), uint64(stat.NumBlocks), posixMode(stat), stat.Nlinks, stat.LastModified)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: stat.InodeNumber}), 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := n.child(name)
	if err := n.fsys.Create(child.path, mode); err != nil {
		return nil, nil, 0, errnoOf(err)
	}

	stat, err := n.fsys.GetAttr(child.path)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	fillAttr(&out.Attr, uint64(stat.Size), uint64(stat.NumBlocks), posixMode(stat), stat.Nlinks, stat.LastModified)

	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG, Ino: stat.InodeNumber})
	return inode, nil, 0, 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.fsys.Unlink(childPath(n.path, name)))
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.fsys.Rmdir(childPath(n.path, name)))
}

func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nRead, err := n.fsys.Read(n.path, dest, off)
	if err != nil {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:nRead]), 0
}

func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	nWritten, err := n.fsys.Write(n.path, data, off)
	if err != nil {
		return 0, errnoOf(err)
	}
	return uint32(nWritten), 0
}
