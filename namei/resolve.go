// Package namei implements path resolution: walking a slash-separated path
// down from a starting inode to the inode it names.
package namei

import (
	"strings"

	"github.com/rufs-go/rufs/dirent"
	rufserrors "github.com/rufs-go/rufs/errors"
	"github.com/rufs-go/rufs/inode"
)

// Resolve walks path component by component starting at startIno, using
// eng to look up each directory entry and table to load the inode it names.
//
// An empty path is an error. "/" resolves to startIno directly. Repeated
// or trailing slashes produce empty components, which are ignored, so
// "/a//b/" and "/a/b" resolve identically.
func Resolve(table *inode.Table, eng *dirent.Engine, path string, startIno uint16) (inode.Inode, error) {
	if path == "" {
		return inode.Inode{}, rufserrors.Errorf(rufserrors.KindInvalidArgument, "empty path")
	}

	var current inode.Inode
	if err := table.ReadI(startIno, &current); err != nil {
		return inode.Inode{}, err
	}

	if path == "/" {
		return current, nil
	}

	for _, token := range strings.Split(path, "/") {
		if token == "" {
			continue
		}

		if current.Type != inode.TypeDirectory {
			return inode.Inode{}, rufserrors.Errorf(rufserrors.KindNotADirectory, "%q is not a directory", token)
		}

		entry, err := eng.Find(&current, token)
		if err != nil {
			return inode.Inode{}, err
		}

		if err := table.ReadI(entry.Ino, &current); err != nil {
			return inode.Inode{}, err
		}
	}

	return current, nil
}
