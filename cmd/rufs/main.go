// Command rufs mounts a rufs disk image at a directory using FUSE.
package main

import (
	"log"
	"os"

	fusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"

	"github.com/rufs-go/rufs/block"
	"github.com/rufs-go/rufs/fs"
	"github.com/rufs-go/rufs/mount"
)

// diskFileName is the fixed name of the backing image file, created in the
// launching process's working directory the first time this program mounts
// from an empty directory; later mounts reuse whatever is already there.
const diskFileName = "DISKFILE"

// defaultTotalBlocks mirrors the "default" preset in rufs-mkfs's
// profiles.csv, used when a fresh DISKFILE has to be created on the fly.
const defaultTotalBlocks = 4096

func main() {
	app := &cli.App{
		Name:      "rufs",
		Usage:     "Mount a rufs disk image as a real directory",
		ArgsUsage: "MOUNTPOINT",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "s", Usage: "single-threaded mount (foreground)"},
			&cli.BoolFlag{Name: "d", Usage: "debug mount (log every FUSE operation)"},
		},
		Action: mountImage,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("rufs: %s", err)
	}
}

func mountImage(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return cli.Exit("expected exactly one MOUNTPOINT argument", 1)
	}
	mountPoint := ctx.Args().Get(0)

	dev, err := openOrCreateDiskFile()
	if err != nil {
		return err
	}

	fsys, err := fs.Mount(dev)
	if err != nil {
		dev.Close()
		return err
	}

	root := mount.Root(fsys)
	server, err := fusefs.Mount(mountPoint, root, &fusefs.Options{
		MountOptions: fuse.MountOptions{
			Debug:          ctx.Bool("d"),
			SingleThreaded: ctx.Bool("s"),
			FsName:         "rufs",
			AllowOther:     false,
		},
	})
	if err != nil {
		fsys.Close()
		return err
	}

	log.Printf("mounted %s at %s", diskFileName, mountPoint)
	server.Wait()

	var result *multierror.Error
	if err := fsys.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// openOrCreateDiskFile opens diskFileName relative to the working directory,
// formatting a brand new image in its place if it doesn't exist yet, per
// the mount side effect spec.md §6 describes.
func openOrCreateDiskFile() (*block.Device, error) {
	if _, err := os.Stat(diskFileName); os.IsNotExist(err) {
		dev, err := block.Create(diskFileName, defaultTotalBlocks)
		if err != nil {
			return nil, err
		}
		fsys, err := fs.Format(dev)
		if err != nil {
			return nil, err
		}
		// Format's Filesystem wraps dev in a write-back cache; flush it to
		// the diskfile before handing back a fresh device to mount for real.
		if err := fsys.Close(); err != nil {
			return nil, err
		}
		return block.Open(diskFileName)
	}
	return block.Open(diskFileName)
}
