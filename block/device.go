// Package block implements the fixed-size block device abstraction that
// everything else in rufs is built on top of: a single backing stream
// addressed in BlockSize-byte units.
package block

import (
	"io"
	"os"

	rufserrors "github.com/rufs-go/rufs/errors"
)

// Size is the fixed size of a single block, in bytes.
const Size = 4096

// ID identifies a block by its absolute, zero-based index into the device.
type ID uint32

// Truncator is implemented by backing stores that can grow or shrink, such
// as *os.File. Streams that can't (e.g. a fixed-size in-memory buffer used
// in tests) simply don't implement it, and Device.Resize fails for them.
type Truncator interface {
	Truncate(size int64) error
}

// Device is a block-addressable view of a single backing stream (the
// "diskfile"). All reads and writes move exactly Size bytes. The backing
// stream is normally an *os.File, but any io.ReadWriteSeeker works, which
// lets tests drive the whole stack over an in-memory buffer.
type Device struct {
	stream io.ReadWriteSeeker
	path   string
}

// Create creates (truncating any existing file) the diskfile at path and
// pre-sizes it to cover numBlocks blocks of zeroes.
func Create(path string, numBlocks uint32) (*Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, rufserrors.ErrIO.WithMessage(err.Error())
	}
	if err := file.Truncate(int64(numBlocks) * Size); err != nil {
		file.Close()
		return nil, rufserrors.ErrIO.WithMessage(err.Error())
	}
	return &Device{stream: file, path: path}, nil
}

// Open opens an existing diskfile for reading and writing.
func Open(path string) (*Device, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, rufserrors.ErrIO.WithMessage(err.Error())
	}
	return &Device{stream: file, path: path}, nil
}

// NewFromStream wraps an arbitrary io.ReadWriteSeeker as a block device.
// Used directly by tests that back the file system with an in-memory
// buffer instead of a real diskfile.
func NewFromStream(stream io.ReadWriteSeeker) *Device {
	return &Device{stream: stream}
}

// Close releases the underlying file descriptor, if the backing stream is
// one.
func (d *Device) Close() error {
	closer, ok := d.stream.(io.Closer)
	if !ok {
		return nil
	}
	if err := closer.Close(); err != nil {
		return rufserrors.ErrIO.WithMessage(err.Error())
	}
	return nil
}

// Path returns the path to the backing diskfile, or "" if the device was
// built over an arbitrary stream.
func (d *Device) Path() string {
	return d.path
}

func checkBlockNo(blockNo ID) error {
	if int32(blockNo) < 0 {
		return rufserrors.Errorf(rufserrors.KindOutOfRange, "block number %d is negative", blockNo)
	}
	return nil
}

func (d *Device) seekToBlock(blockNo ID) error {
	_, err := d.stream.Seek(int64(blockNo)*Size, io.SeekStart)
	if err != nil {
		return rufserrors.ErrIO.WithMessage(err.Error())
	}
	return nil
}

// ReadBlock fills buf (which must be exactly Size bytes) with the contents
// of block blockNo. Reads past the end of what the device has actually
// written return a zeroed block, matching the spec's "sparse or
// pre-zeroed" semantics.
func (d *Device) ReadBlock(blockNo ID, buf []byte) error {
	if err := checkBlockNo(blockNo); err != nil {
		return err
	}
	if len(buf) != Size {
		return rufserrors.Errorf(rufserrors.KindInvalidArgument, "buffer must be %d bytes, got %d", Size, len(buf))
	}
	if err := d.seekToBlock(blockNo); err != nil {
		return err
	}

	n, err := io.ReadFull(d.stream, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return rufserrors.ErrIO.WithMessage(err.Error())
	}
	for i := n; i < Size; i++ {
		buf[i] = 0
	}
	return nil
}

// WriteBlock writes buf (which must be exactly Size bytes) to block
// blockNo.
func (d *Device) WriteBlock(blockNo ID, buf []byte) error {
	if err := checkBlockNo(blockNo); err != nil {
		return err
	}
	if len(buf) != Size {
		return rufserrors.Errorf(rufserrors.KindInvalidArgument, "buffer must be %d bytes, got %d", Size, len(buf))
	}
	if err := d.seekToBlock(blockNo); err != nil {
		return err
	}
	if _, err := d.stream.Write(buf); err != nil {
		return rufserrors.ErrIO.WithMessage(err.Error())
	}
	return nil
}

// TotalBlocks returns how many whole blocks the backing stream currently
// covers.
func (d *Device) TotalBlocks() (uint32, error) {
	end, err := d.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, rufserrors.ErrIO.WithMessage(err.Error())
	}
	return uint32(end / Size), nil
}

// Resize grows or shrinks the backing stream to exactly numBlocks blocks.
// It fails with ErrNotSupported if the backing stream can't be truncated.
func (d *Device) Resize(numBlocks uint32) error {
	truncator, ok := d.stream.(Truncator)
	if !ok {
		return rufserrors.ErrNotSupported.WithMessage("backing stream does not support resizing")
	}
	if err := truncator.Truncate(int64(numBlocks) * Size); err != nil {
		return rufserrors.ErrIO.WithMessage(err.Error())
	}
	return nil
}
