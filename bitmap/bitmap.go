// Package bitmap implements the bit-indexed allocator shared by the inode
// table and the data region: a dense array of bits where bit i means
// "resource i is allocated", backed by github.com/boljen/go-bitmap for the
// actual bit twiddling.
package bitmap

import (
	bb "github.com/boljen/go-bitmap"
	rufserrors "github.com/rufs-go/rufs/errors"
)

// Allocator tracks which of a fixed number of indices (inodes or logical
// data blocks) are in use. It has no persistence of its own: callers load
// the raw bytes from the bitmap's on-disk block, hand them to FromBytes,
// mutate, and write Bytes() back under the same call that allocated or
// freed something.
type Allocator struct {
	bits  bb.Bitmap
	total int
}

// New creates an Allocator with all total bits cleared.
func New(total int) *Allocator {
	return &Allocator{bits: bb.New(total), total: total}
}

// FromBytes builds an Allocator from a previously persisted bitmap block.
// raw is copied into a fresh bitmap sized for total bits; extra trailing
// bytes (e.g. padding to fill a block) are dropped, and a shorter raw
// leaves the missing bits clear.
func FromBytes(raw []byte, total int) *Allocator {
	needed := bb.NewSlice(total)
	copy(needed, raw)
	return &Allocator{bits: bb.Bitmap(needed), total: total}
}

// Bytes returns the raw bitmap, sized to exactly cover Total() bits. Callers
// persist this to the inode or data bitmap block.
func (a *Allocator) Bytes() []byte {
	return a.bits.Data(false)
}

// Total returns the number of indices this allocator tracks.
func (a *Allocator) Total() int {
	return a.total
}

// Get reports whether index i is allocated.
func (a *Allocator) Get(i int) bool {
	if i < 0 || i >= a.total {
		return false
	}
	return a.bits.Get(i)
}

// Set marks index i allocated.
func (a *Allocator) Set(i int) error {
	if i < 0 || i >= a.total {
		return rufserrors.Errorf(rufserrors.KindOutOfRange, "index %d not in [0, %d)", i, a.total)
	}
	a.bits.Set(i, true)
	return nil
}

// Unset marks index i free.
func (a *Allocator) Unset(i int) error {
	if i < 0 || i >= a.total {
		return rufserrors.Errorf(rufserrors.KindOutOfRange, "index %d not in [0, %d)", i, a.total)
	}
	a.bits.Set(i, false)
	return nil
}

// FirstFree scans indices [0, Total()) for the first clear bit, sets it, and
// returns its index. It returns ErrNoSpace if every bit is set.
func (a *Allocator) FirstFree() (int, error) {
	for i := 0; i < a.total; i++ {
		if !a.bits.Get(i) {
			a.bits.Set(i, true)
			return i, nil
		}
	}
	return -1, rufserrors.ErrNoSpace
}
