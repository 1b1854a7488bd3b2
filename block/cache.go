package block

import (
	bb "github.com/boljen/go-bitmap"

	rufserrors "github.com/rufs-go/rufs/errors"
)

// Cache is a write-back cache in front of a Store: reads are served from
// memory once a block has been touched once, and writes only reach the
// backing store on Flush or Close. This matters for rufs because the
// inode table, both bitmaps, and every directory's entry blocks are all
// re-read on practically every operation.
type Cache struct {
	backing  Store
	dirty    bb.Bitmap
	present  bb.Bitmap
	capacity int
	blocks   map[ID][]byte
}

// NewCache wraps backing with an unbounded write-back cache. capacityHint
// is the number of distinct blocks expected to be touched, used only to
// size the dirty/present bitmaps; touching a block beyond that range still
// works correctly, it's just not pre-sized.
func NewCache(backing Store, capacityHint int) *Cache {
	if capacityHint < 1 {
		capacityHint = 1
	}
	return &Cache{
		backing:  backing,
		dirty:    bb.New(capacityHint),
		present:  bb.New(capacityHint),
		capacity: capacityHint,
		blocks:   make(map[ID][]byte),
	}
}

func (c *Cache) growBitmapsFor(blockNo ID) {
	needed := int(blockNo) + 1
	if needed <= c.capacity {
		return
	}
	grownDirty := bb.New(needed)
	grownPresent := bb.New(needed)
	copy(grownDirty, c.dirty)
	copy(grownPresent, c.present)
	c.dirty = grownDirty
	c.present = grownPresent
	c.capacity = needed
}

// ReadBlock returns the cached contents of blockNo, fetching it from the
// backing store on first touch.
func (c *Cache) ReadBlock(blockNo ID, buf []byte) error {
	if len(buf) != Size {
		return rufserrors.Errorf(rufserrors.KindInvalidArgument, "buffer must be %d bytes, got %d", Size, len(buf))
	}

	c.growBitmapsFor(blockNo)
	if !c.present.Get(int(blockNo)) {
		data := make([]byte, Size)
		if err := c.backing.ReadBlock(blockNo, data); err != nil {
			return err
		}
		c.blocks[blockNo] = data
		c.present.Set(int(blockNo), true)
	}

	copy(buf, c.blocks[blockNo])
	return nil
}

// WriteBlock updates the cached contents of blockNo and marks it dirty;
// nothing reaches the backing store until Flush or Close.
func (c *Cache) WriteBlock(blockNo ID, buf []byte) error {
	if len(buf) != Size {
		return rufserrors.Errorf(rufserrors.KindInvalidArgument, "buffer must be %d bytes, got %d", Size, len(buf))
	}

	c.growBitmapsFor(blockNo)
	data := make([]byte, Size)
	copy(data, buf)
	c.blocks[blockNo] = data
	c.present.Set(int(blockNo), true)
	c.dirty.Set(int(blockNo), true)
	return nil
}

// Flush writes every dirty block back to the backing store and clears the
// dirty bitmap.
func (c *Cache) Flush() error {
	for blockNo, data := range c.blocks {
		if !c.dirty.Get(int(blockNo)) {
			continue
		}
		if err := c.backing.WriteBlock(blockNo, data); err != nil {
			return err
		}
		c.dirty.Set(int(blockNo), false)
	}
	return nil
}

// Close flushes pending writes and closes the backing store.
func (c *Cache) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.backing.Close()
}
