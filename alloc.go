package blockfs

import (
	"fmt"

	"github.com/hupe1980/blockfs/bitstream"
)

// readBitmap reads the full allocation bitmap region.
func (fs *FS) readBitmap() (*bitstream.Buffer, error) {
	raw, err := fs.readAt(fs.geo.BitmapOffset(), fs.geo.BitmapBytes())
	if err != nil {
		return nil, err
	}
	return bitstream.FromBytes(raw), nil
}

// clearBitmap zeroes the allocation bitmap region.
func (fs *FS) clearBitmap() error {
	return fs.writeAt(fs.geo.BitmapOffset(), make([]byte, fs.geo.BitmapBytes()))
}

// usedBlocks counts the set bits of the bitmap.
func (fs *FS) usedBlocks() (uint64, error) {
	bitmap, err := fs.readBitmap()
	if err != nil {
		return 0, err
	}
	var used uint64
	for i := uint64(0); i < fs.geo.BitmapBits(); i++ {
		if bitmap.Bit(i) {
			used++
		}
	}
	return used, nil
}

// freeBlocks returns n free block indices in ascending order, scanning
// from MinContentBlock. Indices below it are never handed out.
func (fs *FS) freeBlocks(n uint64) ([]uint64, error) {
	bitmap, err := fs.readBitmap()
	if err != nil {
		return nil, err
	}

	free := make([]uint64, 0, n)
	for i := fs.geo.MinContentBlock(); i < fs.geo.BitmapBits() && uint64(len(free)) < n; i++ {
		if !bitmap.Bit(i) {
			free = append(free, i)
		}
	}

	if uint64(len(free)) < n {
		return nil, fmt.Errorf("%w: need %d free blocks, have %d", ErrOutOfSpace, n, len(free))
	}
	return free, nil
}

// setBlocksInUse flips the given bitmap bits to inUse and writes the whole
// bitmap region back in a single device write. A bit that already has the
// requested state is logged and skipped.
func (fs *FS) setBlocksInUse(indices []uint64, inUse bool) error {
	if len(indices) == 0 {
		return nil
	}

	bitmap, err := fs.readBitmap()
	if err != nil {
		return err
	}

	for _, index := range indices {
		if index >= fs.geo.BitmapBits() {
			return invariantf("block index %d outside bitmap of %d bits", index, fs.geo.BitmapBits())
		}
		if bitmap.Bit(index) == inUse {
			fs.log.Warn("block already in requested state", "block", index, "in_use", inUse)
			continue
		}
		bitmap.SetBit(index, inUse)
		fs.dropCachedBlock(index)
	}

	return fs.writeAt(fs.geo.BitmapOffset(), bitmap.Bytes())
}
