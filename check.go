package blockfs

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/blockfs/format"
	"github.com/hupe1980/blockfs/fspath"
)

// CheckReport is the result of a full integrity scan.
type CheckReport struct {
	// TotalBlocks is the number of blocks tracked by the bitmap.
	TotalBlocks uint64
	// UsedBlocks is the number of bits set in the bitmap.
	UsedBlocks uint64
	// ReachableBlocks is the number of blocks reachable from the root via
	// chunk-chain traversal.
	ReachableBlocks uint64
	// Orphaned lists blocks marked in use that no chain reaches.
	Orphaned []uint64
	// Unmarked lists blocks some chain reaches that the bitmap reports
	// free.
	Unmarked []uint64
	// Shared lists blocks claimed by more than one chain.
	Shared []uint64
}

// Clean reports whether the bitmap and the reachable set agree exactly.
func (r *CheckReport) Clean() bool {
	return len(r.Orphaned) == 0 && len(r.Unmarked) == 0 && len(r.Shared) == 0
}

// Check runs a full reachability scan: every block reachable from the
// root via chunk chains is compared against the allocation bitmap. A
// failed operation can legitimately leave orphaned blocks behind (writes
// are not rolled back); shared or unmarked blocks always indicate
// corruption.
func (fs *FS) Check() (*CheckReport, error) {
	if fs.geo.BitmapBits() > math.MaxUint32 {
		return nil, invariantf("partition tracks %d blocks, integrity scan supports at most %d", fs.geo.BitmapBits(), uint64(math.MaxUint32))
	}

	reachable := roaring.New()
	shared := roaring.New()

	if err := fs.collectReachable(fs.root, "", reachable, shared); err != nil {
		return nil, err
	}

	bitmap, err := fs.readBitmap()
	if err != nil {
		return nil, err
	}

	report := &CheckReport{
		TotalBlocks:     fs.geo.BitmapBits(),
		ReachableBlocks: reachable.GetCardinality(),
		Shared:          toUint64s(shared),
	}
	for i := uint64(0); i < fs.geo.BitmapBits(); i++ {
		used := bitmap.Bit(i)
		if used {
			report.UsedBlocks++
		}
		switch {
		case used && !reachable.Contains(uint32(i)):
			report.Orphaned = append(report.Orphaned, i)
		case !used && reachable.Contains(uint32(i)):
			report.Unmarked = append(report.Unmarked, i)
		}
	}
	return report, nil
}

// collectReachable walks a directory subtree, adding every block of every
// chain to the reachable set.
func (fs *FS) collectReachable(dir format.DirectoryDescriptor, path string, reachable, shared *roaring.Bitmap) error {
	for _, entry := range dir.Entries {
		entryPath := fspath.Join(path, entry.Name)

		if entry.Offset != 0 {
			if err := fs.collectChain(entryPath, entry, reachable, shared); err != nil {
				return err
			}
		}

		if entry.IsDirectory {
			sub, err := fs.readDirectory(entry)
			if err != nil {
				return err
			}
			if err := fs.collectReachable(sub, entryPath, reachable, shared); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectChain claims every block of one chunk chain. A block that is
// already reachable is recorded as shared, and the walk stops there to
// avoid looping through cross-linked chains.
func (fs *FS) collectChain(path string, fd format.FileDescriptor, reachable, shared *roaring.Bitmap) error {
	start, ok := fs.geo.BlockIndex(fd.Offset)
	if !ok {
		return invariantf("first chunk offset %d of %q is not block aligned", fd.Offset, path)
	}

	chunks, err := fs.chunksForFile(path, fd, nil)
	if err != nil {
		return err
	}

	claim := func(index uint64) bool {
		if reachable.Contains(uint32(index)) {
			shared.Add(uint32(index))
			return false
		}
		reachable.Add(uint32(index))
		return true
	}

	if !claim(start) {
		return nil
	}
	for _, chunk := range chunks {
		if chunk.NextBlockIndex == 0 {
			break
		}
		if !claim(chunk.NextBlockIndex) {
			return nil
		}
	}
	return nil
}

func toUint64s(b *roaring.Bitmap) []uint64 {
	if b.IsEmpty() {
		return nil
	}
	out := make([]uint64, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		out = append(out, uint64(it.Next()))
	}
	return out
}
