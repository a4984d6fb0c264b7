package blockfs

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/blockfs/bitstream"
	"github.com/hupe1980/blockfs/device"
	"github.com/hupe1980/blockfs/format"
	"github.com/hupe1980/blockfs/internal/blockcache"
	"github.com/hupe1980/blockfs/layout"
)

// FS is a filesystem living inside a single partition. All methods must be
// called from one goroutine at a time.
type FS struct {
	dev device.Device
	geo layout.Geometry
	log *slog.Logger

	// root is the in-memory copy of the root directory stored inside the
	// filesystem header. It carries the runtime root marker.
	root format.DirectoryDescriptor

	chunkCache map[string][]format.ChunkHeader
	dirCache   map[uint64]format.DirectoryDescriptor
	blockCache *blockcache.Cache

	validateWrites bool
}

// New opens the filesystem on dev, formatting the partition when the header
// magic number does not match. A header with the right magic but an unknown
// version or an undecodable root makes New fail instead. The partition size
// is taken from the device.
func New(dev device.Device, blockSize uint64, optFns ...Option) (*FS, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if blockSize <= format.DirectoryPrologueSize {
		return nil, fmt.Errorf("%w: block size %d leaves no room for chunk content", layout.ErrMisalignedBlockSize, blockSize)
	}

	geo, err := layout.New(uint64(dev.Size()), blockSize)
	if err != nil {
		return nil, err
	}

	fs := &FS{
		dev:            dev,
		geo:            geo,
		log:            opts.logger,
		chunkCache:     make(map[string][]format.ChunkHeader),
		dirCache:       make(map[uint64]format.DirectoryDescriptor),
		validateWrites: opts.validateWrites,
	}
	if opts.blockCacheSize > 0 {
		fs.blockCache = blockcache.New(opts.blockCacheSize)
	}

	if err := fs.initialize(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Geometry returns the partition geometry.
func (fs *FS) Geometry() layout.Geometry {
	return fs.geo
}

// initialize loads the filesystem header, creating a fresh one when the
// magic number does not match.
func (fs *FS) initialize() error {
	raw, err := fs.readAt(0, layout.HeaderMax)
	if err != nil {
		return err
	}

	header, err := format.DecodeHeader(bitstream.NewReader(bitstream.FromBytes(raw)))
	switch {
	case errors.Is(err, format.ErrInvalidMagic):
		fs.log.Info("no filesystem header found, formatting partition",
			"partition_size", fs.geo.PartitionSize, "block_size", fs.geo.BlockSize)
		return fs.create()
	case err != nil:
		return fmt.Errorf("load filesystem header: %w", err)
	}

	fs.root = header.Root
	fs.root.MarkRoot()
	fs.log.Debug("filesystem header loaded", "root_entries", len(fs.root.Entries))
	return nil
}

// create formats the partition: empty root, cleared bitmap, fresh header.
// The root directory lives only inside the header; no content block is
// reserved for it.
func (fs *FS) create() error {
	fs.root = format.DirectoryDescriptor{}
	fs.root.MarkRoot()

	if err := fs.clearBitmap(); err != nil {
		return err
	}
	if err := fs.writeHeader(); err != nil {
		return err
	}

	fs.log.Debug("partition formatted",
		"bitmap_bytes", fs.geo.BitmapBytes(), "content_start", fs.geo.ContentStart())
	return nil
}

// writeHeader re-encodes the header, embedding the current in-memory root.
func (fs *FS) writeHeader() error {
	buf := bitstream.NewBuffer()
	header := format.NewHeader()
	header.Root = fs.root
	header.Encode(bitstream.NewWriter(buf))

	if buf.ByteLen() > layout.HeaderMax {
		return fmt.Errorf("%w: header is %d bytes, capacity %d", ErrDirectoryTooLarge, buf.ByteLen(), layout.HeaderMax)
	}
	return fs.writeAt(0, buf.Bytes())
}

// readAt reads exactly n bytes at off from the partition.
func (fs *FS) readAt(off, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := fs.dev.ReadAt(buf, int64(off)); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %d: %w", ErrDevice, n, off, err)
	}
	return buf, nil
}

// writeAt writes p at off to the partition.
func (fs *FS) writeAt(off uint64, p []byte) error {
	if _, err := fs.dev.WriteAt(p, int64(off)); err != nil {
		return fmt.Errorf("%w: write %d bytes at %d: %w", ErrDevice, len(p), off, err)
	}
	return nil
}

// TotalAndFreeBytes returns the partition size and the free capacity of
// the content region.
func (fs *FS) TotalAndFreeBytes() (total, free uint64, err error) {
	bitmap, err := fs.readBitmap()
	if err != nil {
		return 0, 0, err
	}
	for i := fs.geo.MinContentBlock(); i < fs.geo.BitmapBits(); i++ {
		if !bitmap.Bit(i) {
			free += fs.geo.BlockSize
		}
	}
	return fs.geo.PartitionSize, free, nil
}

// cache helpers

func (fs *FS) cachedChunks(path string) ([]format.ChunkHeader, bool) {
	chunks, ok := fs.chunkCache[path]
	if !ok {
		return nil, false
	}
	out := make([]format.ChunkHeader, len(chunks))
	copy(out, chunks)
	return out, true
}

func (fs *FS) cacheChunks(path string, chunks []format.ChunkHeader) {
	stored := make([]format.ChunkHeader, len(chunks))
	copy(stored, chunks)
	fs.chunkCache[path] = stored
}

func (fs *FS) dropCachedChunks(path string) {
	delete(fs.chunkCache, path)
}

func (fs *FS) cachedDirectory(offset uint64) (format.DirectoryDescriptor, bool) {
	dir, ok := fs.dirCache[offset]
	if !ok {
		return format.DirectoryDescriptor{}, false
	}
	return dir.Clone(), true
}

func (fs *FS) cacheDirectory(offset uint64, dir format.DirectoryDescriptor) {
	fs.dirCache[offset] = dir.Clone()
}

func (fs *FS) dropCachedDirectory(offset uint64) {
	delete(fs.dirCache, offset)
}

func (fs *FS) dropCachedBlock(index uint64) {
	if fs.blockCache != nil {
		fs.blockCache.Remove(index)
	}
}
