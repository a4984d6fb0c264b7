package blockfs

import (
	"github.com/hupe1980/blockfs/bitstream"
	"github.com/hupe1980/blockfs/format"
)

// chunksForFile walks the chunk chain of a file or directory body. With a
// nil limit the full chain is returned and cached by normalized path; a
// limit stops the walk once the covered content bytes reach it.
func (fs *FS) chunksForFile(path string, fd format.FileDescriptor, limit *uint64) ([]format.ChunkHeader, error) {
	if limit == nil {
		if chunks, ok := fs.cachedChunks(path); ok {
			return chunks, nil
		}
	}

	if fd.Offset == 0 {
		// Empty file: owns no blocks yet.
		return nil, nil
	}

	var chunks []format.ChunkHeader

	offset := fd.Offset
	covered := uint64(0)
	for {
		if uint64(len(chunks)) > fs.geo.BitmapBits() {
			return nil, invariantf("chunk chain of %q exceeds %d blocks, assuming a cycle", path, fs.geo.BitmapBits())
		}

		raw, err := fs.readAt(offset, format.ChunkHeaderSize)
		if err != nil {
			return nil, err
		}
		header, err := format.DecodeChunkHeader(bitstream.NewReader(bitstream.FromBytes(raw)))
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, header)

		covered += header.BlockCount*fs.geo.BlockSize - format.ChunkHeaderSize
		if header.NextBlockIndex == 0 || (limit != nil && covered >= *limit) {
			break
		}
		offset = fs.geo.BlockOffset(header.NextBlockIndex)
	}

	if limit == nil {
		fs.cacheChunks(path, chunks)
	}
	return chunks, nil
}

// allocatedSpace sums the raw block capacity of a chunk list, chunk
// headers included.
func (fs *FS) allocatedSpace(chunks []format.ChunkHeader) uint64 {
	var total uint64
	for _, c := range chunks {
		total += c.BlockCount * fs.geo.BlockSize
	}
	return total
}

// contentCapacity sums the content bytes a chunk list can hold once each
// per-chunk header is accounted for.
func (fs *FS) contentCapacity(chunks []format.ChunkHeader) uint64 {
	var total uint64
	for _, c := range chunks {
		total += c.BlockCount*fs.geo.BlockSize - format.ChunkHeaderSize
	}
	return total
}

// chainBlocks collects every block owned by a chain: the start block plus
// every next pointer seen.
func (fs *FS) chainBlocks(fd format.FileDescriptor, chunks []format.ChunkHeader) ([]uint64, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	start, ok := fs.geo.BlockIndex(fd.Offset)
	if !ok {
		return nil, invariantf("first chunk offset %d of %q is not block aligned", fd.Offset, fd.Name)
	}
	blocks := []uint64{start}
	for _, c := range chunks {
		if c.NextBlockIndex != 0 {
			blocks = append(blocks, c.NextBlockIndex)
		}
	}
	return blocks, nil
}

// writeChunkHeader serializes a chunk header to the start of its block.
func (fs *FS) writeChunkHeader(offset uint64, header format.ChunkHeader) error {
	buf := bitstream.NewBuffer()
	header.Encode(bitstream.NewWriter(buf))
	if index, ok := fs.geo.BlockIndex(offset); ok {
		fs.dropCachedBlock(index)
	}
	return fs.writeAt(offset, buf.Bytes())
}
