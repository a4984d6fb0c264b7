package blockfs

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/blockfs/format"
	"github.com/hupe1980/blockfs/fspath"
)

// CreateFile creates an empty file at path. Parent directories must
// already exist. No blocks are allocated until the first write.
func (fs *FS) CreateFile(path string) error {
	normalized := fspath.Normalize(path)
	if normalized == "" {
		return ErrRootDirectory
	}
	fs.log.Debug("creating file", "path", normalized)

	needsResave, err := fs.createFileIn(normalized, &fs.root)
	if err != nil {
		return err
	}
	if needsResave {
		// The root is saved with the filesystem header.
		if err := fs.writeHeader(); err != nil {
			return err
		}
	}
	return nil
}

// createFileIn recursively descends to the leaf directory and appends the
// new file descriptor there. It reports whether dir must be re-saved.
func (fs *FS) createFileIn(path string, dir *format.DirectoryDescriptor) (bool, error) {
	first, rest, hasMore := fspath.CutFirst(path)

	if !hasMore {
		if dir.Find(first) >= 0 {
			return false, fmt.Errorf("%w: %q", ErrAlreadyExists, first)
		}
		dir.Entries = append(dir.Entries, format.FileDescriptor{Name: first})
		return true, nil
	}

	idx := dir.FindDirectory(first)
	if idx < 0 {
		if dir.Find(first) >= 0 {
			return false, fmt.Errorf("%w: %q", ErrNotDirectory, first)
		}
		return false, fmt.Errorf("%w: directory %q", ErrNotFound, first)
	}
	entry := dir.Entries[idx]

	next, err := fs.readDirectory(entry)
	if err != nil {
		return false, err
	}
	resave, err := fs.createFileIn(rest, &next)
	if err != nil {
		return false, err
	}
	if resave {
		if err := fs.saveDirectory(next, entry.Offset); err != nil {
			return false, err
		}
	}
	return false, nil
}

// GetFile returns the descriptor of the file at path.
func (fs *FS) GetFile(path string) (format.FileDescriptor, error) {
	normalized := fspath.Normalize(path)
	if normalized == "" {
		return format.FileDescriptor{}, ErrRootDirectory
	}

	parentPath, leaf, _ := fspath.CutLast(normalized)
	parent, _, err := fs.getDirectory(parentPath)
	if err != nil {
		return format.FileDescriptor{}, err
	}

	idx := parent.Find(leaf)
	if idx < 0 {
		return format.FileDescriptor{}, fmt.Errorf("%w: %q", ErrNotFound, normalized)
	}
	if parent.Entries[idx].IsDirectory {
		return format.FileDescriptor{}, fmt.Errorf("%w: %q", ErrIsDirectory, normalized)
	}
	return parent.Entries[idx], nil
}

// FileExists reports whether a file (not a directory) exists at path.
func (fs *FS) FileExists(path string) bool {
	_, err := fs.GetFile(path)
	return err == nil
}

// GetFileSize returns the size in bytes of the file at path.
func (fs *FS) GetFileSize(path string) (uint64, error) {
	fd, err := fs.GetFile(path)
	if err != nil {
		return 0, err
	}
	return fd.Size, nil
}

// WriteAt writes src into the file at the given byte offset, growing the
// file as needed. Parent directories and the file must already exist.
func (fs *FS) WriteAt(path string, src []byte, offset uint64) error {
	return fs.writeRange(path, src, offset, uint64(len(src)))
}

// SetEndOfFile grows the file to at least size bytes without touching
// content: only chunk headers are written, so bytes in the newly covered
// region keep whatever the blocks held before. Sizes at or below the
// current size are a no-op.
func (fs *FS) SetEndOfFile(path string, size uint64) error {
	return fs.writeRange(path, nil, 0, size)
}

// writeRange is the write engine. A nil src is the growth-only path.
func (fs *FS) writeRange(path string, src []byte, offset, length uint64) error {
	normalized := fspath.Normalize(path)
	if normalized == "" {
		return ErrRootDirectory
	}

	parentPath, leaf, _ := fspath.CutLast(normalized)
	parent, parentFd, err := fs.getDirectory(parentPath)
	if err != nil {
		return err
	}

	idx := parent.Find(leaf)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, normalized)
	}
	file := &parent.Entries[idx]
	if file.IsDirectory {
		return fmt.Errorf("%w: %q", ErrIsDirectory, normalized)
	}

	// The chain is about to change shape; never trust a cached copy here.
	fs.dropCachedChunks(normalized)
	chunks, err := fs.chunksForFile(normalized, *file, nil)
	if err != nil {
		return err
	}

	maxWrite := offset + length

	if maxWrite > fs.contentCapacity(chunks) {
		chunks, err = fs.growFile(normalized, file, chunks, maxWrite)
		if err != nil {
			return err
		}
	}

	if maxWrite > file.Size {
		file.Size = maxWrite
	}

	if src != nil {
		if err := fs.writeContent(chunks, file.Offset, src, offset, maxWrite); err != nil {
			return err
		}
	}

	// Persist the possibly-updated size and first chunk offset. New chunk
	// headers are already on disk, so a failure here cannot leave the
	// parent pointing at an unlinked block.
	if err := fs.saveDirectory(parent, parentFd.Offset); err != nil {
		return err
	}

	fs.cacheChunks(normalized, chunks)
	fs.log.Debug("wrote file", "path", normalized, "offset", offset, "length", length, "chunks", len(chunks))

	if fs.validateWrites && src != nil {
		if err := fs.validateWrite(normalized, src, offset); err != nil {
			return err
		}
	}
	return nil
}

// growFile allocates enough fresh blocks for maxWrite content bytes,
// links them onto the chain, and writes every new chunk header. The bound
// is conservative: it re-counts the whole write against the new blocks'
// content capacity, which can over-allocate on appends but never under.
func (fs *FS) growFile(path string, file *format.FileDescriptor, chunks []format.ChunkHeader, maxWrite uint64) ([]format.ChunkHeader, error) {
	blockSize := fs.geo.BlockSize
	contentPerBlock := blockSize - format.ChunkHeaderSize

	needed := uint64(1)
	if allocated := fs.allocatedSpace(chunks); maxWrite > allocated {
		extra := maxWrite - allocated
		needed = (extra + blockSize - 1) / blockSize
	}
	for needed*contentPerBlock < maxWrite {
		needed++
	}

	newBlocks, err := fs.freeBlocks(needed)
	if err != nil {
		return nil, err
	}
	if err := fs.setBlocksInUse(newBlocks, true); err != nil {
		return nil, err
	}

	fs.log.Debug("allocating blocks", "path", path, "blocks", needed)

	// Write the headers of the new tail first so the chain is valid on
	// disk before anything points at it.
	for i, block := range newBlocks {
		header := format.ChunkHeader{BlockCount: 1}
		if i+1 < len(newBlocks) {
			header.NextBlockIndex = newBlocks[i+1]
		}
		if err := fs.writeChunkHeader(fs.geo.BlockOffset(block), header); err != nil {
			return nil, err
		}
		chunks = append(chunks, header)
	}

	oldCount := len(chunks) - len(newBlocks)
	if oldCount == 0 {
		file.Offset = fs.geo.BlockOffset(newBlocks[0])
		return chunks, nil
	}

	// Link the previous last chunk onto the new tail.
	last := &chunks[oldCount-1]
	last.NextBlockIndex = newBlocks[0]

	lastOffset := file.Offset
	if oldCount > 1 {
		lastOffset = fs.geo.BlockOffset(chunks[oldCount-2].NextBlockIndex)
	}
	if err := fs.writeChunkHeader(lastOffset, *last); err != nil {
		return nil, err
	}
	return chunks, nil
}

// writeContent performs the read-modify-write pass over every chunk that
// overlaps the window [offset, maxWrite).
func (fs *FS) writeContent(chunks []format.ChunkHeader, firstOffset uint64, src []byte, offset, maxWrite uint64) error {
	cur := uint64(0)
	abs := firstOffset
	written := uint64(0)

	for _, chunk := range chunks {
		chunkSize := chunk.BlockCount * fs.geo.BlockSize
		contentLen := chunkSize - format.ChunkHeaderSize

		if cur+contentLen <= offset {
			// Entirely before the window.
			cur += contentLen
			abs = fs.geo.BlockOffset(chunk.NextBlockIndex)
			continue
		}
		if cur >= maxWrite {
			break
		}

		block, err := fs.readAt(abs, chunkSize)
		if err != nil {
			return err
		}

		start := max(cur, offset)
		end := min(cur+contentLen, maxWrite)
		copy(block[format.ChunkHeaderSize+(start-cur):format.ChunkHeaderSize+(end-cur)], src[start-offset:end-offset])
		written += end - start

		if index, ok := fs.geo.BlockIndex(abs); ok {
			fs.dropCachedBlock(index)
		}
		if err := fs.writeAt(abs, block); err != nil {
			return err
		}

		cur += contentLen
		if chunk.NextBlockIndex == 0 {
			break
		}
		abs = fs.geo.BlockOffset(chunk.NextBlockIndex)
	}

	if written != uint64(len(src)) {
		return invariantf("wrote %d of %d source bytes", written, len(src))
	}
	return nil
}

// validateWrite reads the just-written range back and compares it to the
// source byte for byte.
func (fs *FS) validateWrite(path string, src []byte, offset uint64) error {
	out := make([]byte, len(src))
	n, err := fs.ReadAt(path, out, offset)
	if err != nil {
		return fmt.Errorf("write validation of %q: %w", path, err)
	}
	if n != len(src) || !bytes.Equal(out, src) {
		return invariantf("write validation of %q failed: partition content differs from source", path)
	}
	return nil
}

// ReadAt reads from the file at path into dst, starting at the given byte
// offset. Reads past the end of the file are clamped; it returns the
// number of bytes read.
func (fs *FS) ReadAt(path string, dst []byte, offset uint64) (int, error) {
	normalized := fspath.Normalize(path)
	if normalized == "" {
		return 0, ErrRootDirectory
	}

	file, err := fs.GetFile(normalized)
	if err != nil {
		return 0, err
	}

	if offset > file.Size {
		return 0, fmt.Errorf("%w: offset %d past size %d of %q", ErrOutOfBounds, offset, file.Size, normalized)
	}
	length := uint64(len(dst))
	if offset+length > file.Size {
		length = file.Size - offset
	}
	if length == 0 {
		return 0, nil
	}

	chunks, err := fs.chunksForFile(normalized, file, nil)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, invariantf("file %q has size %d but owns no chunks", normalized, file.Size)
	}

	maxRead := offset + length
	cur := uint64(0)
	abs := file.Offset
	read := uint64(0)

	for _, chunk := range chunks {
		chunkSize := chunk.BlockCount * fs.geo.BlockSize
		contentLen := chunkSize - format.ChunkHeaderSize

		if cur+contentLen <= offset {
			cur += contentLen
			abs = fs.geo.BlockOffset(chunk.NextBlockIndex)
			continue
		}
		if cur >= maxRead {
			break
		}

		block, err := fs.readBlock(abs, chunkSize)
		if err != nil {
			return 0, err
		}

		start := max(cur, offset)
		end := min(cur+contentLen, maxRead)
		copy(dst[start-offset:end-offset], block[format.ChunkHeaderSize+(start-cur):format.ChunkHeaderSize+(end-cur)])
		read += end - start

		cur += contentLen
		if chunk.NextBlockIndex == 0 {
			break
		}
		abs = fs.geo.BlockOffset(chunk.NextBlockIndex)
	}

	if read != length {
		return int(read), invariantf("read %d of %d bytes from %q", read, length, normalized)
	}
	return int(read), nil
}

// readBlock reads a whole chunk block, consulting the optional read cache.
func (fs *FS) readBlock(abs, size uint64) ([]byte, error) {
	index, aligned := fs.geo.BlockIndex(abs)
	if aligned && fs.blockCache != nil {
		if block, ok := fs.blockCache.Get(index); ok && uint64(len(block)) == size {
			return block, nil
		}
	}
	block, err := fs.readAt(abs, size)
	if err != nil {
		return nil, err
	}
	if aligned && fs.blockCache != nil {
		fs.blockCache.Set(index, block)
	}
	return block, nil
}

// DeleteFile removes the file at path and frees every block of its chain.
func (fs *FS) DeleteFile(path string) error {
	normalized := fspath.Normalize(path)
	if normalized == "" {
		return ErrRootDirectory
	}

	parentPath, leaf, _ := fspath.CutLast(normalized)
	parent, parentFd, err := fs.getDirectory(parentPath)
	if err != nil {
		return err
	}

	idx := parent.Find(leaf)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, normalized)
	}
	entry := parent.Entries[idx]
	if entry.IsDirectory {
		return fmt.Errorf("%w: %q", ErrIsDirectory, normalized)
	}

	chunks, err := fs.chunksForFile(normalized, entry, nil)
	if err != nil {
		return err
	}
	blocks, err := fs.chainBlocks(entry, chunks)
	if err != nil {
		return err
	}
	if len(blocks) > 0 {
		if err := fs.setBlocksInUse(blocks, false); err != nil {
			return err
		}
	}

	parent.Entries = append(parent.Entries[:idx], parent.Entries[idx+1:]...)
	if err := fs.saveDirectory(parent, parentFd.Offset); err != nil {
		return err
	}

	fs.dropCachedChunks(normalized)
	fs.log.Debug("deleted file", "path", normalized, "blocks_freed", len(blocks))
	return nil
}
