package blockfs

import (
	"fmt"

	"github.com/hupe1980/blockfs/bitstream"
	"github.com/hupe1980/blockfs/format"
	"github.com/hupe1980/blockfs/fspath"
)

// readDirectory decodes the directory body referenced by fd. Results are
// cached by first-chunk offset.
func (fs *FS) readDirectory(fd format.FileDescriptor) (format.DirectoryDescriptor, error) {
	if dir, ok := fs.cachedDirectory(fd.Offset); ok {
		return dir, nil
	}

	prologue, err := fs.readAt(fd.Offset, format.DirectoryPrologueSize)
	if err != nil {
		return format.DirectoryDescriptor{}, err
	}

	r := bitstream.NewReader(bitstream.FromBytes(prologue))
	if _, err := format.DecodeChunkHeader(r); err != nil {
		return format.DirectoryDescriptor{}, err
	}
	contentLen, err := r.ReadUint64()
	if err != nil {
		return format.DirectoryDescriptor{}, err
	}

	if contentLen == 0 {
		return format.DirectoryDescriptor{}, nil
	}
	if contentLen > fs.geo.BlockSize-format.DirectoryPrologueSize {
		return format.DirectoryDescriptor{}, invariantf(
			"directory body at %d claims %d content bytes, block capacity is %d",
			fd.Offset, contentLen, fs.geo.BlockSize-format.DirectoryPrologueSize)
	}

	raw, err := fs.readAt(fd.Offset+format.DirectoryPrologueSize, contentLen)
	if err != nil {
		return format.DirectoryDescriptor{}, err
	}
	dir, err := format.DecodeDirectoryDescriptor(bitstream.NewReader(bitstream.FromBytes(raw)))
	if err != nil {
		return format.DirectoryDescriptor{}, fmt.Errorf("directory body at %d: %w", fd.Offset, err)
	}

	fs.cacheDirectory(fd.Offset, dir)
	return dir, nil
}

// saveDirectory persists a directory body at the given absolute offset.
// The root directory is stored inside the filesystem header instead; its
// runtime marker routes the save through a header rewrite.
func (fs *FS) saveDirectory(dir format.DirectoryDescriptor, absOffset uint64) error {
	if dir.IsRoot() {
		fs.root = dir.Clone()
		fs.root.MarkRoot()
		fs.log.Debug("saving root directory via header", "entries", len(dir.Entries))
		return fs.writeHeader()
	}

	// Encode the descriptor separately so the content length prologue can
	// be written without back-patching.
	descBuf := bitstream.NewBuffer()
	dir.Encode(bitstream.NewWriter(descBuf))
	contentLen := descBuf.ByteLen()

	buf := bitstream.NewBuffer()
	w := bitstream.NewWriter(buf)
	format.ChunkHeader{NextBlockIndex: 0, BlockCount: 1}.Encode(w)
	w.WriteUint64(contentLen)

	body := make([]byte, format.DirectoryPrologueSize+contentLen)
	copy(body, buf.Bytes())
	copy(body[format.DirectoryPrologueSize:], descBuf.Bytes())

	// Size check precedes the cache update so a rejected save never
	// leaves a phantom entry behind.
	if uint64(len(body)) > fs.geo.BlockSize {
		return fmt.Errorf("%w: %d bytes encoded, block size %d", ErrDirectoryTooLarge, len(body), fs.geo.BlockSize)
	}

	fs.cacheDirectory(absOffset, dir)
	if index, ok := fs.geo.BlockIndex(absOffset); ok {
		fs.dropCachedBlock(index)
	}

	fs.log.Debug("saving directory", "offset", absOffset, "entries", len(dir.Entries))
	return fs.writeAt(absOffset, body)
}

// getDirectory resolves a normalized path to its directory descriptor and
// the descriptor of the directory entry itself. The root resolves with a
// zero entry descriptor.
func (fs *FS) getDirectory(path string) (format.DirectoryDescriptor, format.FileDescriptor, error) {
	current := fs.root.Clone()
	var currentFd format.FileDescriptor

	for path != "" {
		first, rest, _ := fspath.CutFirst(path)

		idx := current.FindDirectory(first)
		if idx < 0 {
			return format.DirectoryDescriptor{}, format.FileDescriptor{}, fmt.Errorf("%w: directory %q", ErrNotFound, first)
		}
		currentFd = current.Entries[idx]

		next, err := fs.readDirectory(currentFd)
		if err != nil {
			return format.DirectoryDescriptor{}, format.FileDescriptor{}, err
		}
		current = next
		path = rest
	}

	return current, currentFd, nil
}

// GetDirectory returns the descriptor of the directory at path. The empty
// (or all-slash) path resolves to the root.
func (fs *FS) GetDirectory(path string) (format.DirectoryDescriptor, error) {
	dir, _, err := fs.getDirectory(fspath.Normalize(path))
	return dir, err
}

// DirectoryExists reports whether a directory exists at path.
func (fs *FS) DirectoryExists(path string) bool {
	_, err := fs.GetDirectory(path)
	return err == nil
}

// IsDirectoryEmpty reports whether the directory at path has no entries.
func (fs *FS) IsDirectoryEmpty(path string) (bool, error) {
	dir, err := fs.GetDirectory(path)
	if err != nil {
		return false, err
	}
	return len(dir.Entries) == 0, nil
}

// CreateDirectory creates the directory at path, creating missing parent
// directories along the way.
func (fs *FS) CreateDirectory(path string) error {
	normalized := fspath.Normalize(path)
	if normalized == "" {
		return fmt.Errorf("%w: root always exists", ErrAlreadyExists)
	}
	fs.log.Debug("creating directory", "path", normalized)

	needsResave, err := fs.createDirectoryIn(normalized, &fs.root)
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

// createDirectoryIn recursively creates path inside dir. It reports
// whether dir gained an entry and must be re-saved by the caller.
func (fs *FS) createDirectoryIn(path string, dir *format.DirectoryDescriptor) (bool, error) {
	first, rest, hasMore := fspath.CutFirst(path)

	if idx := dir.FindDirectory(first); idx >= 0 {
		if !hasMore {
			return false, fmt.Errorf("%w: directory %q", ErrAlreadyExists, first)
		}

		entry := dir.Entries[idx]
		next, err := fs.readDirectory(entry)
		if err != nil {
			return false, err
		}
		resave, err := fs.createDirectoryIn(rest, &next)
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

	if dir.Find(first) >= 0 {
		// A plain file already claims the name.
		if hasMore {
			return false, fmt.Errorf("%w: %q", ErrNotDirectory, first)
		}
		return false, fmt.Errorf("%w: file %q", ErrAlreadyExists, first)
	}

	// Populate the new directory before persisting so the whole sub-path
	// lands in one save.
	var newDir format.DirectoryDescriptor
	if hasMore {
		if _, err := fs.createDirectoryIn(rest, &newDir); err != nil {
			return false, err
		}
	}

	blocks, err := fs.freeBlocks(1)
	if err != nil {
		return false, err
	}
	if err := fs.setBlocksInUse(blocks, true); err != nil {
		return false, err
	}

	offset := fs.geo.BlockOffset(blocks[0])
	if err := fs.saveDirectory(newDir, offset); err != nil {
		return false, err
	}

	dir.Entries = append(dir.Entries, format.FileDescriptor{
		Name:        first,
		IsDirectory: true,
		Offset:      offset,
	})
	return true, nil
}

// DeleteDirectory removes the empty directory at path and frees its
// blocks.
func (fs *FS) DeleteDirectory(path string) error {
	normalized := fspath.Normalize(path)
	if normalized == "" {
		return ErrRootDirectory
	}

	empty, err := fs.IsDirectoryEmpty(normalized)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: %q", ErrNotEmpty, normalized)
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
	if !entry.IsDirectory {
		return fmt.Errorf("%w: %q", ErrNotDirectory, normalized)
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
	fs.dropCachedDirectory(entry.Offset)
	fs.log.Debug("deleted directory", "path", normalized, "blocks_freed", len(blocks))
	return nil
}

// MoveFile renames or moves a file or directory. Only the descriptor
// moves; the chunk chain stays in place.
func (fs *FS) MoveFile(src, dst string) error {
	srcNorm := fspath.Normalize(src)
	dstNorm := fspath.Normalize(dst)
	if srcNorm == "" || dstNorm == "" {
		return ErrRootDirectory
	}

	srcParentPath, srcLeaf, _ := fspath.CutLast(srcNorm)
	dstParentPath, dstLeaf, _ := fspath.CutLast(dstNorm)
	sameDirectory := srcParentPath == dstParentPath

	dstParent, dstParentFd, err := fs.getDirectory(dstParentPath)
	if err != nil {
		return err
	}

	srcParent := dstParent
	srcParentFd := dstParentFd
	if !sameDirectory {
		srcParent, srcParentFd, err = fs.getDirectory(srcParentPath)
		if err != nil {
			return err
		}
	}

	srcIdx := srcParent.Find(srcLeaf)
	if srcIdx < 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, srcNorm)
	}
	if dstParent.Find(dstLeaf) >= 0 {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, dstNorm)
	}

	moved := srcParent.Entries[srcIdx]
	moved.Name = dstLeaf

	if sameDirectory {
		dstParent.Entries = append(dstParent.Entries[:srcIdx], dstParent.Entries[srcIdx+1:]...)
	} else {
		srcParent.Entries = append(srcParent.Entries[:srcIdx], srcParent.Entries[srcIdx+1:]...)
	}
	dstParent.Entries = append(dstParent.Entries, moved)

	if err := fs.saveDirectory(dstParent, dstParentFd.Offset); err != nil {
		return err
	}
	if !sameDirectory {
		if err := fs.saveDirectory(srcParent, srcParentFd.Offset); err != nil {
			return err
		}
	}

	fs.dropCachedChunks(srcNorm)
	fs.dropCachedChunks(dstNorm)
	if moved.IsDirectory {
		// Chunk lists are keyed by path, so every cached chain below the
		// old directory path is now stale.
		fs.chunkCache = make(map[string][]format.ChunkHeader)
	}

	fs.log.Debug("moved", "src", srcNorm, "dst", dstNorm)
	return nil
}
