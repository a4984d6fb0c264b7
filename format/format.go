// Package format defines the on-disk records of blockfs and their
// bit-stream encodings: the filesystem header, file and directory
// descriptors, and chunk headers.
//
// All records serialize through the bitstream package; byte-level equality
// of a decode/re-encode round trip is part of the format contract.
package format

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/blockfs/bitstream"
)

const (
	// Magic identifies a formatted blockfs partition.
	Magic uint64 = 0x1234567890ABCDEF
	// Version is the current format version string.
	Version = "Version 1"
	// VersionFieldSize is the fixed byte capacity of the version field,
	// null-padded on disk.
	VersionFieldSize = 32

	// ChunkHeaderSize is the serialized size of a ChunkHeader in bytes.
	ChunkHeaderSize = 16
	// DirectoryPrologueSize is the chunk header plus the uint64 content
	// length that prefixes every directory body.
	DirectoryPrologueSize = ChunkHeaderSize + 8
)

var (
	// ErrInvalidMagic is returned when a header does not carry the blockfs
	// magic number; the partition is treated as unformatted.
	ErrInvalidMagic = errors.New("format: invalid magic number")
	// ErrInvalidVersion is returned when a header carries an unknown
	// version string.
	ErrInvalidVersion = errors.New("format: unsupported version")
)

// ChunkHeader heads the first block of every chunk in a file or directory
// body. NextBlockIndex of zero terminates the chain. BlockCount is always
// one in the current format; the field is kept on disk to permit
// multi-block chunks later.
type ChunkHeader struct {
	NextBlockIndex uint64
	BlockCount     uint64
}

// Encode appends the chunk header to w.
func (h ChunkHeader) Encode(w *bitstream.Writer) {
	w.WriteUint64(h.NextBlockIndex)
	w.WriteUint64(h.BlockCount)
}

// DecodeChunkHeader consumes a chunk header from r.
func DecodeChunkHeader(r *bitstream.Reader) (ChunkHeader, error) {
	next, err := r.ReadUint64()
	if err != nil {
		return ChunkHeader{}, fmt.Errorf("chunk header: %w", err)
	}
	count, err := r.ReadUint64()
	if err != nil {
		return ChunkHeader{}, fmt.Errorf("chunk header: %w", err)
	}
	return ChunkHeader{NextBlockIndex: next, BlockCount: count}, nil
}

// FileDescriptor is the metadata record of a file or directory entry.
// Offset is the absolute offset of the first chunk, or zero when no blocks
// are owned yet. For a directory it locates the directory body.
type FileDescriptor struct {
	Name        string
	Size        uint64
	Offset      uint64
	IsDirectory bool
}

// Encode appends the descriptor to w. The trailing bool makes the record a
// non-integer number of bits; containers align to byte boundaries when
// materializing.
func (d FileDescriptor) Encode(w *bitstream.Writer) {
	w.WriteString(d.Name)
	w.WriteUint64(d.Size)
	w.WriteUint64(d.Offset)
	w.WriteBool(d.IsDirectory)
}

// DecodeFileDescriptor consumes a descriptor from r.
func DecodeFileDescriptor(r *bitstream.Reader) (FileDescriptor, error) {
	name, err := r.ReadString()
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("file descriptor: %w", err)
	}
	size, err := r.ReadUint64()
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("file descriptor %q: %w", name, err)
	}
	offset, err := r.ReadUint64()
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("file descriptor %q: %w", name, err)
	}
	isDir, err := r.ReadBool()
	if err != nil {
		return FileDescriptor{}, fmt.Errorf("file descriptor %q: %w", name, err)
	}
	return FileDescriptor{Name: name, Size: size, Offset: offset, IsDirectory: isDir}, nil
}

// DirectoryDescriptor is the decoded body of a directory: its entries in
// insertion order. The root marker is runtime-only state and is never
// serialized; it is re-applied when the header is loaded.
type DirectoryDescriptor struct {
	Entries []FileDescriptor

	root bool
}

// MarkRoot flags the descriptor as the root directory, routing saves
// through the filesystem header instead of a chunk write.
func (d *DirectoryDescriptor) MarkRoot() {
	d.root = true
}

// IsRoot reports whether the descriptor is the root directory.
func (d *DirectoryDescriptor) IsRoot() bool {
	return d.root
}

// Clone returns a deep copy, carrying the runtime root marker.
func (d DirectoryDescriptor) Clone() DirectoryDescriptor {
	out := DirectoryDescriptor{root: d.root}
	if d.Entries != nil {
		out.Entries = make([]FileDescriptor, len(d.Entries))
		copy(out.Entries, d.Entries)
	}
	return out
}

// Find returns the index of the entry with the given name, or -1.
func (d DirectoryDescriptor) Find(name string) int {
	for i, e := range d.Entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// FindDirectory returns the index of the subdirectory entry with the given
// name, or -1.
func (d DirectoryDescriptor) FindDirectory(name string) int {
	for i, e := range d.Entries {
		if e.IsDirectory && e.Name == name {
			return i
		}
	}
	return -1
}

// Encode appends the entry count and entries to w.
func (d DirectoryDescriptor) Encode(w *bitstream.Writer) {
	w.WriteUint64(uint64(len(d.Entries)))
	for _, e := range d.Entries {
		e.Encode(w)
	}
}

// DecodeDirectoryDescriptor consumes a directory descriptor from r.
func DecodeDirectoryDescriptor(r *bitstream.Reader) (DirectoryDescriptor, error) {
	count, err := r.ReadUint64()
	if err != nil {
		return DirectoryDescriptor{}, fmt.Errorf("directory descriptor: %w", err)
	}
	d := DirectoryDescriptor{}
	for i := uint64(0); i < count; i++ {
		e, err := DecodeFileDescriptor(r)
		if err != nil {
			return DirectoryDescriptor{}, err
		}
		d.Entries = append(d.Entries, e)
	}
	return d, nil
}

// Header is the filesystem header persisted at offset 0. It embeds the
// root directory; rewriting the header is how root mutations persist.
type Header struct {
	Magic   uint64
	Version string
	Root    DirectoryDescriptor
}

// NewHeader returns a header for a freshly formatted partition.
func NewHeader() Header {
	return Header{Magic: Magic, Version: Version}
}

// Encode appends the header to w. The version field occupies its fixed
// 32-byte capacity regardless of the string length.
func (h Header) Encode(w *bitstream.Writer) {
	w.WriteUint64(h.Magic)
	w.WriteFixedString(h.Version, VersionFieldSize)
	h.Root.Encode(w)
}

// DecodeHeader consumes a header from r. ErrInvalidMagic means the
// partition is unformatted; the caller should create a fresh header.
// The decoded root is returned unmarked; callers re-apply the root marker.
func DecodeHeader(r *bitstream.Reader) (Header, error) {
	magic, err := r.ReadUint64()
	if err != nil {
		return Header{}, fmt.Errorf("header: %w", err)
	}
	if magic != Magic {
		return Header{Magic: magic}, ErrInvalidMagic
	}
	rawVersion, err := r.ReadString()
	if err != nil {
		return Header{}, fmt.Errorf("header version: %w", err)
	}
	version := strings.TrimRight(rawVersion, "\x00")
	if version != Version {
		return Header{Magic: magic, Version: version}, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	root, err := DecodeDirectoryDescriptor(r)
	if err != nil {
		return Header{}, fmt.Errorf("header root: %w", err)
	}
	return Header{Magic: magic, Version: version, Root: root}, nil
}
