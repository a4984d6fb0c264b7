package device

import (
	"fmt"
	"os"
)

// File is a Device backed by a host file holding the partition image.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens an existing partition image.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partition image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat partition image: %w", err)
	}
	return &File{f: f, size: info.Size()}, nil
}

// CreateFile creates (or truncates) a partition image of the given size.
func CreateFile(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create partition image: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("size partition image: %w", err)
	}
	return &File{f: f, size: size}, nil
}

// ReadAt reads len(p) bytes at off.
func (d *File) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}
	return d.f.ReadAt(p, off)
}

// WriteAt writes p at off.
func (d *File) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}
	return d.f.WriteAt(p, off)
}

// Size returns the partition size in bytes.
func (d *File) Size() int64 {
	return d.size
}

// Sync flushes buffered writes to stable storage.
func (d *File) Sync() error {
	return d.f.Sync()
}

// Close closes the underlying file.
func (d *File) Close() error {
	return d.f.Close()
}
