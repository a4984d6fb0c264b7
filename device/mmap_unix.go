//go:build unix

package device

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mmap is a Device backed by a writable memory mapping of a host file.
// Reads and writes are plain memory copies; Sync runs msync.
type Mmap struct {
	f    *os.File
	data []byte
}

// OpenMmap maps an existing partition image read-write.
func OpenMmap(path string) (*Mmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open partition image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat partition image: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap partition image: %w", err)
	}
	return &Mmap{f: f, data: data}, nil
}

// ReadAt copies len(p) bytes at off out of the mapping.
func (d *Mmap) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.Size()); err != nil {
		return 0, err
	}
	return copy(p, d.data[off:]), nil
}

// WriteAt copies p into the mapping at off.
func (d *Mmap) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.Size()); err != nil {
		return 0, err
	}
	return copy(d.data[off:], p), nil
}

// Size returns the partition size in bytes.
func (d *Mmap) Size() int64 {
	return int64(len(d.data))
}

// Sync flushes the mapping to the backing file.
func (d *Mmap) Sync() error {
	return unix.Msync(d.data, unix.MS_SYNC)
}

// Close unmaps the partition and closes the file.
func (d *Mmap) Close() error {
	if d.data != nil {
		if err := unix.Munmap(d.data); err != nil {
			_ = d.f.Close()
			return err
		}
		d.data = nil
	}
	return d.f.Close()
}
