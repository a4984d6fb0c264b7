package device

import (
	"errors"
	"io"
)

// ErrOutOfRange is returned when a transfer would extend past the end of
// the partition.
var ErrOutOfRange = errors.New("device: access past end of partition")

// Device is the backing-store capability consumed by the filesystem: a
// fixed-size byte container with random-access reads and writes.
type Device interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the partition size in bytes.
	Size() int64
}

// Syncer is an optional interface for devices that buffer writes.
type Syncer interface {
	Sync() error
}

func checkRange(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return ErrOutOfRange
	}
	return nil
}
