// Package imagestore persists partition snapshot images as named blobs.
//
// A Store is a small capability over immutable images: write whole, read
// random-access, delete, list. The memory and local implementations back
// the test suites and single-host deployments; the minio and s3
// subpackages talk to object storage.
package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/blockfs/device"
	"github.com/hupe1980/blockfs/snapshot"
)

// ErrNotFound is returned when an image does not exist.
//
// Implementations should return an error satisfying
// errors.Is(err, ErrNotFound); the default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for accessing partition images.
type Store interface {
	// Open opens an image for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Put writes an image atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes an image. Deleting a missing image is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the image names matching the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored image.
type Blob interface {
	// ReadAt reads len(p) bytes starting at offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the image size in bytes.
	Size() int64
	Close() error
}

// WriteSnapshot serializes the partition on dev into a compressed image
// and stores it under name.
func WriteSnapshot(ctx context.Context, store Store, name string, dev device.Device, codec snapshot.Codec) (*snapshot.Manifest, error) {
	var buf bytes.Buffer
	manifest, err := snapshot.Write(&buf, dev, codec)
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, name, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("store image %q: %w", name, err)
	}
	return manifest, nil
}

// RestoreSnapshot loads the image called name and restores it over the
// partition on dev.
func RestoreSnapshot(ctx context.Context, store Store, name string, dev device.Device) (*snapshot.Manifest, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", name, err)
	}
	defer func() { _ = blob.Close() }()

	raw := make([]byte, blob.Size())
	if _, err := blob.ReadAt(ctx, raw, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read image %q: %w", name, err)
	}
	return snapshot.Restore(bytes.NewReader(raw), dev)
}
