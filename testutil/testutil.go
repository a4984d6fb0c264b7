// Package testutil provides shared helpers for the blockfs test suites.
package testutil

import (
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blockfs"
	"github.com/hupe1980/blockfs/device"
)

// Pattern returns n bytes of the repeating "123456789-" pattern used by
// the bulk-write scenarios.
func Pattern(n int) []byte {
	const pattern = "123456789-"
	out := make([]byte, n)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

// RandomBytes returns n bytes from a deterministic seeded source.
func RandomBytes(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed)) // nolint gosec
	out := make([]byte, n)
	_, _ = rng.Read(out)
	return out
}

// Quiet returns a logger that discards all output, keeping scenario test
// output readable.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// NewFS formats a fresh in-memory filesystem and returns it with its
// device, so tests can reopen or snapshot the partition image.
func NewFS(t *testing.T, partitionSize int64, blockSize uint64, opts ...blockfs.Option) (*blockfs.FS, *device.Memory) {
	t.Helper()

	dev := device.NewMemory(partitionSize)
	opts = append([]blockfs.Option{blockfs.WithLogger(Quiet())}, opts...)
	fs, err := blockfs.New(dev, blockSize, opts...)
	require.NoError(t, err)
	return fs, dev
}

// Reopen mounts a second filesystem over the same partition image.
func Reopen(t *testing.T, dev *device.Memory, blockSize uint64) *blockfs.FS {
	t.Helper()

	fs, err := blockfs.New(dev, blockSize, blockfs.WithLogger(Quiet()))
	require.NoError(t, err)
	return fs
}

// RequireClean asserts that a full integrity scan finds the bitmap and the
// reachable block set in exact agreement.
func RequireClean(t *testing.T, fs *blockfs.FS) {
	t.Helper()

	report, err := fs.Check()
	require.NoError(t, err)
	require.True(t, report.Clean(),
		"integrity scan not clean: orphaned=%v unmarked=%v shared=%v",
		report.Orphaned, report.Unmarked, report.Shared)
}
