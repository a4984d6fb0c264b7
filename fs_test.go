package blockfs_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blockfs"
	"github.com/hupe1980/blockfs/device"
	"github.com/hupe1980/blockfs/format"
	"github.com/hupe1980/blockfs/layout"
	"github.com/hupe1980/blockfs/testutil"
)

const (
	testPartitionSize = 1 << 24 // 16 MiB keeps unit tests quick
	testBlockSize     = 1024
)

func TestNewFormatsBlankPartition(t *testing.T) {
	fs, _ := testutil.NewFS(t, testPartitionSize, testBlockSize)

	root, err := fs.GetDirectory("")
	require.NoError(t, err)
	assert.Empty(t, root.Entries)
	assert.True(t, root.IsRoot())

	total, free, err := fs.TotalAndFreeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(testPartitionSize), total)
	assert.NotZero(t, free)
	assert.LessOrEqual(t, free, fs.Geometry().UsableSpace())

	testutil.RequireClean(t, fs)
}

func TestNewRejectsBadBlockSize(t *testing.T) {
	dev := device.NewMemory(testPartitionSize)

	_, err := blockfs.New(dev, 1000, blockfs.WithLogger(testutil.Quiet()))
	assert.ErrorIs(t, err, layout.ErrMisalignedBlockSize)

	_, err = blockfs.New(dev, 16, blockfs.WithLogger(testutil.Quiet()))
	assert.ErrorIs(t, err, layout.ErrMisalignedBlockSize)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	fs, dev := testutil.NewFS(t, testPartitionSize, testBlockSize)

	require.NoError(t, fs.CreateDirectory("docs/reports"))
	require.NoError(t, fs.CreateFile("docs/reports/q1.txt"))
	require.NoError(t, fs.WriteAt("docs/reports/q1.txt", []byte("quarterly numbers"), 0))
	require.NoError(t, fs.CreateFile("top.bin"))
	require.NoError(t, fs.WriteAt("top.bin", testutil.RandomBytes(1, 5000), 0))

	// Dropping the façade and reopening against the same partition bytes
	// must yield identical lookups.
	reopened := testutil.Reopen(t, dev, testBlockSize)

	assert.True(t, reopened.DirectoryExists("docs/reports"))
	assert.True(t, reopened.FileExists("docs/reports/q1.txt"))

	size, err := reopened.GetFileSize("docs/reports/q1.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), size)

	out := make([]byte, 17)
	n, err := reopened.ReadAt("docs/reports/q1.txt", out, 0)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(out[:n]))

	big := make([]byte, 5000)
	n, err = reopened.ReadAt("top.bin", big, 0)
	require.NoError(t, err)
	assert.Equal(t, 5000, n)
	assert.Equal(t, testutil.RandomBytes(1, 5000), big)

	testutil.RequireClean(t, reopened)
}

func TestReopenKeepsImageByteStable(t *testing.T) {
	fs, dev := testutil.NewFS(t, testPartitionSize, testBlockSize)
	require.NoError(t, fs.CreateDirectory("a/b"))
	require.NoError(t, fs.CreateFile("a/b/c.txt"))

	before := make([]byte, layout.HeaderMax)
	copy(before, dev.Bytes()[:layout.HeaderMax])

	// A reopen only reads; the header must remain byte-identical.
	testutil.Reopen(t, dev, testBlockSize)
	assert.Equal(t, before, dev.Bytes()[:layout.HeaderMax])
}

func TestDeviceFailureSurfaces(t *testing.T) {
	dev := device.NewMemory(testPartitionSize)
	faulty := device.NewFaulty(dev)

	fs, err := blockfs.New(faulty, testBlockSize, blockfs.WithLogger(testutil.Quiet()))
	require.NoError(t, err)
	require.NoError(t, fs.CreateFile("f.bin"))

	faulty.FailWrites(true)
	err = fs.WriteAt("f.bin", []byte("data"), 0)
	assert.ErrorIs(t, err, blockfs.ErrDevice)
	assert.ErrorIs(t, err, device.ErrInjected)
	faulty.FailWrites(false)

	faulty.FailReads(true)
	_, err = fs.GetDirectory("") // root is in memory, still fine
	assert.NoError(t, err)
	err = fs.CreateDirectory("d")
	assert.ErrorIs(t, err, blockfs.ErrDevice)
	faulty.FailReads(false)
}

func TestMountFailsOnUnreadableDevice(t *testing.T) {
	faulty := device.NewFaulty(device.NewMemory(testPartitionSize))
	faulty.FailReads(true)

	_, err := blockfs.New(faulty, testBlockSize, blockfs.WithLogger(testutil.Quiet()))
	assert.ErrorIs(t, err, blockfs.ErrDevice)
}

func TestOversizedRootDirectory(t *testing.T) {
	fs, _ := testutil.NewFS(t, testPartitionSize, testBlockSize)

	// The header region caps the root directory. Pack it until the save
	// fails, then make sure the filesystem is still consistent.
	var err error
	for i := 0; err == nil && i < 4096; i++ {
		err = fs.CreateFile(fmt.Sprintf("a-long-enough-file-name-%04d.txt", i))
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, blockfs.ErrDirectoryTooLarge)

	testutil.RequireClean(t, fs)
}

func TestBlockCacheServesReads(t *testing.T) {
	fs, _ := testutil.NewFS(t, testPartitionSize, testBlockSize, blockfs.WithBlockCache(1<<20))

	payload := testutil.RandomBytes(7, 10*testBlockSize)
	require.NoError(t, fs.CreateFile("cached.bin"))
	require.NoError(t, fs.WriteAt("cached.bin", payload, 0))

	for range 3 {
		out := make([]byte, len(payload))
		n, err := fs.ReadAt("cached.bin", out, 0)
		require.NoError(t, err)
		require.Equal(t, len(payload), n)
		assert.Equal(t, payload, out)
	}

	// Overwrites must invalidate cached blocks.
	patch := []byte("fresh bytes")
	require.NoError(t, fs.WriteAt("cached.bin", patch, 100))

	out := make([]byte, len(patch))
	_, err := fs.ReadAt("cached.bin", out, 100)
	require.NoError(t, err)
	assert.Equal(t, patch, out)
}

func TestWriteValidationOption(t *testing.T) {
	fs, _ := testutil.NewFS(t, testPartitionSize, testBlockSize, blockfs.WithWriteValidation())

	require.NoError(t, fs.CreateFile("v.bin"))
	require.NoError(t, fs.WriteAt("v.bin", testutil.RandomBytes(3, 3000), 0))
}

func TestLogTree(t *testing.T) {
	fs, _ := testutil.NewFS(t, testPartitionSize, testBlockSize)

	require.NoError(t, fs.CreateDirectory("a/b"))
	require.NoError(t, fs.CreateFile("a/b/c.txt"))
	require.NoError(t, fs.LogTree())
}

func TestDescriptorAccessors(t *testing.T) {
	fs, _ := testutil.NewFS(t, testPartitionSize, testBlockSize)

	require.NoError(t, fs.CreateFile("f.txt"))

	fd, err := fs.GetFile("f.txt")
	require.NoError(t, err)
	assert.Equal(t, format.FileDescriptor{Name: "f.txt"}, fd, "a fresh file owns no blocks")

	size, err := fs.GetFileSize("f.txt")
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = fs.GetFileSize("missing")
	assert.ErrorIs(t, err, blockfs.ErrNotFound)
}
