package snapshot

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blockfs"
	"github.com/hupe1980/blockfs/device"
	"github.com/hupe1980/blockfs/testutil"
)

const (
	partitionSize = 1 << 22 // 4 MiB
	blockSize     = 1024
)

func populated(t *testing.T) *device.Memory {
	t.Helper()

	dev := device.NewMemory(partitionSize)
	fs, err := blockfs.New(dev, blockSize, blockfs.WithLogger(testutil.Quiet()))
	require.NoError(t, err)

	require.NoError(t, fs.CreateDirectory("data/raw"))
	require.NoError(t, fs.CreateFile("data/raw/blob.bin"))
	require.NoError(t, fs.WriteAt("data/raw/blob.bin", testutil.Pattern(200_000), 0))
	return dev
}

func TestRoundTripAllCodecs(t *testing.T) {
	src := populated(t)

	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			var image bytes.Buffer
			manifest, err := Write(&image, src, codec)
			require.NoError(t, err)
			assert.Equal(t, codec, manifest.Codec)
			assert.Equal(t, uint64(partitionSize), manifest.RawSize)

			dst := device.NewMemory(partitionSize)
			restored, err := Restore(&image, dst)
			require.NoError(t, err)
			assert.Equal(t, manifest.CRC32, restored.CRC32)
			assert.Equal(t, src.Bytes(), dst.Bytes())

			// The restored partition must mount and read back.
			fs, err := blockfs.New(dst, blockSize, blockfs.WithLogger(testutil.Quiet()))
			require.NoError(t, err)

			out := make([]byte, 200_000)
			n, err := fs.ReadAt("data/raw/blob.bin", out, 0)
			require.NoError(t, err)
			require.Equal(t, 200_000, n)
			assert.Equal(t, testutil.Pattern(200_000), out)
		})
	}
}

func TestCompressionShrinksPatternedImage(t *testing.T) {
	src := populated(t)

	var plain, compressed bytes.Buffer
	_, err := Write(&plain, src, CodecNone)
	require.NoError(t, err)
	_, err = Write(&compressed, src, CodecZstd)
	require.NoError(t, err)

	assert.Less(t, compressed.Len(), plain.Len())
}

func TestRestoreRejectsWrongSize(t *testing.T) {
	src := populated(t)

	var image bytes.Buffer
	_, err := Write(&image, src, CodecNone)
	require.NoError(t, err)

	_, err = Restore(&image, device.NewMemory(partitionSize/2))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestRestoreRejectsCorruptPayload(t *testing.T) {
	src := populated(t)

	var image bytes.Buffer
	_, err := Write(&image, src, CodecNone)
	require.NoError(t, err)

	// Flip a payload byte past the header.
	raw := image.Bytes()
	raw[headerSize+1000] ^= 0xFF

	_, err = Restore(bytes.NewReader(raw), device.NewMemory(partitionSize))
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	_, err := Restore(bytes.NewReader(make([]byte, 64)), device.NewMemory(partitionSize))
	assert.ErrorIs(t, err, ErrInvalidMagic)

	var image bytes.Buffer
	_, err = Write(&image, populated(t), CodecNone)
	require.NoError(t, err)

	raw := image.Bytes()
	raw[5] = 77 // unknown codec
	_, err = Restore(bytes.NewReader(raw), device.NewMemory(partitionSize))
	assert.ErrorIs(t, err, ErrInvalidCodec)
}

func TestCodecString(t *testing.T) {
	assert.Equal(t, "none", CodecNone.String())
	assert.Equal(t, "lz4", CodecLZ4.String())
	assert.Equal(t, "zstd", CodecZstd.String())
}
