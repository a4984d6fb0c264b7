// Package snapshot serializes a whole partition into a compressed,
// CRC-checked image and restores it again.
//
// An image is a container around the raw partition bytes, not part of the
// on-disk bit-stream format:
//
//	magic   uint32  "BFSI"
//	version uint8
//	codec   uint8   0=none, 1=lz4, 2=zstd
//	rawSize uint64  partition size in bytes
//	crc32   uint32  IEEE checksum of the raw partition
//	payload ...     the (possibly compressed) partition bytes
//
// Fixed-width header fields use little-endian encoding/binary. CRC32 is
// fast and detects accidental corruption; it is not tamper-proof.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/blockfs/device"
)

// Magic identifies a partition image (ASCII "BFSI").
const Magic uint32 = 0x42465349

// FormatVersion is the current image container version.
const FormatVersion uint8 = 1

// headerSize is the fixed image header length in bytes.
const headerSize = 4 + 1 + 1 + 8 + 4

// Codec selects the payload compression algorithm.
type Codec uint8

const (
	// CodecNone stores the partition uncompressed.
	CodecNone Codec = 0
	// CodecLZ4 compresses with LZ4 frames (fast, moderate ratio).
	CodecLZ4 Codec = 1
	// CodecZstd compresses with zstandard (better ratio).
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

var (
	// ErrInvalidMagic is returned when the stream does not start with an
	// image header.
	ErrInvalidMagic = errors.New("snapshot: invalid image magic")
	// ErrInvalidVersion is returned for unknown container versions.
	ErrInvalidVersion = errors.New("snapshot: unsupported image version")
	// ErrInvalidCodec is returned for unknown codec identifiers.
	ErrInvalidCodec = errors.New("snapshot: unknown codec")
	// ErrChecksum is returned when the restored partition does not match
	// the recorded checksum.
	ErrChecksum = errors.New("snapshot: checksum mismatch")
	// ErrSizeMismatch is returned when an image does not fit the target
	// device exactly.
	ErrSizeMismatch = errors.New("snapshot: image size does not match partition size")
)

// Manifest describes a written or restored image.
type Manifest struct {
	Codec   Codec
	RawSize uint64
	CRC32   uint32
}

// copyChunkSize is the transfer unit between device and stream.
const copyChunkSize = 1 << 20

// Write serializes the partition on dev into w using the given codec.
func Write(w io.Writer, dev device.Device, codec Codec) (*Manifest, error) {
	raw, err := readPartition(dev)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Codec:   codec,
		RawSize: uint64(len(raw)),
		CRC32:   crc32.ChecksumIEEE(raw),
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], Magic)
	header[4] = FormatVersion
	header[5] = uint8(codec)
	binary.LittleEndian.PutUint64(header[6:], manifest.RawSize)
	binary.LittleEndian.PutUint32(header[14:], manifest.CRC32)
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write image header: %w", err)
	}

	switch codec {
	case CodecNone:
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("write image payload: %w", err)
		}
	case CodecLZ4:
		lw := lz4.NewWriter(w)
		if _, err := lw.Write(raw); err != nil {
			return nil, fmt.Errorf("compress image payload: %w", err)
		}
		if err := lw.Close(); err != nil {
			return nil, fmt.Errorf("finish lz4 stream: %w", err)
		}
	case CodecZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("compress image payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("finish zstd stream: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCodec, codec)
	}

	return manifest, nil
}

// Restore reads an image from r and writes it over the partition on dev.
// The image must match the partition size exactly.
func Restore(r io.Reader, dev device.Device) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read image header: %w", err)
	}

	if binary.LittleEndian.Uint32(header[0:]) != Magic {
		return nil, ErrInvalidMagic
	}
	if header[4] != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, header[4])
	}

	manifest := &Manifest{
		Codec:   Codec(header[5]),
		RawSize: binary.LittleEndian.Uint64(header[6:]),
		CRC32:   binary.LittleEndian.Uint32(header[14:]),
	}

	if manifest.RawSize != uint64(dev.Size()) {
		return nil, fmt.Errorf("%w: image %d bytes, partition %d bytes", ErrSizeMismatch, manifest.RawSize, dev.Size())
	}

	var payload io.Reader
	switch manifest.Codec {
	case CodecNone:
		payload = r
	case CodecLZ4:
		payload = lz4.NewReader(r)
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer zr.Close()
		payload = zr
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCodec, manifest.Codec)
	}

	raw := make([]byte, manifest.RawSize)
	if _, err := io.ReadFull(payload, raw); err != nil {
		return nil, fmt.Errorf("read image payload: %w", err)
	}

	if crc32.ChecksumIEEE(raw) != manifest.CRC32 {
		return nil, ErrChecksum
	}

	if err := writePartition(dev, raw); err != nil {
		return nil, err
	}
	return manifest, nil
}

func readPartition(dev device.Device) ([]byte, error) {
	raw := make([]byte, dev.Size())
	for off := int64(0); off < dev.Size(); off += copyChunkSize {
		end := off + copyChunkSize
		if end > dev.Size() {
			end = dev.Size()
		}
		if _, err := dev.ReadAt(raw[off:end], off); err != nil {
			return nil, fmt.Errorf("read partition at %d: %w", off, err)
		}
	}
	return raw, nil
}

func writePartition(dev device.Device, raw []byte) error {
	for off := int64(0); off < int64(len(raw)); off += copyChunkSize {
		end := off + copyChunkSize
		if end > int64(len(raw)) {
			end = int64(len(raw))
		}
		if _, err := dev.WriteAt(raw[off:end], off); err != nil {
			return fmt.Errorf("write partition at %d: %w", off, err)
		}
	}
	return nil
}
