// Package bitstream implements the bit-level serialization format used by
// every on-disk record in blockfs.
//
// Values are appended to a growable bit buffer in little-endian bit order
// within each byte: bit i of a value lands at bit position cursor+i, and bit
// k of a stored byte is (b >> k) & 1. The order is part of the on-disk
// format; images written on one platform must decode identically on any
// other. See the pinning tests for the exact byte sequences.
//
// Supported primitives:
//
//   - uint64: 64 bits
//   - uint8:  8 bits
//   - bool:   1 bit
//   - string: uint64 byte length followed by that many 8-bit characters,
//     not null-terminated
//
// Records are free to end on a non-byte boundary (FileDescriptor does, due
// to its trailing bool); the buffer rounds up to whole bytes only when the
// raw bytes are materialized.
package bitstream
