// Package blockfs implements a block-structured filesystem stored inside a
// single fixed-size byte container.
//
// The partition is an opaque byte array reached only through the
// device.Device capability. On top of it blockfs maintains a serialized
// header, a one-bit-per-block allocation bitmap, and a hierarchical
// namespace of directories and files whose bodies are singly linked chains
// of fixed-size chunks.
//
// Basic usage:
//
//	dev := device.NewMemory(1 << 30)
//	fs, err := blockfs.New(dev, 1024)
//	if err != nil { ... }
//
//	_ = fs.CreateDirectory("Foo/Bar")
//	_ = fs.CreateFile("Foo/Bar/Test.txt")
//	_ = fs.WriteAt("Foo/Bar/Test.txt", []byte("Hello, World!"), 0)
//
// Every operation runs to completion before the next begins; blockfs
// performs no internal locking. Hosts whose callbacks fire from multiple
// goroutines must serialize calls behind a single mutex.
package blockfs
