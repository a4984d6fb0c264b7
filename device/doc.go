// Package device abstracts the partition byte container underneath
// blockfs: a fixed-size array accessible through ReadAt and WriteAt.
//
// The core treats a short read or write as a failure; implementations must
// transfer exactly the requested range or return an error. Devices are not
// required to be safe for concurrent use — the filesystem serializes all
// access.
//
// Implementations:
//
//   - Memory: an in-memory buffer, used by the test suites
//   - File: a host file holding the partition image
//   - Mmap: a memory-mapped host file (unix only)
//   - Faulty: a wrapper that injects errors for failure-path tests
//   - Throttled: a wrapper that rate-limits byte throughput
package device
