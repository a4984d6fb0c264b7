package device

// Memory is an in-memory Device. It is the reference implementation used
// throughout the test suites.
type Memory struct {
	data []byte
}

// NewMemory returns a zeroed in-memory partition of the given size.
func NewMemory(size int64) *Memory {
	return &Memory{data: make([]byte, size)}
}

// FromBytes wraps an existing partition image. The device takes ownership
// of b.
func FromBytes(b []byte) *Memory {
	return &Memory{data: b}
}

// ReadAt copies len(p) bytes at off into p.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), m.Size()); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

// WriteAt copies p into the partition at off.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), m.Size()); err != nil {
		return 0, err
	}
	return copy(m.data[off:], p), nil
}

// Size returns the partition size in bytes.
func (m *Memory) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the underlying partition image. The slice is live; callers
// must not mutate it while the filesystem is in use.
func (m *Memory) Bytes() []byte {
	return m.data
}
