package device

import (
	"errors"
	"sync"
)

// ErrInjected is the default error surfaced by a Faulty device.
var ErrInjected = errors.New("device: injected fault")

// Faulty is a Device wrapper that injects errors, used to exercise
// failure paths without real hardware misbehaving on cue.
type Faulty struct {
	dev Device

	mu sync.Mutex
	// Err is the error returned by injected failures. Defaults to
	// ErrInjected.
	Err error

	failReads     bool
	failWrites    bool
	writeLimit    int64 // fail writes once this many bytes were written; -1 disables
	writtenBytes  int64
	failuresCount int
}

// NewFaulty wraps dev with no faults armed.
func NewFaulty(dev Device) *Faulty {
	return &Faulty{dev: dev, Err: ErrInjected, writeLimit: -1}
}

// FailReads arms or disarms read failures.
func (d *Faulty) FailReads(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads = v
}

// FailWrites arms or disarms write failures.
func (d *Faulty) FailWrites(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrites = v
}

// FailWritesAfter lets n more bytes through, then fails every write.
// Negative n disables the limit.
func (d *Faulty) FailWritesAfter(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writtenBytes = 0
	d.writeLimit = n
}

// Failures returns the number of injected failures so far.
func (d *Faulty) Failures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failuresCount
}

// ReadAt delegates to the wrapped device unless read failures are armed.
func (d *Faulty) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	if d.failReads {
		d.failuresCount++
		err := d.Err
		d.mu.Unlock()
		return 0, err
	}
	d.mu.Unlock()
	return d.dev.ReadAt(p, off)
}

// WriteAt delegates to the wrapped device unless write failures are armed
// or the byte budget is exhausted.
func (d *Faulty) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	if d.failWrites || (d.writeLimit >= 0 && d.writtenBytes+int64(len(p)) > d.writeLimit) {
		d.failuresCount++
		err := d.Err
		d.mu.Unlock()
		return 0, err
	}
	d.writtenBytes += int64(len(p))
	d.mu.Unlock()
	return d.dev.WriteAt(p, off)
}

// Size returns the wrapped partition size.
func (d *Faulty) Size() int64 {
	return d.dev.Size()
}
