package device

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled is a Device wrapper that caps byte throughput, simulating slow
// media. Transfers larger than the burst are split into burst-sized waits.
type Throttled struct {
	dev     Device
	limiter *rate.Limiter
}

// NewThrottled wraps dev with a bytes-per-second cap. The burst equals one
// second of budget.
func NewThrottled(dev Device, bytesPerSecond int) *Throttled {
	return &Throttled{
		dev:     dev,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond),
	}
}

func (d *Throttled) wait(n int) {
	ctx := context.Background()
	for n > 0 {
		chunk := n
		if burst := d.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		// Background context: the backing store contract has no
		// cancellation; the wait always runs to completion.
		_ = d.limiter.WaitN(ctx, chunk)
		n -= chunk
	}
}

// ReadAt waits for throughput budget, then delegates.
func (d *Throttled) ReadAt(p []byte, off int64) (int, error) {
	d.wait(len(p))
	return d.dev.ReadAt(p, off)
}

// WriteAt waits for throughput budget, then delegates.
func (d *Throttled) WriteAt(p []byte, off int64) (int, error) {
	d.wait(len(p))
	return d.dev.WriteAt(p, off)
}

// Size returns the wrapped partition size.
func (d *Throttled) Size() int64 {
	return d.dev.Size()
}
