/*package compute models the data-parallel device the gravity pipeline runs on:
kernel dispatch, accumulation buffers with additive blending, read-back, and
resource bookkeeping.
*/
package compute

import (
	"runtime"
)

// DefaultMaxBufferLen is the largest buffer the CPU backend will allocate,
// the equivalent of a 4096 x 4096 texture.
const DefaultMaxBufferLen = 4096 * 4096

// Kernel is a unit of data-parallel work. It is called once per chunk with
// the half-open range [lo, hi) and the index of the worker executing it.
// Workers are numbered from 0 to Backend.Workers() - 1 and no two
// concurrent calls share a worker index.
type Kernel func(worker, lo, hi int)

// Capabilities describes what a Backend can do.
type Capabilities struct {
	// FloatTargets is true if float buffers may be written to. Required.
	FloatTargets bool
	// FloatBlend is true if float buffers support full precision additive
	// blending. Without it accumulation falls back to float32 precision.
	FloatBlend bool
	// MaxBufferLen is the largest number of float64 values in one buffer.
	MaxBufferLen int
}

// Backend dispatches kernels.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	Workers() int
	// Dispatch runs k over [0, n) and returns once every chunk is done.
	Dispatch(n int, k Kernel)
	Close() error
}

// CPU is a Backend which splits kernels into contiguous chunks and runs
// them on goroutines.
type CPU struct {
	workers int
	caps    Capabilities
	closed  bool
}

// NewCPU creates a CPU backend with the given number of workers. A
// non-positive count uses one worker per logical core.
func NewCPU(workers int) *CPU {
	return NewCPUWithCapabilities(workers, Capabilities{
		FloatTargets: true, FloatBlend: true,
		MaxBufferLen: DefaultMaxBufferLen,
	})
}

// NewCPUWithCapabilities creates a CPU backend which reports the given
// capabilities. It is used to exercise fallback paths.
func NewCPUWithCapabilities(workers int, caps Capabilities) *CPU {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &CPU{workers: workers, caps: caps}
}

func (c *CPU) Name() string               { return "cpu" }
func (c *CPU) Capabilities() Capabilities { return c.caps }
func (c *CPU) Workers() int               { return c.workers }

// minChunk is the smallest range worth handing to a separate goroutine.
const minChunk = 64

// Dispatch implements Backend.
func (c *CPU) Dispatch(n int, k Kernel) {
	if n <= 0 {
		return
	}

	workers := c.workers
	if max := (n + minChunk - 1) / minChunk; workers > max {
		workers = max
	}
	if workers <= 1 {
		k(0, 0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	out := make(chan int, workers)

	for id := 0; id < workers-1; id++ {
		go chanKernel(id, chunk, n, k, out)
	}
	chanKernel(workers-1, chunk, n, k, out)

	for i := 0; i < workers; i++ {
		<-out
	}
}

func chanKernel(id, chunk, n int, k Kernel, out chan<- int) {
	lo, hi := id*chunk, (id+1)*chunk
	if hi > n {
		hi = n
	}
	if lo < hi {
		k(id, lo, hi)
	}
	out <- id
}

// Close implements Backend. Closing twice is a no-op.
func (c *CPU) Close() error {
	c.closed = true
	return nil
}

// Closed returns true once Close has been called.
func (c *CPU) Closed() bool { return c.closed }
