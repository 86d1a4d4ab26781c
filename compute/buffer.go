package compute

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Buffer is a named float64 storage region. Kernels write to it through a
// Writer; the host reads Data directly once a Dispatch has returned.
type Buffer struct {
	name  string
	Data  []float64
	freed bool
}

// NewBuffer creates a Buffer which is not tracked by any Context. Use
// Context.Alloc for pipeline storage.
func NewBuffer(name string, n int) *Buffer {
	return &Buffer{name: name, Data: make([]float64, n)}
}

func (b *Buffer) Name() string { return b.name }
func (b *Buffer) Len() int     { return len(b.Data) }

// Clear zeroes the buffer.
func (b *Buffer) Clear() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// Flag atomically sets element i to 1. It is used for occupancy masks,
// where many writers may mark the same cell.
func (b *Buffer) Flag(i int) {
	atomic.StoreUint64(b.bits(i), math.Float64bits(1))
}

func (b *Buffer) bits(i int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b.Data[i]))
}

// Writer writes into a Buffer using the blend state that was active on
// its Context when it was created.
type Writer struct {
	buf          *Buffer
	add, reduced bool
}

// Write stores v at element i, or adds it when additive blending is on.
// Additive writes are atomic, so any number of kernels may target the same
// element concurrently.
func (w Writer) Write(i int, v float64) {
	if !w.add {
		if w.reduced {
			v = float64(float32(v))
		}
		w.buf.Data[i] = v
		return
	}

	addr := w.buf.bits(i)
	for {
		old := atomic.LoadUint64(addr)
		sum := math.Float64frombits(old) + v
		if w.reduced {
			sum = float64(float32(sum))
		}
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(sum)) {
			return
		}
	}
}

// Additive returns true if the writer blends additively.
func (w Writer) Additive() bool { return w.add }

// Reduced returns true if the writer rounds to float32 precision.
func (w Writer) Reduced() bool { return w.reduced }
