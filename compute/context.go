package compute

import (
	"fmt"
	"log"
	"sync"
)

// BlendMode controls how Writers combine new values with stored ones.
type BlendMode int

const (
	// BlendReplace overwrites stored values.
	BlendReplace BlendMode = iota
	// BlendAdd adds to stored values.
	BlendAdd
)

// Context holds all of the state which a GPU driver would keep globally:
// the backend, the current blend mode, the set of live buffers and the
// warnings raised so far. It is passed explicitly to every stage.
type Context struct {
	backend Backend
	caps    Capabilities
	blend   BlendMode

	mu       sync.Mutex
	live     map[*Buffer]struct{}
	warned   map[string]bool
	warnings []string
	flushes  int
	closed   bool
}

// NewContext wraps a backend. It fails if the backend cannot write float
// buffers at all.
func NewContext(b Backend) (*Context, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: no backend given", ErrConfig)
	}
	caps := b.Capabilities()
	if !caps.FloatTargets {
		return nil, fmt.Errorf(
			"%w: backend '%s' does not support float render targets",
			ErrCapability, b.Name(),
		)
	}
	if caps.MaxBufferLen <= 0 {
		caps.MaxBufferLen = DefaultMaxBufferLen
	}

	return &Context{
		backend: b,
		caps:    caps,
		live:    make(map[*Buffer]struct{}),
		warned:  make(map[string]bool),
	}, nil
}

func (ctx *Context) Backend() Backend           { return ctx.backend }
func (ctx *Context) Capabilities() Capabilities { return ctx.caps }
func (ctx *Context) Workers() int               { return ctx.backend.Workers() }

// Dispatch runs a kernel on the backend.
func (ctx *Context) Dispatch(n int, k Kernel) error {
	if ctx.closed {
		return ErrClosed
	}
	ctx.backend.Dispatch(n, k)
	return nil
}

// Alloc creates a zeroed buffer owned by ctx.
func (ctx *Context) Alloc(name string, n int) (*Buffer, error) {
	if ctx.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, fmt.Errorf(
			"%w: buffer '%s' given non-positive length %d", ErrConfig, name, n,
		)
	}
	if n > ctx.caps.MaxBufferLen {
		return nil, fmt.Errorf(
			"%w: buffer '%s' needs %d values, but the backend allows %d",
			ErrCapacity, name, n, ctx.caps.MaxBufferLen,
		)
	}

	b := NewBuffer(name, n)

	ctx.mu.Lock()
	ctx.live[b] = struct{}{}
	ctx.mu.Unlock()

	return b, nil
}

// Free releases a buffer allocated by ctx. Freeing twice, or freeing a
// buffer ctx does not own, does nothing.
func (ctx *Context) Free(b *Buffer) {
	if b == nil {
		return
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if _, ok := ctx.live[b]; !ok {
		return
	}
	delete(ctx.live, b)
	b.freed = true
	b.Data = nil
}

// Live returns the number of buffers which have been allocated and not
// yet freed.
func (ctx *Context) Live() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return len(ctx.live)
}

// Blend returns the current blend mode.
func (ctx *Context) Blend() BlendMode { return ctx.blend }

// WithBlend runs fn with the given blend mode and restores the previous
// mode afterwards, even if fn fails.
func (ctx *Context) WithBlend(mode BlendMode, fn func() error) error {
	prev := ctx.blend
	ctx.blend = mode
	defer func() { ctx.blend = prev }()
	return fn()
}

// Writer returns a Writer for b which follows the current blend mode.
func (ctx *Context) Writer(b *Buffer) Writer {
	add := ctx.blend == BlendAdd
	return Writer{buf: b, add: add, reduced: add && !ctx.caps.FloatBlend}
}

// ReadBack copies src into dst. This is the only point at which the host
// waits on the device, so callers should use it sparingly.
func (ctx *Context) ReadBack(dst []float64, src *Buffer) error {
	if ctx.closed {
		return ErrClosed
	}
	if src == nil || src.freed {
		return fmt.Errorf("%w: read-back from unbound buffer", ErrPrecondition)
	}
	if len(dst) > len(src.Data) {
		return fmt.Errorf(
			"%w: read-back of %d values from buffer '%s' of length %d",
			ErrCapacity, len(dst), src.name, len(src.Data),
		)
	}
	copy(dst, src.Data)

	ctx.mu.Lock()
	ctx.flushes++
	ctx.mu.Unlock()
	return nil
}

// Flushes returns the number of read-backs performed so far.
func (ctx *Context) Flushes() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.flushes
}

// Warn logs a degraded-accuracy warning. Each key is only reported once.
func (ctx *Context) Warn(key, format string, args ...interface{}) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.warned[key] {
		return
	}
	ctx.warned[key] = true
	msg := fmt.Sprintf(format, args...)
	ctx.warnings = append(ctx.warnings, msg)
	log.Printf("Warning: %s", msg)
}

// Warnings returns every warning raised so far.
func (ctx *Context) Warnings() []string {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	out := make([]string, len(ctx.warnings))
	copy(out, ctx.warnings)
	return out
}

// Close frees every live buffer and closes the backend. Closing twice is
// a no-op.
func (ctx *Context) Close() error {
	if ctx.closed {
		return nil
	}

	ctx.mu.Lock()
	for b := range ctx.live {
		b.freed = true
		b.Data = nil
	}
	ctx.live = make(map[*Buffer]struct{})
	ctx.mu.Unlock()

	ctx.closed = true
	return ctx.backend.Close()
}

// Closed returns true once Close has been called.
func (ctx *Context) Closed() bool { return ctx.closed }
