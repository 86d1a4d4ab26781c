package compute

import (
	"fmt"
)

type slotKind int

const (
	ownedSlot slotKind = iota
	borrowedSlot
)

// Slot says where a stage's output lives: either in a buffer the stage
// allocates and owns, or in one the caller lends it.
type Slot struct {
	kind slotKind
	n    int
	buf  *Buffer
}

// Owned is a Slot whose buffer of length n is created by the stage.
func Owned(n int) Slot { return Slot{kind: ownedSlot, n: n} }

// Borrowed is a Slot backed by an existing buffer. The stage never frees
// it.
func Borrowed(b *Buffer) Slot { return Slot{kind: borrowedSlot, buf: b} }

// IsBorrowed returns true for slots created by Borrowed.
func (s Slot) IsBorrowed() bool { return s.kind == borrowedSlot }

// Resolve returns the buffer behind the slot. Owned slots are allocated
// from ctx and must be freed by the caller when owned is true. min is the
// smallest acceptable length.
func (s Slot) Resolve(
	ctx *Context, name string, min int,
) (buf *Buffer, owned bool, err error) {
	switch s.kind {
	case borrowedSlot:
		if s.buf == nil || s.buf.freed {
			return nil, false, fmt.Errorf(
				"%w: borrowed target for '%s' is not bound", ErrPrecondition, name,
			)
		}
		if s.buf.Len() < min {
			return nil, false, fmt.Errorf(
				"%w: borrowed target for '%s' has length %d, need %d",
				ErrCapacity, name, s.buf.Len(), min,
			)
		}
		return s.buf, false, nil
	default:
		n := s.n
		if n < min {
			n = min
		}
		buf, err := ctx.Alloc(name, n)
		if err != nil {
			return nil, false, err
		}
		return buf, true, nil
	}
}
