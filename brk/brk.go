// Package brk provides the backing store for a heap: a contiguous region whose break only moves
// forward, in the manner of sbrk(2). Heaps address the region by byte offset, so the region is
// free to live in a Go slice or in an anonymous mapping.
package brk

//go:generate mockgen -source brk.go -destination ./mocks/grower.go -package mocks

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap"
)

const (
	// DefaultMaxHeap is the capacity of a region created without an explicit size. It is equal to 20Mb.
	DefaultMaxHeap int = 20 * (1 << 20)
)

// Grower is a monotonically growing region of bytes.
type Grower interface {
	// Grow moves the break forward by delta bytes and returns the previous break, which is the
	// offset of the first new byte. The contents of the new bytes are unspecified. Grow must
	// return an error wrapping mmheap.ErrOutOfMemory when the region cannot supply delta bytes,
	// in which case the break does not move.
	Grow(delta int) (int, error)
	// Bytes returns the region from offset 0 up to the current break. The slice may be
	// invalidated by the next call to Grow.
	Bytes() []byte
	// Break returns the current break, which is also the number of bytes in use
	Break() int
}

// Region is a Grower backed by a fixed-capacity byte slice reserved up front. Bytes past the break
// are never zeroed, matching what a heap receives from a real break.
type Region struct {
	data []byte
	brk  int
}

var _ Grower = &Region{}

// NewRegion reserves maxSize bytes. A maxSize of 0 or less selects DefaultMaxHeap.
func NewRegion(maxSize int) *Region {
	if maxSize <= 0 {
		maxSize = DefaultMaxHeap
	}

	return &Region{
		data: dirtmake.Bytes(maxSize, maxSize),
	}
}

func (r *Region) Grow(delta int) (int, error) {
	if delta < 0 {
		return 0, cerrors.Wrapf(mmheap.ErrInvalidSize, "the break cannot move backward by %d bytes", -delta)
	}

	if delta > len(r.data)-r.brk {
		return 0, cerrors.Wrapf(mmheap.ErrOutOfMemory, "requested %d bytes at break %d but the region holds %d", delta, r.brk, len(r.data))
	}

	oldBreak := r.brk
	r.brk += delta
	return oldBreak, nil
}

func (r *Region) Bytes() []byte {
	return r.data[:r.brk:r.brk]
}

func (r *Region) Break() int {
	return r.brk
}

// MaxSize returns the number of bytes the region can grow to
func (r *Region) MaxSize() int {
	return len(r.data)
}

// Reset moves the break back to 0. Any heap built on the region must be discarded first.
func (r *Region) Reset() {
	r.brk = 0
}
