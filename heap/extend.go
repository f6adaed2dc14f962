package heap

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap"
	"golang.org/x/exp/slog"
)

// extendHeap grows the backing region by words (rounded up to an even count) and turns the new
// bytes into a free block whose header overwrites the old epilogue. The block is coalesced with a
// free predecessor, if any, and the payload offset of the resulting free block is returned.
func (h *Heap) extendHeap(words int) (int, error) {
	if words%2 != 0 {
		words++
	}
	size := words * wordSize

	if size > maxHeapBytes-len(h.data) {
		return 0, cerrors.Wrapf(mmheap.ErrOutOfMemory, "extending a heap of %d bytes by %d bytes would exceed the addressable limit", len(h.data), size)
	}

	bp, err := h.grower.Grow(size)
	if err != nil {
		h.logger.Debug("Heap::extendHeap refused", slog.Int("Size", size), slog.Int("Break", len(h.data)))
		return 0, cerrors.Wrapf(err, "failed to extend heap by %d bytes", size)
	}
	if bp != len(h.data) {
		return 0, cerrors.Wrapf(mmheap.ErrBreakMoved, "heap ends at %d but the region grew from %d", len(h.data), bp)
	}
	h.data = h.grower.Bytes()

	h.writeTags(bp, size, false)
	h.setLinks(bp, 0, 0)
	h.setWord(header(bp+size), pack(0, true))

	h.logger.Debug("Heap::extendHeap", slog.Int("Size", size), slog.Int("Break", len(h.data)))

	return h.coalesce(bp), nil
}
